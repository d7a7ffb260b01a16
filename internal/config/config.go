package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Store        StoreConfig        `yaml:"store"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	Logger       LoggerConfig       `yaml:"logger"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// StoreConfig selects the ticket/agent store backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines token parameters.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// NotificationConfig controls assignment event fan-out.
type NotificationConfig struct {
	RedisChannel string `yaml:"redis_channel"`
	AgentsGroup  string `yaml:"agents_group"`
	QueueSize    int    `yaml:"queue_size"`
}

// RealtimeConfig controls the websocket listener.
type RealtimeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
}

// SchedulerConfig controls the background assignment scheduler.
type SchedulerConfig struct {
	Enabled            bool   `yaml:"enabled"`
	IntervalSeconds    int    `yaml:"interval_seconds"`
	Schedule           string `yaml:"schedule"`
	Policy             string `yaml:"policy"`
	MaxLoad            int    `yaml:"max_load"`
	PassTimeoutSeconds int    `yaml:"pass_timeout_seconds"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:                  "ticket-assigner",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Driver:     StoreDriverPostgres,
			SQLitePath: "data/assigner.db",
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
		},
		Notification: NotificationConfig{
			RedisChannel: "tickets.assigned",
			AgentsGroup:  "agents",
			QueueSize:    256,
		},
		Realtime: RealtimeConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    "8081",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			IntervalSeconds:    300,
			Policy:             "first_idle",
			MaxLoad:            1,
			PassTimeoutSeconds: 120,
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and the
// environment. Environment variables override file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", strconv.Itoa(cfg.Redis.DB)))
	if err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnv("APP_PORT", cfg.App.Port)
	cfg.App.Version = getEnv("APP_VERSION", cfg.App.Version)
	cfg.App.RequestTimeoutSeconds = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds)

	cfg.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", cfg.Store.Driver))
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)

	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns)))
	cfg.Postgres.MinConns = int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns)))
	cfg.Postgres.RunMigrations = getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations)
	cfg.Postgres.ConnMaxIdleSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec)))
	cfg.Postgres.ConnMaxLifeSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec)))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = redisDB

	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenTTLMinutes = getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes)

	cfg.Notification.RedisChannel = getEnv("NOTIFY_REDIS_CHANNEL", cfg.Notification.RedisChannel)
	cfg.Notification.AgentsGroup = getEnv("NOTIFY_AGENTS_GROUP", cfg.Notification.AgentsGroup)
	cfg.Notification.QueueSize = getEnvAsInt("NOTIFY_QUEUE_SIZE", cfg.Notification.QueueSize)

	cfg.Realtime.Enabled = getEnvAsBool("REALTIME_ENABLED", cfg.Realtime.Enabled)
	cfg.Realtime.Host = getEnv("REALTIME_HOST", cfg.Realtime.Host)
	cfg.Realtime.Port = getEnv("REALTIME_PORT", cfg.Realtime.Port)

	cfg.Scheduler.Enabled = getEnvAsBool("ASSIGNMENT_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.IntervalSeconds = getEnvAsInt("ASSIGNMENT_INTERVAL_SECONDS", cfg.Scheduler.IntervalSeconds)
	cfg.Scheduler.Schedule = getEnv("ASSIGNMENT_SCHEDULE", cfg.Scheduler.Schedule)
	cfg.Scheduler.Policy = strings.ToLower(getEnv("ASSIGNMENT_POLICY", cfg.Scheduler.Policy))
	cfg.Scheduler.MaxLoad = getEnvAsInt("ASSIGNMENT_MAX_LOAD", cfg.Scheduler.MaxLoad)
	cfg.Scheduler.PassTimeoutSeconds = getEnvAsInt("ASSIGNMENT_PASS_TIMEOUT_SECONDS", cfg.Scheduler.PassTimeoutSeconds)
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Scheduler.IntervalSeconds <= 0 && strings.TrimSpace(c.Scheduler.Schedule) == "" {
		return fmt.Errorf("ASSIGNMENT_INTERVAL_SECONDS must be positive")
	}
	if c.Scheduler.MaxLoad <= 0 {
		return fmt.Errorf("ASSIGNMENT_MAX_LOAD must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the websocket bind address.
func (r RealtimeConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Interval returns the fixed pass interval.
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// PassTimeout bounds the store I/O of a single pass. Zero means unbounded.
func (s SchedulerConfig) PassTimeout() time.Duration {
	if s.PassTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.PassTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
