package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/api/http/handlers"
	"github.com/spec-kit/ticket-assigner/internal/config"
	"github.com/spec-kit/ticket-assigner/internal/observability"
	"github.com/spec-kit/ticket-assigner/internal/persistence"
	"github.com/spec-kit/ticket-assigner/internal/repository"
	sqlitestore "github.com/spec-kit/ticket-assigner/internal/repository/sqlite"
	"github.com/spec-kit/ticket-assigner/internal/service"
)

// storeHandle is an opened ticket/agent store and its health probe.
type storeHandle struct {
	store repository.Store
	name  string
	ping  handlers.Pinger
	close func()
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects the configured backend and applies migrations when
// forceMigrate is set or the backend is configured to.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, forceMigrate bool) (*storeHandle, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite:
		db, err := persistence.NewSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storeHandle{store: sqlitestore.New(db.DB), name: "sqlite", ping: db, close: db.Close}, nil
	default:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if forceMigrate || cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
				pg.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return &storeHandle{store: repository.NewPostgresStore(pg.PoolHandle()), name: "postgres", ping: pg, close: pg.Close}, nil
	}
}

// newAssignmentService wires the pass with the configured policy. A nil
// notifier disables assignment events.
func newAssignmentService(cfg *config.Config, store repository.Store, notifier service.Notifier, logger *zap.Logger) (*service.AssignmentService, error) {
	policy, err := service.NewPolicy(cfg.Scheduler.Policy, cfg.Scheduler.MaxLoad)
	if err != nil {
		return nil, err
	}
	return service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo: store,
		AgentRepo:  store,
		Policy:     policy,
		Notifier:   notifier,
		Logger:     logger,
	}), nil
}

// readinessChecks lists the dependencies /health/ready probes. Redis is only
// a dependency while it is a notification sink.
func readinessChecks(store *storeHandle, redis handlers.Pinger, sinks []string) map[string]handlers.Pinger {
	checks := map[string]handlers.Pinger{store.name: store.ping}
	for _, sink := range sinks {
		if strings.HasPrefix(sink, "redis:") {
			checks["redis"] = redis
			break
		}
	}
	return checks
}
