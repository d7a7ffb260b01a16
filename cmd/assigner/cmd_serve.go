package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-assigner/internal/api/http"
	"github.com/spec-kit/ticket-assigner/internal/api/http/handlers"
	"github.com/spec-kit/ticket-assigner/internal/auth"
	"github.com/spec-kit/ticket-assigner/internal/events"
	"github.com/spec-kit/ticket-assigner/internal/observability"
	"github.com/spec-kit/ticket-assigner/internal/persistence"
	"github.com/spec-kit/ticket-assigner/internal/realtime"
	"github.com/spec-kit/ticket-assigner/internal/service"
	"github.com/spec-kit/ticket-assigner/internal/worker"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assignment scheduler, admin API and realtime hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	store, err := openStore(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer store.close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	dispatcher := events.NewInMemoryDispatcher()

	var hub *realtime.Hub
	var hubServer *realtime.Server
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(tokens, cfg.Notification.AgentsGroup, logger)
		hubServer = realtime.NewServer(cfg.Realtime.Addr(), hub, logger)
	}

	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Hub:        broadcasterOrNil(hub),
		Publisher:  redis,
		Logger:     logger,
		Config:     cfg.Notification,
	})
	notifier := worker.StartNotificationWorker(notifications, service.NewEventNotifier(dispatcher), cfg.Notification.QueueSize, logger)

	assignments, err := newAssignmentService(cfg, store.store, notifier, logger)
	if err != nil {
		return err
	}
	scheduler, err := worker.NewScheduler(assignments, worker.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval(),
		Schedule:    cfg.Scheduler.Schedule,
		PassTimeout: cfg.Scheduler.PassTimeout(),
	}, logger, metrics)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readinessChecks(store, redis, notifications.Sinks())),
		Scheduler:      handlers.NewSchedulerHandler(scheduler, metrics, logger),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	if hubServer != nil {
		hubServer.Start()
	}
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			return err
		}
	} else {
		logger.Info("assignment scheduler disabled")
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("starting admin api", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			listenErr <- err
		}
	}()

	select {
	case err = <-listenErr:
		err = fmt.Errorf("admin api: %w", err)
	case <-waitForShutdown(ctx, logger):
	}

	idle := scheduler.Stop()
	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()
	select {
	case <-idle.Done():
	case <-graceCtx.Done():
		logger.Warn("assignment pass still running at shutdown")
	}
	if stopErr := notifier.Stop(graceCtx); stopErr != nil {
		logger.Warn("notification queue not drained at shutdown", zap.Error(stopErr))
	}

	if shutdownErr := app.ShutdownWithContext(graceCtx); shutdownErr != nil {
		logger.Warn("admin api shutdown", zap.Error(shutdownErr))
	}
	if hubServer != nil {
		if shutdownErr := hubServer.Shutdown(graceCtx); shutdownErr != nil {
			logger.Warn("realtime hub shutdown", zap.Error(shutdownErr))
		}
	}
	return err
}

// broadcasterOrNil avoids storing a typed nil in the interface.
func broadcasterOrNil(hub *realtime.Hub) service.Broadcaster {
	if hub == nil {
		return nil
	}
	return hub
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}
	}()
	return done
}
