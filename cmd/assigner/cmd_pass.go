package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/events"
	"github.com/spec-kit/ticket-assigner/internal/persistence"
	"github.com/spec-kit/ticket-assigner/internal/service"
	"github.com/spec-kit/ticket-assigner/internal/worker"
)

func newPassCmd() *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run a single assignment pass and print its outcomes as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer store.close()

			var notifier service.Notifier
			if notify {
				redis := persistence.NewRedis(ctx, cfg.Redis, logger)
				defer redis.Close()
				dispatcher := events.NewInMemoryDispatcher()
				queue := worker.StartNotificationWorker(service.NewNotificationService(service.NotificationDependencies{
					Dispatcher: dispatcher,
					Publisher:  redis,
					Logger:     logger,
					Config:     cfg.Notification,
				}), service.NewEventNotifier(dispatcher), cfg.Notification.QueueSize, logger)
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
					defer cancel()
					if err := queue.Stop(flushCtx); err != nil {
						logger.Warn("notification queue not drained", zap.Error(err))
					}
				}()
				notifier = queue
			}

			assignments, err := newAssignmentService(cfg, store.store, notifier, logger)
			if err != nil {
				return err
			}
			if timeout := cfg.Scheduler.PassTimeout(); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			start := time.Now()
			outcomes, err := assignments.RunPass(ctx)
			if err != nil {
				return err
			}
			if outcomes == nil {
				outcomes = []domain.AssignmentOutcome{}
			}
			return writePassReport(cmd, outcomes, time.Since(start))
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", true, "publish assignment events to redis")
	return cmd
}

func writePassReport(cmd *cobra.Command, outcomes []domain.AssignmentOutcome, elapsed time.Duration) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Outcomes []domain.AssignmentOutcome `json:"outcomes"`
		Summary  service.PassSummary        `json:"summary"`
		Duration string                     `json:"duration"`
	}{outcomes, service.Summarize(outcomes), elapsed.String()})
}
