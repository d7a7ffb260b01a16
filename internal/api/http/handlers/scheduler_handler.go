package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/auth"
	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/events"
	"github.com/spec-kit/ticket-assigner/internal/observability"
	"github.com/spec-kit/ticket-assigner/internal/service"
	"github.com/spec-kit/ticket-assigner/internal/worker"
	apperrors "github.com/spec-kit/ticket-assigner/pkg/util/errorutil"
)

// SchedulerController is the part of the scheduler exposed to operators.
type SchedulerController interface {
	Status() worker.Status
	TriggerNow() ([]domain.AssignmentOutcome, error)
}

// SchedulerHandler serves the assignment admin endpoints.
type SchedulerHandler struct {
	scheduler SchedulerController
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewSchedulerHandler constructs handler.
func NewSchedulerHandler(scheduler SchedulerController, metrics *observability.Metrics, logger *zap.Logger) *SchedulerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerHandler{scheduler: scheduler, metrics: metrics, logger: logger}
}

// Status GET /admin/assignment/status.
func (h *SchedulerHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{
		"scheduler": h.scheduler.Status(),
		"totals":    h.metrics.PassSnapshot(),
	}})
}

// Run POST /admin/assignment/run.
func (h *SchedulerHandler) Run(c *fiber.Ctx) error {
	fields := []zap.Field{zap.String("actor", string(events.ActorOperator))}
	if principal, ok := auth.PrincipalFromContext(c); ok {
		fields = append(fields, zap.Int64("user_id", principal.UserID))
	}
	h.logger.Info("manual assignment pass requested", fields...)

	outcomes, err := h.scheduler.TriggerNow()
	switch {
	case errors.Is(err, worker.ErrPassInProgress):
		return apperrors.NewConflict("an assignment pass is already running", nil)
	case errors.Is(err, worker.ErrSchedulerStopped):
		return apperrors.NewServiceUnavailable("assignment scheduler is not running", nil)
	case errors.Is(err, service.ErrStoreRead):
		return apperrors.NewServiceUnavailable("ticket store unavailable", map[string]any{"cause": err.Error()})
	case err != nil:
		return err
	}

	if outcomes == nil {
		outcomes = []domain.AssignmentOutcome{}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"outcomes": outcomes,
		"summary":  service.Summarize(outcomes),
	}})
}
