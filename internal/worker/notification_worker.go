package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/service"
)

// DefaultNotificationQueueSize is used when no queue size is configured.
const DefaultNotificationQueueSize = 256

var (
	// ErrNotificationDropped is returned when the queue is full.
	ErrNotificationDropped = errors.New("notification queue full; assignment event dropped")
	// ErrNotificationWorkerStopped is returned after Stop.
	ErrNotificationWorkerStopped = errors.New("notification worker stopped")
)

// NotificationWorker decouples assignment notifications from the pass. It
// implements service.Notifier: NotifyAssigned only enqueues, and a single
// goroutine hands queued assignments to the next notifier in order.
type NotificationWorker struct {
	next   service.Notifier
	queue  chan domain.Assignment
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// StartNotificationWorker subscribes the notification service to assignment
// events and starts draining assignments into next.
func StartNotificationWorker(notificationService *service.NotificationService, next service.Notifier, queueSize int, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultNotificationQueueSize
	}
	var sinks []string
	if notificationService != nil {
		notificationService.RegisterHandlers()
		sinks = notificationService.Sinks()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &NotificationWorker{
		next:   next,
		queue:  make(chan domain.Assignment, queueSize),
		logger: logger.Named("notification_worker"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run()
	w.logger.Info("notification worker started", zap.Strings("sinks", sinks), zap.Int("queue_size", queueSize))
	return w
}

// NotifyAssigned queues the assignment without waiting for delivery.
func (w *NotificationWorker) NotifyAssigned(_ context.Context, assignment domain.Assignment) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrNotificationWorkerStopped
	}
	select {
	case w.queue <- assignment:
		return nil
	default:
		return ErrNotificationDropped
	}
}

// Stop refuses new assignments and waits for the queue to drain. When ctx
// ends first, in-progress deliveries are cancelled and ctx.Err is returned.
func (w *NotificationWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		return ctx.Err()
	}
}

func (w *NotificationWorker) run() {
	defer close(w.done)
	for assignment := range w.queue {
		w.deliver(assignment)
	}
}

func (w *NotificationWorker) deliver(assignment domain.Assignment) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notification delivery panicked", zap.Any("panic", r), zap.Int64("ticket_id", assignment.TicketID))
		}
	}()
	if w.next == nil {
		return
	}
	if err := w.next.NotifyAssigned(w.ctx, assignment); err != nil {
		w.logger.Warn("assignment notification failed",
			zap.Int64("ticket_id", assignment.TicketID),
			zap.Int64("agent_id", assignment.AgentID),
			zap.Error(err))
	}
}
