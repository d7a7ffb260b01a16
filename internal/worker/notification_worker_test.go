package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticket-assigner/internal/config"
	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/events"
	"github.com/spec-kit/ticket-assigner/internal/repository/sqlite"
	"github.com/spec-kit/ticket-assigner/internal/service"
)

type gatedNotifier struct {
	mu        sync.Mutex
	delivered []int64
	entered   chan int64
	release   chan struct{}
	cancelled chan struct{}
}

func newGatedNotifier() *gatedNotifier {
	return &gatedNotifier{
		entered:   make(chan int64, 16),
		release:   make(chan struct{}),
		cancelled: make(chan struct{}, 16),
	}
}

func (n *gatedNotifier) NotifyAssigned(ctx context.Context, a domain.Assignment) error {
	n.entered <- a.TicketID
	select {
	case <-n.release:
	case <-ctx.Done():
		n.cancelled <- struct{}{}
		return ctx.Err()
	}
	n.mu.Lock()
	n.delivered = append(n.delivered, a.TicketID)
	n.mu.Unlock()
	return nil
}

func (n *gatedNotifier) waitEntered(t *testing.T, want int64) {
	t.Helper()
	select {
	case got := <-n.entered:
		if got != want {
			t.Fatalf("delivering ticket %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ticket %d never reached the sink", want)
	}
}

func assignment(ticketID int64) domain.Assignment {
	return domain.Assignment{TicketID: ticketID, AgentID: 7}
}

func TestNotificationWorkerDeliversInOrder(t *testing.T) {
	next := newGatedNotifier()
	close(next.release)
	w := StartNotificationWorker(nil, next, 8, nil)

	for id := int64(1); id <= 3; id++ {
		if err := w.NotifyAssigned(context.Background(), assignment(id)); err != nil {
			t.Fatalf("notify %d: %v", id, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(next.delivered) != 3 || next.delivered[0] != 1 || next.delivered[2] != 3 {
		t.Fatalf("delivered: %v", next.delivered)
	}
	if err := w.NotifyAssigned(context.Background(), assignment(4)); !errors.Is(err, ErrNotificationWorkerStopped) {
		t.Fatalf("notify after stop: got %v", err)
	}
}

func TestNotificationWorkerDropsWhenQueueFull(t *testing.T) {
	next := newGatedNotifier()
	w := StartNotificationWorker(nil, next, 1, nil)

	if err := w.NotifyAssigned(context.Background(), assignment(1)); err != nil {
		t.Fatalf("notify 1: %v", err)
	}
	next.waitEntered(t, 1)
	if err := w.NotifyAssigned(context.Background(), assignment(2)); err != nil {
		t.Fatalf("notify 2: %v", err)
	}

	start := time.Now()
	err := w.NotifyAssigned(context.Background(), assignment(3))
	if !errors.Is(err, ErrNotificationDropped) {
		t.Fatalf("notify 3: got %v, want ErrNotificationDropped", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("full queue blocked the caller for %s", elapsed)
	}

	close(next.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(next.delivered) != 2 {
		t.Fatalf("delivered: %v, want tickets 1 and 2", next.delivered)
	}
}

func TestNotificationWorkerStopDeadlineCancelsDelivery(t *testing.T) {
	next := newGatedNotifier()
	w := StartNotificationWorker(nil, next, 4, nil)

	if err := w.NotifyAssigned(context.Background(), assignment(1)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	next.waitEntered(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop: got %v, want deadline exceeded", err)
	}
	select {
	case <-next.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-progress delivery was not cancelled")
	}
}

// hangingPublisher never completes until its context ends.
type hangingPublisher struct{}

func (hangingPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAssignmentPassNotBlockedByHangingSink(t *testing.T) {
	store := sqlite.NewSQLiteTest(t)
	ctx := context.Background()
	customer := domain.User{Username: "cust", Email: "cust@example.com", Role: domain.RoleCustomer}
	if err := store.CreateUser(ctx, &customer); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	for i, name := range []string{"ana", "bo", "cy"} {
		agent := domain.User{Username: name, Email: name + "@example.com", Role: domain.RoleAgent}
		if err := store.CreateUser(ctx, &agent); err != nil {
			t.Fatalf("create agent: %v", err)
		}
		ticket := domain.Ticket{Title: "ticket", RequesterID: customer.ID, CreatedAt: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)}
		if err := store.CreateTicket(ctx, &ticket); err != nil {
			t.Fatalf("create ticket: %v", err)
		}
	}

	dispatcher := events.NewInMemoryDispatcher()
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		Publisher:  hangingPublisher{},
		Config:     config.NotificationConfig{RedisChannel: "tickets.assigned"},
	})
	queue := StartNotificationWorker(notifications, service.NewEventNotifier(dispatcher), 8, nil)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = queue.Stop(stopCtx)
	})

	svc := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo: store,
		AgentRepo:  store,
		Notifier:   queue,
	})

	start := time.Now()
	outcomes, err := svc.RunPass(ctx)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("run pass: %v", err)
	}
	if sum := service.Summarize(outcomes); sum.Assigned != 3 {
		t.Fatalf("summary: %+v", sum)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("pass took %s with a hanging sink", elapsed)
	}
}
