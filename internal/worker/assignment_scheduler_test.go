package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/observability"
)

type fakeRunner struct {
	started atomic.Int64
	running atomic.Int64
	overlap atomic.Bool

	mu      sync.Mutex
	block   chan struct{}
	errs    []error
	entered chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{entered: make(chan struct{}, 64)}
}

func (r *fakeRunner) RunPass(ctx context.Context) ([]domain.AssignmentOutcome, error) {
	if r.running.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.running.Add(-1)
	n := r.started.Add(1)
	select {
	case r.entered <- struct{}{}:
	default:
	}

	r.mu.Lock()
	block := r.block
	var err error
	if int(n) <= len(r.errs) {
		err = r.errs[n-1]
	}
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	agent := int64(7)
	return []domain.AssignmentOutcome{domain.Assigned(n, agent)}, nil
}

func waitEntered(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case <-r.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a pass to start")
	}
}

func newTestScheduler(t *testing.T, r *fakeRunner, interval time.Duration) *Scheduler {
	t.Helper()
	s, err := NewScheduler(r, SchedulerConfig{Interval: interval, PassTimeout: time.Second}, nil, observability.NewMetrics())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestSchedulerFirstPassFiresImmediately(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	if got := s.Status().State; got != StateRunning {
		t.Fatalf("state: got %s, want RUNNING", got)
	}
}

func TestSchedulerStartWhileRunning(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrSchedulerRunning) {
		t.Fatalf("second start: got %v, want ErrSchedulerRunning", err)
	}
	waitEntered(t, r)
	time.Sleep(50 * time.Millisecond)
	if got := r.started.Load(); got != 1 {
		t.Fatalf("passes: got %d, want 1 (no second timer)", got)
	}
}

func TestSchedulerRepeatsAtInterval(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, 20*time.Millisecond)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		waitEntered(t, r)
	}
	if r.overlap.Load() {
		t.Fatal("passes overlapped")
	}
}

func TestSchedulerStopPreventsNewPasses(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, 10*time.Millisecond)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	waitEntered(t, r)

	<-s.Stop().Done()
	startedAtStop := r.started.Load()

	time.Sleep(80 * time.Millisecond)
	if got := r.started.Load(); got != startedAtStop {
		t.Fatalf("passes after stop: got %d, want %d", got, startedAtStop)
	}
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state: got %s, want STOPPED", got)
	}
}

func TestSchedulerStopDoesNotWaitForInFlightPass(t *testing.T) {
	r := newFakeRunner()
	release := make(chan struct{})
	r.block = release
	s := newTestScheduler(t, r, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)

	stopped := make(chan context.Context, 1)
	go func() { stopped <- s.Stop() }()

	var idle context.Context
	select {
	case idle = <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on the in-flight pass")
	}
	select {
	case <-idle.Done():
		t.Fatal("idle context done while pass still running")
	default:
	}
	if !s.Status().InFlight {
		t.Fatal("expected in-flight pass to be reported")
	}

	close(release)
	select {
	case <-idle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle context not done after pass finished")
	}
	if last := s.Status().LastPass; last == nil || last.Summary.Assigned != 1 {
		t.Fatalf("in-flight pass should complete normally, got %+v", last)
	}
}

func TestSchedulerTriggerNowRejectsOverlap(t *testing.T) {
	r := newFakeRunner()
	release := make(chan struct{})
	r.block = release
	s := newTestScheduler(t, r, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)

	if _, err := s.TriggerNow(); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("trigger during pass: got %v, want ErrPassInProgress", err)
	}
	close(release)
	<-s.Stop().Done()
	if got := r.started.Load(); got != 1 {
		t.Fatalf("passes: got %d, want 1", got)
	}
}

func TestSchedulerTriggerNow(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, time.Hour)

	if _, err := s.TriggerNow(); !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("trigger while stopped: got %v, want ErrSchedulerStopped", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	// let the immediate pass finish
	deadline := time.Now().Add(2 * time.Second)
	for s.Status().InFlight && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	outcomes, err := s.TriggerNow()
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeAssigned {
		t.Fatalf("outcomes: %+v", outcomes)
	}
}

func TestSchedulerPassFailureKeepsTrigger(t *testing.T) {
	r := newFakeRunner()
	r.errs = []error{errors.New("store down")}
	metrics := observability.NewMetrics()
	s, err := NewScheduler(r, SchedulerConfig{Interval: 20 * time.Millisecond}, nil, metrics)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	waitEntered(t, r)
	<-s.Stop().Done()

	snap := metrics.PassSnapshot()
	if snap.FailedPasses != 1 {
		t.Fatalf("failed passes: got %d, want 1", snap.FailedPasses)
	}
	if snap.Passes < 2 || snap.Assigned < 1 {
		t.Fatalf("scheduler should keep running after a failed pass: %+v", snap)
	}
}

func TestSchedulerRestart(t *testing.T) {
	r := newFakeRunner()
	s := newTestScheduler(t, r, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	<-s.Stop().Done()

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitEntered(t, r)
}

func TestNewSchedulerTrigger(t *testing.T) {
	r := newFakeRunner()
	if _, err := NewScheduler(r, SchedulerConfig{Schedule: "not a cron"}, nil, nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if _, err := NewScheduler(r, SchedulerConfig{Interval: -time.Second}, nil, nil); err == nil {
		t.Fatal("expected error for negative interval")
	}

	s, err := NewScheduler(r, SchedulerConfig{Schedule: "*/5 * * * *"}, nil, nil)
	if err != nil {
		t.Fatalf("cron schedule: %v", err)
	}
	if got := s.Status().Trigger; got != "cron */5 * * * *" {
		t.Fatalf("trigger: got %q", got)
	}

	s, err = NewScheduler(r, SchedulerConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("default interval: %v", err)
	}
	if got := s.Status().Trigger; got != "every 5m0s" {
		t.Fatalf("trigger: got %q", got)
	}
}

func TestImmediateFirstSchedule(t *testing.T) {
	sched := &immediateFirst{next: fixedInterval(time.Minute)}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := sched.Next(now); !got.Equal(now) {
		t.Fatalf("first fire: got %s, want %s", got, now)
	}
	if got := sched.Next(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("second fire: got %s", got)
	}
}

func TestSchedulerLogsStoreReadFailureOnce(t *testing.T) {
	r := newFakeRunner()
	r.errs = []error{errors.New("store down")}
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := NewScheduler(r, SchedulerConfig{Interval: time.Hour}, zap.New(core), nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitEntered(t, r)
	<-s.Stop().Done()

	if n := logs.FilterMessage("assignment pass failed").Len(); n != 1 {
		t.Fatalf("failure log lines: got %d, want 1", n)
	}
}
