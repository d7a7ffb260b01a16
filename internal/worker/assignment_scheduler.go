package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/observability"
	"github.com/spec-kit/ticket-assigner/internal/service"
)

// DefaultInterval is the pass interval when none is configured.
const DefaultInterval = 5 * time.Minute

var (
	// ErrSchedulerRunning is returned by Start on a running scheduler.
	ErrSchedulerRunning = errors.New("assignment scheduler already running")
	// ErrSchedulerStopped is returned by TriggerNow on a stopped scheduler.
	ErrSchedulerStopped = errors.New("assignment scheduler stopped")
	// ErrPassInProgress is returned when a pass is requested while another
	// one has not finished.
	ErrPassInProgress = errors.New("assignment pass already in progress")
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// PassRunner executes one assignment pass.
type PassRunner interface {
	RunPass(ctx context.Context) ([]domain.AssignmentOutcome, error)
}

// SchedulerConfig controls when passes fire.
type SchedulerConfig struct {
	// Interval between passes. Ignored when Schedule is set.
	Interval time.Duration
	// Schedule is an optional 5-field cron expression or descriptor
	// ("@every 2m", "@hourly").
	Schedule string
	// PassTimeout bounds a single pass; zero means no bound.
	PassTimeout time.Duration
}

// PassReport describes the most recent completed pass.
type PassReport struct {
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration_ns"`
	Tickets   int                 `json:"tickets"`
	Summary   service.PassSummary `json:"summary"`
	Error     string              `json:"error,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State    State       `json:"state"`
	InFlight bool        `json:"in_flight"`
	Trigger  string      `json:"trigger"`
	LastPass *PassReport `json:"last_pass,omitempty"`
}

// Scheduler fires assignment passes on a schedule. It has two states,
// Stopped and Running, and never runs two passes at once.
type Scheduler struct {
	runner  PassRunner
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     SchedulerConfig
	trigger cron.Schedule
	label   string

	mu       sync.Mutex
	state    State
	cron     *cron.Cron
	inFlight bool
	passDone chan struct{}
	last     *PassReport
}

// NewScheduler validates cfg and returns a stopped scheduler.
func NewScheduler(runner PassRunner, cfg SchedulerConfig, logger *zap.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("assignment scheduler: runner required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	trigger, label, err := resolveTrigger(cfg)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:  runner,
		logger:  logger.Named("assignment_scheduler"),
		metrics: metrics,
		cfg:     cfg,
		trigger: trigger,
		label:   label,
		state:   StateStopped,
	}, nil
}

func resolveTrigger(cfg SchedulerConfig) (cron.Schedule, string, error) {
	if spec := strings.TrimSpace(cfg.Schedule); spec != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		sched, err := parser.Parse(spec)
		if err != nil {
			return nil, "", fmt.Errorf("invalid assignment schedule %q: %w", spec, err)
		}
		return sched, "cron " + spec, nil
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < 0 {
		return nil, "", fmt.Errorf("invalid assignment interval %s", interval)
	}
	return fixedInterval(interval), "every " + interval.String(), nil
}

// Start begins firing passes. The first pass fires immediately.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrSchedulerRunning
	}

	cronLogger := observability.NewCronLogger(s.logger)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	c.Schedule(&immediateFirst{next: s.trigger}, cron.FuncJob(s.tick))
	c.Start()

	s.cron = c
	s.state = StateRunning
	s.logger.Info("assignment scheduler started", zap.String("trigger", s.label))
	return nil
}

// Stop halts future passes. No pass begins after Stop returns. A pass that
// is already running is not interrupted and Stop does not wait for it; the
// returned context is done once no pass is in flight.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.cron.Stop()
		s.cron = nil
		s.state = StateStopped
		s.logger.Info("assignment scheduler stopped", zap.Bool("pass_in_flight", s.inFlight))
	}
	return s.idleContext()
}

// idleContext must be called with s.mu held.
func (s *Scheduler) idleContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	if !s.inFlight {
		cancel()
		return ctx
	}
	done := s.passDone
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// TriggerNow runs a pass immediately on the caller's goroutine, subject to
// the same overlap guard as scheduled passes.
func (s *Scheduler) TriggerNow() ([]domain.AssignmentOutcome, error) {
	return s.runGuarded()
}

// Status returns the current state and the last pass report.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, InFlight: s.inFlight, Trigger: s.label}
	if s.last != nil {
		last := *s.last
		st.LastPass = &last
	}
	return st
}

func (s *Scheduler) tick() {
	_, err := s.runGuarded()
	switch {
	case errors.Is(err, ErrPassInProgress):
		s.logger.Debug("assignment pass skipped; previous pass still running")
	case errors.Is(err, ErrSchedulerStopped):
		s.logger.Debug("assignment pass skipped; scheduler stopped")
	}
}

func (s *Scheduler) runGuarded() ([]domain.AssignmentOutcome, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil, ErrSchedulerStopped
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrPassInProgress
	}
	s.inFlight = true
	done := make(chan struct{})
	s.passDone = done
	s.mu.Unlock()

	report := &PassReport{StartedAt: time.Now().UTC()}
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.last = report
		close(done)
		s.mu.Unlock()
	}()

	// The pass context is detached from Stop so a stop never cuts a pass
	// short.
	ctx := context.Background()
	if s.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PassTimeout)
		defer cancel()
	}

	outcomes, err := s.runner.RunPass(ctx)
	report.Duration = time.Since(report.StartedAt)
	report.Tickets = len(outcomes)
	report.Summary = service.Summarize(outcomes)
	s.metrics.RecordPass(outcomes, report.Duration, err)

	if err != nil {
		report.Error = err.Error()
		s.logger.Error("assignment pass failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return nil, err
	}
	if len(outcomes) > 0 {
		s.logger.Info("assignment pass complete",
			zap.Int("tickets", report.Tickets),
			zap.Int("assigned", report.Summary.Assigned),
			zap.Int("no_agent_available", report.Summary.NoAgentAvailable),
			zap.Int("failed", report.Summary.Failed),
			zap.Int("conflicts", report.Summary.Conflicts),
			zap.Duration("duration", report.Duration))
	}
	return outcomes, nil
}

// fixedInterval fires every d, unlike cron.Every which rounds to seconds.
type fixedInterval time.Duration

func (d fixedInterval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// immediateFirst fires at the current time once, then defers to next.
// cron calls Next only from its run goroutine.
type immediateFirst struct {
	next  cron.Schedule
	fired bool
}

func (s *immediateFirst) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		return t
	}
	return s.next.Next(t)
}
