package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/repository"
)

// ErrStoreRead marks a pass that could not read its ticket list.
var ErrStoreRead = errors.New("store read failure")

// Notifier receives committed assignments for delivery to clients.
type Notifier interface {
	NotifyAssigned(ctx context.Context, assignment domain.Assignment) error
}

// AssignmentService runs assignment passes over the store.
type AssignmentService struct {
	tickets  repository.TicketRepository
	agents   repository.AgentRepository
	policy   Policy
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo repository.TicketRepository
	AgentRepo  repository.AgentRepository
	Policy     Policy
	Notifier   Notifier
	Logger     *zap.Logger
}

// NewAssignmentService creates the service. A nil Policy means first idle
// agent; a nil Notifier disables notifications.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	policy := deps.Policy
	if policy == nil {
		policy = FirstIdlePolicy{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tickets:  deps.TicketRepo,
		agents:   deps.AgentRepo,
		policy:   policy,
		notifier: deps.Notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// RunPass assigns every unassigned ticket it can, oldest first, and returns
// one outcome per ticket. Only a failure to list tickets is returned as an
// error; per-ticket problems become FAILED outcomes and the pass goes on.
// Tickets are processed sequentially and agent loads are re-read for each
// one, so assignments made earlier in the pass are visible to later tickets.
func (s *AssignmentService) RunPass(ctx context.Context) ([]domain.AssignmentOutcome, error) {
	tickets, err := s.tickets.ListUnassigned(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list unassigned tickets: %w", ErrStoreRead, err)
	}
	if len(tickets) == 0 {
		return nil, nil
	}

	outcomes := make([]domain.AssignmentOutcome, 0, len(tickets))
	for _, ticket := range tickets {
		outcome := s.processTicket(ctx, ticket)
		s.logOutcome(outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *AssignmentService) processTicket(ctx context.Context, ticket domain.Ticket) (outcome domain.AssignmentOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Failed(ticket.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	candidates, err := s.agents.ListCandidates(ctx)
	if err != nil {
		return domain.Failed(ticket.ID, fmt.Errorf("list candidate agents: %w", err))
	}

	agentID, ok := s.policy.SelectAgent(ticket, candidates)
	if !ok {
		return domain.NoAgentAvailable(ticket.ID)
	}

	if err := s.tickets.AssignAgent(ctx, ticket.ID, agentID); err != nil {
		return domain.Failed(ticket.ID, err)
	}

	s.notify(ctx, domain.Assignment{TicketID: ticket.ID, AgentID: agentID, AssignedAt: s.now()})
	return domain.Assigned(ticket.ID, agentID)
}

// notify never fails the assignment; the write is already committed.
func (s *AssignmentService) notify(ctx context.Context, assignment domain.Assignment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAssigned(ctx, assignment); err != nil {
		s.logger.Warn("assignment notification failed",
			zap.Int64("ticket_id", assignment.TicketID),
			zap.Int64("agent_id", assignment.AgentID),
			zap.Error(err))
	}
}

func (s *AssignmentService) logOutcome(o domain.AssignmentOutcome) {
	fields := []zap.Field{
		zap.Int64("ticket_id", o.TicketID),
		zap.String("outcome", string(o.Status)),
	}
	switch o.Status {
	case domain.OutcomeAssigned:
		s.logger.Info("ticket auto-assigned", append(fields, zap.Int64p("agent_id", o.AgentID))...)
	case domain.OutcomeNoAgentAvailable:
		s.logger.Warn("no available agent for ticket", fields...)
	case domain.OutcomeFailed:
		if errors.Is(o.Err, repository.ErrAssignmentConflict) {
			s.logger.Info("ticket claimed concurrently; skipped", fields...)
			return
		}
		s.logger.Error("ticket assignment failed", append(fields, zap.Error(o.Err))...)
	}
}

// PassSummary counts outcomes by status.
type PassSummary struct {
	Assigned         int `json:"assigned"`
	NoAgentAvailable int `json:"no_agent_available"`
	Conflicts        int `json:"conflicts"`
	Failed           int `json:"failed"`
}

// Summarize folds outcomes into a PassSummary. Conflicts are also counted in
// Failed.
func Summarize(outcomes []domain.AssignmentOutcome) PassSummary {
	var sum PassSummary
	for _, o := range outcomes {
		switch o.Status {
		case domain.OutcomeAssigned:
			sum.Assigned++
		case domain.OutcomeNoAgentAvailable:
			sum.NoAgentAvailable++
		case domain.OutcomeFailed:
			sum.Failed++
			if errors.Is(o.Err, repository.ErrAssignmentConflict) {
				sum.Conflicts++
			}
		}
	}
	return sum
}
