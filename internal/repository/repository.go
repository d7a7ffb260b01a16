package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/ticket-assigner/internal/domain"
)

// ErrAssignmentConflict is returned by AssignAgent when the ticket was no
// longer unassigned at write time (claimed concurrently, closed or deleted).
var ErrAssignmentConflict = errors.New("assignment conflict")

// TicketRepository is the ticket side of the assignment store.
type TicketRepository interface {
	// ListUnassigned returns open tickets without an agent, oldest first.
	ListUnassigned(ctx context.Context) ([]domain.Ticket, error)
	// AssignAgent binds agentID to the ticket only if it is still
	// unassigned; otherwise it returns ErrAssignmentConflict.
	AssignAgent(ctx context.Context, ticketID, agentID int64) error
}

// AgentRepository is the agent side of the assignment store.
type AgentRepository interface {
	// ListCandidates returns every AGENT user with its live load, ordered by ID.
	ListCandidates(ctx context.Context) ([]domain.Agent, error)
}

// Store combines both sides; the Postgres and SQLite backends implement it.
type Store interface {
	TicketRepository
	AgentRepository
}
