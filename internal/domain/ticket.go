package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates ticket urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID          int64
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	RequesterID int64
	CategoryID  *int64
	AgentID     *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assigned reports whether an agent currently holds the ticket.
func (t Ticket) Assigned() bool {
	return t.AgentID != nil
}

// CountsTowardLoad reports whether the ticket occupies its agent's capacity.
func (s TicketStatus) CountsTowardLoad() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress
}
