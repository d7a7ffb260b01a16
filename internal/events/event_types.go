package events

import (
	"time"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketAssigned EventType = "ticket_assigned"
)

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorScheduler ActorType = "SCHEDULER"
	ActorOperator  ActorType = "OPERATOR"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	Actor     ActorType   `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TicketID int64 `json:"ticket_id"`
	AgentID  int64 `json:"agent_id"`
}
