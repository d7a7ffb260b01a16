package domain

import (
	"fmt"
	"time"
)

// OutcomeStatus classifies the result of processing one ticket in a pass.
type OutcomeStatus string

const (
	OutcomeAssigned         OutcomeStatus = "ASSIGNED"
	OutcomeNoAgentAvailable OutcomeStatus = "NO_AGENT_AVAILABLE"
	OutcomeFailed           OutcomeStatus = "FAILED"
)

// AssignmentOutcome is the ephemeral per-ticket result of a pass.
type AssignmentOutcome struct {
	TicketID int64         `json:"ticket_id"`
	Status   OutcomeStatus `json:"status"`
	AgentID  *int64        `json:"agent_id,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Err      error         `json:"-"`
}

// Assigned builds an ASSIGNED outcome.
func Assigned(ticketID, agentID int64) AssignmentOutcome {
	return AssignmentOutcome{TicketID: ticketID, Status: OutcomeAssigned, AgentID: &agentID}
}

// NoAgentAvailable builds a NO_AGENT_AVAILABLE outcome.
func NoAgentAvailable(ticketID int64) AssignmentOutcome {
	return AssignmentOutcome{TicketID: ticketID, Status: OutcomeNoAgentAvailable}
}

// Failed builds a FAILED outcome carrying the cause.
func Failed(ticketID int64, err error) AssignmentOutcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return AssignmentOutcome{TicketID: ticketID, Status: OutcomeFailed, Reason: reason, Err: err}
}

func (o AssignmentOutcome) String() string {
	switch o.Status {
	case OutcomeAssigned:
		if o.AgentID != nil {
			return fmt.Sprintf("ticket %d: assigned to agent %d", o.TicketID, *o.AgentID)
		}
	case OutcomeFailed:
		return fmt.Sprintf("ticket %d: failed: %s", o.TicketID, o.Reason)
	}
	return fmt.Sprintf("ticket %d: %s", o.TicketID, o.Status)
}

// Assignment is a committed ticket-to-agent binding, delivered to notifiers.
type Assignment struct {
	TicketID   int64     `json:"ticket_id"`
	AgentID    int64     `json:"agent_id"`
	AssignedAt time.Time `json:"assigned_at"`
}
