package service

import (
	"fmt"
	"sort"

	"github.com/spec-kit/ticket-assigner/internal/domain"
)

// Policy names accepted by NewPolicy.
const (
	PolicyFirstIdle   = "first_idle"
	PolicyLeastLoaded = "least_loaded"
)

// Policy chooses an agent for a ticket from the current candidate pool.
// Implementations must be pure: no I/O and no retained state between calls.
type Policy interface {
	SelectAgent(ticket domain.Ticket, candidates []domain.Agent) (agentID int64, ok bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ticket domain.Ticket, candidates []domain.Agent) (int64, bool)

// SelectAgent calls f.
func (f PolicyFunc) SelectAgent(ticket domain.Ticket, candidates []domain.Agent) (int64, bool) {
	return f(ticket, candidates)
}

// FirstIdlePolicy picks the lowest-ID agent holding no active tickets.
// Capacity is strictly one ticket per agent.
type FirstIdlePolicy struct{}

func (FirstIdlePolicy) SelectAgent(_ domain.Ticket, candidates []domain.Agent) (int64, bool) {
	for _, agent := range byID(candidates) {
		if agent.Role == domain.RoleAgent && agent.Load == 0 {
			return agent.ID, true
		}
	}
	return 0, false
}

// LeastLoadedPolicy picks the agent with the smallest load below MaxLoad,
// lowest ID first on ties.
type LeastLoadedPolicy struct {
	MaxLoad int
}

func (p LeastLoadedPolicy) SelectAgent(_ domain.Ticket, candidates []domain.Agent) (int64, bool) {
	var best *domain.Agent
	for _, agent := range byID(candidates) {
		if agent.Role != domain.RoleAgent || agent.Load >= p.MaxLoad {
			continue
		}
		if best == nil || agent.Load < best.Load {
			a := agent
			best = &a
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}

// NewPolicy resolves a configured policy name.
func NewPolicy(name string, maxLoad int) (Policy, error) {
	switch name {
	case "", PolicyFirstIdle:
		return FirstIdlePolicy{}, nil
	case PolicyLeastLoaded:
		if maxLoad <= 0 {
			return nil, fmt.Errorf("policy %s: max load must be positive", name)
		}
		return LeastLoadedPolicy{MaxLoad: maxLoad}, nil
	default:
		return nil, fmt.Errorf("unknown assignment policy %q", name)
	}
}

// byID returns a copy of agents in stable ID order; the caller's slice is
// left untouched.
func byID(agents []domain.Agent) []domain.Agent {
	sorted := append([]domain.Agent(nil), agents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
