package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/repository"
)

// fakeStore is an in-memory repository.Store with failure hooks.
type fakeStore struct {
	mu      sync.Mutex
	tickets map[int64]*domain.Ticket
	users   []domain.User

	listErr      error
	candidateErr error
	assignErr    map[int64]error
	panicOn      map[int64]bool
	// beforeAssign runs inside AssignAgent before the compare-and-set,
	// simulating an external writer racing the pass.
	beforeAssign func(ticketID int64)

	writes         int
	candidateReads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tickets:   make(map[int64]*domain.Ticket),
		assignErr: make(map[int64]error),
		panicOn:   make(map[int64]bool),
	}
}

func (f *fakeStore) addAgent(id int64) {
	f.users = append(f.users, domain.User{ID: id, Username: "agent", Role: domain.RoleAgent})
}

func (f *fakeStore) addUser(id int64, role domain.Role) {
	f.users = append(f.users, domain.User{ID: id, Username: string(role), Role: role})
}

func (f *fakeStore) addTicket(id int64, createdAt time.Time) {
	f.tickets[id] = &domain.Ticket{ID: id, Status: domain.TicketStatusOpen, CreatedAt: createdAt}
}

func (f *fakeStore) agentOf(id int64) *int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[id].AgentID
}

func (f *fakeStore) claimExternally(ticketID, agentID int64) {
	f.tickets[ticketID].AgentID = &agentID
}

func (f *fakeStore) close(ticketID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[ticketID].Status = domain.TicketStatusClosed
}

func (f *fakeStore) ListUnassigned(ctx context.Context) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Ticket
	for _, t := range f.tickets {
		if t.AgentID == nil && t.Status != domain.TicketStatusClosed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) ListCandidates(ctx context.Context) ([]domain.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidateReads++
	if f.candidateErr != nil {
		return nil, f.candidateErr
	}
	var out []domain.Agent
	for _, u := range f.users {
		if u.Role != domain.RoleAgent {
			continue
		}
		agent := domain.Agent{User: u}
		for _, t := range f.tickets {
			if t.AgentID != nil && *t.AgentID == u.ID && t.Status.CountsTowardLoad() {
				agent.Load++
			}
		}
		out = append(out, agent)
	}
	return out, nil
}

func (f *fakeStore) AssignAgent(ctx context.Context, ticketID, agentID int64) error {
	if f.panicOn[ticketID] {
		panic("driver exploded")
	}
	if f.beforeAssign != nil {
		f.beforeAssign(ticketID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.assignErr[ticketID]; err != nil {
		return err
	}
	t, ok := f.tickets[ticketID]
	if !ok || t.AgentID != nil || t.Status == domain.TicketStatusClosed {
		return repository.ErrAssignmentConflict
	}
	t.AgentID = &agentID
	f.writes++
	return nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	assignments []domain.Assignment
	err         error
}

func (n *fakeNotifier) NotifyAssigned(ctx context.Context, a domain.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assignments = append(n.assignments, a)
	return n.err
}
