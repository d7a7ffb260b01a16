// Package sqlite implements the assignment store on SQLite for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/repository"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store is a SQLite-backed repository.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New wraps an open database that already has the schema applied.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (s *Store) ListUnassigned(ctx context.Context) ([]domain.Ticket, error) {
	const query = `
        SELECT id, title, description, status, priority, requester_user_id, category_id, agent_id,
               created_at, updated_at
        FROM tickets
        WHERE agent_id IS NULL AND status <> 'CLOSED'
        ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unassigned: %w", err)
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func (s *Store) AssignAgent(ctx context.Context, ticketID, agentID int64) error {
	const query = `
        UPDATE tickets SET agent_id=?, updated_at=?
        WHERE id=? AND agent_id IS NULL AND status <> 'CLOSED'`
	res, err := s.db.ExecContext(ctx, query, agentID, formatTime(s.now()), ticketID)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}
	if n == 0 {
		return repository.ErrAssignmentConflict
	}
	return nil
}

func (s *Store) ListCandidates(ctx context.Context) ([]domain.Agent, error) {
	const query = `
        SELECT u.id, u.username, u.email, u.role, COUNT(t.id) AS load
        FROM users u
        LEFT JOIN tickets t ON t.agent_id = u.id AND t.status IN ('OPEN', 'IN_PROGRESS')
        WHERE u.role = 'AGENT'
        GROUP BY u.id
        ORDER BY u.id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		var agent domain.Agent
		var role string
		if err := rows.Scan(&agent.ID, &agent.Username, &agent.Email, &role, &agent.Load); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agent.Role = domain.Role(role)
		result = append(result, agent)
	}
	return result, rows.Err()
}

// CreateUser inserts a user and fills in its ID.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if !user.Role.Valid() {
		return fmt.Errorf("create user: invalid role %q", user.Role)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, role, created_at) VALUES (?, ?, ?, ?)`,
		user.Username, user.Email, string(user.Role), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	user.ID = id
	return nil
}

// CreateTicket inserts a ticket. Zero CreatedAt defaults to now; zero
// Status and Priority default to OPEN and MEDIUM.
func (s *Store) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	if ticket.UpdatedAt.IsZero() {
		ticket.UpdatedAt = ticket.CreatedAt
	}
	if ticket.Status == "" {
		ticket.Status = domain.TicketStatusOpen
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO tickets (title, description, status, priority, requester_user_id, category_id, agent_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.Title,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.RequesterID,
		ticket.CategoryID,
		ticket.AgentID,
		formatTime(ticket.CreatedAt),
		formatTime(ticket.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	ticket.ID = id
	return nil
}

// GetTicket loads one ticket by ID.
func (s *Store) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, title, description, status, priority, requester_user_id, category_id, agent_id,
               created_at, updated_at
        FROM tickets WHERE id=?`, id)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

// SetTicketStatus moves a ticket to status.
func (s *Store) SetTicketStatus(ctx context.Context, id int64, status domain.TicketStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status=?, updated_at=? WHERE id=?`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("set ticket status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket             domain.Ticket
		status, priority   string
		categoryID         sql.NullInt64
		agentID            sql.NullInt64
		createdAt, updated string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&status,
		&priority,
		&ticket.RequesterID,
		&categoryID,
		&agentID,
		&createdAt,
		&updated,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.Priority = domain.TicketPriority(priority)
	if categoryID.Valid {
		v := categoryID.Int64
		ticket.CategoryID = &v
	}
	if agentID.Valid {
		v := agentID.Int64
		ticket.AgentID = &v
	}
	var err error
	if ticket.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if ticket.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &ticket, nil
}
