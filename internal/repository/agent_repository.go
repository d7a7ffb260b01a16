package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-assigner/internal/domain"
)

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the Postgres agent repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

// ListCandidates counts only OPEN and IN_PROGRESS tickets toward load.
func (r *agentRepository) ListCandidates(ctx context.Context) ([]domain.Agent, error) {
	const query = `
        SELECT u.id, u.username, u.email, u.role, COUNT(t.id) AS load
        FROM users u
        LEFT JOIN tickets t ON t.agent_id = u.id AND t.status IN ('OPEN', 'IN_PROGRESS')
        WHERE u.role = 'AGENT'
        GROUP BY u.id, u.username, u.email, u.role
        ORDER BY u.id ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		var (
			agent domain.Agent
			load  int64
		)
		if err := rows.Scan(
			&agent.ID,
			&agent.Username,
			&agent.Email,
			&agent.Role,
			&load,
		); err != nil {
			return nil, err
		}
		agent.Load = int(load)
		result = append(result, agent)
	}
	return result, rows.Err()
}

type postgresStore struct {
	TicketRepository
	AgentRepository
}

// NewPostgresStore builds the combined Postgres store.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return postgresStore{
		TicketRepository: NewTicketRepository(pool),
		AgentRepository:  NewAgentRepository(pool),
	}
}
