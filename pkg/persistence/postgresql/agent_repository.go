package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
)

// AgentRepository handles agent-related database operations.
type AgentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(db *sql.DB, logger *slog.Logger) *AgentRepository {
	return &AgentRepository{db: db, logger: logger}
}

func (r *AgentRepository) Save(ctx context.Context, agent *models.Agent) error {
	capabilities, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	staked, err := amountColumn("staked", agent.Staked)
	if err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	totalEarned, err := amountColumn("total_earned", agent.TotalEarned)
	if err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, owner, name, capabilities, staked, reputation, completed,
			failed, total_earned, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			staked = EXCLUDED.staked,
			reputation = EXCLUDED.reputation,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			total_earned = EXCLUDED.total_earned,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`,
		agent.ID, agent.Owner, agent.Name, capabilities, staked,
		agent.Reputation, int64(agent.Completed), int64(agent.Failed),
		totalEarned, agent.Active, agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	return nil
}

func (r *AgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := r.scanAgent(r.db.QueryRowContext(ctx, `
		SELECT
			id, owner, name, capabilities, staked, reputation, completed,
			failed, total_earned, active, created_at, updated_at
		FROM agents
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAgentError("GetByID", id, persistence.ErrAgentNotFound)
		}

		return nil, persistence.NewAgentError("GetByID", id, err)
	}

	return agent, nil
}

func (r *AgentRepository) GetAll(ctx context.Context) ([]*models.Agent, error) {
	return r.query(ctx, `
		SELECT
			id, owner, name, capabilities, staked, reputation, completed,
			failed, total_earned, active, created_at, updated_at
		FROM agents
		ORDER BY created_at
	`)
}

func (r *AgentRepository) GetByOwner(ctx context.Context, owner string) ([]*models.Agent, error) {
	return r.query(ctx, `
		SELECT
			id, owner, name, capabilities, staked, reputation, completed,
			failed, total_earned, active, created_at, updated_at
		FROM agents
		WHERE owner = $1
		ORDER BY created_at
	`, owner)
}

func (r *AgentRepository) GetByCapability(ctx context.Context, capability string) ([]*models.Agent, error) {
	return r.query(ctx, `
		SELECT
			id, owner, name, capabilities, staked, reputation, completed,
			failed, total_earned, active, created_at, updated_at
		FROM agents
		WHERE capabilities @> to_jsonb(ARRAY[$1::text])
		ORDER BY created_at
	`, capability)
}

func (r *AgentRepository) query(ctx context.Context, query string, args ...any) ([]*models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	agents := make([]*models.Agent, 0)

	for rows.Next() {
		agent, err := r.scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}

		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return agents, nil
}

func (r *AgentRepository) scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		agent        models.Agent
		capabilities []byte
		staked       int64
		completed    int64
		failed       int64
		totalEarned  int64
	)

	err := row.Scan(
		&agent.ID, &agent.Owner, &agent.Name, &capabilities, &staked,
		&agent.Reputation, &completed, &failed, &totalEarned, &agent.Active,
		&agent.CreatedAt, &agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(capabilities, &agent.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode agent capabilities: %w", err)
	}

	agent.Staked = uint64(staked)
	agent.Completed = uint64(completed)
	agent.Failed = uint64(failed)
	agent.TotalEarned = uint64(totalEarned)

	return &agent, nil
}
