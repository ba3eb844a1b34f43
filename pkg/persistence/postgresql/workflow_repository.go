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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Save upserts the workflow row and rewrites its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	upsert := `
		INSERT INTO workflows (
			id, creator, name, description, total_budget, allocated, reserved,
			spent, deadline, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			allocated = EXCLUDED.allocated,
			reserved = EXCLUDED.reserved,
			spent = EXCLUDED.spent,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`

	amounts := make([]int64, 0, 4)

	for _, column := range []struct {
		name  string
		value uint64
	}{
		{"total_budget", workflow.TotalBudget},
		{"allocated", workflow.Allocated},
		{"reserved", workflow.Reserved},
		{"spent", workflow.Spent},
	} {
		amount, err := amountColumn(column.name, column.value)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		amounts = append(amounts, amount)
	}

	_, err = transaction.ExecContext(ctx, upsert,
		workflow.ID, workflow.Creator, workflow.Name, workflow.Description,
		amounts[0], amounts[1], amounts[2],
		amounts[3], workflow.Deadline, string(workflow.Status),
		workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = transaction.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	for position, step := range workflow.Steps {
		dependencies, err := json.Marshal(step.Dependencies)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		reward, err := amountColumn("reward", step.Reward)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_steps (
				id, workflow_id, position, name, capability, reward, kind,
				dependencies, agent_id, input_ref, output_ref, status,
				created_at, started_at, finished_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`,
			step.ID, workflow.ID, position, step.Name, step.Capability,
			reward, string(step.Kind), dependencies, step.AgentID,
			step.InputRef, step.OutputRef, string(step.Status),
			step.CreatedAt, step.StartedAt, step.FinishedAt,
		)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id, creator, name, description, total_budget, allocated, reserved,
			spent, deadline, status, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT
			id, creator, name, description, total_budget, allocated, reserved,
			spent, deadline, status, created_at, updated_at
		FROM workflows
		ORDER BY created_at
	`)
}

func (r *WorkflowRepository) GetByCreator(ctx context.Context, creator string) ([]*models.Workflow, error) {
	return r.query(ctx, `
		SELECT
			id, creator, name, description, total_budget, allocated, reserved,
			spent, deadline, status, created_at, updated_at
		FROM workflows
		WHERE creator = $1
		ORDER BY created_at
	`, creator)
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, fmt.Errorf("failed to load workflow steps: %w", err)
		}
	}

	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		totalBudget int64
		allocated   int64
		reserved    int64
		spent       int64
		status      string
	)

	err := row.Scan(
		&workflow.ID, &workflow.Creator, &workflow.Name, &workflow.Description,
		&totalBudget, &allocated, &reserved, &spent, &workflow.Deadline,
		&status, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.TotalBudget = uint64(totalBudget)
	workflow.Allocated = uint64(allocated)
	workflow.Reserved = uint64(reserved)
	workflow.Spent = uint64(spent)
	workflow.Status = models.WorkflowStatus(status)
	workflow.Steps = make([]*models.Step, 0)

	return &workflow, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, name, capability, reward, kind, dependencies, agent_id,
			input_ref, output_ref, status, created_at, started_at, finished_at
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			step         models.Step
			reward       int64
			kind         string
			dependencies []byte
			status       string
		)

		err := rows.Scan(
			&step.ID, &step.Name, &step.Capability, &reward, &kind,
			&dependencies, &step.AgentID, &step.InputRef, &step.OutputRef,
			&status, &step.CreatedAt, &step.StartedAt, &step.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if err := json.Unmarshal(dependencies, &step.Dependencies); err != nil {
			return fmt.Errorf("failed to decode step dependencies: %w", err)
		}

		step.WorkflowID = workflow.ID
		step.Reward = uint64(reward)
		step.Kind = models.StepKind(kind)
		step.Status = models.StepStatus(status)

		workflow.Steps = append(workflow.Steps, &step)
	}

	return rows.Err()
}
