package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
)

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	repo := NewPersistence().WorkflowRepository()

	workflow := &models.Workflow{
		ID:          "workflow-1",
		Creator:     "alice",
		Name:        "Test Workflow",
		TotalBudget: 1000,
		Status:      models.WorkflowStatusDraft,
		Steps: []*models.Step{
			{ID: "step-1", Name: "First", Reward: 400, Status: models.StepStatusPending},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.Save(t.Context(), workflow))

	loaded, err := repo.GetByID(t.Context(), "workflow-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "step-1", loaded.Steps[0].ID)
}

func TestWorkflowRepository_GetByID_NotFound(t *testing.T) {
	repo := NewPersistence().WorkflowRepository()

	_, err := repo.GetByID(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_ClonesRecords(t *testing.T) {
	repo := NewPersistence().WorkflowRepository()

	workflow := &models.Workflow{
		ID:    "workflow-1",
		Steps: []*models.Step{{ID: "step-1", Status: models.StepStatusPending}},
	}
	require.NoError(t, repo.Save(t.Context(), workflow))

	// Mutating the caller's copy must not leak into the store.
	workflow.Steps[0].Status = models.StepStatusRunning

	loaded, err := repo.GetByID(t.Context(), "workflow-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, loaded.Steps[0].Status)

	// And mutating a loaded copy must not either.
	loaded.Steps[0].Status = models.StepStatusFailed

	reloaded, err := repo.GetByID(t.Context(), "workflow-1")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusPending, reloaded.Steps[0].Status)
}

func TestWorkflowRepository_GetByCreator(t *testing.T) {
	repo := NewPersistence().WorkflowRepository()
	base := time.Now().UTC()

	require.NoError(t, repo.Save(t.Context(), &models.Workflow{ID: "w-2", Creator: "alice", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, repo.Save(t.Context(), &models.Workflow{ID: "w-1", Creator: "alice", CreatedAt: base}))
	require.NoError(t, repo.Save(t.Context(), &models.Workflow{ID: "w-3", Creator: "carol", CreatedAt: base}))

	workflows, err := repo.GetByCreator(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	// Oldest first.
	assert.Equal(t, "w-1", workflows[0].ID)
	assert.Equal(t, "w-2", workflows[1].ID)

	all, err := repo.GetAll(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAgentRepository_SaveAndGet(t *testing.T) {
	repo := NewPersistence().AgentRepository()

	agent := &models.Agent{
		ID:           "agent-1",
		Owner:        "bob",
		Name:         "Summarizer",
		Capabilities: []string{"summarize"},
		Staked:       500,
		Active:       true,
	}

	require.NoError(t, repo.Save(t.Context(), agent))

	loaded, err := repo.GetByID(t.Context(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.Name, loaded.Name)
	assert.Equal(t, agent.Capabilities, loaded.Capabilities)

	_, err = repo.GetByID(t.Context(), "missing")
	assert.True(t, persistence.IsAgentNotFound(err))
}

func TestAgentRepository_SecondaryLookups(t *testing.T) {
	repo := NewPersistence().AgentRepository()

	require.NoError(t, repo.Save(t.Context(), &models.Agent{
		ID: "agent-1", Owner: "bob", Capabilities: []string{"summarize", "translate"},
	}))
	require.NoError(t, repo.Save(t.Context(), &models.Agent{
		ID: "agent-2", Owner: "bob", Capabilities: []string{"summarize"},
	}))
	require.NoError(t, repo.Save(t.Context(), &models.Agent{
		ID: "agent-3", Owner: "carol", Capabilities: []string{"translate"},
	}))

	byOwner, err := repo.GetByOwner(t.Context(), "bob")
	require.NoError(t, err)
	assert.Len(t, byOwner, 2)

	byCapability, err := repo.GetByCapability(t.Context(), "translate")
	require.NoError(t, err)
	require.Len(t, byCapability, 2)
	assert.Equal(t, "agent-1", byCapability[0].ID)
	assert.Equal(t, "agent-3", byCapability[1].ID)

	none, err := repo.GetByCapability(t.Context(), "transcribe")
	require.NoError(t, err)
	assert.Empty(t, none)
}
