package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
)

// AgentRepository handles agent-related file operations.
type AgentRepository struct {
	root string
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(root string) *AgentRepository {
	return &AgentRepository{root: root}
}

func (ar *AgentRepository) dir() string {
	return path.Join(ar.root, "agents")
}

func (ar *AgentRepository) Save(_ context.Context, agent *models.Agent) error {
	if err := os.MkdirAll(ar.dir(), 0o755); err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	data, err := json.MarshalIndent(agent, "", "  ")
	if err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	filePath := path.Join(ar.dir(), agent.ID+".json")
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return persistence.NewAgentError("Save", agent.ID, err)
	}

	return nil
}

func (ar *AgentRepository) GetByID(_ context.Context, id string) (*models.Agent, error) {
	filePath := path.Join(ar.dir(), id+".json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewAgentError("GetByID", id, persistence.ErrAgentNotFound)
		}

		return nil, persistence.NewAgentError("GetByID", id, err)
	}

	var agent models.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, persistence.NewAgentError("GetByID", id, err)
	}

	return &agent, nil
}

func (ar *AgentRepository) GetAll(ctx context.Context) ([]*models.Agent, error) {
	root := os.DirFS(ar.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list agent files: %w", err)
	}

	agents := make([]*models.Agent, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		agentID := file[:len(file)-5] // Remove .json extension

		agent, err := ar.GetByID(ctx, agentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
		}

		agents = append(agents, agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}

		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})

	return agents, nil
}

func (ar *AgentRepository) GetByOwner(ctx context.Context, owner string) ([]*models.Agent, error) {
	all, err := ar.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	agents := make([]*models.Agent, 0)

	for _, a := range all {
		if a.Owner == owner {
			agents = append(agents, a)
		}
	}

	return agents, nil
}

func (ar *AgentRepository) GetByCapability(ctx context.Context, capability string) ([]*models.Agent, error) {
	all, err := ar.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	agents := make([]*models.Agent, 0)

	for _, a := range all {
		if a.HasCapability(capability) {
			agents = append(agents, a)
		}
	}

	return agents, nil
}
