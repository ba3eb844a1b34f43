// Package memory provides an in-memory persistence implementation for tests
// and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface with maps
// guarded by a read-write mutex. Records are deep-copied on the way in and
// out so callers never share memory with the store.
type Persistence struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	agents    map[string]*models.Agent
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows: make(map[string]*models.Workflow),
		agents:    make(map[string]*models.Agent),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{p: p}
}

func (p *Persistence) AgentRepository() persistence.AgentRepository {
	return &agentRepository{p: p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type workflowRepository struct {
	p *Persistence
}

func (r *workflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return cloneWorkflow(workflow), nil
}

func (r *workflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.p.workflows))
	for _, w := range r.p.workflows {
		workflows = append(workflows, cloneWorkflow(w))
	}

	sortWorkflows(workflows)

	return workflows, nil
}

func (r *workflowRepository) GetByCreator(_ context.Context, creator string) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0)

	for _, w := range r.p.workflows {
		if w.Creator == creator {
			workflows = append(workflows, cloneWorkflow(w))
		}
	}

	sortWorkflows(workflows)

	return workflows, nil
}

type agentRepository struct {
	p *Persistence
}

func (r *agentRepository) Save(_ context.Context, agent *models.Agent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.agents[agent.ID] = cloneAgent(agent)

	return nil
}

func (r *agentRepository) GetByID(_ context.Context, id string) (*models.Agent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	agent, ok := r.p.agents[id]
	if !ok {
		return nil, persistence.NewAgentError("GetByID", id, persistence.ErrAgentNotFound)
	}

	return cloneAgent(agent), nil
}

func (r *agentRepository) GetAll(_ context.Context) ([]*models.Agent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(r.p.agents))
	for _, a := range r.p.agents {
		agents = append(agents, cloneAgent(a))
	}

	sortAgents(agents)

	return agents, nil
}

func (r *agentRepository) GetByOwner(_ context.Context, owner string) ([]*models.Agent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	agents := make([]*models.Agent, 0)

	for _, a := range r.p.agents {
		if a.Owner == owner {
			agents = append(agents, cloneAgent(a))
		}
	}

	sortAgents(agents)

	return agents, nil
}

func (r *agentRepository) GetByCapability(_ context.Context, capability string) ([]*models.Agent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	agents := make([]*models.Agent, 0)

	for _, a := range r.p.agents {
		if a.HasCapability(capability) {
			agents = append(agents, cloneAgent(a))
		}
	}

	sortAgents(agents)

	return agents, nil
}

func sortWorkflows(workflows []*models.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		if workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].ID < workflows[j].ID
		}

		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})
}

func sortAgents(agents []*models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}

		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
}

func cloneWorkflow(w *models.Workflow) *models.Workflow {
	clone := *w
	clone.Steps = make([]*models.Step, 0, len(w.Steps))

	for _, s := range w.Steps {
		clone.Steps = append(clone.Steps, cloneStep(s))
	}

	return &clone
}

func cloneStep(s *models.Step) *models.Step {
	clone := *s
	clone.Dependencies = append([]string(nil), s.Dependencies...)

	if s.StartedAt != nil {
		startedAt := *s.StartedAt
		clone.StartedAt = &startedAt
	}

	if s.FinishedAt != nil {
		finishedAt := *s.FinishedAt
		clone.FinishedAt = &finishedAt
	}

	return &clone
}

func cloneAgent(a *models.Agent) *models.Agent {
	clone := *a
	clone.Capabilities = append([]string(nil), a.Capabilities...)

	return &clone
}
