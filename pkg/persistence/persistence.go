// Package persistence provides the data storage abstraction layer for
// workflows and agents.
package persistence

import (
	"context"

	"github.com/agoralabs/agora/pkg/models"
)

// WorkflowRepository stores workflow records with their embedded steps.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByCreator(ctx context.Context, creator string) ([]*models.Workflow, error)
}

// AgentRepository stores agent records with secondary lookups by owner and
// by declared capability.
type AgentRepository interface {
	Save(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	GetAll(ctx context.Context) ([]*models.Agent, error)
	GetByOwner(ctx context.Context, owner string) ([]*models.Agent, error)
	GetByCapability(ctx context.Context, capability string) ([]*models.Agent, error)
}

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	AgentRepository() AgentRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
