package web

import (
	"time"

	"github.com/agoralabs/agora/pkg/models"
)

// CallerHeader carries the account identity of the caller. Authentication
// beyond "caller is the recorded owner" is out of scope; deployments put a
// real identity layer in front.
const CallerHeader = "X-Agora-Caller"

type CreateWorkflowRequest struct {
	Name        string    `json:"name"        validate:"required"`
	Description string    `json:"description"`
	Budget      uint64    `json:"budget"      validate:"required,gt=0"`
	Deadline    time.Time `json:"deadline"    validate:"required"`
}

type AddStepRequest struct {
	Name         string   `json:"name"       validate:"required"`
	Capability   string   `json:"capability" validate:"required"`
	Reward       uint64   `json:"reward"     validate:"required,gt=0"`
	Kind         string   `json:"kind"`
	Dependencies []string `json:"dependencies"`
	InputRef     string   `json:"input_ref"`
}

type AcceptStepRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type CompleteStepRequest struct {
	OutputRef string `json:"output_ref" validate:"required"`
}

type FailStepRequest struct {
	Reason string `json:"reason"`
}

type RegisterAgentRequest struct {
	Name         string   `json:"name"         validate:"required"`
	Capabilities []string `json:"capabilities" validate:"required,min=1"`
	Stake        uint64   `json:"stake"        validate:"required,gt=0"`
}

type StakeRequest struct {
	Amount uint64 `json:"amount" validate:"required,gt=0"`
}

type SlashRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type WorkflowResponse struct {
	Workflow *models.Workflow `json:"workflow"`
}

type StepResponse struct {
	Step *models.Step `json:"step"`
}

type AgentResponse struct {
	Agent *models.Agent `json:"agent"`
}
