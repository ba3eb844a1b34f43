// Package web provides HTTP handlers and REST API endpoints for the
// marketplace ledgers.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/persistence"
	"github.com/agoralabs/agora/pkg/settlement"
	"github.com/agoralabs/agora/pkg/trust"
)

type APIHandlers struct {
	engine      *settlement.Engine
	trust       *trust.Ledger
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(engine *settlement.Engine, trustLedger *trust.Ledger, store persistence.Persistence, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		trust:       trustLedger,
		persistence: store,
		validator:   validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	httpStatus := http.StatusOK
	status := "healthy"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		httpStatus = http.StatusInternalServerError
		status = "unhealthy"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func caller(c fiber.Ctx) string {
	return c.Get(CallerHeader)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.engine.CreateWorkflow(c.Context(), caller(c), req.Name, req.Description, req.Budget, req.Deadline)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(WorkflowResponse{Workflow: workflow})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.Workflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowResponse{Workflow: workflow})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	creator := c.Query("creator")
	if creator == "" {
		creator = caller(c)
	}

	workflows, err := h.engine.WorkflowsByCreator(c.Context(), creator)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflowSteps(c fiber.Ctx) error {
	steps, err := h.engine.WorkflowSteps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"steps": steps})
}

func (h *APIHandlers) AddStep(c fiber.Ctx) error {
	var req AddStepRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.engine.AddStep(c.Context(), caller(c), c.Params("id"),
		req.Name, req.Capability, req.Reward, models.StepKind(req.Kind), req.Dependencies, req.InputRef)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StepResponse{Step: step})
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.StartWorkflow(c.Context(), caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowResponse{Workflow: workflow})
}

func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.CancelWorkflow(c.Context(), caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowResponse{Workflow: workflow})
}

func (h *APIHandlers) ExpireWorkflow(c fiber.Ctx) error {
	workflow, err := h.engine.ExpireWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(WorkflowResponse{Workflow: workflow})
}

func (h *APIHandlers) AcceptStep(c fiber.Ctx) error {
	var req AcceptStepRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.engine.AcceptStep(c.Context(), caller(c), c.Params("id"), c.Params("stepId"), req.AgentID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StepResponse{Step: step})
}

func (h *APIHandlers) CompleteStep(c fiber.Ctx) error {
	var req CompleteStepRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	step, err := h.engine.CompleteStep(c.Context(), caller(c), c.Params("id"), c.Params("stepId"), req.OutputRef)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StepResponse{Step: step})
}

func (h *APIHandlers) FailStep(c fiber.Ctx) error {
	var req FailStepRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	step, err := h.engine.FailStep(c.Context(), caller(c), c.Params("id"), c.Params("stepId"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(StepResponse{Step: step})
}

func (h *APIHandlers) RegisterAgent(c fiber.Ctx) error {
	var req RegisterAgentRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.trust.Register(c.Context(), caller(c), req.Name, req.Capabilities, req.Stake)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) GetAgent(c fiber.Ctx) error {
	agent, err := h.trust.Agent(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) GetAgentsByCapability(c fiber.Ctx) error {
	capability := c.Query("capability")
	if capability == "" {
		return badRequest(c, "capability query parameter is required")
	}

	agents, err := h.trust.AgentsByCapability(c.Context(), capability)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"agents": agents})
}

func (h *APIHandlers) AddStake(c fiber.Ctx) error {
	var req StakeRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.trust.AddStake(c.Context(), caller(c), c.Params("id"), req.Amount)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) WithdrawStake(c fiber.Ctx) error {
	var req StakeRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.trust.WithdrawStake(c.Context(), caller(c), c.Params("id"), req.Amount)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) DeactivateAgent(c fiber.Ctx) error {
	agent, err := h.trust.Deactivate(c.Context(), caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) ReactivateAgent(c fiber.Ctx) error {
	agent, err := h.trust.Reactivate(c.Context(), caller(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}

func (h *APIHandlers) SlashAgent(c fiber.Ctx) error {
	var req SlashRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.trust.Slash(c.Context(), caller(c), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(AgentResponse{Agent: agent})
}
