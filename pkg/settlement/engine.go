package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agoralabs/agora/pkg/assets"
	"github.com/agoralabs/agora/pkg/eventbus"
	"github.com/agoralabs/agora/pkg/events"
	"github.com/agoralabs/agora/pkg/models"
	"github.com/agoralabs/agora/pkg/otelhelper"
	"github.com/agoralabs/agora/pkg/persistence"
)

// TrustLedger is the engine's view of the trust ledger. The engine identifies
// itself with its configured caller id, which governance must have put on the
// trust ledger's allow-list.
type TrustLedger interface {
	Agent(ctx context.Context, agentID string) (*models.Agent, error)
	RecordOutcome(ctx context.Context, caller, agentID string, success bool, earned uint64) (*models.Agent, error)
}

// Config holds the settlement engine parameters fixed at construction.
type Config struct {
	// CallerID is the identity the engine presents to the trust ledger.
	CallerID string
	// Oracles may submit completion and failure reports on behalf of
	// assigned agents.
	Oracles []string
}

// Engine owns workflow and step lifecycle and the escrow integrity behind
// them. Every state-changing operation validates all preconditions, sequences
// its external transfers, then commits; a failed precondition or external
// call leaves no trace. A single mutex serializes mutations, which is what
// makes the Pending check on AcceptStep double as the mutual-exclusion gate.
// Save failures after an external transfer are compensated with a best-effort
// reverse transfer; the residual window is a success outcome already recorded
// on the trust ledger for a settlement that did not commit.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	oracles   map[string]bool
	assets    assets.Ledger
	trust     TrustLedger
	workflows persistence.WorkflowRepository
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewEngine creates a settlement engine. The publisher and tracer may be nil.
func NewEngine(cfg Config, assetLedger assets.Ledger, trustLedger TrustLedger, workflows persistence.WorkflowRepository, publisher eventbus.EventPublisher, tracer trace.Tracer, logger *slog.Logger) *Engine {
	oracles := make(map[string]bool, len(cfg.Oracles))
	for _, o := range cfg.Oracles {
		oracles[o] = true
	}

	return &Engine{
		cfg:       cfg,
		oracles:   oracles,
		assets:    assetLedger,
		trust:     trustLedger,
		workflows: workflows,
		publisher: publisher,
		tracer:    tracer,
		logger:    logger,
	}
}

// CreateWorkflow escrows the budget and records the workflow in draft. The
// budget pull and the record creation commit together; a save failure undoes
// the pull so partial escrow is never observable.
func (e *Engine) CreateWorkflow(ctx context.Context, creator, name, description string, budget uint64, deadline time.Time) (*models.Workflow, error) {
	ctx, span := e.startSpan(ctx, "settlement.create_workflow")
	defer span.End()

	if name == "" {
		return nil, e.reject(span, ErrNameRequired)
	}

	if budget == 0 {
		return nil, e.reject(span, ErrZeroBudget)
	}

	now := time.Now().UTC()
	if !deadline.After(now) {
		return nil, e.reject(span, ErrDeadlineNotFuture)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := workflowID(creator, name, now)

	if _, err := e.workflows.GetByID(ctx, id); err == nil {
		return nil, e.reject(span, ErrWorkflowIDTaken)
	} else if !persistence.IsWorkflowNotFound(err) {
		return nil, err
	}

	if err := e.assets.TransferIn(ctx, creator, budget); err != nil {
		return nil, fmt.Errorf("failed to pull budget into escrow: %w", err)
	}

	workflow := &models.Workflow{
		ID:          id,
		Creator:     creator,
		Name:        name,
		Description: description,
		TotalBudget: budget,
		Deadline:    deadline,
		Status:      models.WorkflowStatusDraft,
		Steps:       make([]*models.Step, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.workflows.Save(ctx, workflow); err != nil {
		if refundErr := e.assets.TransferOut(ctx, creator, budget); refundErr != nil {
			e.logger.ErrorContext(ctx, "failed to refund escrow after create failure",
				"workflow_id", id, "amount", budget, "error", refundErr)
		}

		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, id))

	e.publish(ctx, id, events.WorkflowCreated{
		BaseEvent:  e.baseEvent(events.WorkflowCreatedEvent),
		WorkflowID: id,
		Creator:    creator,
		Budget:     budget,
	})

	return workflow, nil
}

// AddStep appends a step to a draft workflow, claiming its reward from the
// unallocated budget. Dependencies may only name steps already present, which
// keeps the graph acyclic by construction.
func (e *Engine) AddStep(ctx context.Context, caller, workflowID, name, capability string, reward uint64, kind models.StepKind, dependencies []string, inputRef string) (*models.Step, error) {
	if name == "" {
		return nil, ErrNameRequired
	}

	if capability == "" {
		return nil, ErrCapabilityRequired
	}

	if reward == 0 {
		return nil, ErrZeroReward
	}

	if kind == "" {
		kind = models.StepKindSequential
	}

	if !kind.Valid() {
		return nil, ErrInvalidStepKind
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Creator != caller {
		return nil, ErrNotCreator
	}

	if workflow.Status != models.WorkflowStatusDraft {
		return nil, ErrWorkflowNotDraft
	}

	if reward > workflow.Unallocated() {
		return nil, ErrRewardExceedsBudget
	}

	for _, dep := range dependencies {
		if workflow.StepByID(dep) == nil {
			return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, dep)
		}
	}

	allocated, err := assets.CheckedAdd(workflow.Allocated, reward)
	if err == nil && allocated > workflow.TotalBudget {
		err = fmt.Errorf("allocation %d exceeds budget %d", allocated, workflow.TotalBudget)
	}

	if err != nil {
		return nil, e.invariant(ctx, "AddStep", workflowID, err)
	}

	now := time.Now().UTC()
	step := &models.Step{
		ID:           uuid.NewString(),
		WorkflowID:   workflowID,
		Name:         name,
		Capability:   capability,
		Reward:       reward,
		Kind:         kind,
		Dependencies: append([]string(nil), dependencies...),
		InputRef:     inputRef,
		Status:       models.StepStatusPending,
		CreatedAt:    now,
	}

	workflow.Allocated = allocated
	workflow.Steps = append(workflow.Steps, step)
	workflow.UpdatedAt = now

	if err := e.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.StepAdded{
		BaseEvent:  e.baseEvent(events.StepAddedEvent),
		WorkflowID: workflowID,
		StepID:     step.ID,
		Reward:     reward,
	})

	return step, nil
}

// StartWorkflow moves a draft workflow with at least one step to active.
func (e *Engine) StartWorkflow(ctx context.Context, caller, workflowID string) (*models.Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Creator != caller {
		return nil, ErrNotCreator
	}

	if workflow.Status != models.WorkflowStatusDraft {
		return nil, ErrWorkflowNotDraft
	}

	if len(workflow.Steps) == 0 {
		return nil, ErrNoSteps
	}

	workflow.Status = models.WorkflowStatusActive
	workflow.UpdatedAt = time.Now().UTC()

	if err := e.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.WorkflowStarted{
		BaseEvent:  e.baseEvent(events.WorkflowStartedEvent),
		WorkflowID: workflowID,
		StepCount:  len(workflow.Steps),
	})

	return workflow, nil
}

// AcceptStep assigns a pending step to an agent and reserves its reward.
// Requires an active workflow, every dependency completed, and an active
// agent declaring the step's capability. The caller must be the agent's
// owner. Under concurrent accepts the Pending check makes the first valid
// caller the single winner.
func (e *Engine) AcceptStep(ctx context.Context, caller, workflowID, stepID, agentID string) (*models.Step, error) {
	ctx, span := e.startSpan(ctx, "settlement.accept_step",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StepIDKey, stepID),
		attribute.String(otelhelper.AgentIDKey, agentID))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, e.reject(span, ErrWorkflowNotActive)
	}

	step := workflow.StepByID(stepID)
	if step == nil {
		return nil, persistence.NewWorkflowError("AcceptStep", workflowID, persistence.ErrStepNotFound)
	}

	if step.Status != models.StepStatusPending {
		return nil, e.reject(span, ErrStepNotPending)
	}

	for _, dep := range step.Dependencies {
		depStep := workflow.StepByID(dep)
		if depStep == nil || depStep.Status != models.StepStatusCompleted {
			return nil, e.reject(span, ErrDependenciesNotCompleted)
		}
	}

	agent, err := e.trust.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if agent.Owner != caller {
		return nil, e.reject(span, ErrNotAssignedAgent)
	}

	if !agent.Active || !agent.HasCapability(step.Capability) {
		return nil, e.reject(span, ErrAgentNotEligible)
	}

	reserved, err := assets.CheckedAdd(workflow.Reserved, step.Reward)
	if err != nil {
		return nil, e.invariant(ctx, "AcceptStep", workflowID, err)
	}

	now := time.Now().UTC()
	step.Status = models.StepStatusRunning
	step.AgentID = agentID
	step.StartedAt = &now
	workflow.Reserved = reserved
	workflow.UpdatedAt = now

	if err := e.checkBudget(ctx, "AcceptStep", workflow); err != nil {
		return nil, err
	}

	if err := e.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.StepAccepted{
		BaseEvent:  e.baseEvent(events.StepAcceptedEvent),
		WorkflowID: workflowID,
		StepID:     stepID,
		AgentID:    agentID,
	})

	return step, nil
}

// CompleteStep settles a running step: the reward moves from escrow to the
// agent's owner, the trust ledger records a success, and the workflow
// completes once its last step does. Both external calls sequence before the
// engine's own commit; if either fails the operation aborts with funds
// restored.
func (e *Engine) CompleteStep(ctx context.Context, caller, workflowID, stepID, outputRef string) (*models.Step, error) {
	ctx, span := e.startSpan(ctx, "settlement.complete_step",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StepIDKey, stepID))
	defer span.End()

	if outputRef == "" {
		return nil, e.reject(span, ErrOutputRefRequired)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	step := workflow.StepByID(stepID)
	if step == nil {
		return nil, persistence.NewWorkflowError("CompleteStep", workflowID, persistence.ErrStepNotFound)
	}

	if step.Status != models.StepStatusRunning {
		return nil, e.reject(span, ErrStepNotRunning)
	}

	// A cancelled workflow still honors steps that were already in flight.
	if workflow.Status != models.WorkflowStatusActive && workflow.Status != models.WorkflowStatusCancelled {
		return nil, e.reject(span, ErrWorkflowNotActive)
	}

	agent, err := e.trust.Agent(ctx, step.AgentID)
	if err != nil {
		return nil, err
	}

	if caller != agent.Owner && !e.oracles[caller] {
		return nil, e.reject(span, ErrNotAssignedAgent)
	}

	spent, err := assets.CheckedAdd(workflow.Spent, step.Reward)
	if err == nil && spent > workflow.TotalBudget {
		err = fmt.Errorf("spend %d exceeds budget %d", spent, workflow.TotalBudget)
	}

	if err != nil {
		return nil, e.invariant(ctx, "CompleteStep", workflowID, err)
	}

	reserved, err := assets.CheckedSub(workflow.Reserved, step.Reward)
	if err != nil {
		return nil, e.invariant(ctx, "CompleteStep", workflowID, err)
	}

	if err := e.assets.TransferOut(ctx, agent.Owner, step.Reward); err != nil {
		return nil, fmt.Errorf("failed to pay reward: %w", err)
	}

	if _, err := e.trust.RecordOutcome(ctx, e.cfg.CallerID, step.AgentID, true, step.Reward); err != nil {
		if clawErr := e.assets.TransferIn(ctx, agent.Owner, step.Reward); clawErr != nil {
			e.logger.ErrorContext(ctx, "failed to claw back reward after outcome failure",
				"workflow_id", workflowID, "step_id", stepID, "error", clawErr)
		}

		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}

	now := time.Now().UTC()
	step.Status = models.StepStatusCompleted
	step.OutputRef = outputRef
	step.FinishedAt = &now
	workflow.Spent = spent
	workflow.Reserved = reserved
	workflow.UpdatedAt = now

	completed := workflow.Status == models.WorkflowStatusActive && workflow.AllStepsCompleted()
	if completed {
		workflow.Status = models.WorkflowStatusCompleted
	}

	if err := e.checkBudget(ctx, "CompleteStep", workflow); err != nil {
		return nil, err
	}

	if err := e.workflows.Save(ctx, workflow); err != nil {
		// Claw the payout back so a retried CompleteStep cannot pay twice.
		// The success outcome already recorded on the trust ledger stands.
		if clawErr := e.assets.TransferIn(ctx, agent.Owner, step.Reward); clawErr != nil {
			e.logger.ErrorContext(ctx, "failed to claw back reward after save failure",
				"workflow_id", workflowID, "step_id", stepID, "error", clawErr)
		}

		e.logger.ErrorContext(ctx, "failed to save workflow after settlement",
			"workflow_id", workflowID, "step_id", stepID, "error", err)

		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.StepCompleted{
		BaseEvent:  e.baseEvent(events.StepCompletedEvent),
		WorkflowID: workflowID,
		StepID:     stepID,
		AgentID:    step.AgentID,
		Reward:     step.Reward,
		OutputRef:  outputRef,
	})

	if completed {
		e.publish(ctx, workflowID, events.WorkflowCompleted{
			BaseEvent:  e.baseEvent(events.WorkflowCompletedEvent),
			WorkflowID: workflowID,
			Spent:      workflow.Spent,
		})
	}

	return step, nil
}

// FailStep resolves a running step without releasing its reward: the reward
// returns to the unallocated budget and the trust ledger records a failure.
// Callable by the assigned agent's owner, an oracle, or - once the workflow
// deadline has passed - the creator. Slashing is a separate, deliberate act;
// mere failure never slashes.
func (e *Engine) FailStep(ctx context.Context, caller, workflowID, stepID, reason string) (*models.Step, error) {
	ctx, span := e.startSpan(ctx, "settlement.fail_step",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.StepIDKey, stepID))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	step := workflow.StepByID(stepID)
	if step == nil {
		return nil, persistence.NewWorkflowError("FailStep", workflowID, persistence.ErrStepNotFound)
	}

	if step.Status != models.StepStatusRunning {
		return nil, e.reject(span, ErrStepNotRunning)
	}

	if workflow.Status != models.WorkflowStatusActive && workflow.Status != models.WorkflowStatusCancelled {
		return nil, e.reject(span, ErrWorkflowNotActive)
	}

	agent, err := e.trust.Agent(ctx, step.AgentID)
	if err != nil {
		return nil, err
	}

	overdue := time.Now().UTC().After(workflow.Deadline)
	if caller != agent.Owner && !e.oracles[caller] && !(caller == workflow.Creator && overdue) {
		return nil, e.reject(span, ErrNotAssignedAgent)
	}

	reserved, err := assets.CheckedSub(workflow.Reserved, step.Reward)
	if err != nil {
		return nil, e.invariant(ctx, "FailStep", workflowID, err)
	}

	allocated, err := assets.CheckedSub(workflow.Allocated, step.Reward)
	if err != nil {
		return nil, e.invariant(ctx, "FailStep", workflowID, err)
	}

	// Post-cancellation the reserve held back for this step goes home to the
	// creator instead of the unallocated pool.
	supplementalRefund := workflow.Status == models.WorkflowStatusCancelled

	if supplementalRefund {
		if err := e.assets.TransferOut(ctx, workflow.Creator, step.Reward); err != nil {
			return nil, fmt.Errorf("failed to refund reserved reward: %w", err)
		}
	}

	if _, err := e.trust.RecordOutcome(ctx, e.cfg.CallerID, step.AgentID, false, 0); err != nil {
		if supplementalRefund {
			if clawErr := e.assets.TransferIn(ctx, workflow.Creator, step.Reward); clawErr != nil {
				e.logger.ErrorContext(ctx, "failed to claw back refund after outcome failure",
					"workflow_id", workflowID, "step_id", stepID, "error", clawErr)
			}
		}

		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}

	now := time.Now().UTC()
	step.Status = models.StepStatusFailed
	step.FinishedAt = &now
	workflow.Reserved = reserved
	workflow.Allocated = allocated
	workflow.UpdatedAt = now

	if err := e.checkBudget(ctx, "FailStep", workflow); err != nil {
		return nil, err
	}

	if err := e.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.StepFailed{
		BaseEvent:  e.baseEvent(events.StepFailedEvent),
		WorkflowID: workflowID,
		StepID:     stepID,
		AgentID:    step.AgentID,
		Reason:     reason,
	})

	return step, nil
}

// CancelWorkflow terminates a draft or active workflow. Pending steps are
// skipped and the creator is refunded everything not spent and not reserved
// by steps still running; those resolve independently afterwards.
func (e *Engine) CancelWorkflow(ctx context.Context, caller, workflowID string) (*models.Workflow, error) {
	ctx, span := e.startSpan(ctx, "settlement.cancel_workflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Creator != caller {
		return nil, e.reject(span, ErrNotCreator)
	}

	if workflow.Status.Terminal() {
		return nil, e.reject(span, ErrWorkflowTerminal)
	}

	refund, err := assets.CheckedSub(workflow.TotalBudget, workflow.Spent)
	if err == nil {
		refund, err = assets.CheckedSub(refund, workflow.Reserved)
	}

	if err != nil {
		return nil, e.invariant(ctx, "CancelWorkflow", workflowID, err)
	}

	if refund > 0 {
		if err := e.assets.TransferOut(ctx, workflow.Creator, refund); err != nil {
			return nil, fmt.Errorf("failed to refund escrow: %w", err)
		}
	}

	now := time.Now().UTC()
	skipped := make([]string, 0)

	for _, step := range workflow.Steps {
		if step.Status == models.StepStatusPending {
			step.Status = models.StepStatusSkipped
			step.FinishedAt = &now

			workflow.Allocated, err = assets.CheckedSub(workflow.Allocated, step.Reward)
			if err != nil {
				return nil, e.invariant(ctx, "CancelWorkflow", workflowID, err)
			}

			skipped = append(skipped, step.ID)
		}
	}

	workflow.Status = models.WorkflowStatusCancelled
	workflow.UpdatedAt = now

	if err := e.workflows.Save(ctx, workflow); err != nil {
		e.logger.ErrorContext(ctx, "failed to save workflow after refund",
			"workflow_id", workflowID, "refund", refund, "error", err)

		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	for _, stepID := range skipped {
		e.publish(ctx, workflowID, events.StepSkipped{
			BaseEvent:  e.baseEvent(events.StepSkippedEvent),
			WorkflowID: workflowID,
			StepID:     stepID,
		})
	}

	e.publish(ctx, workflowID, events.WorkflowCancelled{
		BaseEvent:  e.baseEvent(events.WorkflowCancelledEvent),
		WorkflowID: workflowID,
		Refunded:   refund,
	})

	return workflow, nil
}

// ExpireWorkflow moves an active workflow past its deadline to failed and
// refunds the unspent escrow. Callable by anyone once the deadline has
// passed; steps still running must resolve first.
func (e *Engine) ExpireWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, ErrWorkflowNotActive
	}

	if !time.Now().UTC().After(workflow.Deadline) {
		return nil, ErrDeadlineNotReached
	}

	if len(workflow.RunningSteps()) > 0 {
		return nil, ErrStepsStillRunning
	}

	refund, err := assets.CheckedSub(workflow.TotalBudget, workflow.Spent)
	if err != nil {
		return nil, e.invariant(ctx, "ExpireWorkflow", workflowID, err)
	}

	if refund > 0 {
		if err := e.assets.TransferOut(ctx, workflow.Creator, refund); err != nil {
			return nil, fmt.Errorf("failed to refund escrow: %w", err)
		}
	}

	now := time.Now().UTC()

	for _, step := range workflow.Steps {
		if step.Status == models.StepStatusPending {
			step.Status = models.StepStatusSkipped
			step.FinishedAt = &now

			workflow.Allocated, err = assets.CheckedSub(workflow.Allocated, step.Reward)
			if err != nil {
				return nil, e.invariant(ctx, "ExpireWorkflow", workflowID, err)
			}
		}
	}

	workflow.Status = models.WorkflowStatusFailed
	workflow.UpdatedAt = now

	if err := e.workflows.Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	e.publish(ctx, workflowID, events.WorkflowExpired{
		BaseEvent:  e.baseEvent(events.WorkflowExpiredEvent),
		WorkflowID: workflowID,
		Refunded:   refund,
	})

	return workflow, nil
}

// Workflow returns the workflow record by id.
func (e *Engine) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return e.workflows.GetByID(ctx, workflowID)
}

// WorkflowSteps returns a workflow's steps in insertion order, which is the
// canonical topological order of the dependency graph.
func (e *Engine) WorkflowSteps(ctx context.Context, workflowID string) ([]*models.Step, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.Steps, nil
}

// WorkflowsByCreator returns all workflows created by the given account.
func (e *Engine) WorkflowsByCreator(ctx context.Context, creator string) ([]*models.Workflow, error) {
	return e.workflows.GetByCreator(ctx, creator)
}

// checkBudget re-checks the budget identities right before commit.
func (e *Engine) checkBudget(ctx context.Context, op string, workflow *models.Workflow) error {
	committed, err := assets.CheckedAdd(workflow.Spent, workflow.Reserved)
	if err == nil && (committed > workflow.Allocated || workflow.Allocated > workflow.TotalBudget) {
		err = fmt.Errorf("budget overcommit: spent=%d reserved=%d allocated=%d total=%d",
			workflow.Spent, workflow.Reserved, workflow.Allocated, workflow.TotalBudget)
	}

	if err != nil {
		return e.invariant(ctx, op, workflow.ID, err)
	}

	return nil
}

func (e *Engine) invariant(ctx context.Context, op, workflowID string, err error) error {
	e.logger.ErrorContext(ctx, "settlement invariant violation",
		"op", op, "workflow_id", workflowID, "error", err)

	return fmt.Errorf("%w: %s: %w", ErrInvariantViolation, op, err)
}

func (e *Engine) reject(span trace.Span, err error) error {
	otelhelper.SetError(span, err)

	return err
}

func (e *Engine) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish settlement event",
			"event_type", event.GetType(), "error", err)
	}
}

// startSpan opens a span when a tracer is configured, a no-op span otherwise.
func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.tracer == nil {
		return trace.ContextWithSpan(ctx, trace.SpanFromContext(ctx)), trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, e.tracer, name, attrs...)
}

// workflowID derives a collision-checked identifier from the creator, the
// workflow name and the creation instant.
func workflowID(creator, name string, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", creator, name, at.UnixNano()))

	return hex.EncodeToString(sum[:])
}
