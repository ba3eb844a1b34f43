// Package settlement implements the workflow settlement engine: escrowed
// budgets, dependency-gated steps and step-by-step release of funds.
package settlement

import "errors"

// Validation errors - rejected before any mutation, retryable with corrected input.
var (
	ErrNameRequired        = errors.New("workflow name is required")
	ErrCapabilityRequired  = errors.New("step capability is required")
	ErrZeroBudget          = errors.New("budget must be positive")
	ErrZeroReward          = errors.New("reward must be positive")
	ErrDeadlineNotFuture   = errors.New("deadline must be strictly in the future")
	ErrRewardExceedsBudget = errors.New("reward exceeds unallocated budget")
	ErrDependencyNotFound  = errors.New("dependency step not found in workflow")
	ErrInvalidStepKind     = errors.New("invalid step kind")
	ErrOutputRefRequired   = errors.New("output reference is required")
)

// State errors - the workflow or step is not in a state that permits the
// operation. The caller should re-read current state.
var (
	ErrWorkflowIDTaken          = errors.New("workflow id already taken")
	ErrWorkflowNotDraft         = errors.New("workflow is not in draft")
	ErrWorkflowNotActive        = errors.New("workflow is not active")
	ErrWorkflowTerminal         = errors.New("workflow is in a terminal state")
	ErrNoSteps                  = errors.New("workflow has no steps")
	ErrStepNotPending           = errors.New("step is not pending")
	ErrStepNotRunning           = errors.New("step is not running")
	ErrDependenciesNotCompleted = errors.New("step has uncompleted dependencies")
	ErrAgentNotEligible         = errors.New("agent is inactive or lacks the required capability")
	ErrDeadlineNotReached       = errors.New("workflow deadline has not passed")
	ErrStepsStillRunning        = errors.New("workflow has steps still running")
)

// Authorization errors - never retried automatically.
var (
	ErrNotCreator       = errors.New("caller is not the workflow creator")
	ErrNotAssignedAgent = errors.New("caller is not the assigned agent or an authorized oracle")
)

// ErrInvariantViolation indicates budget accounting would leave its domain.
// This is a bug, not a caller error, and is logged loudly.
var ErrInvariantViolation = errors.New("settlement invariant violation")

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrCapabilityRequired) ||
		errors.Is(err, ErrZeroBudget) ||
		errors.Is(err, ErrZeroReward) ||
		errors.Is(err, ErrDeadlineNotFuture) ||
		errors.Is(err, ErrRewardExceedsBudget) ||
		errors.Is(err, ErrDependencyNotFound) ||
		errors.Is(err, ErrInvalidStepKind) ||
		errors.Is(err, ErrOutputRefRequired)
}

// IsStateError checks if an error indicates a lifecycle-state conflict.
func IsStateError(err error) bool {
	return errors.Is(err, ErrWorkflowIDTaken) ||
		errors.Is(err, ErrWorkflowNotDraft) ||
		errors.Is(err, ErrWorkflowNotActive) ||
		errors.Is(err, ErrWorkflowTerminal) ||
		errors.Is(err, ErrNoSteps) ||
		errors.Is(err, ErrStepNotPending) ||
		errors.Is(err, ErrStepNotRunning) ||
		errors.Is(err, ErrDependenciesNotCompleted) ||
		errors.Is(err, ErrAgentNotEligible) ||
		errors.Is(err, ErrDeadlineNotReached) ||
		errors.Is(err, ErrStepsStillRunning)
}

// IsAuthorizationError checks if an error indicates the caller is not permitted.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotCreator) ||
		errors.Is(err, ErrNotAssignedAgent)
}

// IsInvariantViolation checks if an error indicates broken budget accounting.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
