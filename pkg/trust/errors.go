// Package trust implements the agent trust ledger: stake custody, bounded
// reputation and punitive slashing.
package trust

import "errors"

// Validation errors - rejected before any mutation, retryable with corrected input.
var (
	ErrNameRequired         = errors.New("agent name is required")
	ErrCapabilitiesRequired = errors.New("agent must declare at least one capability")
	ErrStakeBelowMinimum    = errors.New("stake is below the configured minimum")
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrSlashPercentTooHigh  = errors.New("slash percent exceeds the hard ceiling")
)

// State errors - the agent is not in a state that permits the operation.
var (
	ErrAgentInactive      = errors.New("agent is not active")
	ErrAgentAlreadyActive = errors.New("agent is already active")
	ErrAgentAlreadyExists = errors.New("agent already exists")
)

// Authorization errors - never retried automatically.
var (
	ErrNotOwner      = errors.New("caller is not the agent owner")
	ErrNotAuthorized = errors.New("caller is not an authorized settlement component")
	ErrNotGovernance = errors.New("caller is not the governance principal")
)

// ErrInvariantViolation indicates stake or reputation accounting would leave
// its domain. This is a bug, not a caller error, and is logged loudly.
var ErrInvariantViolation = errors.New("trust ledger invariant violation")

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrCapabilitiesRequired) ||
		errors.Is(err, ErrStakeBelowMinimum) ||
		errors.Is(err, ErrZeroAmount) ||
		errors.Is(err, ErrSlashPercentTooHigh)
}

// IsStateError checks if an error indicates a lifecycle-state conflict.
func IsStateError(err error) bool {
	return errors.Is(err, ErrAgentInactive) ||
		errors.Is(err, ErrAgentAlreadyActive) ||
		errors.Is(err, ErrAgentAlreadyExists)
}

// IsAuthorizationError checks if an error indicates the caller is not permitted.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrNotGovernance)
}

// IsInvariantViolation checks if an error indicates broken ledger accounting.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
