// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates a workflow with the same identifier already exists.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrAgentNotFound indicates an agent was not found by the given identifier.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentAlreadyExists indicates an agent with the same identifier already exists.
	ErrAgentAlreadyExists = errors.New("agent already exists")

	// ErrStepNotFound indicates a step was not found within its workflow.
	ErrStepNotFound = errors.New("step not found")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Save")
	WorkflowID string // Workflow ID if applicable
	Err        error  // Underlying error
	Message    string // Additional context message
}

func (e *WorkflowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for workflow %s: %s (%v)", e.Op, e.WorkflowID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// AgentError wraps agent-related errors with additional context.
type AgentError struct {
	Op      string // Operation being performed
	AgentID string // Agent ID
	Err     error  // Underlying error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s operation failed for agent %s: %v", e.Op, e.AgentID, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func (e *AgentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewAgentError creates a new agent error with context.
func NewAgentError(op, agentID string, err error) *AgentError {
	return &AgentError{
		Op:      op,
		AgentID: agentID,
		Err:     err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsAgentNotFound checks if an error indicates an agent was not found.
func IsAgentNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

// IsStepNotFound checks if an error indicates a step was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}
