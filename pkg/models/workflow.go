package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, steps may still be added
	WorkflowStatusActive    WorkflowStatus = "active"    // Started, steps can be accepted and settled
	WorkflowStatusCompleted WorkflowStatus = "completed" // Every step settled successfully (terminal)
	WorkflowStatusCancelled WorkflowStatus = "cancelled" // Cancelled by the creator (terminal)
	WorkflowStatusFailed    WorkflowStatus = "failed"    // Expired past its deadline (terminal)
)

// Valid reports whether the status is one of the known lifecycle states.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusCompleted,
		WorkflowStatusCancelled, WorkflowStatusFailed:
		return true
	}

	return false
}

// Terminal reports whether the status permits no further workflow mutation.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusCancelled || s == WorkflowStatusFailed
}

// Workflow is an escrowed budget decomposed into dependency-gated steps.
//
// Budget accounting invariants, enforced by the settlement engine on every
// mutation:
//
//	Spent + Reserved <= Allocated <= TotalBudget
//
// Allocated is the sum of rewards of steps currently holding a claim on the
// budget (pending, running or completed). A failed step releases its reward
// back to the unallocated remainder, so Allocated can decrease; Spent never
// does.
type Workflow struct {
	ID          string         `json:"id"`
	Creator     string         `json:"creator"     validate:"required"`
	Name        string         `json:"name"        validate:"required"`
	Description string         `json:"description"`
	TotalBudget uint64         `json:"total_budget" validate:"required,gt=0"`
	Allocated   uint64         `json:"allocated"`
	Reserved    uint64         `json:"reserved"`
	Spent       uint64         `json:"spent"`
	Deadline    time.Time      `json:"deadline"`
	Status      WorkflowStatus `json:"status"`
	Steps       []*Step        `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Unallocated returns the budget remainder no step holds a claim on.
func (w *Workflow) Unallocated() uint64 {
	return w.TotalBudget - w.Allocated
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(stepID string) *Step {
	for _, s := range w.Steps {
		if s.ID == stepID {
			return s
		}
	}

	return nil
}

// RunningSteps returns the steps currently in flight, in insertion order.
func (w *Workflow) RunningSteps() []*Step {
	running := make([]*Step, 0)

	for _, s := range w.Steps {
		if s.Status == StepStatusRunning {
			running = append(running, s)
		}
	}

	return running
}

// AllStepsCompleted reports whether every step reached the completed state.
// False for a workflow with no steps.
func (w *Workflow) AllStepsCompleted() bool {
	if len(w.Steps) == 0 {
		return false
	}

	for _, s := range w.Steps {
		if s.Status != StepStatusCompleted {
			return false
		}
	}

	return true
}
