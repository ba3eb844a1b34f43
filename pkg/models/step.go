package models

import "time"

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"   // Waiting for an agent and for its dependencies
	StepStatusRunning   StepStatus = "running"   // Accepted by an agent, work in flight
	StepStatusCompleted StepStatus = "completed" // Output submitted, reward settled (terminal)
	StepStatusFailed    StepStatus = "failed"    // Reported failed or timed out, reward released (terminal)
	StepStatusSkipped   StepStatus = "skipped"   // Workflow cancelled while the step was still pending (terminal)
)

// Valid reports whether the status is one of the known step states.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted,
		StepStatusFailed, StepStatusSkipped:
		return true
	}

	return false
}

// Terminal reports whether the step can no longer change state.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// StepKind describes how a step relates to its dependencies. The kind is
// declarative: escrow and dependency gating are identical for all kinds, the
// tag lets callers lay out fan-out/fan-in graphs explicitly.
type StepKind string

const (
	StepKindSequential  StepKind = "sequential"
	StepKindParallel    StepKind = "parallel"
	StepKindConditional StepKind = "conditional"
	StepKindAggregator  StepKind = "aggregator"
)

// Valid reports whether the kind is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindSequential, StepKindParallel, StepKindConditional, StepKindAggregator:
		return true
	}

	return false
}

// Step is a unit of work inside a workflow. Dependencies may only reference
// steps added earlier to the same workflow, which makes the dependency graph
// acyclic by construction and insertion order a valid topological order.
type Step struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Name         string     `json:"name"       validate:"required"`
	Capability   string     `json:"capability" validate:"required"`
	Reward       uint64     `json:"reward"     validate:"required,gt=0"`
	Kind         StepKind   `json:"kind"`
	Dependencies []string   `json:"dependencies"`
	AgentID      string     `json:"agent_id,omitempty"`
	InputRef     string     `json:"input_ref,omitempty"`
	OutputRef    string     `json:"output_ref,omitempty"`
	Status       StepStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
