// Package events defines event types emitted by the settlement engine and the
// trust ledger after each committed state change.
package events

import "time"

type EventType string

// Topic is the single stream all marketplace events are published to.
const Topic = "agora.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowCreatedEvent   EventType = "workflow.created"
	WorkflowStartedEvent   EventType = "workflow.started"
	WorkflowCompletedEvent EventType = "workflow.completed"
	WorkflowCancelledEvent EventType = "workflow.cancelled"
	WorkflowExpiredEvent   EventType = "workflow.expired"

	// Step lifecycle events.
	StepAddedEvent     EventType = "step.added"
	StepAcceptedEvent  EventType = "step.accepted"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"

	// Trust ledger events.
	AgentRegisteredEvent EventType = "agent.registered"
	AgentSlashedEvent    EventType = "agent.slashed"
	OutcomeRecordedEvent EventType = "agent.outcome.recorded"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type WorkflowCreated struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Creator    string `json:"creator"`
	Budget     uint64 `json:"budget"`
}

func (e WorkflowCreated) GetType() EventType { return WorkflowCreatedEvent }

type WorkflowStarted struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepCount  int    `json:"step_count"`
}

func (e WorkflowStarted) GetType() EventType { return WorkflowStartedEvent }

type WorkflowCompleted struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Spent      uint64 `json:"spent"`
}

func (e WorkflowCompleted) GetType() EventType { return WorkflowCompletedEvent }

type WorkflowCancelled struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Refunded   uint64 `json:"refunded"`
}

func (e WorkflowCancelled) GetType() EventType { return WorkflowCancelledEvent }

type WorkflowExpired struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Refunded   uint64 `json:"refunded"`
}

func (e WorkflowExpired) GetType() EventType { return WorkflowExpiredEvent }

type StepAdded struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	Reward     uint64 `json:"reward"`
}

func (e StepAdded) GetType() EventType { return StepAddedEvent }

type StepAccepted struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	AgentID    string `json:"agent_id"`
}

func (e StepAccepted) GetType() EventType { return StepAcceptedEvent }

type StepCompleted struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	AgentID    string `json:"agent_id"`
	Reward     uint64 `json:"reward"`
	OutputRef  string `json:"output_ref,omitempty"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	AgentID    string `json:"agent_id"`
	Reason     string `json:"reason,omitempty"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepSkipped struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
}

func (e StepSkipped) GetType() EventType { return StepSkippedEvent }

type AgentRegistered struct {
	BaseEvent

	AgentID string `json:"agent_id"`
	Owner   string `json:"owner"`
	Staked  uint64 `json:"staked"`
}

func (e AgentRegistered) GetType() EventType { return AgentRegisteredEvent }

type AgentSlashed struct {
	BaseEvent

	AgentID     string `json:"agent_id"`
	Amount      uint64 `json:"amount"`
	Reason      string `json:"reason"`
	Deactivated bool   `json:"deactivated"`
}

func (e AgentSlashed) GetType() EventType { return AgentSlashedEvent }

type OutcomeRecorded struct {
	BaseEvent

	AgentID    string `json:"agent_id"`
	Success    bool   `json:"success"`
	Earned     uint64 `json:"earned"`
	Reputation int64  `json:"reputation"`
}

func (e OutcomeRecorded) GetType() EventType { return OutcomeRecordedEvent }
