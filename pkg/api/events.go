package api

import "time"

type (
	// EventType classifies events published on the execution event bus
	EventType string

	// Event is the envelope delivered to bus subscribers. Data holds the
	// payload struct for the event type
	Event struct {
		Type        EventType   `json:"type"`
		ExecutionID ExecutionID `json:"execution_id"`
		Timestamp   time.Time   `json:"timestamp"`
		Data        any         `json:"data,omitempty"`
	}

	// ExecutionStartedEvent is emitted when an execution enters RUNNING
	ExecutionStartedEvent struct {
		RunbookID  RunbookID `json:"runbook_id"`
		TotalSteps int       `json:"total_steps"`
	}

	// ExecutionProgressEvent is emitted after each step boundary
	ExecutionProgressEvent struct {
		CurrentStepIndex int `json:"current_step_index"`
		TotalSteps       int `json:"total_steps"`
	}

	// ExecutionCompletedEvent is emitted when an execution succeeds
	ExecutionCompletedEvent struct {
		DurationMs int64 `json:"duration_ms"`
	}

	// ExecutionFailedEvent is emitted when an execution fails
	ExecutionFailedEvent struct {
		Error string `json:"error"`
	}

	// ExecutionCancelledEvent is emitted when a cancel request is honored
	ExecutionCancelledEvent struct {
		CancelledBy string `json:"cancelled_by,omitempty"`
	}

	// StepApprovedEvent is emitted when a paused manual step is approved
	StepApprovedEvent struct {
		ApprovalID ApprovalID `json:"approval_id"`
		StepID     StepID     `json:"step_id"`
		ApproverID string     `json:"approver_id"`
		Note       string     `json:"note,omitempty"`
	}

	// StepRejectedEvent is emitted when a paused manual step is rejected
	StepRejectedEvent struct {
		ApprovalID ApprovalID `json:"approval_id"`
		StepID     StepID     `json:"step_id"`
		ApproverID string     `json:"approver_id"`
		Reason     string     `json:"reason,omitempty"`
	}
)

const (
	EventTypeLog                EventType = "log"
	EventTypeExecutionStarted   EventType = "execution:started"
	EventTypeExecutionProgress  EventType = "execution:progress"
	EventTypeExecutionCompleted EventType = "execution:completed"
	EventTypeExecutionFailed    EventType = "execution:failed"
	EventTypeExecutionCancelled EventType = "execution:cancelled"
	EventTypeStepApproved       EventType = "step:approved"
	EventTypeStepRejected       EventType = "step:rejected"
)

// NewEvent wraps a payload in an event envelope stamped with the
// current time
func NewEvent(typ EventType, execID ExecutionID, data any) *Event {
	return &Event{
		Type:        typ,
		ExecutionID: execID,
		Timestamp:   time.Now(),
		Data:        data,
	}
}
