package api

import "time"

type (
	// ExecutionStatus represents the state machine over a single run
	ExecutionStatus string

	// StepStatus represents the outcome of one step attempt
	StepStatus string

	// TriggerType identifies what started an execution
	TriggerType string

	// LogLevel classifies execution log entries
	LogLevel string

	// Execution is one run attempt of a runbook
	Execution struct {
		ID               ExecutionID     `json:"id"`
		RunbookID        RunbookID       `json:"runbook_id"`
		Status           ExecutionStatus `json:"status"`
		CurrentStepIndex int             `json:"current_step_index"`
		TotalSteps       int             `json:"total_steps"`
		CreatedAt        time.Time       `json:"created_at"`
		StartedAt        time.Time       `json:"started_at,omitempty"`
		FinishedAt       time.Time       `json:"finished_at,omitempty"`
		DurationMs       int64           `json:"duration_ms,omitempty"`
		TriggeredBy      string          `json:"triggered_by"`
		TriggerType      TriggerType     `json:"trigger_type"`
		Params           Args            `json:"params,omitempty"`
		Environment      string          `json:"environment"`
		Error            string          `json:"error,omitempty"`
	}

	// StepResult is the append-only record of one attempt of one step.
	// Retries produce multiple rows with incrementing Attempt
	StepResult struct {
		ExecutionID ExecutionID `json:"execution_id"`
		StepID      StepID      `json:"step_id"`
		StepIndex   int         `json:"step_index"`
		Attempt     int         `json:"attempt"`
		Status      StepStatus  `json:"status"`
		StartedAt   time.Time   `json:"started_at"`
		CompletedAt time.Time   `json:"completed_at,omitempty"`
		DurationMs  int64       `json:"duration_ms,omitempty"`
		Input       Args        `json:"input,omitempty"`
		Output      Args        `json:"output,omitempty"`
		Error       string      `json:"error,omitempty"`
		ErrorCode   string      `json:"error_code,omitempty"`
		Rollback    bool        `json:"rollback,omitempty"`
	}

	// LogEntry is an append-only execution log record, ordered by
	// (timestamp, sequence)
	LogEntry struct {
		ExecutionID ExecutionID    `json:"execution_id"`
		StepID      StepID         `json:"step_id,omitempty"`
		Level       LogLevel       `json:"level"`
		Message     string         `json:"message"`
		Metadata    map[string]any `json:"metadata,omitempty"`
		Timestamp   time.Time      `json:"timestamp"`
		Sequence    int64          `json:"sequence"`
	}
)

const (
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

const (
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepPaused    StepStatus = "paused"
)

const (
	TriggerManual     TriggerType = "manual"
	TriggerSchedule   TriggerType = "schedule"
	TriggerDeployment TriggerType = "deployment"
)

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

const (
	ErrorCodeTimeout       = "timeout"
	ErrorCodeRejected      = "rejected"
	ErrorCodeExpired       = "expired"
	ErrorCodeConfig        = "config"
	ErrorCodeStepFailed    = "step_failed"
	ErrorCodeChildFailed   = "child_failed"
	ErrorCodeUnreachable   = "unreachable"
	ErrorCodeBadAssertion  = "assertion"
	ErrorCodeBadResponse   = "bad_response"
	ErrorCodeBadCondition  = "bad_condition"
)

// IsTerminal returns true once an execution can no longer change
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if a step attempt reached a final outcome
func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed
}
