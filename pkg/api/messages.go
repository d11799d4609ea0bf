package api

type (
	// ErrorResponse is the standard error body returned by the HTTP API
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// StartExecutionRequest asks the engine to run a runbook
	StartExecutionRequest struct {
		RunbookID   RunbookID   `json:"runbook_id"`
		Params      Args        `json:"params,omitempty"`
		Environment string      `json:"environment,omitempty"`
		TriggeredBy string      `json:"triggered_by"`
		TriggerType TriggerType `json:"trigger_type,omitempty"`
	}

	// StartExecutionResult acknowledges an accepted execution
	StartExecutionResult struct {
		ExecutionID ExecutionID     `json:"execution_id"`
		Status      ExecutionStatus `json:"status"`
	}

	// ApprovalDecisionRequest carries an approve or reject decision from
	// an external approver
	ApprovalDecisionRequest struct {
		ApproverID string `json:"approver_id"`
		Note       string `json:"note,omitempty"`
	}

	// CancelExecutionRequest asks to cancel a queued or running execution
	CancelExecutionRequest struct {
		CancelledBy string `json:"cancelled_by,omitempty"`
	}

	// SubscribeRequest is sent by a websocket client to begin receiving
	// events for one execution
	SubscribeRequest struct {
		Type        string      `json:"type"`
		ExecutionID ExecutionID `json:"execution_id"`
	}

	// SubscribedResult confirms a websocket subscription
	SubscribedResult struct {
		Type        string      `json:"type"`
		ExecutionID ExecutionID `json:"execution_id"`
	}

	// WebSocketEvent is the wire form of a bus event
	WebSocketEvent struct {
		Type        EventType   `json:"type"`
		ExecutionID ExecutionID `json:"execution_id"`
		Timestamp   int64       `json:"timestamp"`
		Data        any         `json:"data,omitempty"`
	}

	// HealthResponse reports service liveness
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// RunbookListResponse wraps a runbook listing
	RunbookListResponse struct {
		Runbooks []*Runbook `json:"runbooks"`
		Count    int        `json:"count"`
	}

	// ExecutionListResponse wraps an execution listing
	ExecutionListResponse struct {
		Executions []*Execution `json:"executions"`
		Count      int          `json:"count"`
	}

	// StepResultListResponse wraps the step rows of one execution
	StepResultListResponse struct {
		Steps []*StepResult `json:"steps"`
		Count int           `json:"count"`
	}

	// LogListResponse wraps the log entries of one execution
	LogListResponse struct {
		Logs  []*LogEntry `json:"logs"`
		Count int         `json:"count"`
	}
)
