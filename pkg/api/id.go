package api

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type (
	// RunbookID is a unique identifier for a runbook version
	RunbookID string

	// ExecutionID is a unique identifier for a single run of a runbook
	ExecutionID string

	// StepID is a unique identifier for a step within a runbook
	StepID string

	// ApprovalID is a unique identifier for a manual approval request
	ApprovalID string
)

// InvalidIDChars matches characters not permitted in runbook and step IDs.
// Valid characters are: letters, digits, underscore, dot, hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// NewRunbookID generates a random runbook identifier
func NewRunbookID() RunbookID {
	return RunbookID(uuid.NewString())
}

// NewExecutionID generates a random execution identifier
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.NewString())
}

// NewApprovalID generates a random approval identifier
func NewApprovalID() ApprovalID {
	return ApprovalID(uuid.NewString())
}

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
