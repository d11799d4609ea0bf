package api

import (
	"slices"
	"time"
)

type (
	// ApprovalStatus represents the state of a manual approval request
	ApprovalStatus string

	// Approval is a request for human sign-off created when a manual
	// step pauses an execution. Exactly one open approval may exist per
	// (execution, step index); resolving it is the only way to unblock
	// that step
	Approval struct {
		ID                ApprovalID     `json:"id"`
		ExecutionID       ExecutionID    `json:"execution_id"`
		StepID            StepID         `json:"step_id"`
		StepIndex         int            `json:"step_index"`
		RequiredApprovers []string       `json:"required_approvers"`
		Status            ApprovalStatus `json:"status"`
		Message           string         `json:"message,omitempty"`
		ExpiresAt         time.Time      `json:"expires_at,omitempty"`
		RespondedBy       string         `json:"responded_by,omitempty"`
		ResponseNote      string         `json:"response_note,omitempty"`
		CreatedAt         time.Time      `json:"created_at"`
		RespondedAt       time.Time      `json:"responded_at,omitempty"`
	}
)

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// IsOpen returns true while the approval still accepts a decision
func (a *Approval) IsOpen() bool {
	return a.Status == ApprovalPending
}

// IsExpired reports whether the approval window has passed at the given
// time. Approvals without an expiry never expire
func (a *Approval) IsExpired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// AllowsApprover returns true if the identity is in the required
// approver set
func (a *Approval) AllowsApprover(approverID string) bool {
	return slices.Contains(a.RequiredApprovers, approverID)
}
