package engine

import (
	"github.com/runhawk/engine/internal/util"
	"github.com/runhawk/engine/pkg/api"
)

// StateTransitions maps states to their set of valid next states
//
// Generic state transition tables are used to validate execution and
// approval status changes before they are persisted
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	executionTransitions = StateTransitions[api.ExecutionStatus]{
		api.ExecutionQueued: util.SetOf(
			api.ExecutionRunning,
			api.ExecutionCancelled,
		),
		api.ExecutionRunning: util.SetOf(
			api.ExecutionSucceeded,
			api.ExecutionFailed,
			api.ExecutionCancelled,
		),
		api.ExecutionSucceeded: {},
		api.ExecutionFailed:    {},
		api.ExecutionCancelled: {},
	}

	approvalTransitions = StateTransitions[api.ApprovalStatus]{
		api.ApprovalPending: util.SetOf(
			api.ApprovalApproved,
			api.ApprovalRejected,
			api.ApprovalExpired,
		),
		api.ApprovalApproved: {},
		api.ApprovalRejected: {},
		api.ApprovalExpired:  {},
	}
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}
