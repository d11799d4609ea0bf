// Package store defines the durable persistence contract consumed by
// the engine and its Redis-backed implementation. Every write is a
// single atomic operation scoped to one record so concurrent readers
// never observe a half-written transition
package store

import (
	"context"
	"errors"

	"github.com/runhawk/engine/pkg/api"
)

type (
	// Runbooks persists versioned runbook definitions
	Runbooks interface {
		SaveRunbook(context.Context, *api.Runbook) error
		GetRunbook(context.Context, api.RunbookID) (*api.Runbook, error)
		ListRunbooks(context.Context) ([]*api.Runbook, error)
	}

	// Executions persists execution records. UpdateExecution applies the
	// mutation under an optimistic transaction; concurrent writers get
	// ErrConcurrentUpdate and must re-read
	Executions interface {
		CreateExecution(context.Context, *api.Execution) error
		GetExecution(
			context.Context, api.ExecutionID,
		) (*api.Execution, error)
		UpdateExecution(
			context.Context, api.ExecutionID, func(*api.Execution) error,
		) (*api.Execution, error)
		ListExecutions(
			context.Context, api.RunbookID,
		) ([]*api.Execution, error)
	}

	// StepResults is the append-only store of step attempt outcomes,
	// totally ordered by (step index, attempt) per execution
	StepResults interface {
		AppendStepResult(context.Context, *api.StepResult) error
		UpdateStepResult(
			context.Context, api.ExecutionID, api.StepID, int,
			func(*api.StepResult) error,
		) (*api.StepResult, error)
		ListStepResults(
			context.Context, api.ExecutionID,
		) ([]*api.StepResult, error)
	}

	// Approvals persists manual approval requests. CreateApproval
	// enforces at most one open approval per (execution, step index)
	Approvals interface {
		CreateApproval(context.Context, *api.Approval) error
		GetApproval(context.Context, api.ApprovalID) (*api.Approval, error)
		UpdateApproval(
			context.Context, api.ApprovalID, func(*api.Approval) error,
		) (*api.Approval, error)
		ListApprovals(
			context.Context, api.ExecutionID,
		) ([]*api.Approval, error)
		ListPendingApprovals(context.Context) ([]*api.Approval, error)
	}

	// Logs is the append-only execution log, ordered by
	// (timestamp, sequence)
	Logs interface {
		AppendLog(context.Context, *api.LogEntry) error
		ListLogs(context.Context, api.ExecutionID) ([]*api.LogEntry, error)
	}

	// Store is the full persistence contract consumed by the engine
	Store interface {
		Runbooks
		Executions
		StepResults
		Approvals
		Logs
	}
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a create would violate a uniqueness
	// rule, such as a second open approval for the same step
	ErrConflict = errors.New("conflicting record exists")

	// ErrConcurrentUpdate is returned when an optimistic update loses a
	// race with another writer
	ErrConcurrentUpdate = errors.New("concurrent update")
)
