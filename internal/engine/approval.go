package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/log"
)

var (
	ErrApprovalProcessed  = errors.New("approval already processed")
	ErrApprovalExpired    = errors.New("approval expired")
	ErrApprovalNotAllowed = errors.New("approver not in required set")
)

// Approve resolves a pending approval positively. The paused step's
// result row flips to SUCCESS in place and the execution resumes on a
// fresh runner goroutine
func (e *Engine) Approve(
	ctx context.Context, id api.ApprovalID, approverID, note string,
) (*api.Approval, error) {
	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkOpen(ctx, a); err != nil {
		return nil, err
	}
	if !a.AllowsApprover(approverID) {
		return nil, fmt.Errorf(
			"%w: %s", ErrApprovalNotAllowed, approverID,
		)
	}

	updated, err := e.resolveApproval(
		ctx, id, api.ApprovalApproved, approverID, note,
	)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.UpdateStepResult(
		ctx, a.ExecutionID, a.StepID, 1,
		func(sr *api.StepResult) error {
			sr.Status = api.StepSucceeded
			sr.CompletedAt = time.Now()
			sr.DurationMs = sr.CompletedAt.Sub(sr.StartedAt).Milliseconds()
			sr.Output = api.Args{
				"approved_by": approverID,
				"note":        note,
			}
			return nil
		},
	); err != nil {
		return nil, err
	}

	slog.Info("Approval granted",
		log.ApprovalID(id),
		log.ExecutionID(a.ExecutionID),
		slog.String("approver_id", approverID))

	e.appendExecutionLog(ctx, a.ExecutionID, a.StepID, api.LogInfo,
		"Step approved", map[string]any{"approver_id": approverID})
	e.bus.Publish(api.NewEvent(
		api.EventTypeStepApproved, a.ExecutionID,
		api.StepApprovedEvent{
			ApprovalID: id,
			StepID:     a.StepID,
			ApproverID: approverID,
			Note:       note,
		},
	))

	e.spawnRunner(a.ExecutionID)
	return updated, nil
}

// Reject resolves a pending approval negatively. The paused step's row
// flips to FAILED and the resumed runner fails the execution through
// the normal failure path, including rollback
func (e *Engine) Reject(
	ctx context.Context, id api.ApprovalID, approverID, reason string,
) (*api.Approval, error) {
	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkOpen(ctx, a); err != nil {
		return nil, err
	}
	if !a.AllowsApprover(approverID) {
		return nil, fmt.Errorf(
			"%w: %s", ErrApprovalNotAllowed, approverID,
		)
	}

	updated, err := e.resolveApproval(
		ctx, id, api.ApprovalRejected, approverID, reason,
	)
	if err != nil {
		return nil, err
	}

	if err := e.failPausedStep(
		ctx, a,
		fmt.Sprintf("rejected by %s", approverID), api.ErrorCodeRejected,
		api.Args{"rejected": true},
	); err != nil {
		return nil, err
	}

	slog.Info("Approval rejected",
		log.ApprovalID(id),
		log.ExecutionID(a.ExecutionID),
		slog.String("approver_id", approverID))

	e.appendExecutionLog(ctx, a.ExecutionID, a.StepID, api.LogWarn,
		"Step rejected", map[string]any{
			"approver_id": approverID,
			"reason":      reason,
		})
	e.bus.Publish(api.NewEvent(
		api.EventTypeStepRejected, a.ExecutionID,
		api.StepRejectedEvent{
			ApprovalID: id,
			StepID:     a.StepID,
			ApproverID: approverID,
			Reason:     reason,
		},
	))

	e.spawnRunner(a.ExecutionID)
	return updated, nil
}

// SweepExpired expires every pending approval whose window has passed
// and fails the executions they were blocking. Returns the number of
// approvals expired
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingApprovals(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	expired := 0
	for _, a := range pending {
		if !a.IsExpired(now) {
			continue
		}
		if err := e.expireApproval(ctx, a); err != nil {
			slog.Error("Failed to expire approval",
				log.ApprovalID(a.ID),
				log.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.ApprovalSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepExpired(e.ctx); err != nil {
				slog.Error("Approval sweep failed",
					log.Error(err))
			}
		}
	}
}

// checkOpen rejects decisions on settled approvals and lazily expires
// overdue ones
func (e *Engine) checkOpen(ctx context.Context, a *api.Approval) error {
	if !a.IsOpen() {
		return fmt.Errorf("%w: %s", ErrApprovalProcessed, a.Status)
	}
	if a.IsExpired(time.Now()) {
		if err := e.expireApproval(ctx, a); err != nil {
			slog.Error("Failed to expire approval",
				log.ApprovalID(a.ID),
				log.Error(err))
		}
		return ErrApprovalExpired
	}
	return nil
}

func (e *Engine) expireApproval(
	ctx context.Context, a *api.Approval,
) error {
	if _, err := e.resolveApproval(
		ctx, a.ID, api.ApprovalExpired, "", "",
	); err != nil {
		return err
	}
	if err := e.failPausedStep(
		ctx, a, "approval window expired", api.ErrorCodeExpired, nil,
	); err != nil {
		return err
	}

	e.appendExecutionLog(ctx, a.ExecutionID, a.StepID, api.LogWarn,
		"Approval expired", map[string]any{
			"approval_id": string(a.ID),
		})

	e.spawnRunner(a.ExecutionID)
	return nil
}

func (e *Engine) resolveApproval(
	ctx context.Context, id api.ApprovalID, status api.ApprovalStatus,
	approverID, note string,
) (*api.Approval, error) {
	return e.store.UpdateApproval(ctx, id,
		func(a *api.Approval) error {
			if !approvalTransitions.CanTransition(a.Status, status) {
				return fmt.Errorf(
					"%w: %s", ErrApprovalProcessed, a.Status,
				)
			}
			a.Status = status
			a.RespondedBy = approverID
			a.ResponseNote = note
			a.RespondedAt = time.Now()
			return nil
		},
	)
}

func (e *Engine) failPausedStep(
	ctx context.Context, a *api.Approval, reason, code string,
	output api.Args,
) error {
	_, err := e.store.UpdateStepResult(
		ctx, a.ExecutionID, a.StepID, 1,
		func(sr *api.StepResult) error {
			sr.Status = api.StepFailed
			sr.CompletedAt = time.Now()
			sr.DurationMs = sr.CompletedAt.Sub(sr.StartedAt).Milliseconds()
			sr.Error = reason
			sr.ErrorCode = code
			sr.Output = output
			return nil
		},
	)
	return err
}

func (e *Engine) appendExecutionLog(
	ctx context.Context, execID api.ExecutionID, stepID api.StepID,
	level api.LogLevel, message string, metadata map[string]any,
) {
	entry := &api.LogEntry{
		ExecutionID: execID,
		StepID:      stepID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   time.Now(),
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		slog.Error("Failed to append execution log",
			log.ExecutionID(execID),
			log.Error(err))
	}
	e.bus.Publish(api.NewEvent(api.EventTypeLog, execID, entry))
}
