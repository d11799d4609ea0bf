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

// sentinels that unwind the tree walk without being step failures
var (
	errPaused    = errors.New("execution paused for approval")
	errCancelled = errors.New("execution cancelled")
)

// isFlowSentinel reports whether an error is control flow rather than
// a step failure
func isFlowSentinel(err error) bool {
	return errors.Is(err, errPaused) ||
		errors.Is(err, errCancelled) ||
		errors.Is(err, context.Canceled)
}

// runExecution is the body of a runner goroutine. It owns the
// execution until it finishes, pauses, or is cancelled. Re-entry after
// a pause replays the walk, skipping steps with terminal results
func (e *Engine) runExecution(id api.ExecutionID) {
	if !e.acquire(id) {
		slog.Warn("Execution already has an active runner",
			log.ExecutionID(id))
		return
	}
	defer e.release(id)

	ctx := e.ctx

	ex, err := e.store.GetExecution(ctx, id)
	if err != nil {
		slog.Error("Failed to load execution",
			log.ExecutionID(id),
			log.Error(err))
		return
	}

	switch ex.Status {
	case api.ExecutionQueued:
		ex, err = e.markRunning(ctx, ex)
		if err != nil {
			slog.Error("Failed to start execution",
				log.ExecutionID(id),
				log.Error(err))
			return
		}
	case api.ExecutionRunning:
		slog.Info("Resuming execution",
			log.ExecutionID(id))
	case api.ExecutionCancelled:
		e.finalizeCancelled(ctx, ex, "")
		return
	default:
		return
	}

	rb, err := e.store.GetRunbook(ctx, ex.RunbookID)
	if err != nil {
		e.finalizeFailed(ctx, nil, ex, err)
		return
	}
	prior, err := e.store.ListStepResults(ctx, ex.ID)
	if err != nil {
		e.finalizeFailed(ctx, nil, ex, err)
		return
	}

	rc := newRunContext(e, rb, ex, prior)

	err = e.runSteps(ctx, rc, rb.Steps)
	switch {
	case err == nil:
		e.finalizeSucceeded(ctx, rc)
	case errors.Is(err, errPaused):
		slog.Info("Execution paused",
			log.ExecutionID(ex.ID))
	case errors.Is(err, errCancelled):
		e.finalizeCancelled(ctx, rc.execution, "")
	case errors.Is(err, context.Canceled):
		// engine shutdown; execution stays RUNNING and is recovered on
		// the next start
		slog.Info("Runner interrupted by shutdown",
			log.ExecutionID(ex.ID))
	default:
		e.runRollback(ctx, rc)
		e.finalizeFailed(ctx, rc, rc.execution, err)
	}
}

// runSteps walks one step list in order. Conditional and parallel
// executors recurse back into it for their children
func (e *Engine) runSteps(
	ctx context.Context, rc *runContext, steps []*api.Step,
) error {
	for _, step := range steps {
		if !rc.rollback {
			if err := e.checkActive(ctx, rc); err != nil {
				return err
			}
		}

		if done, err := e.skipCompleted(rc, step); done {
			if err != nil {
				return err
			}
			e.advanceProgress(ctx, rc, step)
			continue
		}

		rc.Log(ctx, step.ID, api.LogInfo,
			"Starting step: "+step.Name, nil)

		err := e.runStep(ctx, rc, step)
		if err == nil {
			e.advanceProgress(ctx, rc, step)
			continue
		}
		if isFlowSentinel(err) {
			// the cursor holds at the paused or interrupted step so the
			// resumed walk reports progress from where it left off
			return err
		}
		if rc.rollback || step.ContinueOnError {
			rc.Log(ctx, step.ID, api.LogWarn,
				"Step failed, continuing", map[string]any{
					"error": err.Error(),
				})
			e.advanceProgress(ctx, rc, step)
			continue
		}
		return fmt.Errorf("%w: %s: %w", ErrStepFailed, step.ID, err)
	}
	return nil
}

// skipCompleted implements resume: a step whose latest attempt already
// reached a terminal outcome is never re-run. A failed row without
// continue_on_error re-raises the failure, which is how a rejected or
// expired approval fails its execution on resume
func (e *Engine) skipCompleted(
	rc *runContext, step *api.Step,
) (bool, error) {
	lr := rc.LatestResult(step.ID)
	if lr == nil || !lr.Status.IsTerminal() {
		return false, nil
	}
	if lr.Status == api.StepFailed && !rc.rollback &&
		!step.ContinueOnError {
		return true, fmt.Errorf("%w: %s", ErrStepFailed, step.ID)
	}
	return true, nil
}

// checkActive re-reads the execution status at a step boundary so a
// cancel request is honored without interrupting a running step
func (e *Engine) checkActive(
	ctx context.Context, rc *runContext,
) error {
	ex, err := e.store.GetExecution(ctx, rc.execution.ID)
	if err != nil {
		return err
	}
	if ex.Status == api.ExecutionCancelled {
		return errCancelled
	}
	return nil
}

// advanceProgress moves the monotonic step cursor past the given step
// and its subtree, then publishes a progress event
func (e *Engine) advanceProgress(
	ctx context.Context, rc *runContext, step *api.Step,
) {
	if rc.rollback {
		return
	}
	completed := rc.StepIndex(step.ID) + step.FlattenCount()

	ex, err := e.store.UpdateExecution(ctx, rc.execution.ID,
		func(ex *api.Execution) error {
			if completed > ex.CurrentStepIndex {
				ex.CurrentStepIndex = completed
			}
			return nil
		},
	)
	if err != nil {
		slog.Error("Failed to advance execution progress",
			log.ExecutionID(rc.execution.ID),
			log.Error(err))
		return
	}

	e.bus.Publish(api.NewEvent(
		api.EventTypeExecutionProgress, ex.ID,
		api.ExecutionProgressEvent{
			CurrentStepIndex: ex.CurrentStepIndex,
			TotalSteps:       ex.TotalSteps,
		},
	))
}

func (e *Engine) runRollback(ctx context.Context, rc *runContext) {
	if len(rc.runbook.Rollback) == 0 {
		return
	}
	rc.Log(ctx, "", api.LogWarn, "Running rollback steps", nil)

	rc.rollback = true
	if err := e.runSteps(ctx, rc, rc.runbook.Rollback); err != nil {
		slog.Error("Rollback did not complete",
			log.ExecutionID(rc.execution.ID),
			log.Error(err))
	}
}

func (e *Engine) markRunning(
	ctx context.Context, ex *api.Execution,
) (*api.Execution, error) {
	updated, err := e.store.UpdateExecution(ctx, ex.ID,
		func(ex *api.Execution) error {
			if !executionTransitions.CanTransition(
				ex.Status, api.ExecutionRunning,
			) {
				return fmt.Errorf(
					"%w: %s -> %s",
					ErrInvalidTransition, ex.Status, api.ExecutionRunning,
				)
			}
			ex.Status = api.ExecutionRunning
			ex.StartedAt = time.Now()
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	slog.Info("Execution started",
		log.ExecutionID(updated.ID),
		log.RunbookID(updated.RunbookID))

	e.bus.Publish(api.NewEvent(
		api.EventTypeExecutionStarted, updated.ID,
		api.ExecutionStartedEvent{
			RunbookID:  updated.RunbookID,
			TotalSteps: updated.TotalSteps,
		},
	))
	return updated, nil
}

func (e *Engine) finalizeSucceeded(ctx context.Context, rc *runContext) {
	ex := e.finalize(ctx, rc.execution.ID, api.ExecutionSucceeded, "")
	if ex == nil {
		return
	}
	slog.Info("Execution completed",
		log.ExecutionID(ex.ID),
		slog.Int64("duration_ms", ex.DurationMs))

	e.bus.Publish(api.NewEvent(
		api.EventTypeExecutionCompleted, ex.ID,
		api.ExecutionCompletedEvent{DurationMs: ex.DurationMs},
	))
	e.archive(ctx, ex)
	e.bus.Release(ex.ID)
}

func (e *Engine) finalizeFailed(
	ctx context.Context, rc *runContext, ex *api.Execution, cause error,
) {
	updated := e.finalize(ctx, ex.ID, api.ExecutionFailed, cause.Error())
	if updated == nil {
		return
	}
	slog.Error("Execution failed",
		log.ExecutionID(ex.ID),
		log.Error(cause))

	e.bus.Publish(api.NewEvent(
		api.EventTypeExecutionFailed, ex.ID,
		api.ExecutionFailedEvent{Error: cause.Error()},
	))
	e.archive(ctx, updated)
	e.bus.Release(ex.ID)
}

func (e *Engine) finalizeCancelled(
	ctx context.Context, ex *api.Execution, cancelledBy string,
) {
	updated := e.finalize(ctx, ex.ID, api.ExecutionCancelled, "")
	if updated == nil {
		return
	}
	slog.Info("Execution cancelled",
		log.ExecutionID(ex.ID))

	e.bus.Publish(api.NewEvent(
		api.EventTypeExecutionCancelled, ex.ID,
		api.ExecutionCancelledEvent{CancelledBy: cancelledBy},
	))
	e.archive(ctx, updated)
	e.bus.Release(ex.ID)
}

func (e *Engine) finalize(
	ctx context.Context, id api.ExecutionID,
	status api.ExecutionStatus, errMsg string,
) *api.Execution {
	updated, err := e.store.UpdateExecution(ctx, id,
		func(ex *api.Execution) error {
			if ex.Status != status {
				if !executionTransitions.CanTransition(ex.Status, status) {
					return fmt.Errorf(
						"%w: %s -> %s",
						ErrInvalidTransition, ex.Status, status,
					)
				}
				ex.Status = status
			}
			ex.FinishedAt = time.Now()
			if !ex.StartedAt.IsZero() {
				ex.DurationMs = ex.FinishedAt.Sub(ex.StartedAt).
					Milliseconds()
			}
			ex.Error = errMsg
			return nil
		},
	)
	if err != nil {
		slog.Error("Failed to finalize execution",
			log.ExecutionID(id),
			log.Status(status),
			log.Error(err))
		return nil
	}
	return updated
}

func (e *Engine) archive(ctx context.Context, ex *api.Execution) {
	if e.archiver == nil {
		return
	}
	results, err := e.store.ListStepResults(ctx, ex.ID)
	if err != nil {
		slog.Error("Failed to load results for archive",
			log.ExecutionID(ex.ID),
			log.Error(err))
		return
	}
	logs, err := e.store.ListLogs(ctx, ex.ID)
	if err != nil {
		slog.Error("Failed to load logs for archive",
			log.ExecutionID(ex.ID),
			log.Error(err))
		return
	}
	if err := e.archiver.ArchiveExecution(ctx, ex, results, logs); err != nil {
		slog.Error("Failed to archive execution",
			log.ExecutionID(ex.ID),
			log.Error(err))
	}
}
