package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runhawk/engine/pkg/api"
)

// runStep executes one step and records its attempt rows. Leaf steps
// get the full timeout and retry treatment; manual and container steps
// run a single attempt with their own pause and recursion semantics
func (e *Engine) runStep(
	ctx context.Context, rc *runContext, step *api.Step,
) error {
	switch step.Kind {
	case api.StepKindManual:
		return e.runManualStep(ctx, rc, step)
	case api.StepKindConditional, api.StepKindParallel:
		return e.runContainerStep(ctx, rc, step)
	}
	return e.runLeafStep(ctx, rc, step)
}

// runLeafStep drives the retry loop around one executor. Every attempt
// produces exactly one result row; a timeout produces a synthetic
// FAILED row rather than aborting the run
func (e *Engine) runLeafStep(
	ctx context.Context, rc *runContext, step *api.Step,
) error {
	executor, ok := e.executors[step.Kind]
	if !ok {
		err := fmt.Errorf("%w: %w: %s", errConfig, ErrUnknownStepKind,
			step.Kind)
		e.appendAttempt(ctx, rc, step, 1, time.Now(), nil, err)
		return err
	}

	policy := api.StepRetryPolicy(step)

	for attempt := 1; ; attempt++ {
		started := time.Now()
		output, err := e.invokeWithTimeout(ctx, rc, step, executor)
		if err != nil && errors.Is(err, context.Canceled) {
			// a shutdown interrupt is not an attempt; the execution stays
			// RUNNING and the step re-runs in full on recovery
			return err
		}
		e.appendAttempt(ctx, rc, step, attempt, started, output, err)

		if err == nil {
			return nil
		}
		if errors.Is(err, errConfig) {
			return err
		}
		if attempt > policy.MaxRetries {
			return err
		}

		rc.Log(ctx, step.ID, api.LogWarn, "Retrying step", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := sleepCtx(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
}

// invokeWithTimeout races the executor call against the step's
// deadline on a separate goroutine so a hung executor cannot wedge the
// runner
func (e *Engine) invokeWithTimeout(
	ctx context.Context, rc *runContext, step *api.Step,
	executor stepExecutor,
) (api.Args, error) {
	timeout := time.Duration(step.Timeout()) * time.Second
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output api.Args
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := executor(tctx, rc, step)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %s", ErrStepTimeout, timeout)
		}
		return o.output, o.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %s", ErrStepTimeout, timeout)
		}
		return nil, tctx.Err()
	}
}

// runManualStep persists an approval request and pauses the execution.
// It never blocks waiting for the decision; the approval coordinator
// resumes or fails the run later. Manual steps in rollback lists are
// skipped, rollback is unattended by definition
func (e *Engine) runManualStep(
	ctx context.Context, rc *runContext, step *api.Step,
) error {
	if rc.rollback {
		rc.Log(ctx, step.ID, api.LogWarn,
			"Skipping manual step during rollback", nil)
		return nil
	}

	// an open approval already exists from a previous walk
	if lr := rc.LatestResult(step.ID); lr != nil &&
		lr.Status == api.StepPaused {
		return errPaused
	}

	message, err := rc.Render(ctx, step.Manual.Message)
	if err != nil {
		e.appendAttempt(ctx, rc, step, 1, time.Now(), nil, err)
		return err
	}

	approval := &api.Approval{
		ID:                api.NewApprovalID(),
		ExecutionID:       rc.execution.ID,
		StepID:            step.ID,
		StepIndex:         rc.StepIndex(step.ID),
		RequiredApprovers: step.Manual.Approvers,
		Status:            api.ApprovalPending,
		Message:           message,
		CreatedAt:         time.Now(),
	}
	if step.Manual.ExpiresInSec > 0 {
		approval.ExpiresAt = approval.CreatedAt.Add(
			time.Duration(step.Manual.ExpiresInSec) * time.Second,
		)
	}

	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return err
	}

	row := &api.StepResult{
		ExecutionID: rc.execution.ID,
		StepID:      step.ID,
		StepIndex:   rc.StepIndex(step.ID),
		Attempt:     1,
		Status:      api.StepPaused,
		StartedAt:   time.Now(),
		Input:       stepInput(step),
	}
	if err := e.store.AppendStepResult(ctx, row); err != nil {
		return err
	}
	rc.recordResult(row)

	rc.Log(ctx, step.ID, api.LogInfo,
		"Execution paused for approval", map[string]any{
			"approval_id": string(approval.ID),
			"approvers":   step.Manual.Approvers,
		})
	return errPaused
}

// runContainerStep executes a conditional or parallel step. The
// container gets one result row recorded after its subtree settles; a
// pause inside the subtree propagates without a container row so the
// resumed walk re-enters it
func (e *Engine) runContainerStep(
	ctx context.Context, rc *runContext, step *api.Step,
) error {
	executor := e.executors[step.Kind]

	started := time.Now()
	output, err := executor(ctx, rc, step)
	if err != nil && isFlowSentinel(err) {
		return err
	}

	e.appendAttempt(ctx, rc, step, 1, started, output, err)
	return err
}

func (e *Engine) appendAttempt(
	ctx context.Context, rc *runContext, step *api.Step, attempt int,
	started time.Time, output api.Args, stepErr error,
) {
	completed := time.Now()
	row := &api.StepResult{
		ExecutionID: rc.execution.ID,
		StepID:      step.ID,
		StepIndex:   rc.StepIndex(step.ID),
		Attempt:     attempt,
		Status:      api.StepSucceeded,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Input:       stepInput(step),
		Output:      output,
		Rollback:    rc.rollback,
	}
	if stepErr != nil {
		row.Status = api.StepFailed
		row.Error = stepErr.Error()
		row.ErrorCode = errorCodeFor(stepErr)
	}

	if err := e.store.AppendStepResult(ctx, row); err != nil {
		rc.Log(ctx, step.ID, api.LogError,
			"Failed to persist step result", map[string]any{
				"error": err.Error(),
			})
	}
	rc.recordResult(row)

	level := api.LogInfo
	message := "Step succeeded"
	metadata := map[string]any{"attempt": attempt}
	if stepErr != nil {
		level = api.LogError
		message = "Step failed"
		metadata["error"] = stepErr.Error()
	}
	rc.Log(ctx, step.ID, level, message, metadata)
}

// stepInput summarizes what a step was asked to do, recorded on every
// attempt row. Secrets are never included
func stepInput(step *api.Step) api.Args {
	input := api.Args{"kind": string(step.Kind)}
	switch step.Kind {
	case api.StepKindHTTP:
		input["method"] = httpMethod(step.HTTP)
		input["url"] = step.HTTP.URL
	case api.StepKindSQL:
		input["query"] = step.SQL.Query
	case api.StepKindWait:
		input["duration_ms"] = step.Wait.DurationMs
	case api.StepKindManual:
		input["approvers"] = step.Manual.Approvers
	case api.StepKindAI:
		input["model"] = step.AI.Model
	case api.StepKindScript:
		input["language"] = step.Script.Language
	case api.StepKindConditional:
		input["condition"] = string(step.Conditional.Condition.Kind)
	case api.StepKindParallel:
		input["children"] = len(step.Parallel.Steps)
	}
	return input
}

func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, ErrStepTimeout):
		return api.ErrorCodeTimeout
	case errors.Is(err, errBadCondition):
		return api.ErrorCodeBadCondition
	case errors.Is(err, ErrHTTPStatus):
		return api.ErrorCodeBadResponse
	case errors.Is(err, ErrUnreachable):
		return api.ErrorCodeUnreachable
	case errors.Is(err, ErrRowCountMismatch):
		return api.ErrorCodeBadAssertion
	case errors.Is(err, errChildFailed):
		return api.ErrorCodeChildFailed
	case errors.Is(err, errConfig):
		return api.ErrorCodeConfig
	default:
		return api.ErrorCodeStepFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
