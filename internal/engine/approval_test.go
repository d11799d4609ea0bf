package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/internal/store"
	"github.com/runhawk/engine/pkg/api"
)

func manualStep(id api.StepID, expiresInSec int64) *api.Step {
	return &api.Step{
		ID:   id,
		Name: "Sign-off",
		Kind: api.StepKindManual,
		Manual: &api.ManualStepConfig{
			Approvers:    []string{"u1", "u2"},
			Message:      "confirm the maintenance window",
			ExpiresInSec: expiresInSec,
		},
	}
}

func waitPendingApproval(
	t *testing.T, st store.Store, execID api.ExecutionID,
) *api.Approval {
	t.Helper()

	var approval *api.Approval
	require.Eventually(t, func() bool {
		approvals, err := st.ListApprovals(context.Background(), execID)
		if err != nil || len(approvals) == 0 {
			return false
		}
		approval = approvals[0]
		return approval.Status == api.ApprovalPending
	}, waitFor, tick, "no pending approval appeared")
	return approval
}

func TestManualStepPausesExecution(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0), waitStep(10)}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)
	assert.Equal(t, api.StepID("gate"), approval.StepID)
	assert.Equal(t, []string{"u1", "u2"}, approval.RequiredApprovers)
	assert.Equal(t, "confirm the maintenance window", approval.Message)

	// execution stays RUNNING while paused; PAUSED is step-level only
	got, err := st.GetExecution(context.Background(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionRunning, got.Status)

	results := stepResults(t, st, ex.ID)
	require.Len(t, results, 1)
	assert.Equal(t, api.StepPaused, results[0].Status)
}

func TestPausedManualHoldsStepCursor(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0), waitStep(10)}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	// the cursor stays on the paused step until it resolves
	got, err := st.GetExecution(context.Background(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStepIndex)

	_, err = e.Approve(context.Background(), approval.ID, "u1", "")
	require.NoError(t, err)

	final := waitStatus(t, st, ex.ID, api.ExecutionSucceeded)
	assert.Equal(t, 2, final.CurrentStepIndex)
}

func TestApproveResumesExecution(t *testing.T) {
	e, st := newTestEngine(t, nil)
	after := waitStep(10)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0), after}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	updated, err := e.Approve(
		context.Background(), approval.ID, "u1", "looks good",
	)
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalApproved, updated.Status)
	assert.Equal(t, "u1", updated.RespondedBy)

	waitStatus(t, st, ex.ID, api.ExecutionSucceeded)

	results := stepResults(t, st, ex.ID)
	require.Len(t, results, 2)
	assert.Equal(t, api.StepSucceeded, results[0].Status)
	assert.Len(t, resultsFor(results, after.ID), 1)
}

func TestRejectFailsExecutionWithRollback(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rollback := waitStep(10)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0), waitStep(10)}
		rb.Rollback = []*api.Step{rollback}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	updated, err := e.Reject(
		context.Background(), approval.ID, "u2", "not during peak",
	)
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalRejected, updated.Status)

	waitStatus(t, st, ex.ID, api.ExecutionFailed)

	results := stepResults(t, st, ex.ID)
	gate := resultsFor(results, "gate")
	require.Len(t, gate, 1)
	assert.Equal(t, api.StepFailed, gate[0].Status)
	assert.Equal(t, api.ErrorCodeRejected, gate[0].ErrorCode)
	assert.Equal(t, true, gate[0].Output["rejected"])

	rows := resultsFor(results, rollback.ID)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Rollback)
}

func TestApproverNotInRequiredSet(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0)}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	_, err := e.Approve(context.Background(), approval.ID, "intruder", "")
	assert.ErrorIs(t, err, ErrApprovalNotAllowed)

	got, err := st.GetApproval(context.Background(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalPending, got.Status)
}

func TestDoubleDecisionRejected(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 0)}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	_, err := e.Approve(context.Background(), approval.ID, "u1", "")
	require.NoError(t, err)

	_, err = e.Reject(context.Background(), approval.ID, "u2", "late")
	assert.ErrorIs(t, err, ErrApprovalProcessed)
}

func TestDecisionOnExpiredApproval(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 1)}
	})

	ex := start(t, e, rb, nil)
	approval := waitPendingApproval(t, st, ex.ID)

	time.Sleep(1100 * time.Millisecond)

	_, err := e.Approve(context.Background(), approval.ID, "u1", "")
	assert.ErrorIs(t, err, ErrApprovalExpired)

	waitStatus(t, st, ex.ID, api.ExecutionFailed)

	got, err := st.GetApproval(context.Background(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, api.ApprovalExpired, got.Status)
}

func TestSweepExpiredFailsExecution(t *testing.T) {
	e, st := newTestEngine(t, nil)
	rb := saveRunbook(t, st, func(rb *api.Runbook) {
		rb.Steps = []*api.Step{manualStep("gate", 1)}
	})

	ex := start(t, e, rb, nil)
	waitPendingApproval(t, st, ex.ID)

	time.Sleep(1100 * time.Millisecond)

	expired, err := e.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	waitStatus(t, st, ex.ID, api.ExecutionFailed)

	results := stepResults(t, st, ex.ID)
	gate := resultsFor(results, "gate")
	require.Len(t, gate, 1)
	assert.Equal(t, api.ErrorCodeExpired, gate[0].ErrorCode)
}
