package server_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/pkg/api"
)

const manualRunbookYAML = `
name: deploy-with-signoff
parameters:
  - name: service
    required: true
steps:
  - id: signoff
    name: Release sign-off
    kind: manual
    manual:
      approvers: [alice, bob]
      message: Ship {{params.service}}?
  - id: pause
    name: Settle
    kind: wait
    wait:
      duration_ms: 10
`

func createManualRunbook(t *testing.T, env *testServerEnv) *api.Runbook {
	t.Helper()
	w := env.request(
		t, "POST", "/engine/runbook", []byte(manualRunbookYAML),
	)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rb := decodeJSON[api.Runbook](t, w)
	return &rb
}

func waitPendingApproval(
	t *testing.T, env *testServerEnv, execID api.ExecutionID,
) *api.Approval {
	t.Helper()
	var approval *api.Approval
	require.Eventually(t, func() bool {
		approvals, err := env.Store.ListApprovals(
			context.Background(), execID,
		)
		if err != nil || len(approvals) == 0 {
			return false
		}
		approval = approvals[0]
		return approval.Status == api.ApprovalPending
	}, waitFor, tick)
	return approval
}

func TestApproveResumesExecution(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)

	w := env.postJSON(
		t, "/engine/approval/"+string(approval.ID)+"/approve",
		api.ApprovalDecisionRequest{ApproverID: "alice", Note: "lgtm"},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resolved := decodeJSON[api.Approval](t, w)
	assert.Equal(t, api.ApprovalApproved, resolved.Status)
	assert.Equal(t, "alice", resolved.RespondedBy)

	waitForStatus(t, env, id, api.ExecutionSucceeded)
}

func TestRejectFailsExecution(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)

	w := env.postJSON(
		t, "/engine/approval/"+string(approval.ID)+"/reject",
		api.ApprovalDecisionRequest{ApproverID: "bob", Note: "not now"},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resolved := decodeJSON[api.Approval](t, w)
	assert.Equal(t, api.ApprovalRejected, resolved.Status)

	waitForStatus(t, env, id, api.ExecutionFailed)
}

func TestApproveByOutsiderForbidden(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)

	w := env.postJSON(
		t, "/engine/approval/"+string(approval.ID)+"/approve",
		api.ApprovalDecisionRequest{ApproverID: "mallory"},
	)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSecondDecisionConflict(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)
	path := "/engine/approval/" + string(approval.ID)

	w := env.postJSON(t, path+"/approve",
		api.ApprovalDecisionRequest{ApproverID: "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.postJSON(t, path+"/reject",
		api.ApprovalDecisionRequest{ApproverID: "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDecisionWithoutApproverID(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)

	w := env.postJSON(
		t, "/engine/approval/"+string(approval.ID)+"/approve",
		api.ApprovalDecisionRequest{},
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetApproval(t *testing.T) {
	env := testServer(t)
	rb := createManualRunbook(t, env)
	id := startExecution(t, env, rb)

	approval := waitPendingApproval(t, env, id)

	w := env.request(
		t, "GET", "/engine/approval/"+string(approval.ID), nil,
	)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeJSON[api.Approval](t, w)
	assert.Equal(t, id, got.ExecutionID)
	assert.Equal(t, []string{"alice", "bob"}, got.RequiredApprovers)
	assert.Equal(t, "Ship payments?", got.Message)
}

func TestGetApprovalNotFound(t *testing.T) {
	env := testServer(t)

	w := env.request(t, "GET", "/engine/approval/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
