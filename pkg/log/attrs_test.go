package log_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/log"
)

type errStub string

func TestExecutionID(t *testing.T) {
	attr := log.ExecutionID(api.ExecutionID("exec-123"))
	assertAttrEqual(t, attr, "execution_id", "exec-123")
}

func TestRunbookID(t *testing.T) {
	attr := log.RunbookID(api.RunbookID("rb-42"))
	assertAttrEqual(t, attr, "runbook_id", "rb-42")
}

func TestStepID(t *testing.T) {
	attr := log.StepID(api.StepID("step-abc"))
	assertAttrEqual(t, attr, "step_id", "step-abc")
}

func TestApprovalID(t *testing.T) {
	attr := log.ApprovalID(api.ApprovalID("appr-1"))
	assertAttrEqual(t, attr, "approval_id", "appr-1")
}

func TestStatus(t *testing.T) {
	attr := log.Status(api.ExecutionRunning)
	assertAttrEqual(t, attr, "status", "running")
}

func TestAttempt(t *testing.T) {
	attr := log.Attempt(3)
	assert.Equal(t, "attempt", attr.Key)
	assert.Equal(t, int64(3), attr.Value.Int64())
}

func TestStepIndex(t *testing.T) {
	attr := log.StepIndex(7)
	assert.Equal(t, "step_index", attr.Key)
	assert.Equal(t, int64(7), attr.Value.Int64())
}

func TestError(t *testing.T) {
	attr := log.Error(nil)
	assertAttrEqual(t, attr, "error", "")

	attr = log.Error(errStub("boom"))
	assertAttrEqual(t, attr, "error", "boom")
}

func TestErrorString(t *testing.T) {
	attr := log.ErrorString("badness")
	assertAttrEqual(t, attr, "error", "badness")
}

func (e errStub) Error() string { return string(e) }

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
