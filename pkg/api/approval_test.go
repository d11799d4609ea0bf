package api_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/runhawk/engine/pkg/api"
)

func TestApprovalIsOpen(t *testing.T) {
	a := &api.Approval{Status: api.ApprovalPending}
	assert.True(t, a.IsOpen())

	for _, status := range []api.ApprovalStatus{
		api.ApprovalApproved, api.ApprovalRejected, api.ApprovalExpired,
	} {
		a.Status = status
		assert.False(t, a.IsOpen(), string(status))
	}
}

func TestApprovalIsExpired(t *testing.T) {
	now := time.Now()

	a := &api.Approval{}
	assert.False(t, a.IsExpired(now), "no expiry never expires")

	a.ExpiresAt = now.Add(time.Hour)
	assert.False(t, a.IsExpired(now))

	a.ExpiresAt = now.Add(-time.Second)
	assert.True(t, a.IsExpired(now))
}

func TestAllowsApprover(t *testing.T) {
	a := &api.Approval{RequiredApprovers: []string{"alice", "bob"}}

	assert.True(t, a.AllowsApprover("alice"))
	assert.True(t, a.AllowsApprover("bob"))
	assert.False(t, a.AllowsApprover("mallory"))
	assert.False(t, a.AllowsApprover(""))
}
