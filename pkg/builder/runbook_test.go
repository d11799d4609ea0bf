package builder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/builder"
)

func TestBuildRunbook(t *testing.T) {
	rb, err := builder.NewRunbook("restart-payments").
		WithEnvironment("production").
		Required("service").
		Optional("region", "eu-west").
		WithVariable("attempts", 0).
		Steps(
			builder.HTTP(
				"Drain Traffic", "POST", "https://lb.internal/drain",
			),
			builder.Manual("Release Signoff", "Proceed?", "oncall"),
			builder.Wait("Settle", 500),
		).
		Rollback(
			builder.HTTP(
				"Restore Traffic", "POST", "https://lb.internal/undrain",
			),
		).
		WithTimeout(1800).
		Build()
	require.NoError(t, err)

	assert.NotEmpty(t, rb.ID)
	assert.Equal(t, "restart-payments", rb.Name)
	assert.Equal(t, "production", rb.Environment)
	assert.Equal(t, 1, rb.Version)
	assert.True(t, rb.IsLatest)
	assert.Len(t, rb.Steps, 3)
	assert.Len(t, rb.Rollback, 1)
	assert.Equal(t, int64(1800), rb.TimeoutSec)

	require.Len(t, rb.Parameters, 2)
	assert.True(t, rb.Parameters[0].Required)
	assert.Equal(t, "eu-west", rb.Parameters[1].Default)
}

func TestBuildRunbookRejectsDuplicateIDs(t *testing.T) {
	_, err := builder.NewRunbook("dup").
		Steps(
			builder.Wait("Pause", 10),
			builder.Wait("Pause", 10),
		).
		Build()
	assert.ErrorIs(t, err, api.ErrDuplicateStepID)
}

func TestBuildRunbookRequiresSteps(t *testing.T) {
	_, err := builder.NewRunbook("empty").Build()
	assert.ErrorIs(t, err, api.ErrRunbookNoSteps)
}

func TestRunbookBuilderIsImmutable(t *testing.T) {
	base := builder.NewRunbook("base").
		Steps(builder.Wait("Pause", 10))

	staging, err := base.WithEnvironment("staging").Build()
	require.NoError(t, err)
	prod, err := base.WithEnvironment("production").
		Steps(builder.Manual("Signoff", "Go?", "oncall")).
		Build()
	require.NoError(t, err)
	plain, err := base.Build()
	require.NoError(t, err)

	assert.Equal(t, "staging", staging.Environment)
	assert.Equal(t, "production", prod.Environment)
	assert.Len(t, prod.Steps, 2)
	assert.Empty(t, plain.Environment)
	assert.Len(t, plain.Steps, 1)
}

func TestRunbookRetryPolicyCopied(t *testing.T) {
	policy := &api.RetryPolicy{
		MaxRetries:  3,
		BackoffMs:   100,
		BackoffType: api.BackoffExponential,
	}
	rb, err := builder.NewRunbook("retrying").
		Steps(builder.Wait("Pause", 10)).
		WithRetryPolicy(policy).
		Build()
	require.NoError(t, err)

	policy.MaxRetries = 99
	assert.Equal(t, 3, rb.Retry.MaxRetries)
}
