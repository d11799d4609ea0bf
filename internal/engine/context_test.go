package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/internal/bus"
	"github.com/runhawk/engine/internal/config"
	"github.com/runhawk/engine/internal/secrets"
	"github.com/runhawk/engine/pkg/api"
)

func newBareContext(rb *api.Runbook, ex *api.Execution) *runContext {
	e := New(config.NewDefaultConfig(), Dependencies{
		Bus:     bus.New(),
		Secrets: secrets.Static{"token": "sekret"},
	})
	return newRunContext(e, rb, ex, nil)
}

func TestIndexAssignmentIsDepthFirst(t *testing.T) {
	rb := &api.Runbook{
		Steps: []*api.Step{
			{ID: "a", Kind: api.StepKindWait},
			{
				ID:   "b",
				Kind: api.StepKindConditional,
				Conditional: &api.ConditionalStepConfig{
					OnTrue:  []*api.Step{{ID: "b1"}, {ID: "b2"}},
					OnFalse: []*api.Step{{ID: "b3"}},
				},
			},
			{
				ID:   "c",
				Kind: api.StepKindParallel,
				Parallel: &api.ParallelStepConfig{
					Steps: []*api.Step{{ID: "c1"}, {ID: "c2"}},
				},
			},
			{ID: "d"},
		},
		Rollback: []*api.Step{{ID: "r1"}},
	}
	rc := newBareContext(rb, &api.Execution{ID: "ex"})

	expected := map[api.StepID]int{
		"a": 0, "b": 1, "b1": 2, "b2": 3, "b3": 4,
		"c": 5, "c1": 6, "c2": 7, "d": 8, "r1": 9,
	}
	for id, idx := range expected {
		assert.Equal(t, idx, rc.StepIndex(id), "step %s", id)
	}
	assert.Equal(t, -1, rc.StepIndex("missing"))
	assert.Equal(t, 9, api.FlattenCount(rb.Steps))
}

func TestPriorResultsLatestAttemptWins(t *testing.T) {
	rb := &api.Runbook{Steps: []*api.Step{{ID: "a"}}}
	prior := []*api.StepResult{
		{StepID: "a", Attempt: 1, Status: api.StepFailed},
		{StepID: "a", Attempt: 2, Status: api.StepSucceeded},
	}

	e := New(config.NewDefaultConfig(), Dependencies{Bus: bus.New()})
	rc := newRunContext(e, rb, &api.Execution{ID: "ex"}, prior)

	lr := rc.LatestResult("a")
	require.NotNil(t, lr)
	assert.Equal(t, 2, lr.Attempt)
	assert.Equal(t, api.StepSucceeded, lr.Status)
}

func TestRenderSubstitutesTokens(t *testing.T) {
	rb := &api.Runbook{
		Steps:     []*api.Step{{ID: "a"}},
		Variables: []*api.VarDecl{{Name: "region", Value: "eu-west"}},
	}
	ex := &api.Execution{
		ID:     "ex",
		Params: api.Args{"service": "payments"},
	}
	rc := newBareContext(rb, ex)

	out, err := rc.Render(
		context.Background(),
		"deploy {{params.service}} to {{vars.region}} "+
			"with {{secrets.token}}",
	)
	require.NoError(t, err)
	assert.Equal(t, "deploy payments to eu-west with sekret", out)
}

func TestRenderUnresolvedReference(t *testing.T) {
	rb := &api.Runbook{Steps: []*api.Step{{ID: "a"}}}
	rc := newBareContext(rb, &api.Execution{ID: "ex"})

	_, err := rc.Render(context.Background(), "{{params.missing}}")
	assert.ErrorIs(t, err, errConfig)
}

func TestRenderMissingSecret(t *testing.T) {
	rb := &api.Runbook{Steps: []*api.Step{{ID: "a"}}}
	rc := newBareContext(rb, &api.Execution{ID: "ex"})

	_, err := rc.Render(context.Background(), "{{secrets.unknown}}")
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestRenderPlainStringUntouched(t *testing.T) {
	rb := &api.Runbook{Steps: []*api.Step{{ID: "a"}}}
	rc := newBareContext(rb, &api.Execution{ID: "ex"})

	out, err := rc.Render(context.Background(), "no tokens here")
	require.NoError(t, err)
	assert.Equal(t, "no tokens here", out)
}
