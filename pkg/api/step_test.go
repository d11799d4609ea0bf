package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/pkg/api"
)

func waitStep(id api.StepID) *api.Step {
	return &api.Step{
		ID:   id,
		Name: "Pause " + string(id),
		Kind: api.StepKindWait,
		Wait: &api.WaitStepConfig{DurationMs: 10},
	}
}

func TestStepValidate(t *testing.T) {
	require.NoError(t, waitStep("a").Validate())

	cases := []struct {
		name string
		step *api.Step
		want error
	}{
		{"empty id", &api.Step{Name: "x", Kind: api.StepKindWait},
			api.ErrStepIDEmpty},
		{"empty name", &api.Step{ID: "a", Kind: api.StepKindWait},
			api.ErrStepNameEmpty},
		{"shell reserved",
			&api.Step{ID: "a", Name: "x", Kind: api.StepKindShell},
			api.ErrStepKindReserved},
		{"unknown kind",
			&api.Step{ID: "a", Name: "x", Kind: "teleport"},
			api.ErrInvalidStepKind},
		{"missing config",
			&api.Step{ID: "a", Name: "x", Kind: api.StepKindWait},
			api.ErrStepConfigMissing},
		{"negative timeout", func() *api.Step {
			s := waitStep("a")
			s.TimeoutSeconds = -1
			return s
		}(), api.ErrNegativeTimeout},
		{"negative retries", func() *api.Step {
			s := waitStep("a")
			s.RetryCount = -1
			return s
		}(), api.ErrNegativeRetry},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.step.Validate(), tc.want)
		})
	}
}

func TestStepKindConfigValidation(t *testing.T) {
	httpStep := &api.Step{
		ID: "h", Name: "Call", Kind: api.StepKindHTTP,
		HTTP: &api.HTTPStepConfig{},
	}
	assert.ErrorIs(t, httpStep.Validate(), api.ErrStepURLEmpty)

	sqlStep := &api.Step{
		ID: "q", Name: "Query", Kind: api.StepKindSQL,
		SQL: &api.SQLStepConfig{},
	}
	assert.ErrorIs(t, sqlStep.Validate(), api.ErrQueryEmpty)

	scriptStep := &api.Step{
		ID: "s", Name: "Script", Kind: api.StepKindScript,
		Script: &api.ScriptStepConfig{Language: "python", Script: "x"},
	}
	assert.ErrorIs(t, scriptStep.Validate(), api.ErrScriptLangUnknown)

	manualStep := &api.Step{
		ID: "m", Name: "Signoff", Kind: api.StepKindManual,
		Manual: &api.ManualStepConfig{},
	}
	assert.ErrorIs(t, manualStep.Validate(), api.ErrApproversEmpty)

	aiStep := &api.Step{
		ID: "ai", Name: "Analyze", Kind: api.StepKindAI,
		AI: &api.AIStepConfig{},
	}
	assert.ErrorIs(t, aiStep.Validate(), api.ErrPromptEmpty)
}

func TestConditionalValidation(t *testing.T) {
	step := &api.Step{
		ID: "c", Name: "Branch", Kind: api.StepKindConditional,
		Conditional: &api.ConditionalStepConfig{
			Condition: api.Condition{Kind: "guess"},
		},
	}
	assert.ErrorIs(t, step.Validate(), api.ErrConditionKind)

	step.Conditional.Condition = api.Condition{
		Kind: api.ConditionKindExpression,
	}
	assert.ErrorIs(t, step.Validate(), api.ErrConditionEmpty)

	step.Conditional.Condition.Expression = "true"
	step.Conditional.OnTrue = []*api.Step{{ID: "bad"}}
	assert.ErrorIs(t, step.Validate(), api.ErrStepNameEmpty)

	step.Conditional.OnTrue = []*api.Step{waitStep("child")}
	assert.NoError(t, step.Validate())
}

func TestParallelValidation(t *testing.T) {
	step := &api.Step{
		ID: "p", Name: "Fan out", Kind: api.StepKindParallel,
		Parallel: &api.ParallelStepConfig{},
	}
	assert.ErrorIs(t, step.Validate(), api.ErrParallelEmpty)

	step.Parallel.Steps = []*api.Step{waitStep("child")}
	step.Parallel.Completion = "most_votes"
	assert.ErrorIs(t, step.Validate(), api.ErrCompletionPolicy)

	step.Parallel.Completion = api.CompletionFirstSuccess
	assert.NoError(t, step.Validate())
}

func TestFlattenCount(t *testing.T) {
	steps := []*api.Step{
		waitStep("a"),
		{
			ID: "b", Name: "Branch", Kind: api.StepKindConditional,
			Conditional: &api.ConditionalStepConfig{
				Condition: api.Condition{
					Kind:       api.ConditionKindExpression,
					Expression: "true",
				},
				OnTrue:  []*api.Step{waitStep("b1"), waitStep("b2")},
				OnFalse: []*api.Step{waitStep("b3")},
			},
		},
		{
			ID: "c", Name: "Fan out", Kind: api.StepKindParallel,
			Parallel: &api.ParallelStepConfig{
				Steps: []*api.Step{waitStep("c1"), waitStep("c2")},
			},
		},
	}

	assert.Equal(t, 8, api.FlattenCount(steps))
	assert.Equal(t, 1, steps[0].FlattenCount())
	assert.Equal(t, 4, steps[1].FlattenCount())
	assert.Equal(t, 3, steps[2].FlattenCount())
}

func TestStepTimeout(t *testing.T) {
	s := waitStep("a")
	assert.Equal(t, api.DefaultStepTimeoutSec, s.Timeout())

	s.TimeoutSeconds = 42
	assert.Equal(t, int64(42), s.Timeout())
}

func TestAllowedStatusSet(t *testing.T) {
	cfg := &api.HTTPStepConfig{}
	set := cfg.AllowedStatusSet()
	assert.True(t, set.Contains(200))
	assert.True(t, set.Contains(204))
	assert.False(t, set.Contains(500))

	cfg.AllowedStatus = []int{418}
	set = cfg.AllowedStatusSet()
	assert.True(t, set.Contains(418))
	assert.False(t, set.Contains(200))
}

func TestCompletionPolicyDefault(t *testing.T) {
	cfg := &api.ParallelStepConfig{}
	assert.Equal(t, api.CompletionWaitAll, cfg.CompletionPolicy())

	cfg.Completion = api.CompletionFirstSuccess
	assert.Equal(t, api.CompletionFirstSuccess, cfg.CompletionPolicy())
}
