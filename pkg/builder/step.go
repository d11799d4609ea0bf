package builder

import (
	"maps"
	"slices"

	"github.com/runhawk/engine/pkg/api"
)

// Step is a builder for one runbook step. Kind-specific constructors
// create it; chained methods refine it
type Step struct {
	step api.Step
}

// HTTP creates a builder for an outbound HTTP call step
func HTTP(name, method, url string) *Step {
	return newStep(name, api.StepKindHTTP, func(s *api.Step) {
		s.HTTP = &api.HTTPStepConfig{
			Method: method,
			URL:    url,
		}
	})
}

// SQL creates a builder for a parameterized query step
func SQL(name, query string, params ...any) *Step {
	return newStep(name, api.StepKindSQL, func(s *api.Step) {
		s.SQL = &api.SQLStepConfig{
			Query:  query,
			Params: params,
		}
	})
}

// Lua creates a builder for a sandboxed Lua script step
func Lua(name, script string) *Step {
	return newStep(name, api.StepKindScript, func(s *api.Step) {
		s.Script = &api.ScriptStepConfig{
			Language: api.ScriptLangLua,
			Script:   script,
		}
	})
}

// Manual creates a builder for a human sign-off step
func Manual(name, message string, approvers ...string) *Step {
	return newStep(name, api.StepKindManual, func(s *api.Step) {
		s.Manual = &api.ManualStepConfig{
			Approvers: slices.Clone(approvers),
			Message:   message,
		}
	})
}

// Wait creates a builder for a fixed-duration pause step
func Wait(name string, durationMs int64) *Step {
	return newStep(name, api.StepKindWait, func(s *api.Step) {
		s.Wait = &api.WaitStepConfig{DurationMs: durationMs}
	})
}

// AI creates a builder for an analysis prompt step
func AI(name, prompt string) *Step {
	return newStep(name, api.StepKindAI, func(s *api.Step) {
		s.AI = &api.AIStepConfig{Prompt: prompt}
	})
}

// When creates a builder for a conditional step branching on an
// expression over params, vars, and prior step results
func When(name, expression string) *Step {
	return newStep(name, api.StepKindConditional, func(s *api.Step) {
		s.Conditional = &api.ConditionalStepConfig{
			Condition: api.Condition{
				Kind:       api.ConditionKindExpression,
				Expression: expression,
			},
		}
	})
}

// Parallel creates a builder that fans out its children concurrently
func Parallel(name string, children ...*Step) *Step {
	return newStep(name, api.StepKindParallel, func(s *api.Step) {
		s.Parallel = &api.ParallelStepConfig{
			Steps: buildAll(children),
		}
	})
}

func newStep(
	name string, kind api.StepKind, configure func(*api.Step),
) *Step {
	s := api.Step{
		ID:   api.SanitizeID(api.StepID(name)),
		Name: name,
		Kind: kind,
	}
	configure(&s)
	return &Step{step: s}
}

// WithID overrides the identifier derived from the step name
func (s *Step) WithID(id api.StepID) *Step {
	res := *s
	res.step.ID = id
	return &res
}

// WithTimeout bounds the executor call in seconds
func (s *Step) WithTimeout(seconds int64) *Step {
	res := *s
	res.step.TimeoutSeconds = seconds
	return &res
}

// WithRetries applies a fixed-delay retry policy
func (s *Step) WithRetries(count int, delayMs int64) *Step {
	res := *s
	res.step.RetryCount = count
	res.step.RetryDelayMs = delayMs
	return &res
}

// WithRetryPolicy applies a full retry policy, overriding WithRetries
func (s *Step) WithRetryPolicy(p *api.RetryPolicy) *Step {
	res := *s
	policy := *p
	res.step.Retry = &policy
	return &res
}

// ContinueOnError lets the execution proceed past a failure of this step
func (s *Step) ContinueOnError() *Step {
	res := *s
	res.step.ContinueOnError = true
	return &res
}

// WithHeader adds an HTTP request header
func (s *Step) WithHeader(name, value string) *Step {
	res := *s
	cfg := *res.step.HTTP
	cfg.Headers = maps.Clone(cfg.Headers)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	cfg.Headers[name] = value
	res.step.HTTP = &cfg
	return &res
}

// WithBody sets the HTTP request body
func (s *Step) WithBody(body string) *Step {
	res := *s
	cfg := *res.step.HTTP
	cfg.Body = body
	res.step.HTTP = &cfg
	return &res
}

// WithAllowedStatus overrides the HTTP status allow-list
func (s *Step) WithAllowedStatus(statuses ...int) *Step {
	res := *s
	cfg := *res.step.HTTP
	cfg.AllowedStatus = slices.Clone(statuses)
	res.step.HTTP = &cfg
	return &res
}

// WithExpectRows asserts the query's affected row count
func (s *Step) WithExpectRows(n int64) *Step {
	res := *s
	cfg := *res.step.SQL
	cfg.ExpectRows = &n
	res.step.SQL = &cfg
	return &res
}

// WithExpiry bounds how long a manual step waits for a decision
func (s *Step) WithExpiry(seconds int64) *Step {
	res := *s
	cfg := *res.step.Manual
	cfg.ExpiresInSec = seconds
	res.step.Manual = &cfg
	return &res
}

// Then sets the steps run when a conditional evaluates true
func (s *Step) Then(children ...*Step) *Step {
	res := *s
	cfg := *res.step.Conditional
	cfg.OnTrue = buildAll(children)
	res.step.Conditional = &cfg
	return &res
}

// Else sets the steps run when a conditional evaluates false
func (s *Step) Else(children ...*Step) *Step {
	res := *s
	cfg := *res.step.Conditional
	cfg.OnFalse = buildAll(children)
	res.step.Conditional = &cfg
	return &res
}

// FailOnAnyError makes a parallel step fail as soon as any child fails
func (s *Step) FailOnAnyError() *Step {
	res := *s
	cfg := *res.step.Parallel
	cfg.FailOnAnyError = true
	res.step.Parallel = &cfg
	return &res
}

// FirstSuccess completes a parallel step once any child succeeds
func (s *Step) FirstSuccess() *Step {
	res := *s
	cfg := *res.step.Parallel
	cfg.Completion = api.CompletionFirstSuccess
	res.step.Parallel = &cfg
	return &res
}

// Build validates the step and returns the definition
func (s *Step) Build() (*api.Step, error) {
	step := s.step
	if err := step.Validate(); err != nil {
		return nil, err
	}
	return &step, nil
}

func buildAll(children []*Step) []*api.Step {
	steps := make([]*api.Step, len(children))
	for i, c := range children {
		step := c.step
		steps[i] = &step
	}
	return steps
}
