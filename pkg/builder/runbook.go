package builder

import (
	"slices"

	"github.com/runhawk/engine/pkg/api"
)

// Runbook is a builder for a full runbook definition
type Runbook struct {
	name        string
	environment string
	parameters  []*api.ParamDecl
	variables   []*api.VarDecl
	steps       []*Step
	rollback    []*Step
	retry       *api.RetryPolicy
	timeoutSec  int64
}

// NewRunbook creates a runbook builder with the given name
func NewRunbook(name string) *Runbook {
	return &Runbook{name: name}
}

// WithEnvironment sets the environment the runbook targets
func (r *Runbook) WithEnvironment(env string) *Runbook {
	res := *r
	res.environment = env
	return &res
}

// Required declares a parameter every execution must supply
func (r *Runbook) Required(name string) *Runbook {
	return r.param(&api.ParamDecl{Name: name, Required: true})
}

// Optional declares a parameter with a default value
func (r *Runbook) Optional(name string, defaultValue any) *Runbook {
	return r.param(&api.ParamDecl{Name: name, Default: defaultValue})
}

// WithVariable declares a variable with its initial value
func (r *Runbook) WithVariable(name string, value any) *Runbook {
	res := *r
	res.variables = append(
		slices.Clone(r.variables),
		&api.VarDecl{Name: name, Value: value},
	)
	return &res
}

// Steps appends steps to the main sequence
func (r *Runbook) Steps(steps ...*Step) *Runbook {
	res := *r
	res.steps = append(slices.Clone(r.steps), steps...)
	return &res
}

// Rollback appends steps to the rollback sequence, run in order after
// a main-sequence failure
func (r *Runbook) Rollback(steps ...*Step) *Runbook {
	res := *r
	res.rollback = append(slices.Clone(r.rollback), steps...)
	return &res
}

// WithRetryPolicy sets the runbook-level default retry policy
func (r *Runbook) WithRetryPolicy(p *api.RetryPolicy) *Runbook {
	res := *r
	policy := *p
	res.retry = &policy
	return &res
}

// WithTimeout bounds the whole execution in seconds
func (r *Runbook) WithTimeout(seconds int64) *Runbook {
	res := *r
	res.timeoutSec = seconds
	return &res
}

// Build assembles and validates the runbook definition
func (r *Runbook) Build() (*api.Runbook, error) {
	rb := &api.Runbook{
		ID:          api.NewRunbookID(),
		Name:        r.name,
		Environment: r.environment,
		Parameters:  slices.Clone(r.parameters),
		Variables:   slices.Clone(r.variables),
		Steps:       buildAll(r.steps),
		Rollback:    buildAll(r.rollback),
		Retry:       r.retry,
		TimeoutSec:  r.timeoutSec,
		Version:     1,
		IsLatest:    true,
	}
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	return rb, nil
}

func (r *Runbook) param(p *api.ParamDecl) *Runbook {
	res := *r
	res.parameters = append(slices.Clone(r.parameters), p)
	return &res
}
