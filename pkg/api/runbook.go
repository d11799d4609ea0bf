package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// Runbook is a versioned, declarative workflow definition. A version
	// is immutable once executions reference it; updates fork a new
	// version row linked by ParentID
	Runbook struct {
		ID          RunbookID    `json:"id" yaml:"id"`
		Name        string       `json:"name" yaml:"name"`
		Environment string       `json:"environment" yaml:"environment"`
		Steps       []*Step      `json:"steps" yaml:"steps"`
		Parameters  []*ParamDecl `json:"parameters,omitempty" yaml:"parameters,omitempty"`
		Variables   []*VarDecl   `json:"variables,omitempty" yaml:"variables,omitempty"`
		Rollback    []*Step      `json:"rollback,omitempty" yaml:"rollback,omitempty"`
		Retry       *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
		TimeoutSec  int64        `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
		Version     int          `json:"version" yaml:"version"`
		ParentID    RunbookID    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
		IsLatest    bool         `json:"is_latest" yaml:"is_latest"`
		CreatedAt   time.Time    `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	}

	// ParamDecl declares an input parameter an execution may supply
	ParamDecl struct {
		Name     string `json:"name" yaml:"name"`
		Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
		Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
	}

	// VarDecl declares a runbook variable with its initial value
	VarDecl struct {
		Name  string `json:"name" yaml:"name"`
		Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	}
)

var (
	ErrRunbookNameEmpty   = errors.New("runbook name empty")
	ErrRunbookNoSteps     = errors.New("runbook has no steps")
	ErrDuplicateStepID    = errors.New("duplicate step id")
	ErrParamNameEmpty     = errors.New("parameter name empty")
	ErrVariableNameEmpty  = errors.New("variable name empty")
	ErrMissingParam       = errors.New("missing required parameter")
)

// Validate checks the runbook definition, including every step in the
// tree and rollback list. Duplicate step ids anywhere in the document
// are a configuration error surfaced here, never at run time
func (r *Runbook) Validate() error {
	if r.Name == "" {
		return ErrRunbookNameEmpty
	}
	if len(r.Steps) == 0 {
		return ErrRunbookNoSteps
	}
	for _, p := range r.Parameters {
		if p.Name == "" {
			return ErrParamNameEmpty
		}
	}
	for _, v := range r.Variables {
		if v.Name == "" {
			return ErrVariableNameEmpty
		}
	}

	for _, s := range r.Steps {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	for _, s := range r.Rollback {
		if err := s.Validate(); err != nil {
			return err
		}
	}

	seen := map[StepID]struct{}{}
	if err := checkUniqueIDs(r.Steps, seen); err != nil {
		return err
	}
	return checkUniqueIDs(r.Rollback, seen)
}

// ResolveParams merges supplied input parameters over declared defaults
// and reports any missing required parameter
func (r *Runbook) ResolveParams(input Args) (Args, error) {
	resolved := Args{}
	for _, p := range r.Parameters {
		if p.Default != nil {
			resolved[p.Name] = p.Default
		}
	}
	for name, value := range input {
		resolved[name] = value
	}
	for _, p := range r.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := resolved[p.Name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
		}
	}
	return resolved, nil
}

// InitialVars returns the variable map seeded from the declarations
func (r *Runbook) InitialVars() Args {
	vars := Args{}
	for _, v := range r.Variables {
		vars[v.Name] = v.Value
	}
	return vars
}

// TotalSteps returns the flattened step count of the runbook, computed
// once per execution and never recomputed mid-run
func (r *Runbook) TotalSteps() int {
	return FlattenCount(r.Steps)
}

// Fork produces the next version of a runbook from an updated
// definition, linking it to its parent lineage
func (r *Runbook) Fork(updated *Runbook) *Runbook {
	next := *updated
	next.ID = NewRunbookID()
	next.ParentID = r.ID
	next.Version = r.Version + 1
	next.IsLatest = true
	next.CreatedAt = time.Now()
	return &next
}

func checkUniqueIDs(steps []*Step, seen map[StepID]struct{}) error {
	for _, s := range steps {
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateStepID, s.ID)
		}
		seen[s.ID] = struct{}{}
		for _, list := range s.Children() {
			if err := checkUniqueIDs(list, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
