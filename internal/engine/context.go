package engine

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/runhawk/engine/pkg/api"
)

// runContext is the shared state of one execution run: resolved
// parameters, mutable variables, the latest result per step, and the
// flattened index assignment. Parallel branches share one instance, so
// mutable state is guarded
type runContext struct {
	engine *Engine

	// execution is the record as loaded at runner start. Parallel
	// branches read it concurrently, so it is never reassigned; status
	// rechecks and progress updates go through the store
	execution *api.Execution
	runbook   *api.Runbook

	params  api.Args
	indexes map[api.StepID]int

	// set once between the main walk and the rollback walk
	rollback bool

	mu      sync.Mutex
	vars    api.Args
	results map[api.StepID]*api.StepResult
	secrets map[string]string
}

var renderToken = regexp.MustCompile(
	`\{\{\s*(params|vars|secrets)\.([A-Za-z0-9_.-]+)\s*}}`,
)

func newRunContext(
	e *Engine, rb *api.Runbook, ex *api.Execution,
	prior []*api.StepResult,
) *runContext {
	rc := &runContext{
		engine:    e,
		execution: ex,
		runbook:   rb,
		params:    ex.Params,
		vars:      rb.InitialVars(),
		indexes:   map[api.StepID]int{},
		results:   map[api.StepID]*api.StepResult{},
		secrets:   map[string]string{},
	}

	next := assignIndexes(rb.Steps, rc.indexes, 0)
	assignIndexes(rb.Rollback, rc.indexes, next)

	// latest attempt wins
	for _, sr := range prior {
		current, ok := rc.results[sr.StepID]
		if !ok || sr.Attempt >= current.Attempt {
			rc.results[sr.StepID] = sr
		}
	}
	return rc
}

// assignIndexes numbers a step tree depth-first, matching the order a
// sequential walk visits steps. Returns the next free index
func assignIndexes(
	steps []*api.Step, indexes map[api.StepID]int, next int,
) int {
	for _, s := range steps {
		indexes[s.ID] = next
		next++
		for _, list := range s.Children() {
			next = assignIndexes(list, indexes, next)
		}
	}
	return next
}

// StepIndex returns the flattened index of a step, or -1 for a step id
// not in this runbook
func (rc *runContext) StepIndex(id api.StepID) int {
	idx, ok := rc.indexes[id]
	if !ok {
		return -1
	}
	return idx
}

// LatestResult returns the most recent attempt row recorded for a step
func (rc *runContext) LatestResult(id api.StepID) *api.StepResult {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.results[id]
}

func (rc *runContext) recordResult(sr *api.StepResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	current, ok := rc.results[sr.StepID]
	if !ok || sr.Attempt >= current.Attempt {
		rc.results[sr.StepID] = sr
	}
}

// Variable returns the current value of an execution variable
func (rc *runContext) Variable(name string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	value, ok := rc.vars[name]
	return value, ok
}

// SetVariable updates an execution variable
func (rc *runContext) SetVariable(name string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.vars[name] = value
}

func (rc *runContext) varsSnapshot() api.Args {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	snapshot := make(api.Args, len(rc.vars))
	for k, v := range rc.vars {
		snapshot[k] = v
	}
	return snapshot
}

func (rc *runContext) outputsSnapshot() api.Args {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	outputs := make(api.Args, len(rc.results))
	for id, sr := range rc.results {
		if sr.Output != nil {
			outputs[string(id)] = map[string]any(sr.Output)
		}
	}
	return outputs
}

// Secret resolves a named secret, caching it for the life of the run
func (rc *runContext) Secret(
	ctx context.Context, name string,
) (string, error) {
	rc.mu.Lock()
	if value, ok := rc.secrets[name]; ok {
		rc.mu.Unlock()
		return value, nil
	}
	rc.mu.Unlock()

	value, err := rc.engine.secrets.Resolve(ctx, name)
	if err != nil {
		return "", err
	}

	rc.mu.Lock()
	rc.secrets[name] = value
	rc.mu.Unlock()
	return value, nil
}

// Render substitutes {{params.x}}, {{vars.x}}, and {{secrets.x}}
// tokens in a configuration string
func (rc *runContext) Render(
	ctx context.Context, s string,
) (string, error) {
	var firstErr error
	rendered := renderToken.ReplaceAllStringFunc(s, func(token string) string {
		m := renderToken.FindStringSubmatch(token)
		scope, name := m[1], m[2]

		var value any
		var ok bool
		switch scope {
		case "params":
			value, ok = rc.params[name]
		case "vars":
			value, ok = rc.Variable(name)
		case "secrets":
			secret, err := rc.Secret(ctx, name)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return token
			}
			value, ok = secret, true
		}
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf(
					"%w: unresolved reference %s", errConfig, token,
				)
			}
			return token
		}
		return fmt.Sprintf("%v", value)
	})
	return rendered, firstErr
}

// Log appends an execution log entry to the store and publishes it on
// the event bus
func (rc *runContext) Log(
	ctx context.Context, stepID api.StepID, level api.LogLevel,
	message string, metadata map[string]any,
) {
	rc.engine.appendExecutionLog(
		ctx, rc.execution.ID, stepID, level, message, metadata,
	)
}
