package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/runhawk/engine/pkg/api"
)

// errChildFailed marks a container failure caused by its subtree
var errChildFailed = errors.New("child step failed")

// execConditional evaluates the step's condition and recurses into the
// selected branch with the shared run context. A missing branch is a
// no-op, not an error
func (e *Engine) execConditional(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	cfg := step.Conditional

	result, err := e.evaluateCondition(ctx, rc, &cfg.Condition)
	if err != nil {
		return nil, err
	}

	branch := cfg.OnFalse
	branchName := "on_false"
	if result {
		branch = cfg.OnTrue
		branchName = "on_true"
	}

	rc.Log(ctx, step.ID, api.LogInfo, "Condition evaluated",
		map[string]any{
			"result": result,
			"branch": branchName,
		})

	output := api.Args{
		"condition": result,
		"branch":    branchName,
	}
	if len(branch) == 0 {
		return output, nil
	}

	if err := e.runSteps(ctx, rc, branch); err != nil {
		return output, wrapChildErr(err)
	}
	return output, nil
}

func wrapChildErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isFlowSentinel(err):
		return err
	default:
		return fmt.Errorf("%w: %w", errChildFailed, err)
	}
}
