package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/runhawk/engine/pkg/api"
)

// execParallel fans the child steps out on goroutines and waits for
// all of them before applying the completion policy. Children share
// the run context, so each records its own result rows at its own
// flattened index
func (e *Engine) execParallel(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	cfg := step.Parallel

	childErrs := make([]error, len(cfg.Steps))
	var wg sync.WaitGroup
	for i, child := range cfg.Steps {
		wg.Add(1)
		go func(i int, child *api.Step) {
			defer wg.Done()
			childErrs[i] = e.runSteps(ctx, rc, []*api.Step{child})
		}(i, child)
	}
	wg.Wait()

	var failed []string
	succeeded := 0
	for i, err := range childErrs {
		switch {
		case err == nil:
			succeeded++
		case isFlowSentinel(err):
			// a paused or cancelled branch takes precedence over any
			// sibling failure
			return nil, err
		default:
			failed = append(failed, string(cfg.Steps[i].ID))
		}
	}

	output := api.Args{
		"succeeded": succeeded,
		"failed":    len(failed),
	}

	switch {
	case len(failed) == 0:
		return output, nil
	case cfg.FailOnAnyError:
		return output, fmt.Errorf(
			"%w: %s: %w",
			errChildFailed, failed[0], errors.Join(pruneErrs(childErrs)...),
		)
	case cfg.CompletionPolicy() == api.CompletionFirstSuccess &&
		succeeded > 0:
		return output, nil
	case succeeded == 0:
		return output, fmt.Errorf(
			"%w: all %d children failed: %w",
			errChildFailed, len(failed), errors.Join(pruneErrs(childErrs)...),
		)
	default:
		// aggregate mode tolerates partial failure
		return output, nil
	}
}

func pruneErrs(errs []error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
