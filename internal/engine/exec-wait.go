package engine

import (
	"context"
	"time"

	"github.com/runhawk/engine/pkg/api"
)

// execWait sleeps for the configured duration, honoring cancellation
func (e *Engine) execWait(
	ctx context.Context, _ *runContext, step *api.Step,
) (api.Args, error) {
	d := time.Duration(step.Wait.DurationMs) * time.Millisecond
	if err := sleepCtx(ctx, d); err != nil {
		return nil, err
	}
	return api.Args{"waited_ms": step.Wait.DurationMs}, nil
}
