package engine

import (
	"context"
	"fmt"

	"github.com/runhawk/engine/pkg/api"
)

// execScript runs a sandboxed Lua script over the execution context.
// Keys of a returned table are merged into the execution variables so
// later steps and conditions can see them
func (e *Engine) execScript(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := e.lua.ExecuteScript(
		step.Script.Script, scriptInputs(rc),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	for name, value := range output {
		rc.SetVariable(name, value)
	}
	return output, nil
}
