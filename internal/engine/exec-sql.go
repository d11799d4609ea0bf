package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/runhawk/engine/pkg/api"
)

var ErrRowCountMismatch = errors.New("row count assertion failed")

// execSQL runs a sql step through the injected runner. String params
// pass through the render pipeline so secrets and variables can be
// bound without appearing in the runbook document
func (e *Engine) execSQL(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	if e.sql == nil {
		return nil, fmt.Errorf("%w: %w", errConfig, ErrNoSQLClient)
	}
	cfg := step.SQL

	params := make([]any, len(cfg.Params))
	for i, p := range cfg.Params {
		if s, ok := p.(string); ok {
			rendered, err := rc.Render(ctx, s)
			if err != nil {
				return nil, err
			}
			params[i] = rendered
			continue
		}
		params[i] = p
	}

	result, err := e.sql.Run(ctx, cfg.Query, params)
	if err != nil {
		return nil, err
	}

	output := api.Args{
		"rows_affected": result.RowsAffected,
	}
	if len(result.Columns) > 0 {
		output["columns"] = result.Columns
		output["rows"] = result.Rows
	}

	if cfg.ExpectRows != nil && result.RowsAffected != *cfg.ExpectRows {
		return output, fmt.Errorf(
			"%w: expected %d, got %d",
			ErrRowCountMismatch, *cfg.ExpectRows, result.RowsAffected,
		)
	}
	return output, nil
}
