package engine

import (
	"context"
	"fmt"

	"github.com/runhawk/engine/internal/aiclient"
	"github.com/runhawk/engine/pkg/api"
)

// execAI submits the rendered prompt to the analysis backend along
// with a snapshot of the execution context
func (e *Engine) execAI(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	if e.ai == nil {
		return nil, fmt.Errorf("%w: %w", errConfig, ErrNoAIClient)
	}
	cfg := step.AI

	prompt, err := rc.Render(ctx, cfg.Prompt)
	if err != nil {
		return nil, err
	}

	result, err := e.ai.Analyze(ctx, &aiclient.AnalysisRequest{
		Prompt:    prompt,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Context: api.Args{
			"params": map[string]any(rc.params),
			"vars":   map[string]any(rc.varsSnapshot()),
		},
	})
	if err != nil {
		return nil, err
	}

	return api.Args{
		"text":  result.Text,
		"model": result.Model,
	}, nil
}
