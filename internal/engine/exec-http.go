package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/runhawk/engine/pkg/api"
)

var (
	ErrHTTPStatus  = errors.New("http status not allowed")
	ErrUnreachable = errors.New("http endpoint unreachable")
)

// execHTTP performs the outbound call for an http step. The response
// body is parsed as JSON when possible and kept as raw text otherwise;
// a parse failure is never a step failure on its own
func (e *Engine) execHTTP(
	ctx context.Context, rc *runContext, step *api.Step,
) (api.Args, error) {
	cfg := step.HTTP

	url, err := rc.Render(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	body, err := rc.Render(ctx, cfg.Body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(
		ctx, httpMethod(cfg), url, reader,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	for name, value := range cfg.Headers {
		rendered, err := rc.Render(ctx, value)
		if err != nil {
			return nil, err
		}
		req.Header.Set(name, rendered)
	}
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	output := api.Args{
		"status": resp.StatusCode,
		"body":   parseBody(respBody),
	}

	if !cfg.AllowedStatusSet().Contains(resp.StatusCode) {
		return output, fmt.Errorf(
			"%w: %d", ErrHTTPStatus, resp.StatusCode,
		)
	}
	return output, nil
}

func httpMethod(cfg *api.HTTPStepConfig) string {
	if cfg.Method == "" {
		return api.DefaultHTTPMethod
	}
	return strings.ToUpper(cfg.Method)
}

func parseBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if gjson.ValidBytes(body) {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}
