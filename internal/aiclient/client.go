// Package aiclient calls the analysis backend used by ai steps. The
// backend speaks a small JSON protocol over HTTP
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/runhawk/engine/pkg/api"
	"github.com/runhawk/engine/pkg/log"
)

type (
	// Client submits an analysis prompt and returns the backend's answer
	Client interface {
		Analyze(context.Context, *AnalysisRequest) (*AnalysisResult, error)
	}

	// AnalysisRequest is the outbound payload for one ai step
	AnalysisRequest struct {
		Prompt    string   `json:"prompt"`
		Model     string   `json:"model,omitempty"`
		MaxTokens int      `json:"max_tokens,omitempty"`
		Context   api.Args `json:"context,omitempty"`
	}

	// AnalysisResult is the backend's answer
	AnalysisResult struct {
		Text  string `json:"text"`
		Model string `json:"model,omitempty"`
		Error string `json:"error,omitempty"`
	}

	// HTTPClient is the production client for the analysis backend
	HTTPClient struct {
		httpClient *http.Client
		endpoint   string
		apiKey     string
	}
)

var (
	ErrNoEndpoint    = errors.New("no analysis endpoint configured")
	ErrBackendError  = errors.New("analysis backend error")
	ErrEmptyResponse = errors.New("analysis backend returned no text")
)

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given backend endpoint
func NewHTTPClient(
	endpoint, apiKey string, timeout time.Duration,
) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// Analyze posts the request and decodes the backend's JSON answer. A
// malformed or error response is returned as an error, never a panic
func (c *HTTPClient) Analyze(
	ctx context.Context, req *AnalysisRequest,
) (*AnalysisResult, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("Analysis request failed",
			slog.Duration("duration", time.Since(start)),
			log.Error(err))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: HTTP %d", ErrBackendError, resp.StatusCode,
		)
	}

	var result AnalysisResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendError, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrBackendError, result.Error)
	}
	if result.Text == "" {
		return nil, ErrEmptyResponse
	}
	return &result, nil
}
