package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/runhawk/engine/internal/util"
)

type (
	// BackoffType selects the delay curve between retry attempts
	BackoffType string

	// RetryPolicy governs engine-level retries around an executor call.
	// Retries are always step-local; an execution is never retried as a
	// whole
	RetryPolicy struct {
		MaxRetries   int         `json:"max_retries" yaml:"max_retries"`
		BackoffMs    int64       `json:"backoff_ms,omitempty" yaml:"backoff_ms,omitempty"`
		MaxBackoffMs int64       `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
		BackoffType  BackoffType `json:"backoff_type,omitempty" yaml:"backoff_type,omitempty"`
	}
)

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

var (
	ErrNegativeMaxRetries = errors.New("max_retries cannot be negative")
	ErrNegativeBackoff    = errors.New("backoff_ms cannot be negative")
	ErrMaxBackoffTooSmall = errors.New("max_backoff_ms must be >= backoff_ms")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
)

var validBackoffTypes = util.SetOf(
	BackoffFixed,
	BackoffLinear,
	BackoffExponential,
)

// Validate checks the policy fields
func (p *RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return ErrNegativeMaxRetries
	}
	if p.BackoffMs < 0 {
		return ErrNegativeBackoff
	}
	if p.MaxBackoffMs != 0 && p.MaxBackoffMs < p.BackoffMs {
		return ErrMaxBackoffTooSmall
	}
	if p.BackoffType != "" && !validBackoffTypes.Contains(p.BackoffType) {
		return fmt.Errorf("%w: %s", ErrInvalidBackoffType, p.BackoffType)
	}
	return nil
}

// Delay returns the wait before the given retry attempt. The first
// retry is attempt 1. The curve is fixed, linear, or exponential over
// BackoffMs, capped at MaxBackoffMs when set
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BackoffMs <= 0 {
		return 0
	}

	var ms int64
	switch p.BackoffType {
	case BackoffLinear:
		ms = p.BackoffMs * int64(attempt)
	case BackoffExponential:
		ms = p.BackoffMs
		for i := 1; i < attempt; i++ {
			ms *= 2
			if p.MaxBackoffMs > 0 && ms >= p.MaxBackoffMs {
				ms = p.MaxBackoffMs
				break
			}
		}
	default:
		ms = p.BackoffMs
	}

	if p.MaxBackoffMs > 0 && ms > p.MaxBackoffMs {
		ms = p.MaxBackoffMs
	}
	return time.Duration(ms) * time.Millisecond
}

// StepRetryPolicy resolves the effective retry policy for a step: the
// step's own policy when declared, otherwise a fixed-delay policy built
// from the legacy retry_count and retry_delay_ms fields
func StepRetryPolicy(s *Step) *RetryPolicy {
	if s.Retry != nil {
		return s.Retry
	}
	return &RetryPolicy{
		MaxRetries:  s.RetryCount,
		BackoffMs:   s.RetryDelayMs,
		BackoffType: BackoffFixed,
	}
}
