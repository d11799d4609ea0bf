package loader

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runhawk/engine/pkg/api"
)

var (
	ErrEmptyDocument = errors.New("runbook document empty")
	ErrBadDocument   = errors.New("runbook document malformed")
)

// Parse decodes a runbook definition from YAML or JSON, applies the
// defaults a freshly submitted definition is entitled to, and validates
// the result. JSON documents parse through the YAML decoder unchanged
func Parse(data []byte) (*api.Runbook, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	var rb api.Runbook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadDocument, err)
	}
	ApplyDefaults(&rb)
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	return &rb, nil
}

// ApplyDefaults fills the bookkeeping fields a submitted definition
// normally omits. Fields the caller supplied are left alone so stored
// documents round-trip
func ApplyDefaults(rb *api.Runbook) {
	if rb.ID == "" {
		rb.ID = api.NewRunbookID()
	}
	if rb.Version == 0 {
		rb.Version = 1
		rb.IsLatest = true
	}
	if rb.CreatedAt.IsZero() {
		rb.CreatedAt = time.Now()
	}
}
