package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runhawk/engine/pkg/api"
)

const validYAML = `
name: restart-payments
environment: production
parameters:
  - name: service
    required: true
  - name: region
    default: eu-west
variables:
  - name: attempts
    value: 0
steps:
  - id: drain
    name: Drain traffic
    kind: http
    http:
      method: POST
      url: https://lb.internal/drain
  - id: confirm
    name: Confirm restart
    kind: manual
    manual:
      approvers: [oncall]
      message: Restart {{params.service}}?
rollback:
  - id: undrain
    name: Restore traffic
    kind: http
    http:
      method: POST
      url: https://lb.internal/undrain
`

func TestParseValidYAML(t *testing.T) {
	rb, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "restart-payments", rb.Name)
	assert.Equal(t, "production", rb.Environment)
	assert.Len(t, rb.Steps, 2)
	assert.Len(t, rb.Rollback, 1)
	assert.Equal(t, api.StepKindManual, rb.Steps[1].Kind)
	assert.Equal(t, []string{"oncall"}, rb.Steps[1].Manual.Approvers)

	assert.NotEmpty(t, rb.ID)
	assert.Equal(t, 1, rb.Version)
	assert.True(t, rb.IsLatest)
	assert.False(t, rb.CreatedAt.IsZero())
}

func TestParseAcceptsJSON(t *testing.T) {
	doc := `{
		"name": "json-runbook",
		"steps": [
			{"id": "w", "name": "Pause", "kind": "wait",
			 "wait": {"duration_ms": 100}}
		]
	}`
	rb, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "json-runbook", rb.Name)
	assert.Equal(t, int64(100), rb.Steps[0].Wait.DurationMs)
}

func TestParseEmptyDocument(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestParseMalformedDocument(t *testing.T) {
	_, err := Parse([]byte("steps: [unterminated"))
	assert.ErrorIs(t, err, ErrBadDocument)
}

func TestParseDuplicateStepIDs(t *testing.T) {
	doc := `
name: dup
steps:
  - id: a
    name: First
    kind: wait
    wait: {duration_ms: 10}
  - id: a
    name: Second
    kind: wait
    wait: {duration_ms: 10}
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, api.ErrDuplicateStepID)
}

func TestParseUnknownKind(t *testing.T) {
	doc := `
name: bad-kind
steps:
  - id: a
    name: Mystery
    kind: carrier-pigeon
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, api.ErrInvalidStepKind)
}

func TestParseShellKindReserved(t *testing.T) {
	doc := `
name: no-shell
steps:
  - id: a
    name: Run command
    kind: shell
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, api.ErrStepKindReserved)
}

func TestApplyDefaultsPreservesSuppliedFields(t *testing.T) {
	rb := &api.Runbook{ID: "fixed", Version: 3}
	ApplyDefaults(rb)
	assert.Equal(t, api.RunbookID("fixed"), rb.ID)
	assert.Equal(t, 3, rb.Version)
	assert.False(t, rb.IsLatest)
}
