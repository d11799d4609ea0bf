package sqlclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runhawk/engine/internal/sqlclient"
)

func TestNewPgxRunnerNoDatabase(t *testing.T) {
	_, err := sqlclient.NewPgxRunner(context.Background(), "")
	assert.ErrorIs(t, err, sqlclient.ErrNoDatabase)
}

func TestNewPgxRunnerBadURL(t *testing.T) {
	_, err := sqlclient.NewPgxRunner(
		context.Background(), "not-a-postgres-url://",
	)
	assert.Error(t, err)
}
