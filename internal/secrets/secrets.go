// Package secrets resolves named secrets referenced by runbook steps.
// Values are fetched at use time and never persisted with execution
// records
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

type (
	// Resolver resolves a secret name to its current value
	Resolver interface {
		Resolve(context.Context, string) (string, error)
	}

	// EnvResolver reads secrets from prefixed environment variables
	EnvResolver struct {
		prefix string
	}

	// Static serves secrets from a fixed map, for tests
	Static map[string]string
)

const DefaultEnvPrefix = "RUNHAWK_SECRET_"

var ErrSecretNotFound = errors.New("secret not found")

var (
	_ Resolver = (*EnvResolver)(nil)
	_ Resolver = Static(nil)
)

// NewEnvResolver creates a resolver backed by environment variables.
// The secret name is upper-cased and appended to the prefix
func NewEnvResolver(prefix string) *EnvResolver {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvResolver{prefix: prefix}
}

func (r *EnvResolver) Resolve(
	_ context.Context, name string,
) (string, error) {
	key := r.prefix + strings.ToUpper(name)
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

func (s Static) Resolve(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}
