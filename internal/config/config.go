// Package config holds runtime configuration for the runbook engine,
// populated from defaults and environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type (
	// Config holds configuration settings for the engine and API server
	Config struct {
		// API server
		APIHost  string
		APIPort  int
		LogLevel string

		// Store
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string

		// Outbound clients
		DatabaseURL   string
		AIEndpoint    string
		AIAPIKey      string
		ArchiveBucket string

		// Engine
		StepTimeoutSec        int64
		HTTPClientTimeout     time.Duration
		ApprovalSweepInterval time.Duration
		ShutdownTimeout       time.Duration
	}
)

const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "runhawk"

	DefaultStepTimeoutSec        = int64(300)
	MaxStepTimeoutSec            = int64(24 * 60 * 60)
	DefaultHTTPClientTimeout     = 30 * time.Second
	DefaultApprovalSweepInterval = time.Minute
	DefaultShutdownTimeout       = 10 * time.Second
)

var (
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidStepTimeout = errors.New("step timeout must be positive")
	ErrStepTimeoutTooBig  = errors.New("step timeout too large")
)

// NewDefaultConfig creates a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:               DefaultAPIHost,
		APIPort:               DefaultAPIPort,
		LogLevel:              "info",
		RedisAddr:             DefaultRedisAddr,
		RedisDB:               DefaultRedisDB,
		RedisPrefix:           DefaultRedisPrefix,
		StepTimeoutSec:        DefaultStepTimeoutSec,
		HTTPClientTimeout:     DefaultHTTPClientTimeout,
		ApprovalSweepInterval: DefaultApprovalSweepInterval,
		ShutdownTimeout:       DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		c.DatabaseURL = dbURL
	}
	if endpoint := os.Getenv("AI_ENDPOINT"); endpoint != "" {
		c.AIEndpoint = endpoint
	}
	if key := os.Getenv("AI_API_KEY"); key != "" {
		c.AIAPIKey = key
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET"); bucket != "" {
		c.ArchiveBucket = bucket
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.RedisDB, 0, 15); err != nil {
		return err
	}

	var timeoutSec int
	if err := loadEnvInt(
		"STEP_TIMEOUT_SEC", &timeoutSec, 0, int(MaxStepTimeoutSec),
	); err != nil {
		return err
	}
	if timeoutSec > 0 {
		c.StepTimeoutSec = int64(timeoutSec)
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.StepTimeoutSec <= 0 {
		return ErrInvalidStepTimeout
	}
	if c.StepTimeoutSec > MaxStepTimeoutSec {
		return fmt.Errorf("%w: %d", ErrStepTimeoutTooBig, c.StepTimeoutSec)
	}
	return nil
}

func loadEnvInt(name string, target *int, minVal, maxVal int) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if value < minVal || value > maxVal {
		return fmt.Errorf(
			"%s out of range [%d, %d]: %d", name, minVal, maxVal, value,
		)
	}
	*target = value
	return nil
}
