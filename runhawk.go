// Package engine identifies the runhawk runbook execution service
package engine

const (
	// Name is the service identifier used in logs and health responses
	Name = "runhawk"

	// Version is the service version reported by the HTTP API
	Version = "0.1.0"
)
