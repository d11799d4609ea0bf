// Package server exposes the runbook engine over HTTP. It provides
// REST endpoints for runbook and execution management, approval
// decisions, and a WebSocket feed of per-execution events
package server
