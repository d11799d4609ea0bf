// Package api defines the shared data model of the runbook engine:
// runbooks, steps, executions, step results, approvals, log entries,
// and the event and message types exchanged with observers
package api
