// Package engine is the runbook orchestrator. It walks a runbook's
// step tree for one execution at a time, persisting every attempt to
// the store and publishing progress on the event bus.
//
// The engine owns all control-flow semantics: per-step timeout and
// retry, pause-for-approval on manual steps, conditional and parallel
// recursion, cooperative cancellation at step boundaries, and
// best-effort rollback on failure. Step side effects are delegated to
// injected clients so the orchestration core stays deterministic and
// testable
package engine
