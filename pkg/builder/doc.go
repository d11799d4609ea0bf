// Package builder provides fluent construction of runbook definitions.
// Builders are immutable; every method returns a copy, so partial
// definitions can be shared and specialized without interference. Build
// validates the assembled definition before returning it
package builder
