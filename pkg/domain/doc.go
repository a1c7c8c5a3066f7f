// Package domain holds the pure data model of the engine: the declarative
// flow description, per-session state, and the session event union.
// It has no dependencies on storage, transport or the orchestrator.
package domain
