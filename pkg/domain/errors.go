package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID has no stored state.
	ErrSessionNotFound = errors.New("session not found")

	// ErrFlowNotFound is returned when a persisted flow record is missing.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrLockHeld is returned when the per-session lock is already taken.
	// Callers may retry; the lease expires passively if the holder dies.
	ErrLockHeld = errors.New("session lock held")

	// ErrToolNotFound is returned when a flow names a tool that has no
	// registered worker.
	ErrToolNotFound = errors.New("tool not registered")
)
