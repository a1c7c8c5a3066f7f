package ports

import (
	"context"

	"github.com/convoflow/convoflow/pkg/domain"
)

// Subscription is a live feed of one session's events, opened against the
// store's pub/sub channel. Close releases the underlying subscription.
type Subscription interface {
	Events() <-chan domain.Event
	Close() error
}

// SessionStore persists per-session state and flow definition, owns the
// monotonic event counter and the append-only event log, and exposes the
// real-time pub/sub channel.
//
// The derived operations (UpdateContext, TransitionToState, StoreIntent,
// StoreToolCall, StoreToolResult) mutate the in-memory snapshot, persist
// it, and emit the correlated event in one call. They must only be
// invoked by the current lock holder.
type SessionStore interface {
	// CreateSession writes the initial state and binds the flow config.
	// The flow is immutable for the session's lifetime.
	CreateSession(ctx context.Context, state *domain.SessionState, flow *domain.FlowConfig) error

	// LoadState returns domain.ErrSessionNotFound for unknown sessions.
	LoadState(ctx context.Context, sessionID string) (*domain.SessionState, error)

	SaveState(ctx context.Context, state *domain.SessionState) error

	LoadFlow(ctx context.Context, sessionID string) (*domain.FlowConfig, error)

	// DeleteSession drops every key owned by the session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Emit stamps the event with the next sequence number, appends it to
	// the durable log and publishes it. The stamped event is returned.
	Emit(ctx context.Context, sessionID string, ev domain.Event) (domain.Event, error)

	// EventsSince range-reads the log for events with seq > since.
	EventsSince(ctx context.Context, sessionID string, since int64) ([]domain.Event, error)

	// Subscribe opens a live feed of the session's published events.
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)

	// WithLock runs fn while holding the per-session lock. It fails fast
	// with domain.ErrLockHeld when the lock is taken. Lock scopes must
	// not nest on the same session.
	WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error

	// UpdateContext deep-merges patch into the session context and emits
	// state.updated.
	UpdateContext(ctx context.Context, state *domain.SessionState, patch map[string]any) error

	// TransitionToState records the state change and emits fsm.transition.
	TransitionToState(ctx context.Context, state *domain.SessionState, next string) error

	// StoreIntent records the classified intent without emitting.
	StoreIntent(ctx context.Context, state *domain.SessionState, intent domain.IntentResult) error

	// StoreToolCall records the call and emits tool.call.
	StoreToolCall(ctx context.Context, state *domain.SessionState, call domain.ToolCall) error

	// StoreToolResult records the result and emits tool.result.
	StoreToolResult(ctx context.Context, state *domain.SessionState, result domain.ToolResult) error
}
