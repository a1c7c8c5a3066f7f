package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/convoflow/convoflow/internal/metrics"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

// DefaultTimeout bounds a tool invocation when the flow declares no
// timeout_ms of its own.
const DefaultTimeout = 30 * time.Second

// Background completions contend with whatever operation currently
// holds the session lock; they wait their turn within this window.
const (
	lockRetryWindow   = 5 * time.Second
	lockRetryInterval = 25 * time.Millisecond
)

// ResultSink receives successful tool results. The orchestrator
// implements it; the indirection exists because the executor is wired
// before the orchestrator.
type ResultSink interface {
	ProcessToolResult(ctx context.Context, sessionID string, result domain.ToolResult) error
}

// Executor dispatches tool calls declared by flow actions. Dispatch is
// called while the session lock is held: it persists the tool.call and
// returns immediately, the worker runs in the background and re-enters
// the orchestrator under a fresh lock when it finishes.
type Executor struct {
	store    ports.SessionStore
	registry *Registry
	sink     ResultSink
	logger   *slog.Logger
}

func NewExecutor(store ports.SessionStore, registry *Registry, logger *slog.Logger) *Executor {
	return &Executor{store: store, registry: registry, logger: logger}
}

// SetSink binds the result sink. Must be called before any Dispatch.
func (e *Executor) SetSink(sink ResultSink) { e.sink = sink }

// Dispatch records and launches one tool invocation.
func (e *Executor) Dispatch(ctx context.Context, state *domain.SessionState, name string, decl domain.Tool, args map[string]any) error {
	call := domain.ToolCall{
		ID:        uuid.NewString(),
		Name:      name,
		Args:      args,
		Timestamp: time.Now(),
	}
	if err := e.store.StoreToolCall(ctx, state, call); err != nil {
		return err
	}
	metrics.ToolCalls.WithLabelValues(name).Inc()

	if err := validateArgs(decl.ArgsSchema, args); err != nil {
		e.fail(ctx, state.SessionID, call, fmt.Sprintf("invalid args: %v", err))
		return nil
	}

	worker, err := e.registry.Lookup(name)
	if err != nil {
		e.fail(ctx, state.SessionID, call, fmt.Sprintf("no worker registered for tool %q", name))
		return nil
	}

	timeout := DefaultTimeout
	if ms, ok := decl.TimeoutNumeric(); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	// Detach from the lock-scoped context: the invocation outlives it.
	bg := context.WithoutCancel(ctx)
	go e.run(bg, worker, state.SessionID, call, timeout)
	return nil
}

func (e *Executor) run(ctx context.Context, worker ports.ToolWorker, sessionID string, call domain.ToolCall, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := worker.Execute(runCtx, sessionID, call.ID, call.Args)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.failDetached(ctx, sessionID, call, out.err.Error())
			return
		}
		e.deliver(ctx, sessionID, call, out.result)
	case <-runCtx.Done():
		// The worker ignored its context; abandon it.
		e.failDetached(ctx, sessionID, call, fmt.Sprintf("tool %s timed out after %s", call.Name, timeout))
	}
}

// deliver hands the result to the sink under a fresh lock. The
// dispatching operation may still hold the session lock when a fast
// worker finishes, so ErrLockHeld is retried for a bounded window.
func (e *Executor) deliver(ctx context.Context, sessionID string, call domain.ToolCall, result map[string]any) {
	toolResult := domain.ToolResult{
		CallID:    call.ID,
		Result:    result,
		Timestamp: time.Now(),
	}
	err := retryOnLockHeld(ctx, func() error {
		return e.sink.ProcessToolResult(ctx, sessionID, toolResult)
	})
	if err != nil {
		e.logger.Error("processing tool result failed",
			"session", sessionID, "tool", call.Name, "call", call.ID, "err", err)
	}
}

// failDetached reports a failure from the background invocation. The
// tool.error must be sequenced through the session lock like every
// other event, so the emit waits its turn the same way deliver does.
func (e *Executor) failDetached(ctx context.Context, sessionID string, call domain.ToolCall, reason string) {
	err := retryOnLockHeld(ctx, func() error {
		return e.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
			e.fail(ctx, sessionID, call, reason)
			return nil
		})
	})
	if err != nil {
		e.logger.Error("emitting tool.error failed", "session", sessionID, "call", call.ID, "err", err)
	}
}

// retryOnLockHeld runs op until it stops failing with ErrLockHeld, for
// a bounded window.
func retryOnLockHeld(ctx context.Context, op func() error) error {
	deadline := time.Now().Add(lockRetryWindow)
	for {
		err := op()
		if err == nil || !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-time.After(lockRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fail emits exactly one tool.error for the call. The caller must hold
// the session lock.
func (e *Executor) fail(ctx context.Context, sessionID string, call domain.ToolCall, reason string) {
	metrics.ToolErrors.WithLabelValues(call.Name).Inc()
	e.logger.Warn("tool failed", "session", sessionID, "tool", call.Name, "call", call.ID, "reason", reason)
	if _, err := e.store.Emit(ctx, sessionID, domain.ToolErrorEvent(call.ID, reason)); err != nil {
		e.logger.Error("emitting tool.error failed", "session", sessionID, "call", call.ID, "err", err)
	}
}

// validateArgs checks args against the tool's declared JSON schema.
// A missing or empty schema accepts anything.
func validateArgs(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiled := openapi3.NewSchema()
	if err := compiled.UnmarshalJSON(raw); err != nil {
		return fmt.Errorf("bad args_schema: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return compiled.VisitJSON(args)
}

// WithRetry wraps a worker with fixed-delay retries. Intermediate
// failures are invisible to the session: only the final outcome is
// reported, and the tool.call is never re-emitted.
func WithRetry(worker ports.ToolWorker, attempts int, delay time.Duration) ports.ToolWorker {
	if attempts < 1 {
		attempts = 1
	}
	return ports.ToolWorkerFunc(func(ctx context.Context, sessionID, toolCallID string, args map[string]any) (map[string]any, error) {
		var lastErr error
		for i := 0; i < attempts; i++ {
			if i > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			result, err := worker.Execute(ctx, sessionID, toolCallID, args)
			if err == nil {
				return result, nil
			}
			lastErr = err
		}
		return nil, lastErr
	})
}
