// Package orchestrator drives conversational sessions through their
// flow graph: it classifies input, evaluates transitions in order,
// applies assignments and branches, and runs entry actions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/convoflow/convoflow/internal/expr"
	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/metrics"
	"github.com/convoflow/convoflow/internal/template"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

const repromptText = "I didn't quite understand that. Let me ask again:"

// Orchestrator owns the session lifecycle. All three processing
// operations run their body under the per-session lock; tool workers
// re-enter through ProcessToolResult under a fresh lock of their own.
type Orchestrator struct {
	store      ports.SessionStore
	classifier ports.Classifier
	executor   *tools.Executor
	logger     *slog.Logger

	// Soft re-prompt pacing; shortened in tests.
	RepromptSayDelay time.Duration
	RepromptAskDelay time.Duration

	mu        sync.Mutex
	reprompts map[string]*repromptTimers
}

// repromptTimers is one scheduled re-prompt pair. The pointer doubles
// as the ownership token: a timer may only clear the map entry it was
// scheduled under, never a successor's.
type repromptTimers struct {
	timers []*time.Timer
}

func New(store ports.SessionStore, classifier ports.Classifier, executor *tools.Executor, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:            store,
		classifier:       classifier,
		executor:         executor,
		logger:           logger,
		RepromptSayDelay: time.Second,
		RepromptAskDelay: 500 * time.Millisecond,
		reprompts:        make(map[string]*repromptTimers),
	}
	executor.SetSink(o)
	return o
}

// CreateSession validates the flow, persists the fresh session and
// enters the start state.
func (o *Orchestrator) CreateSession(ctx context.Context, sessionID string, cfg *domain.FlowConfig) (*domain.SessionState, error) {
	if result := flow.Validate(cfg); !result.Valid() {
		return nil, fmt.Errorf("invalid flow: %w", result.Err())
	}

	state := domain.NewSessionState(sessionID, cfg.Start)
	if err := o.store.CreateSession(ctx, state, cfg); err != nil {
		return nil, err
	}

	err := o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if _, err := o.store.Emit(ctx, sessionID, domain.SessionStartedEvent(sessionID)); err != nil {
			return err
		}
		return o.enterState(ctx, state, cfg, cfg.Start, fullEnv(state))
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// ProcessUserInput classifies the text and evaluates the current
// state's transitions in declaration order. The first transition whose
// intent and guard both match wins; when none does, intent.unhandled is
// emitted and a soft re-prompt is scheduled.
func (o *Orchestrator) ProcessUserInput(ctx context.Context, sessionID, text string) error {
	o.cancelReprompt(sessionID)

	return o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		state, err := o.store.LoadState(ctx, sessionID)
		if err != nil {
			return err
		}
		cfg, err := o.store.LoadFlow(ctx, sessionID)
		if err != nil {
			return err
		}

		current, ok := cfg.States[state.CurrentState]
		if !ok {
			return fmt.Errorf("session %s is in unknown state %q", sessionID, state.CurrentState)
		}

		intent, err := o.classifier.Classify(ctx, text, cfg.Intents, state.Context)
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
		if err := o.store.StoreIntent(ctx, state, intent); err != nil {
			return err
		}

		env := fullEnv(state)
		for _, tr := range current.Transitions {
			if !tr.MatchesIntent(intent.Name) {
				continue
			}
			// The guard sees slots before any assignment lands.
			if tr.When != "" && !expr.Evaluate(tr.When, env) {
				continue
			}
			return o.executeTransition(ctx, state, cfg, tr, env)
		}

		metrics.IntentsUnhandled.Inc()
		o.logger.Info("intent unhandled",
			"session", sessionID, "intent", intent.Name, "state", state.CurrentState)
		if _, err := o.store.Emit(ctx, sessionID,
			domain.IntentUnhandledEvent(intent.Name, intent.Confidence, state.CurrentState)); err != nil {
			return err
		}
		o.scheduleReprompt(sessionID)
		return nil
	})
}

// ProcessToolResult implements tools.ResultSink. Stale results, ones
// whose call ID no longer matches the session's in-flight call, are
// dropped.
func (o *Orchestrator) ProcessToolResult(ctx context.Context, sessionID string, result domain.ToolResult) error {
	return o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		state, err := o.store.LoadState(ctx, sessionID)
		if err != nil {
			return err
		}
		cfg, err := o.store.LoadFlow(ctx, sessionID)
		if err != nil {
			return err
		}

		if state.LastToolCall == nil || state.LastToolCall.ID != result.CallID {
			o.logger.Warn("dropping stale tool result", "session", sessionID, "call", result.CallID)
			return nil
		}
		if err := o.store.StoreToolResult(ctx, state, result); err != nil {
			return err
		}

		current, ok := cfg.States[state.CurrentState]
		if !ok {
			return fmt.Errorf("session %s is in unknown state %q", sessionID, state.CurrentState)
		}

		env := fullEnv(state)
		for _, tr := range current.Transitions {
			if tr.OnToolResult == "" || tr.OnToolResult != state.LastToolCall.Name {
				continue
			}
			if tr.When != "" && !expr.Evaluate(tr.When, env) {
				continue
			}
			return o.executeTransition(ctx, state, cfg, tr, env)
		}

		o.logger.Info("tool result matched no transition",
			"session", sessionID, "tool", state.LastToolCall.Name, "state", state.CurrentState)
		return nil
	})
}

// EnterState forces the session into the named state and runs its entry
// actions, outside any transition.
func (o *Orchestrator) EnterState(ctx context.Context, sessionID, target string) error {
	o.cancelReprompt(sessionID)

	return o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
		state, err := o.store.LoadState(ctx, sessionID)
		if err != nil {
			return err
		}
		cfg, err := o.store.LoadFlow(ctx, sessionID)
		if err != nil {
			return err
		}
		return o.enterState(ctx, state, cfg, target, fullEnv(state))
	})
}

// DeleteSession tears the session down and cancels any pending
// re-prompt.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	o.cancelReprompt(sessionID)
	return o.store.DeleteSession(ctx, sessionID)
}

// fullEnv binds all three template environments from the session's
// recorded history: an assign on an intent transition may reference the
// last tool result, and a tool-result transition still sees the last
// intent's slots.
func fullEnv(state *domain.SessionState) template.Env {
	env := template.Env{Ctx: state.Context}
	if state.LastIntent != nil {
		env.Slot = state.LastIntent.Slots
	}
	if state.LastToolResult != nil {
		env.Tool = state.LastToolResult.Result
	}
	return env
}

// executeTransition applies the assignment, picks the target (branch
// arms win over a plain `to`) and enters it.
func (o *Orchestrator) executeTransition(ctx context.Context, state *domain.SessionState, cfg *domain.FlowConfig, tr domain.Transition, env template.Env) error {
	if len(tr.Assign) > 0 {
		patch := template.Map(tr.Assign, env)
		if err := o.store.UpdateContext(ctx, state, patch); err != nil {
			return err
		}
		env.Ctx = state.Context
	}

	target := tr.To
	if len(tr.Branch) > 0 {
		target = ""
		for _, arm := range tr.Branch {
			if expr.Evaluate(arm.When, env) {
				target = arm.To
				break
			}
		}
		if target == "" {
			o.logger.Warn("no branch arm matched", "session", state.SessionID, "state", state.CurrentState)
			return nil
		}
	}
	if target == "" {
		return nil
	}
	return o.enterState(ctx, state, cfg, target, env)
}

// enterState records the transition and runs the target's entry actions
// in order. Tool actions are dispatched fire-and-forget.
func (o *Orchestrator) enterState(ctx context.Context, state *domain.SessionState, cfg *domain.FlowConfig, target string, env template.Env) error {
	next, ok := cfg.States[target]
	if !ok {
		return fmt.Errorf("transition to unknown state %q", target)
	}
	if err := o.store.TransitionToState(ctx, state, target); err != nil {
		return err
	}

	for _, action := range next.OnEnter {
		if err := o.runAction(ctx, state, cfg, action, env); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runAction(ctx context.Context, state *domain.SessionState, cfg *domain.FlowConfig, action domain.Action, env template.Env) error {
	switch action.Kind() {
	case "say":
		_, err := o.store.Emit(ctx, state.SessionID, domain.SayEvent(template.String(action.Say, env)))
		return err
	case "ask":
		_, err := o.store.Emit(ctx, state.SessionID, domain.AskEvent(template.String(action.Ask, env)))
		return err
	case "transfer":
		_, err := o.store.Emit(ctx, state.SessionID, domain.TransferEvent(template.String(action.Transfer, env)))
		return err
	case "hangup":
		_, err := o.store.Emit(ctx, state.SessionID, domain.HangupEvent())
		return err
	case "tool":
		args := template.Map(action.Args, env)
		return o.executor.Dispatch(ctx, state, action.Tool, cfg.Tools[action.Tool], args)
	}
	return nil
}

// scheduleReprompt queues the two-step soft re-prompt: an apology after
// RepromptSayDelay, then the current state's question re-asked
// RepromptAskDelay later. New input or session deletion cancels both.
func (o *Orchestrator) scheduleReprompt(sessionID string) {
	entry := &repromptTimers{}
	say := time.AfterFunc(o.RepromptSayDelay, func() {
		o.emitDetached(sessionID, func(*domain.SessionState, *domain.FlowConfig) (domain.Event, bool) {
			return domain.SayEvent(repromptText), true
		})
	})
	ask := time.AfterFunc(o.RepromptSayDelay+o.RepromptAskDelay, func() {
		defer o.clearReprompt(sessionID, entry)
		o.emitDetached(sessionID, func(state *domain.SessionState, cfg *domain.FlowConfig) (domain.Event, bool) {
			for _, action := range cfg.States[state.CurrentState].OnEnter {
				if action.Ask != "" {
					text := template.String(action.Ask, template.Env{Ctx: state.Context})
					return domain.AskEvent(text), true
				}
			}
			return domain.Event{}, false
		})
	})
	entry.timers = []*time.Timer{say, ask}

	o.mu.Lock()
	defer o.mu.Unlock()
	if prev := o.reprompts[sessionID]; prev != nil {
		for _, timer := range prev.timers {
			timer.Stop()
		}
	}
	o.reprompts[sessionID] = entry
}

// emitDetached runs a re-prompt step outside any request scope, under
// the session lock so it cannot race a concurrent emitter. A session
// deleted in the meantime makes the step a silent no-op.
func (o *Orchestrator) emitDetached(sessionID string, build func(*domain.SessionState, *domain.FlowConfig) (domain.Event, bool)) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		err := o.store.WithLock(ctx, sessionID, func(ctx context.Context) error {
			state, err := o.store.LoadState(ctx, sessionID)
			if err != nil {
				return err
			}
			cfg, err := o.store.LoadFlow(ctx, sessionID)
			if err != nil {
				return err
			}
			ev, ok := build(state, cfg)
			if !ok {
				return nil
			}
			_, err = o.store.Emit(ctx, sessionID, ev)
			return err
		})
		switch {
		case err == nil, errors.Is(err, domain.ErrSessionNotFound):
			return
		case errors.Is(err, domain.ErrLockHeld):
			select {
			case <-time.After(25 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		default:
			o.logger.Error("re-prompt emit failed", "session", sessionID, "err", err)
			return
		}
	}
}

func (o *Orchestrator) cancelReprompt(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry := o.reprompts[sessionID]; entry != nil {
		for _, timer := range entry.timers {
			timer.Stop()
		}
		delete(o.reprompts, sessionID)
	}
}

// clearReprompt removes the entry only when it still owns the slot; a
// newer schedule for the same session is left untouched.
func (o *Orchestrator) clearReprompt(sessionID string, entry *repromptTimers) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reprompts[sessionID] == entry {
		delete(o.reprompts, sessionID)
	}
}

var _ tools.ResultSink = (*Orchestrator)(nil)
