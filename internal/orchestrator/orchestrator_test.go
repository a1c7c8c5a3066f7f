package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/convoflow/convoflow/internal/adapters/redis"
	"github.com/convoflow/convoflow/internal/classify"
	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/internal/tools"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
	"log/slog"
)

type harness struct {
	store        *redisadapter.Store
	registry     *tools.Registry
	orchestrator *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := redisadapter.New(client, redisadapter.WithPrefix("test:"))
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(store, registry, logger)
	orch := New(store, classify.NewDeterministic(), executor, logger)
	orch.RepromptSayDelay = 50 * time.Millisecond
	orch.RepromptAskDelay = 30 * time.Millisecond
	return &harness{store: store, registry: registry, orchestrator: orch}
}

// registerReservationWorkers wires the demo tools; the availability
// answer is controllable per test.
func (h *harness) registerReservationWorkers(available func() bool) {
	h.registry.RegisterFunc("CheckAvailability", func(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		return map[string]any{"ok": available()}, nil
	})
	h.registry.RegisterFunc("CreateReservation", func(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		return map[string]any{"reservationId": "R-1001"}, nil
	})
}

// input retries on lock contention from in-flight tool completions.
func (h *harness) input(t *testing.T, sessionID, text string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		err := h.orchestrator.ProcessUserInput(context.Background(), sessionID, text)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().After(deadline) {
			require.NoError(t, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (h *harness) events(t *testing.T, sessionID string) []domain.Event {
	t.Helper()
	events, err := h.store.EventsSince(context.Background(), sessionID, 0)
	require.NoError(t, err)
	return events
}

func (h *harness) eventsOfType(t *testing.T, sessionID string, typ domain.EventType) []domain.Event {
	t.Helper()
	var out []domain.Event
	for _, ev := range h.events(t, sessionID) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) waitForState(t *testing.T, sessionID, want string) *domain.SessionState {
	t.Helper()
	var state *domain.SessionState
	require.Eventually(t, func() bool {
		loaded, err := h.store.LoadState(context.Background(), sessionID)
		if err != nil {
			return false
		}
		state = loaded
		return loaded.CurrentState == want
	}, 3*time.Second, 20*time.Millisecond, "never reached state %s", want)
	return state
}

func TestCreateSession_RejectsInvalidFlow(t *testing.T) {
	h := newHarness(t)
	bad := &domain.FlowConfig{
		Meta:   domain.FlowMeta{Name: "bad"},
		Start:  "Missing",
		States: map[string]domain.State{"Start": {}},
	}
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid flow")
}

func TestCreateSession_EntersStartAndGreets(t *testing.T) {
	h := newHarness(t)
	state, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)
	assert.Equal(t, "InitialGreeting", state.CurrentState)

	events := h.events(t, "s1")
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, domain.EventSessionStarted, events[0].Type)
	assert.Equal(t, domain.EventTransition, events[1].Type)
	assert.Equal(t, "InitialGreeting", events[1].To)
	assert.Equal(t, domain.EventAsk, events[2].Type)
	assert.Contains(t, events[2].Text, "reservation")
}

func TestScenario_HappyPathReservation(t *testing.T) {
	h := newHarness(t)
	h.registerReservationWorkers(func() bool { return true })

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "I'd like to make a reservation")
	h.waitForState(t, "s1", "CollectPartySize")
	h.input(t, "s1", "We are 4 people")
	h.waitForState(t, "s1", "CollectReservationDateTime")
	h.input(t, "s1", "tomorrow at 7pm")
	h.waitForState(t, "s1", "CollectContactInformation")
	h.input(t, "s1", "My name is John Doe, phone 555-1234")

	state := h.waitForState(t, "s1", "Goodbye")

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	assert.Equal(t, float64(4), state.Context["partySize"])
	assert.Equal(t, tomorrow, state.Context["date"])
	assert.Equal(t, "19:00", state.Context["time"])
	contact := state.Context["contact"].(map[string]any)
	assert.Equal(t, "John Doe", contact["name"])
	assert.Equal(t, "555-1234", contact["phone"])

	calls := h.eventsOfType(t, "s1", domain.EventToolCall)
	require.Len(t, calls, 2)
	assert.Equal(t, "CheckAvailability", calls[0].Tool)
	assert.Equal(t, float64(4), calls[0].Args["partySize"])
	assert.Equal(t, "CreateReservation", calls[1].Tool)

	// Every call pairs with exactly one result; the call ids line up.
	results := h.eventsOfType(t, "s1", domain.EventToolResult)
	require.Len(t, results, 2)
	assert.Equal(t, calls[0].ToolCallID, results[0].ToolCallID)
	assert.Equal(t, calls[1].ToolCallID, results[1].ToolCallID)
	assert.Empty(t, h.eventsOfType(t, "s1", domain.EventToolError))

	events := h.events(t, "s1")
	assert.Equal(t, domain.EventHangup, events[len(events)-1].Type)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must stay contiguous")
	}
}

func TestScenario_LargePartyTransfersToManager(t *testing.T) {
	h := newHarness(t)
	h.registerReservationWorkers(func() bool { return true })

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "I'd like to make a reservation")
	h.input(t, "s1", "party of 12")

	state := h.waitForState(t, "s1", "TransferToManager")
	assert.Equal(t, float64(12), state.Context["partySize"])

	transfers := h.eventsOfType(t, "s1", domain.EventTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, "+15551234567", transfers[0].Target)
	assert.Empty(t, h.eventsOfType(t, "s1", domain.EventToolCall))

	// say precedes transfer within the entry step.
	events := h.events(t, "s1")
	var sayIdx, transferIdx int
	for i, ev := range events {
		switch ev.Type {
		case domain.EventSay:
			sayIdx = i
		case domain.EventTransfer:
			transferIdx = i
		}
	}
	assert.Less(t, sayIdx, transferIdx)
}

func TestScenario_UnavailableSlotAsksForAlternative(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	available := false
	h.registerReservationWorkers(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return available
	})

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "I'd like to make a reservation")
	h.input(t, "s1", "We are 4 people")
	h.input(t, "s1", "tomorrow at 7pm")

	// {ok:false} routes to the alternative-slot prompt.
	h.waitForState(t, "s1", "AltDateTime")
	asks := h.eventsOfType(t, "s1", domain.EventAsk)
	assert.Contains(t, asks[len(asks)-1].Text, "another date")

	mu.Lock()
	available = true
	mu.Unlock()

	h.input(t, "s1", "friday at 6:30 pm")
	state := h.waitForState(t, "s1", "CollectContactInformation")
	assert.Equal(t, "18:30", state.Context["time"])

	calls := h.eventsOfType(t, "s1", domain.EventToolCall)
	assert.Len(t, calls, 2, "availability is checked once per attempt")
}

func TestScenario_UnhandledIntentSoftReprompts(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	// ASK_QUESTION matches no transition of InitialGreeting.
	h.input(t, "s1", "what are your opening hours")

	unhandled := h.eventsOfType(t, "s1", domain.EventIntentUnhandled)
	require.Len(t, unhandled, 1)
	assert.Equal(t, "ASK_QUESTION", unhandled[0].Intent)
	assert.Equal(t, "InitialGreeting", unhandled[0].CurrentState)

	require.Eventually(t, func() bool {
		asks := h.eventsOfType(t, "s1", domain.EventAsk)
		return len(asks) == 2
	}, 2*time.Second, 20*time.Millisecond, "greeting must be re-asked")

	says := h.eventsOfType(t, "s1", domain.EventSay)
	require.Len(t, says, 1)
	assert.Equal(t, repromptText, says[0].Text)

	asks := h.eventsOfType(t, "s1", domain.EventAsk)
	assert.Equal(t, asks[0].Text, asks[1].Text)

	// At most one re-prompt per unhandled event.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, h.eventsOfType(t, "s1", domain.EventSay), 1)
}

func TestScenario_RepromptCancelledByNewInput(t *testing.T) {
	h := newHarness(t)
	h.orchestrator.RepromptSayDelay = 200 * time.Millisecond
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "what are your opening hours")
	h.input(t, "s1", "book a table")
	h.waitForState(t, "s1", "CollectPartySize")

	time.Sleep(300 * time.Millisecond)
	for _, ev := range h.eventsOfType(t, "s1", domain.EventSay) {
		assert.NotEqual(t, repromptText, ev.Text, "pending re-prompt must be cancelled")
	}
}

func TestScenario_ToolRetryExhaustionKeepsState(t *testing.T) {
	h := newHarness(t)

	attempts := 0
	var mu sync.Mutex
	broken := ports.ToolWorkerFunc(func(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return nil, errors.New("availability backend down")
	})
	h.registry.Register("CheckAvailability", tools.WithRetry(broken, 3, 10*time.Millisecond))

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "I'd like to make a reservation")
	h.input(t, "s1", "We are 4 people")
	h.input(t, "s1", "tomorrow at 7pm")
	h.waitForState(t, "s1", "ConfirmAvailability")

	require.Eventually(t, func() bool {
		return len(h.eventsOfType(t, "s1", domain.EventToolError)) == 1
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	assert.Len(t, h.eventsOfType(t, "s1", domain.EventToolCall), 1, "retries never re-emit tool.call")
	assert.Len(t, h.eventsOfType(t, "s1", domain.EventToolError), 1)

	state, err := h.store.LoadState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "ConfirmAvailability", state.CurrentState, "no transition on tool.error")
}

// carryoverFlow exercises template environments across trigger kinds: a
// tool-result transition assigning from the last intent's slots, then an
// intent transition assigning from the last tool result.
func carryoverFlow() *domain.FlowConfig {
	return &domain.FlowConfig{
		Meta:  domain.FlowMeta{Name: "carryover"},
		Start: "Greet",
		Intents: map[string]domain.Intent{
			"PROVIDE_N": {
				Examples: []string{"i want 5"},
				Slots:    map[string]domain.SlotType{"n": domain.SlotNumber},
			},
			"CONTINUE": {Examples: []string{"continue"}},
		},
		Tools: map[string]domain.Tool{"Fetch": {}},
		States: map[string]domain.State{
			"Greet": {
				OnEnter: []domain.Action{{Ask: "How many?"}},
				Transitions: []domain.Transition{
					{OnIntent: domain.StringList{"PROVIDE_N"}, To: "Fetching"},
				},
			},
			"Fetching": {
				OnEnter: []domain.Action{{Tool: "Fetch"}},
				Transitions: []domain.Transition{
					{
						OnToolResult: "Fetch",
						Assign:       map[string]any{"kept": "{{slot.n}}"},
						To:           "Review",
					},
				},
			},
			"Review": {
				OnEnter: []domain.Action{{Ask: "Carry on?"}},
				Transitions: []domain.Transition{
					{
						OnIntent: domain.StringList{"CONTINUE"},
						Assign:   map[string]any{"copied": "{{tool.value}}"},
						To:       "Done",
					},
				},
			},
			"Done": {OnEnter: []domain.Action{{Hangup: true}}},
		},
	}
}

func TestTransitionEnvCarriesSlotsAndToolResult(t *testing.T) {
	h := newHarness(t)
	h.registry.RegisterFunc("Fetch", func(_ context.Context, _, _ string, _ map[string]any) (map[string]any, error) {
		return map[string]any{"value": 42}, nil
	})

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", carryoverFlow())
	require.NoError(t, err)

	h.input(t, "s1", "i want 5")
	h.waitForState(t, "s1", "Review")
	h.input(t, "s1", "continue")
	state := h.waitForState(t, "s1", "Done")

	assert.Equal(t, float64(5), state.Context["kept"], "tool-result transition sees the last intent's slots")
	assert.Equal(t, float64(42), state.Context["copied"], "intent transition sees the last tool result")
}

func TestRepromptWaitsForSessionLock(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "what are your opening hours")

	// Hold the lock across both re-prompt timers; their emissions must
	// queue behind the holder's.
	var holderSeq int64
	err = h.store.WithLock(context.Background(), "s1", func(ctx context.Context) error {
		time.Sleep(150 * time.Millisecond)
		ev, err := h.store.Emit(ctx, "s1", domain.SayEvent("hold the line"))
		holderSeq = ev.Seq
		return err
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.eventsOfType(t, "s1", domain.EventAsk)) == 2
	}, 2*time.Second, 20*time.Millisecond, "greeting must still be re-asked")

	for _, ev := range h.events(t, "s1") {
		if ev.Type == domain.EventSay && ev.Text == repromptText {
			assert.Greater(t, ev.Seq, holderSeq, "re-prompt must wait for the lock holder")
		}
	}
	events := h.events(t, "s1")
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must stay contiguous")
	}
}

func TestRepromptRescheduleSurvivesStaleClear(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator
	o.RepromptSayDelay = time.Hour
	defer o.cancelReprompt("ghost")

	o.scheduleReprompt("ghost")
	o.mu.Lock()
	stale := o.reprompts["ghost"]
	o.mu.Unlock()

	// A newer schedule replaces the entry; the old ask timer's cleanup
	// must not remove it.
	o.scheduleReprompt("ghost")
	o.clearReprompt("ghost", stale)

	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotNil(t, o.reprompts["ghost"])
	assert.NotSame(t, stale, o.reprompts["ghost"])
}

func TestEnterStateRunsEntryActions(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	require.NoError(t, h.orchestrator.EnterState(context.Background(), "s1", "CollectPartySize"))

	state, err := h.store.LoadState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "CollectPartySize", state.CurrentState)

	transitions := h.eventsOfType(t, "s1", domain.EventTransition)
	last := transitions[len(transitions)-1]
	assert.Equal(t, "InitialGreeting", last.From)
	assert.Equal(t, "CollectPartySize", last.To)

	asks := h.eventsOfType(t, "s1", domain.EventAsk)
	assert.Contains(t, asks[len(asks)-1].Text, "How many people")

	require.Error(t, h.orchestrator.EnterState(context.Background(), "s1", "Nowhere"))
}

func TestAssignUpdatePrecedesTransition(t *testing.T) {
	h := newHarness(t)
	h.registerReservationWorkers(func() bool { return true })

	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "I'd like to make a reservation")
	h.input(t, "s1", "We are 4 people")
	h.waitForState(t, "s1", "CollectReservationDateTime")

	var updatedSeq, transitionSeq int64
	for _, ev := range h.events(t, "s1") {
		if ev.Type == domain.EventStateUpdated && updatedSeq == 0 {
			updatedSeq = ev.Seq
		}
		if ev.Type == domain.EventTransition && ev.To == "CollectReservationDateTime" {
			transitionSeq = ev.Seq
		}
	}
	require.NotZero(t, updatedSeq)
	require.NotZero(t, transitionSeq)
	assert.Less(t, updatedSeq, transitionSeq, "state.updated precedes the fsm.transition it causes")
}

func TestConcurrentInputsSerializeWithoutLostUpdates(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, text := range []string{"book a table", "what are your opening hours"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			h.input(t, "s1", text)
		}(text)
	}
	wg.Wait()

	events := h.events(t, "s1")
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must stay contiguous under contention")
	}

	// Both inputs took effect, in some serial order: the booking intent
	// transitioned exactly once, the question matched nothing.
	transitions := h.eventsOfType(t, "s1", domain.EventTransition)
	var toPartySize int
	for _, ev := range transitions {
		if ev.To == "CollectPartySize" {
			toPartySize++
		}
	}
	assert.Equal(t, 1, toPartySize)
	assert.Len(t, h.eventsOfType(t, "s1", domain.EventIntentUnhandled), 1)
}

func TestDeleteSessionStopsReprompt(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CreateSession(context.Background(), "s1", flow.ReservationFlow())
	require.NoError(t, err)

	h.input(t, "s1", "what are your opening hours")
	require.NoError(t, h.orchestrator.DeleteSession(context.Background(), "s1"))

	time.Sleep(150 * time.Millisecond)
	_, err = h.store.LoadState(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
