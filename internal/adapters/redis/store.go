package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/convoflow/convoflow/internal/metrics"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultLockLease is the per-session lock expiry. A holder that crashes
// releases the lock passively when the lease runs out.
const DefaultLockLease = 10 * time.Second

// Store implements ports.SessionStore on Redis: JSON state and flow
// records, an INCR sequence counter, a stream event log addressed by
// sequence number, and pub/sub for live delivery.
type Store struct {
	client *backend.Client
	locker *Locker
	prefix string
	lease  time.Duration
}

type Option func(*Store)

// WithPrefix sets the key prefix for all session records.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithLockLease overrides the lock expiry, mainly for tests.
func WithLockLease(lease time.Duration) Option {
	return func(s *Store) {
		s.lease = lease
	}
}

// New creates a session store from an existing client.
func New(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "convo:",
		lease:  DefaultLockLease,
	}
	for _, opt := range opts {
		opt(store)
	}
	store.locker = NewLocker(client, store.prefix)
	return store
}

// Open dials the given address (host:port or redis:// URL) and returns a
// store over the new client.
func Open(url string, opts ...Option) (*Store, error) {
	options, err := backend.ParseURL(url)
	if err != nil {
		// Plain host:port form.
		options = &backend.Options{Addr: url}
	}
	return New(backend.NewClient(options), opts...), nil
}

// Client exposes the underlying connection for callers that share it.
func (s *Store) Client() *backend.Client { return s.client }

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) stateKey(id string) string  { return s.prefix + "state:" + id }
func (s *Store) flowKey(id string) string   { return s.prefix + "flow:" + id }
func (s *Store) seqKey(id string) string    { return s.prefix + "seq:" + id }
func (s *Store) streamKey(id string) string { return s.prefix + "stream:" + id }
func (s *Store) pubTopic(id string) string  { return s.prefix + "pub:" + id }

// CreateSession writes the initial state and binds the immutable flow.
func (s *Store) CreateSession(ctx context.Context, state *domain.SessionState, flow *domain.FlowConfig) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	flowJSON, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.stateKey(state.SessionID), stateJSON, 0)
	pipe.Set(ctx, s.flowKey(state.SessionID), flowJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	metrics.SessionsActive.Inc()
	return nil
}

func (s *Store) LoadState(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	val, err := s.client.Get(ctx, s.stateKey(sessionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var state domain.SessionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if state.Context == nil {
		state.Context = make(map[string]any)
	}
	return &state, nil
}

func (s *Store) SaveState(ctx context.Context, state *domain.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(state.SessionID), data, 0).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *Store) LoadFlow(ctx context.Context, sessionID string) (*domain.FlowConfig, error) {
	val, err := s.client.Get(ctx, s.flowKey(sessionID)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load flow: %w", err)
	}
	var flow domain.FlowConfig
	if err := json.Unmarshal([]byte(val), &flow); err != nil {
		return nil, fmt.Errorf("unmarshal flow: %w", err)
	}
	return &flow, nil
}

// DeleteSession drops every key the session owns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	removed, err := s.client.Del(ctx,
		s.stateKey(sessionID),
		s.flowKey(sessionID),
		s.seqKey(sessionID),
		s.streamKey(sessionID),
		s.locker.key(sessionID),
	).Result()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if removed > 0 {
		metrics.SessionsActive.Dec()
	}
	return nil
}

// Emit assigns the next sequence number, appends the event to the
// durable log under stream ID "<seq>-0", and publishes the same JSON on
// the session topic. Callers must hold the session lock.
func (s *Store) Emit(ctx context.Context, sessionID string, ev domain.Event) (domain.Event, error) {
	seq, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return ev, fmt.Errorf("next seq: %w", err)
	}
	ev.Stamp(sessionID, seq, time.Now())

	data, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("marshal event: %w", err)
	}

	if err := s.client.XAdd(ctx, &backend.XAddArgs{
		Stream: s.streamKey(sessionID),
		ID:     fmt.Sprintf("%d-0", seq),
		Values: map[string]any{"json": string(data)},
	}).Err(); err != nil {
		return ev, fmt.Errorf("append event: %w", err)
	}

	if err := s.client.Publish(ctx, s.pubTopic(sessionID), string(data)).Err(); err != nil {
		return ev, fmt.Errorf("publish event: %w", err)
	}

	metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	return ev, nil
}

// EventsSince range-reads the durable log for events with seq > since.
func (s *Store) EventsSince(ctx context.Context, sessionID string, since int64) ([]domain.Event, error) {
	if since < 0 {
		since = 0
	}
	start := fmt.Sprintf("%d-0", since+1)
	messages, err := s.client.XRange(ctx, s.streamKey(sessionID), start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("range events: %w", err)
	}

	events := make([]domain.Event, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values["json"].(string)
		if !ok {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// subscription adapts a go-redis PubSub to ports.Subscription.
type subscription struct {
	pubsub *backend.PubSub
	events chan domain.Event
}

func (s *subscription) Events() <-chan domain.Event { return s.events }
func (s *subscription) Close() error                { return s.pubsub.Close() }

// Subscribe opens a live feed of the session's published events.
func (s *Store) Subscribe(ctx context.Context, sessionID string) (ports.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.pubTopic(sessionID))
	// Force the subscription to be established before returning, so no
	// event emitted after Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan domain.Event, 64),
	}
	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			sub.events <- ev
		}
	}()
	return sub, nil
}

// WithLock runs fn while holding the session lock, failing fast with
// domain.ErrLockHeld when the lock is taken. Lock scopes must not nest
// on the same session.
func (s *Store) WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	nonce, err := s.locker.Acquire(ctx, sessionID, s.lease)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = s.locker.Release(releaseCtx, sessionID, nonce)
	}()
	return fn(ctx)
}

// UpdateContext deep-merges patch into the session context and emits
// state.updated. Patch keys may be dotted paths.
func (s *Store) UpdateContext(ctx context.Context, state *domain.SessionState, patch map[string]any) error {
	container := gabs.Wrap(state.Context)
	for path, value := range patch {
		deepSet(container, path, value)
	}
	state.Context = container.Data().(map[string]any)

	if err := s.SaveState(ctx, state); err != nil {
		return err
	}
	_, err := s.Emit(ctx, state.SessionID, domain.StateUpdatedEvent(state.Context))
	return err
}

// deepSet merges one patch entry: maps recurse so sibling keys survive,
// scalars and lists overwrite at the dotted path.
func deepSet(container *gabs.Container, path string, value any) {
	if m, ok := value.(map[string]any); ok && len(m) > 0 {
		for key, item := range m {
			deepSet(container, path+"."+key, item)
		}
		return
	}
	_, _ = container.SetP(value, path)
}

// TransitionToState records the state change and emits fsm.transition.
func (s *Store) TransitionToState(ctx context.Context, state *domain.SessionState, next string) error {
	from := state.CurrentState
	state.CurrentState = next
	if err := s.SaveState(ctx, state); err != nil {
		return err
	}
	_, err := s.Emit(ctx, state.SessionID, domain.TransitionEvent(from, next))
	return err
}

// StoreIntent records the classified intent on the session.
func (s *Store) StoreIntent(ctx context.Context, state *domain.SessionState, intent domain.IntentResult) error {
	state.LastIntent = &intent
	return s.SaveState(ctx, state)
}

// StoreToolCall records the call and emits the correlated tool.call.
func (s *Store) StoreToolCall(ctx context.Context, state *domain.SessionState, call domain.ToolCall) error {
	state.LastToolCall = &call
	if err := s.SaveState(ctx, state); err != nil {
		return err
	}
	_, err := s.Emit(ctx, state.SessionID, domain.ToolCallEvent(call.ID, call.Name, call.Args))
	return err
}

// StoreToolResult records the result and emits the correlated tool.result.
func (s *Store) StoreToolResult(ctx context.Context, state *domain.SessionState, result domain.ToolResult) error {
	state.LastToolResult = &result
	if err := s.SaveState(ctx, state); err != nil {
		return err
	}
	_, err := s.Emit(ctx, state.SessionID, domain.ToolResultEvent(result.CallID, result.Result))
	return err
}

var _ ports.SessionStore = (*Store)(nil)
