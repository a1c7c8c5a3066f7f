// Package fanout multiplexes one store subscription per session onto
// any number of live observers.
package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/convoflow/convoflow/internal/metrics"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

const observerBuffer = 64

// Observer is one attached event consumer. Events are delivered on C;
// Detach must be called exactly once when the consumer goes away.
type Observer struct {
	C      <-chan domain.Event
	ch     chan domain.Event
	hub    *Hub
	id     string
	once   sync.Once
	closed chan struct{}
}

// Detach removes the observer from its session's set. Idempotent.
func (o *Observer) Detach() {
	o.once.Do(func() {
		close(o.closed)
		o.hub.detach(o.id, o)
	})
}

// Hub owns the per-session observer sets. The store subscription for a
// session is opened on its first observer and closed with its last.
type Hub struct {
	store  ports.SessionStore
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionFeed
}

type sessionFeed struct {
	sub       ports.Subscription
	observers map[*Observer]struct{}
	done      chan struct{}
}

func New(store ports.SessionStore, logger *slog.Logger) *Hub {
	return &Hub{
		store:    store,
		logger:   logger,
		sessions: make(map[string]*sessionFeed),
	}
}

// Attach registers a new observer for the session. The observer first
// receives a synthetic session.started, then every event published
// after attachment. Consumers that also catch up through the event log
// de-duplicate by seq.
func (h *Hub) Attach(ctx context.Context, sessionID string) (*Observer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.sessions[sessionID]
	if !ok {
		sub, err := h.store.Subscribe(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		feed = &sessionFeed{
			sub:       sub,
			observers: make(map[*Observer]struct{}),
			done:      make(chan struct{}),
		}
		h.sessions[sessionID] = feed
		go h.pump(sessionID, feed)
	}

	ch := make(chan domain.Event, observerBuffer)
	observer := &Observer{C: ch, ch: ch, hub: h, id: sessionID, closed: make(chan struct{})}
	ch <- domain.SessionStartedEvent(sessionID)
	feed.observers[observer] = struct{}{}
	metrics.Observers.Inc()
	return observer, nil
}

// pump moves events from the store subscription to every attached
// observer. A full observer buffer marks the observer dead; it is
// evicted rather than allowed to stall the session feed.
func (h *Hub) pump(sessionID string, feed *sessionFeed) {
	for ev := range feed.sub.Events() {
		h.mu.Lock()
		for observer := range feed.observers {
			select {
			case observer.ch <- ev:
			case <-observer.closed:
				delete(feed.observers, observer)
				metrics.Observers.Dec()
			default:
				h.logger.Warn("evicting slow observer", "session", sessionID)
				delete(feed.observers, observer)
				close(observer.ch)
				metrics.Observers.Dec()
			}
		}
		h.mu.Unlock()
	}

	// Subscription closed underneath us (session deleted): drop the feed.
	h.mu.Lock()
	if h.sessions[sessionID] == feed {
		delete(h.sessions, sessionID)
	}
	for observer := range feed.observers {
		close(observer.ch)
		metrics.Observers.Dec()
	}
	feed.observers = make(map[*Observer]struct{})
	h.mu.Unlock()
	close(feed.done)
}

func (h *Hub) detach(sessionID string, observer *Observer) {
	h.mu.Lock()
	feed, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, attached := feed.observers[observer]; attached {
		delete(feed.observers, observer)
		close(observer.ch)
		metrics.Observers.Dec()
	}
	last := len(feed.observers) == 0
	if last {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	if last {
		if err := feed.sub.Close(); err != nil {
			h.logger.Warn("closing session feed", "session", sessionID, "err", err)
		}
		<-feed.done
	}
}

// Observers reports the number of observers attached to the session.
func (h *Hub) Observers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	feed, ok := h.sessions[sessionID]
	if !ok {
		return 0
	}
	return len(feed.observers)
}
