// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts events appended to session logs, by type.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "events_emitted_total",
		Help:      "Session events emitted, by event type.",
	}, []string{"type"})

	// SessionsActive tracks sessions created minus sessions deleted.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convoflow",
		Name:      "sessions_active",
		Help:      "Currently active sessions.",
	})

	// ToolCalls counts tool invocations, by tool name.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "tool_calls_total",
		Help:      "Tool invocations dispatched, by tool.",
	}, []string{"tool"})

	// ToolErrors counts tool failures after retries, by tool name.
	ToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "tool_errors_total",
		Help:      "Tool invocations that ended in tool.error, by tool.",
	}, []string{"tool"})

	// ClassifierFallbacks counts remote classifier failures that were
	// served by the deterministic fallback instead.
	ClassifierFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "classifier_fallbacks_total",
		Help:      "Requests answered by the deterministic fallback classifier.",
	})

	// IntentsUnhandled counts inputs that matched no transition.
	IntentsUnhandled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convoflow",
		Name:      "intents_unhandled_total",
		Help:      "Classified inputs that matched no transition of the current state.",
	})

	// Observers tracks attached live observers across sessions.
	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convoflow",
		Name:      "observers_active",
		Help:      "Live observers attached through the fan-out layer.",
	})
)
