package domain

import "time"

// IntentResult is a classified user utterance.
type IntentResult struct {
	Name       string         `json:"name"`
	Confidence float64        `json:"confidence"`
	Slots      map[string]any `json:"slots,omitempty"`
}

// ToolCall records an in-flight or completed tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolResult records the outcome of a tool call, correlated by CallID.
type ToolResult struct {
	CallID    string         `json:"callId"`
	Result    map[string]any `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionState is the mutable per-session snapshot. It is owned by the
// current lock holder; everything else reads it through the store.
type SessionState struct {
	SessionID      string         `json:"sessionId"`
	CurrentState   string         `json:"currentState"`
	Context        map[string]any `json:"context"`
	LastIntent     *IntentResult  `json:"lastIntent,omitempty"`
	LastToolCall   *ToolCall      `json:"lastToolCall,omitempty"`
	LastToolResult *ToolResult    `json:"lastToolResult,omitempty"`
}

// NewSessionState creates a clean session positioned at the flow start.
func NewSessionState(sessionID, start string) *SessionState {
	return &SessionState{
		SessionID:    sessionID,
		CurrentState: start,
		Context:      make(map[string]any),
	}
}
