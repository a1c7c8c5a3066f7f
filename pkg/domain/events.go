package domain

import "time"

// EventType defines the category of a session event.
type EventType string

const (
	EventSessionStarted  EventType = "session.started"
	EventSay             EventType = "say"
	EventAsk             EventType = "ask"
	EventTransfer        EventType = "transfer"
	EventHangup          EventType = "hangup"
	EventToolCall        EventType = "tool.call"
	EventToolResult      EventType = "tool.result"
	EventToolError       EventType = "tool.error"
	EventTransition      EventType = "fsm.transition"
	EventStateUpdated    EventType = "state.updated"
	EventIntentUnhandled EventType = "intent.unhandled"
	EventError           EventType = "error"
)

// Event is one entry of a session's durable log. Payload fields are a
// union over all event kinds; unset fields are omitted on the wire.
// SessionID, Seq and Timestamp are stamped by the store on emission.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"` // epoch milliseconds

	Text   string `json:"text,omitempty"`   // say, ask
	Target string `json:"target,omitempty"` // transfer

	ToolCallID string         `json:"tool_call_id,omitempty"`
	Tool       string         `json:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`

	From string `json:"from,omitempty"` // fsm.transition
	To   string `json:"to,omitempty"`

	Ctx map[string]any `json:"ctx,omitempty"` // state.updated

	Intent       string  `json:"intent,omitempty"` // intent.unhandled
	Confidence   float64 `json:"confidence,omitempty"`
	CurrentState string  `json:"currentState,omitempty"`

	Message string `json:"message,omitempty"` // error
}

// Stamp fills the store-assigned envelope fields.
func (e *Event) Stamp(sessionID string, seq int64, at time.Time) {
	e.SessionID = sessionID
	e.Seq = seq
	e.Timestamp = at.UnixMilli()
}

func SessionStartedEvent(sessionID string) Event {
	return Event{Type: EventSessionStarted, SessionID: sessionID}
}

func SayEvent(text string) Event { return Event{Type: EventSay, Text: text} }

func AskEvent(text string) Event { return Event{Type: EventAsk, Text: text} }

func TransferEvent(target string) Event {
	return Event{Type: EventTransfer, Target: target}
}

func HangupEvent() Event { return Event{Type: EventHangup} }

func ToolCallEvent(callID, name string, args map[string]any) Event {
	return Event{Type: EventToolCall, ToolCallID: callID, Tool: name, Args: args}
}

func ToolResultEvent(callID string, result map[string]any) Event {
	return Event{Type: EventToolResult, ToolCallID: callID, Result: result}
}

func ToolErrorEvent(callID, reason string) Event {
	return Event{Type: EventToolError, ToolCallID: callID, Error: reason}
}

func TransitionEvent(from, to string) Event {
	return Event{Type: EventTransition, From: from, To: to}
}

func StateUpdatedEvent(ctx map[string]any) Event {
	return Event{Type: EventStateUpdated, Ctx: ctx}
}

func IntentUnhandledEvent(intent string, confidence float64, currentState string) Event {
	return Event{
		Type:         EventIntentUnhandled,
		Intent:       intent,
		Confidence:   confidence,
		CurrentState: currentState,
	}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
