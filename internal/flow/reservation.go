package flow

import "github.com/convoflow/convoflow/pkg/domain"

// ReservationFlow returns the built-in restaurant reservation flow used
// by the demo session endpoint and the interactive demo command.
func ReservationFlow() *domain.FlowConfig {
	return &domain.FlowConfig{
		Meta: domain.FlowMeta{Name: "restaurant-reservation", Locale: "en-US"},
		Start: "InitialGreeting",
		Intents: map[string]domain.Intent{
			"BOOK": {
				Examples: []string{
					"i would like to make a reservation",
					"book a table",
					"i want to book",
				},
			},
			"ASK_QUESTION": {
				Examples: []string{
					"what are your opening hours",
					"do you have vegan options",
					"where are you located",
				},
			},
			"PROVIDE_PARTY_SIZE": {
				Examples: []string{
					"we are 4 people",
					"party of 12",
					"6 people please",
				},
				Slots: map[string]domain.SlotType{"number": domain.SlotNumber},
			},
			"PROVIDE_DATETIME": {
				Examples: []string{
					"tomorrow at 7pm",
					"next friday at 6:30 pm",
					"on 2025-01-01 at 18:00",
				},
				Slots: map[string]domain.SlotType{
					"date": domain.SlotDate,
					"time": domain.SlotTime,
				},
			},
			"PROVIDE_CONTACT": {
				Examples: []string{
					"my name is john doe phone 555-1234",
					"jane smith 212-555-0199",
				},
				Slots: map[string]domain.SlotType{
					"name":  domain.SlotName,
					"phone": domain.SlotPhone,
				},
			},
		},
		Tools: map[string]domain.Tool{
			"CheckAvailability": {
				ArgsSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":      map[string]any{"type": "string"},
						"time":      map[string]any{"type": "string"},
						"partySize": map[string]any{"type": "number"},
					},
					"required": []any{"date", "time", "partySize"},
				},
				ResultSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"ok": map[string]any{"type": "boolean"}},
				},
				TimeoutMs: float64(5000),
			},
			"CreateReservation": {
				ArgsSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":      map[string]any{"type": "string"},
						"time":      map[string]any{"type": "string"},
						"partySize": map[string]any{"type": "number"},
						"contact":   map[string]any{"type": "object"},
					},
					"required": []any{"date", "time", "partySize", "contact"},
				},
				ResultSchema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"reservationId": map[string]any{"type": "string"}},
				},
				TimeoutMs: float64(10000),
			},
		},
		States: map[string]domain.State{
			"InitialGreeting": {
				OnEnter: []domain.Action{
					{Ask: "Hello! Thanks for calling. Would you like to make a reservation?"},
				},
				Transitions: []domain.Transition{
					{OnIntent: domain.StringList{"BOOK"}, To: "CollectPartySize"},
				},
			},
			"CollectPartySize": {
				OnEnter: []domain.Action{
					{Ask: "How many people will be joining?"},
				},
				Transitions: []domain.Transition{
					{
						OnIntent: domain.StringList{"PROVIDE_PARTY_SIZE"},
						Assign:   map[string]any{"partySize": "{{slot.number}}"},
						Branch: []domain.Branch{
							{When: "{{ctx.partySize}} > 8", To: "TransferToManager"},
							{When: "else", To: "CollectReservationDateTime"},
						},
					},
				},
			},
			"TransferToManager": {
				OnEnter: []domain.Action{
					{Say: "For parties larger than eight I will connect you with our manager."},
					{Transfer: "+15551234567"},
				},
			},
			"CollectReservationDateTime": {
				OnEnter: []domain.Action{
					{Ask: "What date and time would you like?"},
				},
				Transitions: []domain.Transition{
					{
						OnIntent: domain.StringList{"PROVIDE_DATETIME"},
						Assign: map[string]any{
							"date": "{{slot.date}}",
							"time": "{{slot.time}}",
						},
						To: "ConfirmAvailability",
					},
				},
			},
			"ConfirmAvailability": {
				OnEnter: []domain.Action{
					{Say: "Let me check availability for {{ctx.partySize}} on {{ctx.date}} at {{ctx.time}}."},
					{
						Tool: "CheckAvailability",
						Args: map[string]any{
							"date":      "{{ctx.date}}",
							"time":      "{{ctx.time}}",
							"partySize": "{{ctx.partySize}}",
						},
					},
				},
				Transitions: []domain.Transition{
					{
						OnToolResult: "CheckAvailability",
						When:         "{{tool.ok}} == true",
						To:           "CollectContactInformation",
					},
					{
						OnToolResult: "CheckAvailability",
						When:         "else",
						To:           "AltDateTime",
					},
				},
			},
			"AltDateTime": {
				OnEnter: []domain.Action{
					{Ask: "I'm sorry, that time is not available. Could you pick another date and time?"},
				},
				Transitions: []domain.Transition{
					{
						OnIntent: domain.StringList{"PROVIDE_DATETIME"},
						Assign: map[string]any{
							"date": "{{slot.date}}",
							"time": "{{slot.time}}",
						},
						To: "ConfirmAvailability",
					},
				},
			},
			"CollectContactInformation": {
				OnEnter: []domain.Action{
					{Ask: "Great, that works! May I have your name and phone number?"},
				},
				Transitions: []domain.Transition{
					{
						OnIntent: domain.StringList{"PROVIDE_CONTACT"},
						Assign: map[string]any{
							"contact": map[string]any{
								"name":  "{{slot.name}}",
								"phone": "{{slot.phone}}",
							},
						},
						To: "CreateBooking",
					},
				},
			},
			"CreateBooking": {
				OnEnter: []domain.Action{
					{
						Tool: "CreateReservation",
						Args: map[string]any{
							"date":      "{{ctx.date}}",
							"time":      "{{ctx.time}}",
							"partySize": "{{ctx.partySize}}",
							"contact":   "{{ctx.contact}}",
						},
					},
				},
				Transitions: []domain.Transition{
					{OnToolResult: "CreateReservation", To: "Goodbye"},
				},
			},
			"Goodbye": {
				OnEnter: []domain.Action{
					{Say: "Your reservation is confirmed. We look forward to seeing you!"},
					{Hangup: true},
				},
			},
		},
	}
}
