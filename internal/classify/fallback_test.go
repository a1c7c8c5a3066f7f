package classify

import (
	"context"
	"testing"
	"time"

	"github.com/convoflow/convoflow/internal/flow"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixedClassifier() *Deterministic {
	c := NewDeterministic()
	c.now = func() time.Time { return refNow }
	return c
}

func TestDeterministic_PicksBestOverlap(t *testing.T) {
	c := newFixedClassifier()
	intents := map[string]domain.Intent{
		"BOOK":         {Examples: []string{"I want to book a table", "make a reservation"}},
		"ASK_QUESTION": {Examples: []string{"what are your opening hours"}},
	}

	result, err := c.Classify(context.Background(), "I'd like to book a table please", intents, nil)
	require.NoError(t, err)
	assert.Equal(t, "BOOK", result.Name)
	assert.Greater(t, result.Confidence, 0.5)

	result, err = c.Classify(context.Background(), "what are your opening hours?", intents, nil)
	require.NoError(t, err)
	assert.Equal(t, "ASK_QUESTION", result.Name)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestDeterministic_ScoreIsMaxOverExamples(t *testing.T) {
	tokens := tokenSet("make a reservation")
	score := scoreIntent(tokens, []string{
		"completely unrelated utterance here",
		"make a reservation",
	})
	assert.Equal(t, 1.0, score)
}

func TestDeterministic_ExtractsWinnerSlots(t *testing.T) {
	c := newFixedClassifier()
	intents := map[string]domain.Intent{
		"PROVIDE_DATETIME": {
			Examples: []string{"tomorrow at 7pm", "friday at 6:30 pm"},
			Slots:    map[string]domain.SlotType{"date": domain.SlotDate, "time": domain.SlotTime},
		},
		"BOOK": {Examples: []string{"I want to book a table"}},
	}

	result, err := c.Classify(context.Background(), "tomorrow at 7pm", intents, nil)
	require.NoError(t, err)
	assert.Equal(t, "PROVIDE_DATETIME", result.Name)
	assert.Equal(t, "2025-06-03", result.Slots["date"])
	assert.Equal(t, "19:00", result.Slots["time"])
}

func TestDeterministic_SentinelForcesLowConfidence(t *testing.T) {
	c := newFixedClassifier()
	intents := map[string]domain.Intent{
		"BOOK":         {Examples: []string{"book a table"}},
		"ASK_QUESTION": {Examples: []string{"opening hours"}},
	}

	result, err := c.Classify(context.Background(), "book a table (HANG ON)", intents, nil)
	require.NoError(t, err)
	assert.Equal(t, sentinelConfidence, result.Confidence)
	assert.Contains(t, []string{"BOOK", "ASK_QUESTION"}, result.Name)
}

func TestDeterministic_NoOverlapStillReturnsAnIntent(t *testing.T) {
	c := newFixedClassifier()
	intents := map[string]domain.Intent{
		"BOOK": {Examples: []string{"book a table"}},
	}

	result, err := c.Classify(context.Background(), "xyzzy", intents, nil)
	require.NoError(t, err)
	assert.Equal(t, "BOOK", result.Name)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestDeterministic_ReservationFlowUtterances(t *testing.T) {
	c := newFixedClassifier()
	intents := flow.ReservationFlow().Intents
	ctx := context.Background()

	cases := []struct {
		text string
		want string
	}{
		{"I'd like to book a table", "BOOK"},
		{"table for 4 people", "PROVIDE_PARTY_SIZE"},
		{"tomorrow at 7pm", "PROVIDE_DATETIME"},
		{"my name is John Doe, phone 555-1234", "PROVIDE_CONTACT"},
	}
	for _, tc := range cases {
		result, err := c.Classify(ctx, tc.text, intents, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.want, result.Name, "text: %q", tc.text)
	}
}
