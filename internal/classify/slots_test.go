package classify

import (
	"testing"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday, June 2 2025.
var refNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestExtractSlot_Number(t *testing.T) {
	v, ok := ExtractSlot(domain.SlotNumber, "a table for 4 people", refNow)
	require.True(t, ok)
	assert.Equal(t, float64(4), v)

	_, ok = ExtractSlot(domain.SlotNumber, "a table for two", refNow)
	assert.False(t, ok)
}

func TestExtractSlot_Date(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"tomorrow at 7pm", "2025-06-03"},
		{"later today", "2025-06-02"},
		{"on 2025-06-15 please", "2025-06-15"},
		{"on 6/15/2025 please", "2025-06-15"},
		{"friday evening", "2025-06-06"},
		{"next friday evening", "2025-06-06"},
		{"on Monday", "2025-06-09"}, // never "today": the next occurrence
	}
	for _, tc := range cases {
		v, ok := ExtractSlot(domain.SlotDate, tc.text, refNow)
		require.True(t, ok, "text: %q", tc.text)
		assert.Equal(t, tc.want, v, "text: %q", tc.text)
	}

	_, ok := ExtractSlot(domain.SlotDate, "sometime soon", refNow)
	assert.False(t, ok)
}

func TestExtractSlot_Time(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"at 7pm", "19:00"},
		{"at 7 pm", "19:00"},
		{"at 6:30 pm", "18:30"},
		{"at 6:30pm", "18:30"},
		{"at 18:45", "18:45"},
		{"at 12am", "00:00"},
		{"at 12:15 pm", "12:15"},
	}
	for _, tc := range cases {
		v, ok := ExtractSlot(domain.SlotTime, tc.text, refNow)
		require.True(t, ok, "text: %q", tc.text)
		assert.Equal(t, tc.want, v, "text: %q", tc.text)
	}

	_, ok := ExtractSlot(domain.SlotTime, "in the evening", refNow)
	assert.False(t, ok)
}

func TestExtractSlot_Name(t *testing.T) {
	v, ok := ExtractSlot(domain.SlotName, "my name is John Doe", refNow)
	require.True(t, ok)
	assert.Equal(t, "John Doe", v)

	_, ok = ExtractSlot(domain.SlotName, "no name here", refNow)
	assert.False(t, ok)
}

func TestExtractSlot_Phone(t *testing.T) {
	cases := []string{"555-1234", "(415) 555-1234", "415-555-1234", "415.555.1234"}
	for _, text := range cases {
		v, ok := ExtractSlot(domain.SlotPhone, "call me at "+text, refNow)
		require.True(t, ok, "text: %q", text)
		assert.Equal(t, text, v)
	}
}

func TestExtractSlots_DeclaredOnly(t *testing.T) {
	slots := map[string]domain.SlotType{
		"date": domain.SlotDate,
		"time": domain.SlotTime,
	}
	out := ExtractSlots("tomorrow at 7pm", slots, refNow)
	require.NotNil(t, out)
	assert.Equal(t, "2025-06-03", out["date"])
	assert.Equal(t, "19:00", out["time"])

	// Nothing extractable yields nil, not an empty map.
	assert.Nil(t, ExtractSlots("hello there", slots, refNow))
	assert.Nil(t, ExtractSlots("tomorrow at 7pm", nil, refNow))
}
