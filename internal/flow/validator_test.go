package flow

import (
	"testing"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalFlow() *domain.FlowConfig {
	return &domain.FlowConfig{
		Meta:  domain.FlowMeta{Name: "test"},
		Start: "A",
		Intents: map[string]domain.Intent{
			"GO": {Examples: []string{"go"}},
		},
		States: map[string]domain.State{
			"A": {
				OnEnter: []domain.Action{{Ask: "hi"}},
				Transitions: []domain.Transition{
					{OnIntent: domain.StringList{"GO"}, To: "B"},
				},
			},
			"B": {OnEnter: []domain.Action{{Hangup: true}}},
		},
	}
}

func TestValidate_AcceptsWellFormedFlow(t *testing.T) {
	res := Validate(minimalFlow())
	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
}

func TestValidate_ReservationFlow(t *testing.T) {
	res := Validate(ReservationFlow())
	require.True(t, res.Valid(), "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidate_MissingMeta(t *testing.T) {
	cfg := minimalFlow()
	cfg.Meta.Name = ""
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_StartNotInStates(t *testing.T) {
	cfg := minimalFlow()
	cfg.Start = "Nowhere"
	res := Validate(cfg)
	require.False(t, res.Valid())
	assert.Contains(t, res.Errors[0], "Nowhere")
}

func TestValidate_EmptyStates(t *testing.T) {
	cfg := minimalFlow()
	cfg.States = nil
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_UnknownTransitionTarget(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.Transitions = []domain.Transition{{OnIntent: domain.StringList{"GO"}, To: "Missing"}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_UnknownBranchTarget(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.Transitions = []domain.Transition{{
		OnIntent: domain.StringList{"GO"},
		Branch:   []domain.Branch{{When: "else", To: "Missing"}},
	}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_UnknownIntent(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.Transitions = []domain.Transition{{OnIntent: domain.StringList{"NOPE"}, To: "B"}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_UnknownToolInAction(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.OnEnter = []domain.Action{{Tool: "ghost"}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_AmbiguousAction(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.OnEnter = []domain.Action{{Say: "hi", Ask: "there"}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_TransitionWithoutTrigger(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.Transitions = []domain.Transition{{To: "B"}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_TransitionWithoutTarget(t *testing.T) {
	cfg := minimalFlow()
	state := cfg.States["A"]
	state.Transitions = []domain.Transition{{OnIntent: domain.StringList{"GO"}}}
	cfg.States["A"] = state
	assert.False(t, Validate(cfg).Valid())
}

func TestValidate_NonNumericTimeout(t *testing.T) {
	cfg := minimalFlow()
	cfg.Tools = map[string]domain.Tool{"slow": {TimeoutMs: "soon"}}
	res := Validate(cfg)
	require.False(t, res.Valid())
	assert.Contains(t, res.Errors[0], "timeout_ms")
}

func TestValidate_UnreachableStateIsWarning(t *testing.T) {
	cfg := minimalFlow()
	cfg.States["Orphan"] = domain.State{OnEnter: []domain.Action{{Say: "lost"}}}
	res := Validate(cfg)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Orphan")
}
