package domain

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SlotType enumerates the value kinds a classifier may extract.
type SlotType string

const (
	SlotNumber SlotType = "number"
	SlotDate   SlotType = "date"
	SlotTime   SlotType = "time"
	SlotName   SlotType = "name"
	SlotPhone  SlotType = "phone"
	SlotString SlotType = "string"
)

// FlowMeta carries human-facing flow information.
type FlowMeta struct {
	Name   string `yaml:"name"   json:"name"`
	Locale string `yaml:"locale" json:"locale,omitempty"`
}

// Intent declares a recognizable user intent with example utterances
// and the typed slots it may carry.
type Intent struct {
	Examples []string            `yaml:"examples" json:"examples"`
	Slots    map[string]SlotType `yaml:"slots"    json:"slots,omitempty"`
}

// Tool declares an invokable side effect. Schemas are free-form JSON
// Schema fragments; TimeoutMs overrides the executor default. TimeoutMs
// is kept untyped so validation can reject non-numeric values instead of
// failing at decode time.
type Tool struct {
	ArgsSchema   map[string]any `yaml:"args_schema"   json:"args_schema,omitempty"   mapstructure:"args_schema"`
	ResultSchema map[string]any `yaml:"result_schema" json:"result_schema,omitempty" mapstructure:"result_schema"`
	TimeoutMs    any            `yaml:"timeout_ms"    json:"timeout_ms,omitempty"    mapstructure:"timeout_ms"`
}

// TimeoutNumeric reports the declared timeout in milliseconds. ok is
// false when no timeout is declared or the value is not numeric.
func (t Tool) TimeoutNumeric() (ms float64, ok bool) {
	switch v := t.TimeoutMs.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Action is a discriminated variant: exactly one of the fields below is
// populated. Validation enforces the exactly-one rule.
type Action struct {
	Say      string         `yaml:"say"      json:"say,omitempty"`
	Ask      string         `yaml:"ask"      json:"ask,omitempty"`
	Transfer string         `yaml:"transfer" json:"transfer,omitempty"`
	Hangup   bool           `yaml:"hangup"   json:"hangup,omitempty"`
	Tool     string         `yaml:"tool"     json:"tool,omitempty"`
	Args     map[string]any `yaml:"args"     json:"args,omitempty"`
}

// Kind returns the action discriminator, or "" when no field is set.
func (a Action) Kind() string {
	switch {
	case a.Say != "":
		return "say"
	case a.Ask != "":
		return "ask"
	case a.Transfer != "":
		return "transfer"
	case a.Hangup:
		return "hangup"
	case a.Tool != "":
		return "tool"
	}
	return ""
}

// kindCount reports how many variant fields are set. Used by validation
// to reject ambiguous actions.
func (a Action) kindCount() int {
	n := 0
	if a.Say != "" {
		n++
	}
	if a.Ask != "" {
		n++
	}
	if a.Transfer != "" {
		n++
	}
	if a.Hangup {
		n++
	}
	if a.Tool != "" {
		n++
	}
	return n
}

// Ambiguous reports whether more than one variant field is populated.
func (a Action) Ambiguous() bool { return a.kindCount() > 1 }

// Branch is a guarded jump inside a transition. A `when` of "else" is
// always true and serves as the default arm.
type Branch struct {
	When string `yaml:"when" json:"when"`
	To   string `yaml:"to"   json:"to"`
}

// Transition is one of three shapes: intent-driven (OnIntent set),
// tool-result-driven (OnToolResult set), or pure-guard (only When/To,
// used by branches). Branch wins over To when both are present.
type Transition struct {
	OnIntent     StringList     `yaml:"onIntent"     json:"onIntent,omitempty"`
	OnToolResult string         `yaml:"onToolResult" json:"onToolResult,omitempty"`
	When         string         `yaml:"when"         json:"when,omitempty"`
	Assign       map[string]any `yaml:"assign"       json:"assign,omitempty"`
	To           string         `yaml:"to"           json:"to,omitempty"`
	Branch       []Branch       `yaml:"branch"       json:"branch,omitempty"`
}

// MatchesIntent reports whether the transition triggers on the named
// intent, by equality or list membership.
func (t Transition) MatchesIntent(name string) bool {
	for _, candidate := range t.OnIntent {
		if candidate == name {
			return true
		}
	}
	return false
}

// State is a node in the flow graph: ordered entry actions plus ordered
// transitions. A state with no transitions is terminal.
type State struct {
	OnEnter     []Action     `yaml:"onEnter"     json:"onEnter,omitempty"`
	Transitions []Transition `yaml:"transitions" json:"transitions,omitempty"`
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool { return len(s.Transitions) == 0 }

// FlowConfig is the declarative flow description. It is immutable once
// bound to a session.
type FlowConfig struct {
	Meta    FlowMeta          `yaml:"meta"    json:"meta"`
	Start   string            `yaml:"start"   json:"start"`
	Intents map[string]Intent `yaml:"intents" json:"intents,omitempty"`
	Tools   map[string]Tool   `yaml:"tools"   json:"tools,omitempty"`
	States  map[string]State  `yaml:"states"  json:"states"`
}

// StringList accepts either a scalar string or a list of strings when
// decoding, normalizing to a slice. Flow authors write `onIntent: BOOK`
// and `onIntent: [BOOK, ASK_QUESTION]` interchangeably.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}
