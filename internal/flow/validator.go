package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/convoflow/convoflow/pkg/domain"
)

// Result carries validation findings. Errors reject the flow; warnings
// (unreachable states) are informational and the flow is accepted.
type Result struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the flow may be bound to a session.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Err folds the accumulated errors into a single error, or nil.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("invalid flow: %s", strings.Join(r.Errors, "; "))
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks a flow description for structural consistency: every
// referenced state, intent and tool must exist, actions must be a single
// variant, and transitions must name a trigger and a target. Unreachable
// states are reported as warnings.
func Validate(cfg *domain.FlowConfig) Result {
	var res Result

	if cfg.Meta.Name == "" {
		res.errorf("meta.name is required")
	}
	if cfg.Start == "" {
		res.errorf("start is required")
	}
	if len(cfg.States) == 0 {
		res.errorf("states must not be empty")
	}
	if cfg.Start != "" && len(cfg.States) > 0 {
		if _, ok := cfg.States[cfg.Start]; !ok {
			res.errorf("start state %q not found in states", cfg.Start)
		}
	}

	for toolName, tool := range cfg.Tools {
		if tool.TimeoutMs != nil {
			if _, ok := tool.TimeoutNumeric(); !ok {
				res.errorf("tool %q: timeout_ms must be numeric", toolName)
			}
		}
	}

	for _, name := range sortedStateNames(cfg) {
		state := cfg.States[name]
		for i, action := range state.OnEnter {
			validateAction(&res, cfg, name, i, action)
		}
		for i, tr := range state.Transitions {
			validateTransition(&res, cfg, name, i, tr)
		}
	}

	markUnreachable(&res, cfg)
	return res
}

func validateAction(res *Result, cfg *domain.FlowConfig, state string, idx int, action domain.Action) {
	if action.Ambiguous() {
		res.errorf("state %q onEnter[%d]: action must contain exactly one of say, ask, transfer, hangup, tool", state, idx)
		return
	}
	if action.Tool != "" {
		if _, ok := cfg.Tools[action.Tool]; !ok {
			res.errorf("state %q onEnter[%d]: unknown tool %q", state, idx, action.Tool)
		}
	}
}

func validateTransition(res *Result, cfg *domain.FlowConfig, state string, idx int, tr domain.Transition) {
	if len(tr.OnIntent) == 0 && tr.OnToolResult == "" && len(tr.Branch) == 0 {
		res.errorf("state %q transitions[%d]: one of onIntent, onToolResult or branch is required", state, idx)
	}
	if tr.To == "" && len(tr.Branch) == 0 {
		res.errorf("state %q transitions[%d]: to is required when branch is absent", state, idx)
	}

	for _, intent := range tr.OnIntent {
		if _, ok := cfg.Intents[intent]; !ok {
			res.errorf("state %q transitions[%d]: unknown intent %q", state, idx, intent)
		}
	}
	if tr.To != "" {
		if _, ok := cfg.States[tr.To]; !ok {
			res.errorf("state %q transitions[%d]: unknown target state %q", state, idx, tr.To)
		}
	}
	for bi, branch := range tr.Branch {
		if _, ok := cfg.States[branch.To]; !ok {
			res.errorf("state %q transitions[%d].branch[%d]: unknown target state %q", state, idx, bi, branch.To)
		}
	}
}

// markUnreachable walks forward from start through transition targets,
// including branch arms, and reports every state the walk never visits.
func markUnreachable(res *Result, cfg *domain.FlowConfig) {
	if _, ok := cfg.States[cfg.Start]; !ok {
		return
	}

	visited := map[string]bool{}
	queue := []string{cfg.Start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		state, ok := cfg.States[current]
		if !ok {
			continue
		}
		for _, tr := range state.Transitions {
			if tr.To != "" && !visited[tr.To] {
				queue = append(queue, tr.To)
			}
			for _, branch := range tr.Branch {
				if !visited[branch.To] {
					queue = append(queue, branch.To)
				}
			}
		}
	}

	for _, name := range sortedStateNames(cfg) {
		if !visited[name] {
			res.warnf("state %q is unreachable from start", name)
		}
	}
}

// sortedStateNames keeps findings deterministic across runs.
func sortedStateNames(cfg *domain.FlowConfig) []string {
	names := make([]string, 0, len(cfg.States))
	for name := range cfg.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
