package expr

import (
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/internal/template"
)

// operators in recognition order; two-character forms are checked before
// their one-character prefixes at the same position.
var operators = []string{">=", "<=", "==", "!=", "&&", "||", ">", "<"}

// Evaluate applies the guard grammar: a single operator splits the
// expression at the first operator found left-to-right, both sides are
// template-resolved, and the comparison uses numeric ordering when both
// sides resolve numeric, string ordering otherwise. The literal "else"
// is always true. Operator-free expressions evaluate via truthiness of
// their resolved value. Compound conditions beyond one operator are not
// part of the grammar.
func Evaluate(guard string, env template.Env) bool {
	trimmed := strings.TrimSpace(guard)
	if trimmed == "" || trimmed == "else" {
		return true
	}

	op, left, right, found := splitAtOperator(trimmed)
	if !found {
		return truthy(template.Value(trimmed, env))
	}

	lv := template.Value(strings.TrimSpace(left), env)
	rv := template.Value(strings.TrimSpace(right), env)

	switch op {
	case "&&":
		return truthy(lv) && truthy(rv)
	case "||":
		return truthy(lv) || truthy(rv)
	case "==":
		return compare(lv, rv) == 0
	case "!=":
		return compare(lv, rv) != 0
	case ">":
		return compare(lv, rv) > 0
	case "<":
		return compare(lv, rv) < 0
	case ">=":
		return compare(lv, rv) >= 0
	case "<=":
		return compare(lv, rv) <= 0
	}
	return false
}

func splitAtOperator(s string) (op, left, right string, found bool) {
	for i := 0; i < len(s); i++ {
		for _, candidate := range operators {
			if strings.HasPrefix(s[i:], candidate) {
				return candidate, s[:i], s[i+len(candidate):], true
			}
		}
	}
	return "", "", "", false
}

// compare returns -1, 0 or 1 under the operands' natural ordering.
func compare(a, b any) int {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(asString(a), asString(b))
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	return true
}
