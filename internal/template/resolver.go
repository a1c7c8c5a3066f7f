package template

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/Jeffail/gabs/v2"
)

// Env carries the three lookup environments a template may reference.
// Nil maps are valid; lookups against them yield the empty string.
type Env struct {
	Ctx  map[string]any
	Slot map[string]any
	Tool map[string]any
}

var refPattern = regexp.MustCompile(`\{\{\s*(ctx|slot|tool)\.([A-Za-z0-9_\-.]+)\s*\}\}`)

var (
	intPattern     = regexp.MustCompile(`^-?\d+$`)
	decimalPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// String interpolates every {{env.path}} reference in s. Missing lookups
// substitute the empty string. No coercion is applied; use Value for
// arguments and assignments.
func String(s string, env Env) string {
	if !refPattern.MatchString(s) {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := refPattern.FindStringSubmatch(match)
		return stringify(env.lookup(parts[1], parts[2]))
	})
}

// Value resolves a template value of any shape. Strings are interpolated
// and then parsed leniently: an exact JSON literal becomes its parse
// result, a pure integer or decimal string coerces to a number, anything
// else stays a string. Maps and lists are resolved recursively; other
// values pass through unchanged. Resolution is idempotent over strings
// that contain no references.
func Value(v any, env Env) any {
	switch val := v.(type) {
	case string:
		return coerce(String(val, env))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Value(item, env)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Value(item, env)
		}
		return out
	default:
		return v
	}
}

// Map resolves every value of a template argument map.
func Map(args map[string]any, env Env) map[string]any {
	if args == nil {
		return nil
	}
	resolved := Value(args, env)
	return resolved.(map[string]any)
}

func (e Env) lookup(space, path string) any {
	var root map[string]any
	switch space {
	case "ctx":
		root = e.Ctx
	case "slot":
		root = e.Slot
	case "tool":
		root = e.Tool
	}
	if root == nil {
		return nil
	}
	container := gabs.Wrap(root).Path(path)
	if container == nil {
		return nil
	}
	return container.Data()
}

// stringify renders a looked-up value for substitution. Composite values
// are rendered as JSON so that whole-string references round-trip through
// the lenient parse.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// coerce applies the lenient post-parse to a fully substituted string.
func coerce(s string) any {
	if s == "" {
		return s
	}
	if intPattern.MatchString(s) || decimalPattern.MatchString(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	}
	if looksLikeJSON(s) {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			return parsed
		}
	}
	return s
}

// looksLikeJSON gates the JSON parse to literals, so ordinary prose is
// never fed through the decoder.
func looksLikeJSON(s string) bool {
	switch s[0] {
	case '{', '[', '"':
		return true
	}
	return s == "true" || s == "false" || s == "null"
}
