// Package template resolves a trigger's inputs template against an
// incoming webhook's payload, headers, and invocation metadata: a small
// recursive JSON-tree interpreter that preserves the referenced value's
// own type for a whole-string variable reference ("{{payload.amount}}" on
// its own resolves to a number/bool/object, not a stringified one) and
// falls back to string interpolation when a variable is embedded inside a
// larger string.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var wholeRef = regexp.MustCompile(`^\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}$`)
var embeddedRef = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Context is the set of namespaces a template expression may reference:
// payload.*, headers.*, and meta.*.
type Context struct {
	Payload map[string]any
	Headers map[string]any
	Meta    map[string]any
}

func (c Context) lookup(path string) (any, bool) {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return nil, false
	}
	var root map[string]any
	switch parts[0] {
	case "payload":
		root = c.Payload
	case "headers":
		root = c.Headers
	case "meta":
		root = c.Meta
	default:
		return nil, false
	}
	return lookupPath(root, parts[1])
}

func lookupPath(m map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = m
	for _, seg := range segments {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = asMap[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Resolve renders templateJSON (an arbitrary JSON document whose string
// leaves may contain {{payload.x}}/{{headers.x}}/{{meta.x}} references)
// against ctx and returns the resolved JSON.
func Resolve(templateJSON string, ctx Context) (json.RawMessage, error) {
	var tree any
	if err := json.Unmarshal([]byte(templateJSON), &tree); err != nil {
		return nil, fmt.Errorf("template: parse template: %w", err)
	}
	resolved := resolveValue(tree, ctx)
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("template: encode resolved template: %w", err)
	}
	return out, nil
}

func resolveValue(v any, ctx Context) any {
	switch val := v.(type) {
	case string:
		return resolveString(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = resolveValue(child, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = resolveValue(child, ctx)
		}
		return out
	default:
		return val
	}
}

func resolveString(s string, ctx Context) any {
	if m := wholeRef.FindStringSubmatch(s); m != nil {
		if v, ok := ctx.lookup(m[1]); ok {
			return v
		}
		return nil
	}
	return embeddedRef.ReplaceAllStringFunc(s, func(match string) string {
		ref := embeddedRef.FindStringSubmatch(match)[1]
		v, ok := ctx.lookup(ref)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
