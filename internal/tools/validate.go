package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Validate checks args against params and returns a copy with defaults
// filled in. Arguments that no parameter declares are passed through.
// The first failing parameter, in declaration order, is reported as a
// *ValidationError.
func Validate(params []Parameter, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(params))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range params {
		v, ok := out[p.Name]
		if !ok || v == nil {
			if p.Default != nil {
				out[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, &ValidationError{Param: p.Name, Reason: "required parameter missing"}
			}
			delete(out, p.Name)
			continue
		}

		if !typeMatches(p.Type, v) {
			return nil, &ValidationError{
				Param:  p.Name,
				Reason: fmt.Sprintf("expected %s, got %T", p.Type, v),
			}
		}

		if len(p.Enum) > 0 && !slices.Contains(p.Enum, fmt.Sprint(v)) {
			return nil, &ValidationError{
				Param:  p.Name,
				Reason: fmt.Sprintf("value %v not in %v", v, p.Enum),
			}
		}
	}
	return out, nil
}

// typeMatches reports whether v can serve as a JSON-schema value of the
// named type. Numbers decoded from JSON arrive as float64, so integers
// are accepted when they have no fractional part.
func typeMatches(typ string, v any) bool {
	switch typ {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, int32, json.Number:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64, int32:
			return true
		case float64:
			return n == math.Trunc(n)
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// IntParam reads an integer parameter that may have arrived as any JSON
// number type. It returns def when the parameter is absent.
func IntParam(params map[string]any, name string, def int) int {
	switch n := params[name].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// StringParam reads a string parameter, returning "" when absent.
func StringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}
