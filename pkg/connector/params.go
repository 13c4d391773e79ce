package connector

import (
	"fmt"
	"math"

	"github.com/artkit-ai/artkit/pkg/models"
)

// ParamError reports a parameter a provider cannot send.
type ParamError struct {
	Name   string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

// Float returns params[name] as a float64. ok is false when the parameter
// is absent.
func Float(params models.Params, name string) (v float64, ok bool, err error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch x := raw.(type) {
	case float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case uint64:
		return float64(x), true, nil
	}
	return 0, false, &ParamError{Name: name, Value: raw, Reason: "must be a number"}
}

// Int returns params[name] as an int64. Floats are accepted when they hold
// a whole number, as YAML and JSON decoding may produce them.
func Int(params models.Params, name string) (v int64, ok bool, err error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch x := raw.(type) {
	case int:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case int32:
		return int64(x), true, nil
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true, nil
		}
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true, nil
		}
	}
	return 0, false, &ParamError{Name: name, Value: raw, Reason: "must be an integer"}
}

// Strings returns params[name] as a list of strings. A single string is a
// list of one.
func Strings(params models.Params, name string) (v []string, ok bool, err error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, false, nil
	}
	switch x := raw.(type) {
	case string:
		return []string{x}, true, nil
	case []string:
		return x, true, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, isString := item.(string)
			if !isString {
				return nil, false, &ParamError{Name: name, Value: raw, Reason: "must be a list of strings"}
			}
			out = append(out, s)
		}
		return out, true, nil
	}
	return nil, false, &ParamError{Name: name, Value: raw, Reason: "must be a string or a list of strings"}
}

// String returns params[name] as a string.
func String(params models.Params, name string) (v string, ok bool, err error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, &ParamError{Name: name, Value: raw, Reason: "must be a string"}
	}
	return s, true, nil
}

// Bool returns params[name] as a bool.
func Bool(params models.Params, name string) (v bool, ok bool, err error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return false, false, nil
	}
	b, isBool := raw.(bool)
	if !isBool {
		return false, false, &ParamError{Name: name, Value: raw, Reason: "must be true or false"}
	}
	return b, true, nil
}

// Unsupported returns a ParamError for the first name in params that is not
// in known, checking names in sorted order.
func Unsupported(params models.Params, known ...string) error {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	var bad []string
	for name := range params {
		if !allowed[name] {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	first := bad[0]
	for _, b := range bad[1:] {
		if b < first {
			first = b
		}
	}
	return &ParamError{Name: first, Value: params[first], Reason: "not supported by this provider"}
}
