package fingerprint

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/artkit-ai/artkit/pkg/models"
)

// Pseudo-parameters added by model wrappers so that otherwise identical
// prompts sent through different request kinds never share a cache entry.
const (
	ParamType         = "_type"
	ParamSystemPrompt = "_system_prompt"
	ParamHistory      = "_history_"

	TypeChat       = "chat"
	TypeCompletion = "completion"
	TypeDiffusion  = "diffusion"
	TypeVision     = "vision"
)

// ParamTypeError reports a parameter whose value is not a string, integer,
// float or boolean, or could not be normalized into one.
type ParamTypeError struct {
	Name  string
	Value any
	Err   error
}

func (e *ParamTypeError) Error() string {
	msg := fmt.Sprintf("model parameters must be strings, integers, floats, or booleans, but got parameter %s=%v", e.Name, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParamTypeError) Unwrap() error { return e.Err }

// NormalizeParams drops unset (nil) parameters and normalizes the rest so
// they can be passed to Build.
func NormalizeParams(params models.Params) (models.Params, error) {
	out := make(models.Params, len(params))
	for name, v := range params {
		if isNil(v) {
			continue
		}
		n, err := Normalize(v)
		if err != nil {
			return nil, &ParamTypeError{Name: name, Value: v, Err: err}
		}
		out[name] = n
	}
	return out, nil
}

// Build returns the canonical fingerprint of a prompt and its parameters.
// Parameters are ordered by name; every value must already be a leaf.
func Build(prompt string, params models.Params) (string, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(strconv.Quote(prompt))
	b.WriteString(", (")
	for i, name := range names {
		v := params[name]
		leaf, ok := leafOf(reflect.ValueOf(v))
		if !ok {
			return "", &ParamTypeError{Name: name, Value: v}
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(strconv.Quote(name))
		b.WriteString(", ")
		b.WriteString(repr(leaf))
		b.WriteByte(')')
	}
	b.WriteString("))")
	return b.String(), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
