package fingerprint

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupportedValue is returned when a value cannot be projected onto a
// canonical string (functions, channels, unsafe pointers, runaway nesting).
var ErrUnsupportedValue = errors.New("unsupported parameter value")

const maxDepth = 64

// Tuple is a fixed-size ordered group. Element order is significant.
type Tuple []any

// Set is an unordered collection of any normalizable values, tuples and
// other containers included. Two sets with the same elements normalize
// identically regardless of element order; repeated elements count once.
type Set []any

// NewSet returns a Set holding items.
func NewSet(items ...any) Set {
	return Set(items)
}

// literal is an already rendered container or nil marker. It is embedded
// into enclosing containers verbatim, never quoted.
type literal string

var (
	tupleType = reflect.TypeOf(Tuple(nil))
	setType   = reflect.TypeOf(Set(nil))
)

// Normalize returns a deterministic projection of v. Strings, booleans,
// integers and floats are returned as leaves (string, bool, int64, uint64,
// float32, float64); sets, mappings, lists and tuples are rendered to a
// canonical literal string; anything else falls back to its fmt
// representation.
func Normalize(v any) (any, error) {
	n, err := normalize(reflect.ValueOf(v), 0)
	if err != nil {
		return nil, err
	}
	if l, ok := n.(literal); ok {
		return string(l), nil
	}
	return n, nil
}

func normalize(v reflect.Value, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d levels", ErrUnsupportedValue, maxDepth)
	}
	if !v.IsValid() {
		return literal("nil"), nil
	}
	if leaf, ok := leafOf(v); ok {
		return leaf, nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return literal("nil"), nil
		}
		return normalize(v.Elem(), depth+1)
	case reflect.Pointer:
		if v.IsNil() {
			return literal("nil"), nil
		}
		if leaf, ok := leafOf(v.Elem()); ok {
			return leaf, nil
		}
		if s, ok := stringer(v); ok {
			return s, nil
		}
		return normalize(v.Elem(), depth+1)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
	case reflect.Map:
		if isSetType(v.Type()) {
			return renderSet(v.MapKeys(), depth)
		}
		return renderMap(v, depth)
	case reflect.Slice:
		if v.Type() == setType {
			elems := make([]reflect.Value, v.Len())
			for i := range elems {
				elems[i] = v.Index(i)
			}
			return renderSet(elems, depth)
		}
		if v.Type() == tupleType {
			return renderSeq(v, depth, true)
		}
		return renderSeq(v, depth, false)
	case reflect.Array:
		return renderSeq(v, depth, true)
	}

	if s, ok := stringer(v); ok {
		return s, nil
	}
	// fmt formats the value held by a reflect.Value, sorting map keys.
	return fmt.Sprintf("%+v", v), nil
}

// leafOf reports whether v is one of the scalar kinds kept as-is.
func leafOf(v reflect.Value) (any, bool) {
	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), true
	case reflect.Float32:
		return float32(v.Float()), true
	case reflect.Float64:
		return v.Float(), true
	}
	return nil, false
}

func stringer(v reflect.Value) (string, bool) {
	if !v.CanInterface() {
		return "", false
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

func isSetType(t reflect.Type) bool {
	e := t.Elem()
	return e.Kind() == reflect.Struct && e.NumField() == 0
}

// renderSet sorts the normalized elements and drops elements whose
// rendering repeats an earlier one.
func renderSet(elems []reflect.Value, depth int) (any, error) {
	items := make([]any, 0, len(elems))
	for _, e := range elems {
		n, err := normalize(e, depth+1)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	if len(items) == 0 {
		return literal("set()"), nil
	}
	sort.SliceStable(items, func(i, j int) bool { return compare(items[i], items[j]) < 0 })

	var b strings.Builder
	b.WriteByte('{')
	prev := ""
	for i, it := range items {
		r := repr(it)
		if i > 0 && r == prev {
			continue
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r)
		prev = r
	}
	b.WriteByte('}')
	return literal(b.String()), nil
}

func renderMap(v reflect.Value, depth int) (any, error) {
	type entry struct{ k, v any }
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := normalize(iter.Key(), depth+1)
		if err != nil {
			return nil, err
		}
		val, err := normalize(iter.Value(), depth+1)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{k, val})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if c := compare(entries[i].k, entries[j].k); c != 0 {
			return c < 0
		}
		return compare(entries[i].v, entries[j].v) < 0
	})

	var b strings.Builder
	b.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(e.k))
		b.WriteString(": ")
		b.WriteString(repr(e.v))
	}
	b.WriteByte('}')
	return literal(b.String()), nil
}

func renderSeq(v reflect.Value, depth int, tuple bool) (any, error) {
	open, closing := "[", "]"
	if tuple {
		open, closing = "(", ")"
	}

	var b strings.Builder
	b.WriteString(open)
	for i := 0; i < v.Len(); i++ {
		n, err := normalize(v.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(repr(n))
	}
	if tuple && v.Len() == 1 {
		b.WriteByte(',')
	}
	b.WriteString(closing)
	return literal(b.String()), nil
}

// repr renders a normalized value for embedding in a fingerprint.
func repr(v any) string {
	switch x := v.(type) {
	case literal:
		return string(x)
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	}
	return fmt.Sprintf("%v", v)
}

// formatFloat always keeps a fractional marker so 2.0 never renders like 2.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func rank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case int64, uint64, float32, float64:
		return 1
	case string:
		return 2
	}
	return 3
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

// compare is a total order over normalized values: bools, then numbers
// (numerically), then strings, then rendered literals. Ties fall back to the
// rendered form.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 1:
		fa, fb := asFloat(a), asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(repr(a), repr(b))
}
