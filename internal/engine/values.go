package engine

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/hivelang/internal/lang"
)

// truthy: null, false, 0 and "" are falsy; everything else is truthy.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	case *closure, *builtin:
		return "function"
	}
	return "unknown"
}

func isCallable(v any) bool {
	switch v.(type) {
	case *closure, *builtin:
		return true
	}
	return false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// toString renders v the way string interpolation does.
func toString(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatNumber(v)
	case string:
		return v
	case *closure, *builtin:
		return "<function>"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "<" + typeName(v) + ">"
	}
	return string(data)
}

func equal(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool, float64, string:
		return a == b
	case []any:
		bl, ok := b.([]any)
		if !ok || len(a) != len(bl) {
			return false
		}
		for i := range a {
			if !equal(a[i], bl[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bm, ok := b.(map[string]any)
		if !ok || len(a) != len(bm) {
			return false
		}
		for k, av := range a {
			bv, ok := bm[k]
			if !ok || !equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, bool) {
	switch a := a.(type) {
	case float64:
		if b, ok := b.(float64); ok {
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			}
			return 0, true
		}
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b), true
		}
	}
	return 0, false
}

func (in *invocation) add(pos lang.Pos, a, b any) (any, error) {
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			return x + y, nil
		}
	}
	_, as := a.(string)
	_, bs := b.(string)
	if as || bs {
		x, err := in.str(pos, a)
		if err != nil {
			return nil, err
		}
		y, err := in.str(pos, b)
		if err != nil {
			return nil, err
		}
		if err := in.within(pos, len(x)+len(y)); err != nil {
			return nil, err
		}
		return x + y, nil
	}
	if x, ok := a.([]any); ok {
		if y, ok := b.([]any); ok {
			if err := in.within(pos, len(x)+len(y)); err != nil {
				return nil, err
			}
			out := make([]any, 0, len(x)+len(y))
			return append(append(out, x...), y...), nil
		}
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "unsupported operand types for +: %s and %s", typeName(a), typeName(b))
}

// contains implements "needle in haystack" and the includes method.
func contains(pos lang.Pos, haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, runtimeErrorf(pos, ErrCodeType, "cannot search a string for %s", typeName(needle))
		}
		return strings.Contains(h, s), nil
	case []any:
		return slices.ContainsFunc(h, func(v any) bool { return equal(v, needle) }), nil
	case map[string]any:
		k, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, found := h[k]
		return found, nil
	}
	return false, runtimeErrorf(pos, ErrCodeType, "cannot search in %s", typeName(haystack))
}

func member(pos lang.Pos, x any, name string) (any, error) {
	switch v := x.(type) {
	case map[string]any:
		return v[name], nil
	case []any:
		if name == "length" {
			return float64(len(v)), nil
		}
	case string:
		if name == "length" {
			return float64(len([]rune(v))), nil
		}
	case nil:
		return nil, runtimeErrorf(pos, ErrCodeType, "cannot read property %q of null", name)
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "%s has no property %q", typeName(x), name)
}

// listIndex converts idx to a position in a sequence of length n.
// Negative indexes count from the end.
func listIndex(idx any, n int) (int, bool) {
	f, ok := idx.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	i := int(f)
	if i < 0 {
		i += n
	}
	return i, i >= 0 && i < n
}

func index(pos lang.Pos, x, idx any) (any, error) {
	switch v := x.(type) {
	case map[string]any:
		return v[toString(idx)], nil
	case []any:
		if _, ok := idx.(float64); !ok {
			return nil, runtimeErrorf(pos, ErrCodeType, "list index must be a number, got %s", typeName(idx))
		}
		if i, ok := listIndex(idx, len(v)); ok {
			return v[i], nil
		}
		return nil, nil
	case string:
		if _, ok := idx.(float64); !ok {
			return nil, runtimeErrorf(pos, ErrCodeType, "string index must be a number, got %s", typeName(idx))
		}
		r := []rune(v)
		if i, ok := listIndex(idx, len(r)); ok {
			return string(r[i]), nil
		}
		return nil, nil
	case nil:
		return nil, runtimeErrorf(pos, ErrCodeType, "cannot index null")
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "cannot index %s", typeName(x))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var errFunctionValue = errors.New("functions cannot leave a capability")

// exportValue checks that v holds only data and returns it.
func exportValue(v any) (any, error) {
	switch v := v.(type) {
	case []any:
		for _, e := range v {
			if _, err := exportValue(e); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		for _, e := range v {
			if _, err := exportValue(e); err != nil {
				return nil, err
			}
		}
	case *closure, *builtin:
		return nil, errFunctionValue
	}
	return v, nil
}

// measure estimates the encoded size of v in bytes. It stops walking once
// the estimate passes limit, so values that share structure cannot make it
// run long.
func measure(v any, limit int) int {
	n := 0
	var walk func(v any) bool
	walk = func(v any) bool {
		switch v := v.(type) {
		case string:
			n += len(v) + 2
		case []any:
			n += 2
			for _, e := range v {
				if !walk(e) {
					return false
				}
				n++
			}
		case map[string]any:
			n += 2
			for k, e := range v {
				n += len(k) + 4
				if !walk(e) {
					return false
				}
			}
		default:
			n += 8
		}
		return n <= limit
	}
	walk(v)
	return n
}

// within fails when a value of n bytes or elements would pass the limit.
func (in *invocation) within(pos lang.Pos, n int) error {
	if limit := in.engine.maxValueBytes; n > limit {
		return runtimeErrorf(pos, ErrCodeSize, "value exceeds the size limit of %d", limit)
	}
	return nil
}

// fits fails when v would encode to more than the limit.
func (in *invocation) fits(pos lang.Pos, v any) error {
	switch v := v.(type) {
	case nil, bool, float64:
		return nil
	case string:
		return in.within(pos, len(v))
	}
	return in.within(pos, measure(v, in.engine.maxValueBytes))
}

// str is toString bounded by the value size limit.
func (in *invocation) str(pos lang.Pos, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	if err := in.fits(pos, v); err != nil {
		return "", err
	}
	return toString(v), nil
}
