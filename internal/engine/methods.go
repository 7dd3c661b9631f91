package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/roach88/hivelang/internal/lang"
)

func (in *invocation) method(pos lang.Pos, recv any, name string, args []any) (any, error) {
	// Comprehensions compile to map and filter, which walk strings and
	// objects the same way a for loop does.
	if name == "map" || name == "filter" {
		switch recv.(type) {
		case string, map[string]any:
			items, err := iterate(pos, recv)
			if err != nil {
				return nil, err
			}
			return in.listMethod(pos, items, name, args)
		}
	}
	switch v := recv.(type) {
	case string:
		return in.stringMethod(pos, v, name, args)
	case []any:
		return in.listMethod(pos, v, name, args)
	case map[string]any:
		return objectMethod(pos, v, name, args)
	case nil:
		return nil, runtimeErrorf(pos, ErrCodeType, "cannot call %s on null", name)
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "%s has no method %q", typeName(recv), name)
}

func stringArg(pos lang.Pos, method string, args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", runtimeErrorf(pos, ErrCodeType, "%s expects a string argument, got %s", method, typeName(args[i]))
	}
	return s, nil
}

func (in *invocation) stringMethod(pos lang.Pos, s, name string, args []any) (any, error) {
	switch name {
	case "upper", "toUpperCase":
		return strings.ToUpper(s), arity(pos, name, args, 0, 0)
	case "lower", "toLowerCase":
		return strings.ToLower(s), arity(pos, name, args, 0, 0)
	case "trim", "strip":
		return strings.TrimSpace(s), arity(pos, name, args, 0, 0)
	case "length":
		return float64(len([]rune(s))), arity(pos, name, args, 0, 0)
	case "split":
		if err := arity(pos, name, args, 0, 1); err != nil {
			return nil, err
		}
		var parts []string
		if len(args) == 0 || args[0] == nil {
			parts = strings.Fields(s)
		} else {
			sep, err := stringArg(pos, name, args, 0)
			if err != nil {
				return nil, err
			}
			parts = strings.Split(s, sep)
		}
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "startsWith", "startswith", "endsWith", "endswith", "includes", "contains":
		if err := arity(pos, name, args, 1, 1); err != nil {
			return nil, err
		}
		arg, err := stringArg(pos, name, args, 0)
		if err != nil {
			return nil, err
		}
		switch name {
		case "startsWith", "startswith":
			return strings.HasPrefix(s, arg), nil
		case "endsWith", "endswith":
			return strings.HasSuffix(s, arg), nil
		}
		return strings.Contains(s, arg), nil
	case "replace":
		if err := arity(pos, name, args, 2, 2); err != nil {
			return nil, err
		}
		old, err := stringArg(pos, name, args, 0)
		if err != nil {
			return nil, err
		}
		repl, err := in.str(pos, args[1])
		if err != nil {
			return nil, err
		}
		n := utf8.RuneCountInString(s) + 1
		if old != "" {
			n = strings.Count(s, old)
		}
		if err := in.within(pos, len(s)+n*(len(repl)-len(old))); err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, old, repl), nil
	case "slice":
		r := []rune(s)
		lo, hi, err := sliceBounds(pos, args, len(r))
		if err != nil {
			return nil, err
		}
		return string(r[lo:hi]), nil
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "string has no method %q", name)
}

func (in *invocation) listMethod(pos lang.Pos, list []any, name string, args []any) (any, error) {
	switch name {
	case "map", "filter":
		if err := arity(pos, name, args, 1, 1); err != nil {
			return nil, err
		}
		fn := args[0]
		if !isCallable(fn) {
			return nil, runtimeErrorf(pos, ErrCodeType, "%s expects a function, got %s", name, typeName(fn))
		}
		out := make([]any, 0, len(list))
		for _, item := range list {
			v, err := in.call(pos, fn, []any{item})
			if err != nil {
				return nil, err
			}
			if name == "map" {
				out = append(out, v)
			} else if truthy(v) {
				out = append(out, item)
			}
		}
		return out, nil
	case "join":
		if err := arity(pos, name, args, 0, 1); err != nil {
			return nil, err
		}
		sep := ","
		if len(args) == 1 {
			s, err := stringArg(pos, name, args, 0)
			if err != nil {
				return nil, err
			}
			sep = s
		}
		parts := make([]string, len(list))
		total := 0
		for i, item := range list {
			s, err := in.str(pos, item)
			if err != nil {
				return nil, err
			}
			total += len(s) + len(sep)
			if err := in.within(pos, total); err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return in.join(pos, parts, sep)
	case "includes", "contains":
		if err := arity(pos, name, args, 1, 1); err != nil {
			return nil, err
		}
		return contains(pos, list, args[0])
	case "length":
		return float64(len(list)), arity(pos, name, args, 0, 0)
	case "slice":
		lo, hi, err := sliceBounds(pos, args, len(list))
		if err != nil {
			return nil, err
		}
		return append([]any(nil), list[lo:hi]...), nil
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "list has no method %q", name)
}

func objectMethod(pos lang.Pos, obj map[string]any, name string, args []any) (any, error) {
	switch name {
	case "get":
		if err := arity(pos, name, args, 1, 2); err != nil {
			return nil, err
		}
		if v, ok := obj[toString(args[0])]; ok {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	case "keys":
		return keysOf(obj), arity(pos, name, args, 0, 0)
	case "values":
		return valuesOf(obj), arity(pos, name, args, 0, 0)
	case "includes", "contains":
		if err := arity(pos, name, args, 1, 1); err != nil {
			return nil, err
		}
		return contains(pos, obj, args[0])
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "object has no method %q", name)
}

// sliceBounds resolves slice(start[, end]) against a length n. Negative
// bounds count from the end; out-of-range bounds are clamped.
func sliceBounds(pos lang.Pos, args []any, n int) (int, int, error) {
	if err := arity(pos, "slice", args, 0, 2); err != nil {
		return 0, 0, err
	}
	bound := func(v any, def int) (int, error) {
		if v == nil {
			return def, nil
		}
		f, ok := v.(float64)
		if !ok {
			return 0, runtimeErrorf(pos, ErrCodeType, "slice bounds must be numbers")
		}
		i := int(f)
		if i < 0 {
			i += n
		}
		return min(max(i, 0), n), nil
	}
	var lo, hi int = 0, n
	var err error
	if len(args) >= 1 {
		if lo, err = bound(args[0], 0); err != nil {
			return 0, 0, err
		}
	}
	if len(args) == 2 {
		if hi, err = bound(args[1], n); err != nil {
			return 0, 0, err
		}
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}
