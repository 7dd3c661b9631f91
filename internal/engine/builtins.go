package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/hivelang/internal/lang"
)

// maxRangeLen bounds lists built by range().
const maxRangeLen = 1 << 20

var globals map[string]*builtin

func init() {
	globals = map[string]*builtin{
		"len":           {name: "len", fn: builtinLen},
		"str":           {name: "str", fn: builtinStr},
		"int":           {name: "int", fn: builtinInt},
		"float":         {name: "float", fn: builtinFloat},
		"bool":          {name: "bool", fn: builtinBool},
		"keys":          {name: "keys", fn: builtinKeys},
		"values":        {name: "values", fn: builtinValues},
		"range":         {name: "range", fn: builtinRange},
		"json_encode":   {name: "json_encode", fn: builtinJSONEncode},
		"json_decode":   {name: "json_decode", fn: builtinJSONDecode},
		"url_encode":    {name: "url_encode", fn: builtinURLEncode},
		"base64_encode": {name: "base64_encode", fn: builtinBase64Encode},
		"now":           {name: "now", fn: builtinNow},
	}
}

func isGlobal(name string) bool {
	_, ok := globals[name]
	return ok || lang.IsReserved(name)
}

func arity(pos lang.Pos, name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		want := strconv.Itoa(min)
		if max != min {
			want = fmt.Sprintf("%d to %d", min, max)
		}
		return runtimeErrorf(pos, ErrCodeArity, "%s takes %s arguments, got %d", name, want, len(args))
	}
	return nil
}

func builtinError(in *invocation, pos lang.Pos, args []any) (any, error) {
	msg, err := in.joinArgs(pos, args)
	if err != nil {
		return nil, err
	}
	return nil, &CapabilityError{Message: msg}
}

func builtinLog(level slog.Level) func(*invocation, lang.Pos, []any) (any, error) {
	return func(in *invocation, pos lang.Pos, args []any) (any, error) {
		msg, err := in.joinArgs(pos, args)
		if err != nil {
			return nil, err
		}
		in.logger.Log(in.ctx, level, msg, "line", pos.Line)
		return nil, nil
	}
}

func (in *invocation) joinArgs(pos lang.Pos, args []any) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := in.str(pos, a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return in.join(pos, parts, " ")
}

// join is strings.Join bounded by the value size limit.
func (in *invocation) join(pos lang.Pos, parts []string, sep string) (string, error) {
	n := len(sep) * max(len(parts)-1, 0)
	for _, p := range parts {
		n += len(p)
	}
	if err := in.within(pos, n); err != nil {
		return "", err
	}
	return strings.Join(parts, sep), nil
}

func builtinLen(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "len", args, 1, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "%s has no length", typeName(args[0]))
}

func builtinStr(in *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "str", args, 1, 1); err != nil {
		return nil, err
	}
	return in.str(pos, args[0])
}

func toNumber(pos lang.Pos, name string, v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, runtimeErrorf(pos, ErrCodeValue, "%s: invalid number %q", name, v)
		}
		return f, nil
	}
	return 0, runtimeErrorf(pos, ErrCodeType, "%s: cannot convert %s", name, typeName(v))
}

func builtinInt(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "int", args, 1, 1); err != nil {
		return nil, err
	}
	f, err := toNumber(pos, "int", args[0])
	if err != nil {
		return nil, err
	}
	return math.Trunc(f), nil
}

func builtinFloat(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "float", args, 1, 1); err != nil {
		return nil, err
	}
	return toNumber(pos, "float", args[0])
}

func builtinBool(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "bool", args, 1, 1); err != nil {
		return nil, err
	}
	return truthy(args[0]), nil
}

func objectArg(pos lang.Pos, name string, args []any) (map[string]any, error) {
	if err := arity(pos, name, args, 1, 1); err != nil {
		return nil, err
	}
	obj, ok := args[0].(map[string]any)
	if !ok {
		return nil, runtimeErrorf(pos, ErrCodeType, "%s expects an object, got %s", name, typeName(args[0]))
	}
	return obj, nil
}

func builtinKeys(_ *invocation, pos lang.Pos, args []any) (any, error) {
	obj, err := objectArg(pos, "keys", args)
	if err != nil {
		return nil, err
	}
	return keysOf(obj), nil
}

func keysOf(obj map[string]any) []any {
	keys := sortedKeys(obj)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func builtinValues(_ *invocation, pos lang.Pos, args []any) (any, error) {
	obj, err := objectArg(pos, "values", args)
	if err != nil {
		return nil, err
	}
	return valuesOf(obj), nil
}

func valuesOf(obj map[string]any) []any {
	keys := sortedKeys(obj)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = obj[k]
	}
	return out
}

// builtinRange accepts range(stop), range(start, stop) and
// range(start, stop, step).
func builtinRange(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "range", args, 1, 3); err != nil {
		return nil, err
	}
	nums := make([]float64, len(args))
	for i, a := range args {
		f, ok := a.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, runtimeErrorf(pos, ErrCodeType, "range arguments must be integers")
		}
		nums[i] = f
	}
	start, stop, step := 0.0, nums[0], 1.0
	if len(nums) >= 2 {
		start, stop = nums[0], nums[1]
	}
	if len(nums) == 3 {
		step = nums[2]
	}
	if step == 0 {
		return nil, runtimeErrorf(pos, ErrCodeValue, "range step must not be zero")
	}
	n := math.Ceil((stop - start) / step)
	if n <= 0 {
		return []any{}, nil
	}
	if n > maxRangeLen {
		return nil, runtimeErrorf(pos, ErrCodeValue, "range of %v elements exceeds limit %d", n, maxRangeLen)
	}
	out := make([]any, 0, int(n))
	for i := 0; i < int(n); i++ {
		out = append(out, start+float64(i)*step)
	}
	return out, nil
}

func builtinJSONEncode(in *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "json_encode", args, 1, 1); err != nil {
		return nil, err
	}
	if err := in.fits(pos, args[0]); err != nil {
		return nil, err
	}
	v, err := exportValue(args[0])
	if err != nil {
		return nil, runtimeErrorf(pos, ErrCodeType, "json_encode: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, runtimeErrorf(pos, ErrCodeValue, "json_encode: %v", err)
	}
	return string(data), nil
}

func builtinJSONDecode(_ *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "json_decode", args, 1, 1); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, runtimeErrorf(pos, ErrCodeType, "json_decode expects a string, got %s", typeName(args[0]))
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, runtimeErrorf(pos, ErrCodeValue, "json_decode: %v", err)
	}
	return v, nil
}

// builtinURLEncode escapes a string for a query component, or encodes an
// object as a query string with sorted keys.
func builtinURLEncode(in *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "url_encode", args, 1, 1); err != nil {
		return nil, err
	}
	// Escaping at most triples the text.
	if err := in.within(pos, 3*measure(args[0], in.engine.maxValueBytes)); err != nil {
		return nil, err
	}
	if obj, ok := args[0].(map[string]any); ok {
		q := url.Values{}
		for k, v := range obj {
			q.Set(k, toString(v))
		}
		return q.Encode(), nil
	}
	return url.QueryEscape(toString(args[0])), nil
}

func builtinBase64Encode(in *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "base64_encode", args, 1, 1); err != nil {
		return nil, err
	}
	s, err := in.str(pos, args[0])
	if err != nil {
		return nil, err
	}
	if err := in.within(pos, base64.StdEncoding.EncodedLen(len(s))); err != nil {
		return nil, err
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), nil
}

// builtinNow returns the current UTC time in RFC 3339 form.
func builtinNow(in *invocation, pos lang.Pos, args []any) (any, error) {
	if err := arity(pos, "now", args, 0, 0); err != nil {
		return nil, err
	}
	return in.engine.now().UTC().Format(time.RFC3339), nil
}
