package engine

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/lang"
	"github.com/roach88/hivelang/internal/sandbox"
)

// fakeSandbox records calls and answers each with a fixed outcome.
type fakeSandbox struct {
	calls   []fakeCall
	outcome *sandbox.Outcome
	err     error
}

type fakeCall struct {
	method string
	url    string
	opts   sandbox.Options
}

func (f *fakeSandbox) Do(_ context.Context, method, rawURL string, opts sandbox.Options) (*sandbox.Outcome, error) {
	f.calls = append(f.calls, fakeCall{method: method, url: rawURL, opts: opts})
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func testContext(apiKey string) ir.ExecutionContext {
	return ir.ExecutionContext{
		User:        map[string]any{"id": "u-1", "api_key": apiKey},
		Integration: ir.IntegrationRef{ID: "int-1", Name: "Test", Slug: "test"},
	}
}

// run synthesizes body and invokes it once.
func run(t *testing.T, e *Engine, params []string, body string, args ...any) (any, error) {
	t.Helper()
	c, err := e.Synthesize("test", params, body)
	require.NoError(t, err)
	return e.Invoke(context.Background(), c, args, testContext("key"), nil)
}

func TestEngine_Echo(t *testing.T) {
	got, err := run(t, New(), []string{"msg"}, "return msg\n", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestEngine_NegatedConditional(t *testing.T) {
	e := New()
	c, err := e.Synthesize("check", []string{"ok"}, `if not ok { return "no" } return "yes"`)
	require.NoError(t, err)

	got, err := e.Invoke(context.Background(), c, []any{false}, testContext("k"), nil)
	require.NoError(t, err)
	assert.Equal(t, "no", got)

	got, err = e.Invoke(context.Background(), c, []any{true}, testContext("k"), nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}

func TestEngine_Evaluation(t *testing.T) {
	tests := []struct {
		name string
		body string
		args []any
		want any
	}{
		{"arithmetic", "return 1 + 2 * 3 - 4 / 2", nil, float64(5)},
		{"modulo", "return 7 % 3", nil, float64(1)},
		{"string concat", `return "n=" + 3`, nil, "n=3"},
		{"list concat", "return [1] + [2]", nil, []any{float64(1), float64(2)}},
		{"fstring", "name = \"ada\"\nreturn f\"hi {name}!\"", nil, "hi ada!"},
		{"template", "n = 2\nreturn `n=${n + 1}`", nil, "n=3"},
		{"and or", "return null or \"fallback\"", nil, "fallback"},
		{"short circuit", "return false and len()", nil, false},
		{"in list", "return 2 in [1, 2, 3]", nil, true},
		{"not in", "return \"x\" not in \"abc\"", nil, true},
		{"elif", "x = 5\nif x > 10 {\n  return \"big\"\n} elif x > 3 {\n  return \"mid\"\n} else {\n  return \"small\"\n}", nil, "mid"},
		{"comprehension", "return [x * 2 for x in xs if x > 1]", []any{[]any{1.0, 2.0, 3.0}}, []any{4.0, 6.0}},
		{"host map filter", "return xs.filter(x => x > 1).map(x => x * 10)", []any{[]any{1.0, 2.0}}, []any{20.0}},
		{"push", "out = []\nfor i in range(3) {\n  out.push(i * 2)\n}\nreturn out", nil, []any{0.0, 2.0, 4.0}},
		{"nested push", "o = {items: []}\no.items.push(1)\nreturn o", nil, map[string]any{"items": []any{1.0}}},
		{"break continue", "s = 0\nfor i in range(10) {\n  if i == 2 {\n    continue\n  }\n  if i == 5 {\n    break\n  }\n  s = s + i\n}\nreturn s", nil, float64(8)},
		{"object iteration", "ks = []\no = {b: 1, a: 2}\nfor k in o {\n  ks.push(k)\n}\nreturn ks.join(\"\")", nil, "ab"},
		{"index assign", "o = {}\no[\"k\"] = 1\no.m = 2\nreturn o", nil, map[string]any{"k": 1.0, "m": 2.0}},
		{"negative index", "return [1, 2, 3][-1]", nil, float64(3)},
		{"missing index", "return [1][5]", nil, nil},
		{"missing arg is null", "return xs", nil, nil},
		{"no return", "x = 1", nil, nil},
		{"truthiness", "return [bool(0), bool(\"\"), bool([]), bool(\"a\")]", nil, []any{false, false, true, true}},
		{"string methods", "return \"  A,b \".trim().lower().split(\",\")", nil, []any{"a", "b"}},
		{"replace", "return \"a-b-c\".replace(\"-\", \"+\")", nil, "a+b+c"},
		{"startsWith", "return \"https://x\".startsWith(\"https\")", nil, true},
		{"slice", "return [1, 2, 3, 4].slice(1, -1)", nil, []any{2.0, 3.0}},
		{"object get", "o = {a: 1}\nreturn [o.get(\"a\"), o.get(\"b\", 2), o.get(\"c\")]", nil, []any{1.0, 2.0, nil}},
		{"length property", "return [\"abc\".length, [1, 2].length]", nil, []any{3.0, 2.0}},
		{"builtins", "return [len(\"héllo\"), str(1.5), int(\"42.9\"), float(\"2.5\")]", nil, []any{5.0, "1.5", 42.0, 2.5}},
		{"keys values", "o = {b: 2, a: 1}\nreturn [keys(o), values(o)]", nil, []any{[]any{"a", "b"}, []any{1.0, 2.0}}},
		{"range step", "return range(10, 0, -4)", nil, []any{10.0, 6.0, 2.0}},
		{"json", "return json_decode(json_encode({a: [1, true, null]}))", nil, map[string]any{"a": []any{1.0, true, nil}}},
		{"url_encode", "return url_encode({q: \"a b\", n: 1})", nil, "n=1&q=a+b"},
		{"base64", "return base64_encode(\"user:pass\")", nil, "dXNlcjpwYXNz"},
		{"integration context", "return integration.slug", nil, "test"},
		{"user context", "return user.api_key", nil, "key"},
		{"let const", "let a = 1\nconst b = 2\nreturn a + b", nil, float64(3)},
		{"recursive lambda", "fact = n => n <= 1 and 1 or n * fact(n - 1)\nreturn fact(5)", nil, float64(120)},
		{"equality deep", "return {a: [1]} == {a: [1]}", nil, true},
		{"interpolated object", "o = {a: 1}\nreturn f\"v={o}\"", nil, `v={"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, New(), []string{"xs"}, tt.body, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestEngine_ComprehensionOverObjectsAndStrings tests that a comprehension
// visits the same elements as a for loop, both as written and after
// transpilation to map and filter.
func TestEngine_ComprehensionOverObjectsAndStrings(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"object keys", "d = {b: 1, a: 2}\nreturn [k for k in d]", []any{"a", "b"}},
		{"object keys filtered", "d = {b: 1, a: 2}\nreturn [k.upper() for k in d if d[k] > 1]", []any{"A"}},
		{"string characters", "return [c for c in \"héy\"]", []any{"h", "é", "y"}},
		{"string characters filtered", "return [c for c in \"a-b\" if c != \"-\"]", []any{"a", "b"}},
		{"loop agrees", "d = {b: 1, a: 2}\nks = []\nfor k in d {\n  ks.push(k)\n}\nreturn ks", []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, New(), nil, tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "as written")

			host, err := lang.TranspileCapability(nil, tt.body)
			require.NoError(t, err)
			got, err = run(t, New(), nil, host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "transpiled: %s", host)
		})
	}
}

func TestEngine_RuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code RuntimeErrorCode
	}{
		{"division by zero", "return 1 / 0", ErrCodeValue},
		{"modulo by zero", "return 1 % 0", ErrCodeValue},
		{"bad operand", "return {} - 1", ErrCodeType},
		{"null member", "x = null\nreturn x.y", ErrCodeType},
		{"not callable", "x = 1\nreturn x()", ErrCodeType},
		{"unknown method", "return [1].nope()", ErrCodeType},
		{"builtin arity", "return len()", ErrCodeArity},
		{"bad json", "return json_decode(\"{\")", ErrCodeValue},
		{"return function", "return x => x", ErrCodeType},
		{"unbounded recursion", "f = n => f(n)\nreturn f(1)", ErrCodeDepth},
		{"compare mismatch", "return 1 < \"a\"", ErrCodeType},
		{"read before assign", "if false {\n  y = 1\n}\nreturn y", ErrCodeName},
		{"unknown http option", "return get(\"https://x\", bogus = 1)", ErrCodeValue},
		{"huge timeout", "return get(\"https://x\", timeoutMs = 1e300)", ErrCodeValue},
		{"timeout past limit", "return get(\"https://x\", timeout_ms = 600001)", ErrCodeValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New()
			c, err := e.Synthesize("broken", nil, tt.body)
			require.NoError(t, err)

			_, err = e.Invoke(context.Background(), c, nil, testContext("k"), &fakeSandbox{})
			require.Error(t, err)
			assert.True(t, IsExecutionError(err))
			assert.True(t, IsRuntimeError(err, tt.code), "got %v", err)

			var ee *ExecutionError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, "broken", ee.Capability)
		})
	}
}

func TestEngine_ValueSizeLimit(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"string doubling", "s = \"ab\"\nfor i in range(64) {\n  s = s + s\n}\nreturn len(s)"},
		{"list doubling", "xs = [1]\nfor i in range(64) {\n  xs = xs + xs\n}\nreturn len(xs)"},
		{"interpolation doubling", "s = \"x\"\nfor i in range(64) {\n  s = f\"{s}{s}\"\n}\nreturn len(s)"},
		{"push", "xs = []\nfor i in range(5000) {\n  xs.push(i)\n}\nreturn len(xs)"},
		{"join", "xs = []\nfor i in range(200) {\n  xs.push(\"0123456789\")\n}\nreturn xs.join(\"\")"},
		{"replace", "s = \"0123456789\"\nfor i in range(5) {\n  s = s + s\n}\nreturn s.replace(\"\", \"----------\")"},
		{"shared structure to text", "xs = [\"0123456789\"]\nfor i in range(60) {\n  xs = [xs, xs]\n}\nreturn str(xs)"},
		{"shared structure returned", "xs = [\"0123456789\"]\nfor i in range(60) {\n  xs = [xs, xs]\n}\nreturn xs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, New(WithMaxValueBytes(1024)), nil, tt.body)
			require.Error(t, err)
			assert.True(t, IsRuntimeError(err, ErrCodeSize), "got %v", err)
			assert.Contains(t, err.Error(), "size limit of 1024")
		})
	}

	got, err := run(t, New(WithMaxValueBytes(1024)), nil, "s = \"ab\"\nfor i in range(8) {\n  s = s + s\n}\nreturn len(s)")
	require.NoError(t, err)
	assert.Equal(t, float64(512), got)
	assert.Equal(t, DefaultMaxValueBytes, New().MaxValueBytes())
}

func TestEngine_Synthesize_Rejects(t *testing.T) {
	e := New()

	_, err := e.Synthesize("bad", nil, "return (1 +")
	require.Error(t, err)
	assert.True(t, lang.IsSyntaxError(err))

	_, err = e.Synthesize("undefined", nil, "x = 1\nreturn y + x")
	require.Error(t, err)
	var se *lang.SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Message, `undefined name "y"`)
	assert.Equal(t, 2, se.Pos.Line)

	_, err = e.Synthesize("reserved", []string{"http"}, "return 1")
	require.Error(t, err)
	assert.True(t, lang.IsSyntaxError(err))
}

func TestEngine_TooManyArguments(t *testing.T) {
	_, err := run(t, New(), []string{"a"}, "return a", 1.0, 2.0)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err, ErrCodeArity))
	assert.Contains(t, err.Error(), "takes 1 arguments, got 2")
}

func TestEngine_CapabilityError(t *testing.T) {
	_, err := run(t, New(), nil, "x = 2\nerror(\"quota\", x)\nreturn 1")
	require.Error(t, err)
	assert.True(t, IsCapabilityError(err))

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "quota 2", ee.Message)
	assert.Equal(t, 2, ee.Pos.Line)
	assert.Equal(t, "capability test: quota 2 (line 2)", ee.Error())
}

func TestEngine_HTTP(t *testing.T) {
	sb := &fakeSandbox{outcome: &sandbox.Outcome{
		StatusCode: 200,
		Succeeded:  true,
		Headers:    http.Header{"Content-Type": {"application/json"}, "Link": {"<a>", "<b>"}},
		ParsedBody: map[string]any{"name": "octocat"},
		Parsed:     true,
		RawBody:    `{"name":"octocat"}`,
	}}

	body := "resp = get(\"https://api.example.com/user\",\n" +
		"  headers = {Authorization: f\"Bearer {user.api_key}\"},\n" +
		"  params = {page: 2, tag: [\"a\", \"b\"]},\n" +
		"  timeoutMs = 1500)\n" +
		"return {name: resp.data.name, ok: resp.ok, status: resp.status, link: resp.headers.Link, text: resp.text}\n"

	e := New()
	c, err := e.Synthesize("whoami", nil, body)
	require.NoError(t, err)

	got, err := e.Invoke(context.Background(), c, nil, testContext("secret-1"), sb)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":   "octocat",
		"ok":     true,
		"status": float64(200),
		"link":   "<a>, <b>",
		"text":   `{"name":"octocat"}`,
	}, got)

	require.Len(t, sb.calls, 1)
	call := sb.calls[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, "https://api.example.com/user", call.url)
	assert.Equal(t, "Bearer secret-1", call.opts.Headers["Authorization"])
	assert.Equal(t, []string{"2"}, call.opts.Params["page"])
	assert.Equal(t, []string{"a", "b"}, call.opts.Params["tag"])
	assert.Equal(t, 1500*time.Millisecond, call.opts.Timeout)
}

func TestEngine_HTTPBodyAndApplicationError(t *testing.T) {
	sb := &fakeSandbox{outcome: &sandbox.Outcome{
		StatusCode:       422,
		Headers:          http.Header{},
		RawBody:          `{"message":"invalid"}`,
		ApplicationError: "invalid",
	}}
	body := "resp = http.post(\"https://api.example.com/items\", body = {title: t})\n" +
		"if not resp.ok {\n  return resp.error\n}\nreturn \"created\"\n"

	got, err := run(t, New(), []string{"t"}, body, "hello")
	require.Error(t, err, "no sandbox bound")
	assert.Nil(t, got)

	e := New()
	c, err := e.Synthesize("create", []string{"t"}, body)
	require.NoError(t, err)
	got, err = e.Invoke(context.Background(), c, []any{"hello"}, testContext("k"), sb)
	require.NoError(t, err)
	assert.Equal(t, "invalid", got)

	require.Len(t, sb.calls, 1)
	assert.Equal(t, http.MethodPost, sb.calls[0].method)
	assert.Equal(t, map[string]any{"title": "hello"}, sb.calls[0].opts.Body)
}

// TestEngine_SandboxErrorsPassThrough tests that infrastructure errors stay
// distinguishable from capability-authored ones.
func TestEngine_SandboxErrorsPassThrough(t *testing.T) {
	sb := &fakeSandbox{err: &sandbox.TransportPolicyError{URL: "http://example.com", Reason: "plaintext"}}

	e := New()
	c, err := e.Synthesize("leak", nil, "return get(\"http://example.com\")")
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), c, nil, testContext("k"), sb)
	require.Error(t, err)
	assert.True(t, IsExecutionError(err))
	assert.True(t, sandbox.IsTransportPolicyError(err))
	assert.False(t, IsCapabilityError(err))
}

// TestEngine_ContextIsolation tests that writes to context inside a
// capability never reach the caller's map or a later invocation.
func TestEngine_ContextIsolation(t *testing.T) {
	e := New()
	c, err := e.Synthesize("mutate", nil, "seen = user.api_key\ncontext.user.api_key = \"stolen\"\nreturn seen")
	require.NoError(t, err)

	first := testContext("alice-key")
	got, err := e.Invoke(context.Background(), c, nil, first, nil)
	require.NoError(t, err)
	assert.Equal(t, "alice-key", got)
	assert.Equal(t, "alice-key", first.User["api_key"])

	got, err = e.Invoke(context.Background(), c, nil, testContext("bob-key"), nil)
	require.NoError(t, err)
	assert.Equal(t, "bob-key", got)
}

// TestEngine_ArgumentsCopied tests that capability code cannot mutate
// caller-owned arguments.
func TestEngine_ArgumentsCopied(t *testing.T) {
	arg := map[string]any{"tags": []any{"a"}}
	_, err := run(t, New(), []string{"o"}, "o.tags.push(\"b\")\no.x = 1\nreturn o", arg)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tags": []any{"a"}}, arg)
}

func TestEngine_LogAndWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := run(t, New(WithLogger(logger)), nil, "log(\"fetched\", 3, \"items\")\nwarn(\"slow\")\nreturn null")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `level=INFO msg="fetched 3 items"`)
	assert.Contains(t, out, `level=WARN msg=slow`)
	assert.Contains(t, out, "capability=test")
	assert.Contains(t, out, "integration=int-1")
	assert.NotContains(t, out, "key")
}

func TestEngine_Now(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	got, err := run(t, New(WithClock(func() time.Time { return fixed })), nil, "return now()")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T11:00:00Z", got)
}

func TestEngine_CancelledContext(t *testing.T) {
	e := New()
	c, err := e.Synthesize("echo", []string{"msg"}, "return msg")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Invoke(ctx, c, []any{"x"}, testContext("k"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestEngine_ConcurrentInvoke tests that one Callable serves parallel
// invocations with different contexts.
func TestEngine_ConcurrentInvoke(t *testing.T) {
	e := New()
	c, err := e.Synthesize("key", nil, "return user.api_key")
	require.NoError(t, err)

	const n = 32
	results := make(chan [2]any, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			want := "key-" + string(rune('a'+i%26))
			got, err := e.Invoke(context.Background(), c, nil, testContext(want), nil)
			if err != nil {
				got = err.Error()
			}
			results <- [2]any{want, got}
		}(i)
	}
	for i := 0; i < n; i++ {
		r := <-results
		assert.Equal(t, r[0], r[1])
	}
}
