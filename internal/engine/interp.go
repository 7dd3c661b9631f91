package engine

import (
	"context"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/roach88/hivelang/internal/lang"
	"github.com/roach88/hivelang/internal/sandbox"
)

// maxHTTPTimeout is the longest per-call timeout capability code may ask for.
const maxHTTPTimeout = 10 * time.Minute

type control int

const (
	ctrlNone control = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

// frame holds variables. The root frame is the function scope; lambdas
// push a child frame for their parameter.
type frame struct {
	vars   map[string]any
	parent *frame
}

func newFrame(parent *frame) *frame {
	return &frame{vars: map[string]any{}, parent: parent}
}

func (f *frame) lookup(name string) (any, bool) {
	for ; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// closure is a lambda value.
type closure struct {
	param string
	body  lang.Expr
	env   *frame
}

// builtin is a Go function callable from capability code.
type builtin struct {
	name string
	fn   func(in *invocation, pos lang.Pos, args []any) (any, error)
}

// invocation is the state of one call to Invoke.
type invocation struct {
	engine   *Engine
	ctx      context.Context
	callable *Callable
	sandbox  Sandbox
	quota    *QuotaEnforcer
	logger   *slog.Logger
	root     *frame
	reserved map[string]any
	pos      lang.Pos
	depth    int
}

func (in *invocation) step(pos lang.Pos) error {
	in.pos = pos
	if err := in.ctx.Err(); err != nil {
		return err
	}
	return in.quota.Check(in.callable.Name)
}

func (in *invocation) execBlock(stmts []lang.Stmt, env *frame) (control, any, error) {
	for _, s := range stmts {
		c, v, err := in.exec(s, env)
		if err != nil || c != ctrlNone {
			return c, v, err
		}
	}
	return ctrlNone, nil, nil
}

func (in *invocation) exec(s lang.Stmt, env *frame) (control, any, error) {
	if err := in.step(s.Position()); err != nil {
		return ctrlNone, nil, err
	}
	switch s := s.(type) {
	case *lang.AssignStmt:
		v, err := in.eval(s.Value, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		return ctrlNone, nil, in.assign(s.Target, v, env)
	case *lang.ExprStmt:
		_, err := in.eval(s.X, env)
		return ctrlNone, nil, err
	case *lang.ReturnStmt:
		if s.Value == nil {
			return ctrlReturn, nil, nil
		}
		v, err := in.eval(s.Value, env)
		return ctrlReturn, v, err
	case *lang.IfStmt:
		cond, err := in.eval(s.Cond, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		if truthy(cond) {
			return in.execBlock(s.Then, env)
		}
		return in.execBlock(s.Else, env)
	case *lang.ForStmt:
		return in.execFor(s, env)
	case *lang.BreakStmt:
		return ctrlBreak, nil, nil
	case *lang.ContinueStmt:
		return ctrlContinue, nil, nil
	}
	return ctrlNone, nil, runtimeErrorf(s.Position(), ErrCodeInternal, "unknown statement %T", s)
}

func (in *invocation) execFor(s *lang.ForStmt, env *frame) (control, any, error) {
	iter, err := in.eval(s.Iter, env)
	if err != nil {
		return ctrlNone, nil, err
	}
	items, err := iterate(s.Iter.Position(), iter)
	if err != nil {
		return ctrlNone, nil, err
	}
	for _, item := range items {
		if err := in.step(s.At); err != nil {
			return ctrlNone, nil, err
		}
		in.root.vars[s.Var] = item
		c, v, err := in.execBlock(s.Body, env)
		if err != nil {
			return ctrlNone, nil, err
		}
		switch c {
		case ctrlBreak:
			return ctrlNone, nil, nil
		case ctrlReturn:
			return c, v, nil
		}
	}
	return ctrlNone, nil, nil
}

// iterate returns the elements a for loop or comprehension visits: list
// elements, object keys in sorted order, or the characters of a string.
func iterate(pos lang.Pos, v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return append([]any(nil), v...), nil
	case map[string]any:
		keys := sortedKeys(v)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	case string:
		var out []any
		for _, r := range v {
			out = append(out, string(r))
		}
		return out, nil
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "cannot iterate over %s", typeName(v))
}

func (in *invocation) assign(target lang.Expr, v any, env *frame) error {
	switch t := target.(type) {
	case *lang.Ident:
		in.root.vars[t.Name] = v
		return nil
	case *lang.MemberExpr:
		x, err := in.eval(t.X, env)
		if err != nil {
			return err
		}
		obj, ok := x.(map[string]any)
		if !ok {
			return runtimeErrorf(t.At, ErrCodeType, "cannot set property %q on %s", t.Name, typeName(x))
		}
		obj[t.Name] = v
		return nil
	case *lang.IndexExpr:
		x, err := in.eval(t.X, env)
		if err != nil {
			return err
		}
		idx, err := in.eval(t.Index, env)
		if err != nil {
			return err
		}
		switch c := x.(type) {
		case map[string]any:
			c[toString(idx)] = v
			return nil
		case []any:
			i, ok := listIndex(idx, len(c))
			if !ok {
				return runtimeErrorf(t.At, ErrCodeValue, "list index %s out of range", toString(idx))
			}
			c[i] = v
			return nil
		}
		return runtimeErrorf(t.At, ErrCodeType, "cannot index into %s", typeName(x))
	}
	return runtimeErrorf(target.Position(), ErrCodeType, "cannot assign to this expression")
}

func (in *invocation) eval(e lang.Expr, env *frame) (any, error) {
	switch e := e.(type) {
	case *lang.Ident:
		if v, ok := env.lookup(e.Name); ok {
			return v, nil
		}
		if v, ok := in.reserved[e.Name]; ok {
			return v, nil
		}
		if b, ok := globals[e.Name]; ok {
			return b, nil
		}
		return nil, runtimeErrorf(e.At, ErrCodeName, "name %q is not defined", e.Name)
	case *lang.NumberLit:
		return e.Value, nil
	case *lang.StringLit:
		return e.Value, nil
	case *lang.BoolLit:
		return e.Value, nil
	case *lang.NullLit:
		return nil, nil
	case *lang.ListLit:
		out := make([]any, 0, len(e.Elems))
		for _, x := range e.Elems {
			v, err := in.eval(x, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *lang.ObjectLit:
		out := make(map[string]any, len(e.Entries))
		for _, en := range e.Entries {
			v, err := in.eval(en.Value, env)
			if err != nil {
				return nil, err
			}
			out[en.Key] = v
		}
		return out, nil
	case *lang.InterpString:
		var s []byte
		for _, part := range e.Parts {
			if part.Expr == nil {
				s = append(s, part.Lit...)
				continue
			}
			v, err := in.eval(part.Expr, env)
			if err != nil {
				return nil, err
			}
			text, err := in.str(e.At, v)
			if err != nil {
				return nil, err
			}
			if err := in.within(e.At, len(s)+len(text)); err != nil {
				return nil, err
			}
			s = append(s, text...)
		}
		return string(s), nil
	case *lang.UnaryExpr:
		x, err := in.eval(e.X, env)
		if err != nil {
			return nil, err
		}
		if e.Op == "!" {
			return !truthy(x), nil
		}
		n, ok := x.(float64)
		if !ok {
			return nil, runtimeErrorf(e.At, ErrCodeType, "cannot negate %s", typeName(x))
		}
		return -n, nil
	case *lang.BinaryExpr:
		return in.evalBinary(e, env)
	case *lang.MemberExpr:
		x, err := in.eval(e.X, env)
		if err != nil {
			return nil, err
		}
		return member(e.At, x, e.Name)
	case *lang.IndexExpr:
		x, err := in.eval(e.X, env)
		if err != nil {
			return nil, err
		}
		idx, err := in.eval(e.Index, env)
		if err != nil {
			return nil, err
		}
		return index(e.At, x, idx)
	case *lang.CallExpr:
		return in.evalCall(e, env)
	case *lang.HTTPCall:
		args, err := in.evalArgs(e.Args, env)
		if err != nil {
			return nil, err
		}
		return in.httpCall(e.At, e.Verb, args)
	case *lang.Lambda:
		return &closure{param: e.Param, body: e.Body, env: env}, nil
	case *lang.Comprehension:
		return in.evalComprehension(e, env)
	}
	return nil, runtimeErrorf(e.Position(), ErrCodeInternal, "unknown expression %T", e)
}

func (in *invocation) evalArgs(xs []lang.Expr, env *frame) ([]any, error) {
	args := make([]any, 0, len(xs))
	for _, x := range xs {
		v, err := in.eval(x, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (in *invocation) evalBinary(e *lang.BinaryExpr, env *frame) (any, error) {
	left, err := in.eval(e.Left, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "||":
		if truthy(left) {
			return left, nil
		}
		return in.eval(e.Right, env)
	case "&&":
		if !truthy(left) {
			return left, nil
		}
		return in.eval(e.Right, env)
	}

	right, err := in.eval(e.Right, env)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		c, ok := compare(left, right)
		if !ok {
			return nil, runtimeErrorf(e.At, ErrCodeType, "cannot compare %s and %s", typeName(left), typeName(right))
		}
		switch e.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		}
		return c >= 0, nil
	case "in":
		return contains(e.At, right, left)
	case "+":
		return in.add(e.At, left, right)
	}

	a, aok := left.(float64)
	b, bok := right.(float64)
	if !aok || !bok {
		return nil, runtimeErrorf(e.At, ErrCodeType, "unsupported operand types for %s: %s and %s", e.Op, typeName(left), typeName(right))
	}
	switch e.Op {
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return nil, runtimeErrorf(e.At, ErrCodeValue, "division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return nil, runtimeErrorf(e.At, ErrCodeValue, "modulo by zero")
		}
		return math.Mod(a, b), nil
	}
	return nil, runtimeErrorf(e.At, ErrCodeInternal, "unknown operator %s", e.Op)
}

func (in *invocation) evalCall(e *lang.CallExpr, env *frame) (any, error) {
	m, isMethod := e.Fn.(*lang.MemberExpr)
	if !isMethod {
		fn, err := in.eval(e.Fn, env)
		if err != nil {
			return nil, err
		}
		args, err := in.evalArgs(e.Args, env)
		if err != nil {
			return nil, err
		}
		return in.call(e.At, fn, args)
	}

	recv, err := in.eval(m.X, env)
	if err != nil {
		return nil, err
	}
	args, err := in.evalArgs(e.Args, env)
	if err != nil {
		return nil, err
	}
	if obj, ok := recv.(map[string]any); ok {
		if fn, ok := obj[m.Name]; ok && isCallable(fn) {
			return in.call(e.At, fn, args)
		}
	}
	if list, ok := recv.([]any); ok && m.Name == "push" {
		if err := in.within(m.At, len(list)+len(args)); err != nil {
			return nil, err
		}
		grown := append(list, args...)
		if err := in.assign(m.X, grown, env); err != nil {
			return nil, runtimeErrorf(m.At, ErrCodeType, "push needs a variable, property or index to update")
		}
		return float64(len(grown)), nil
	}
	return in.method(m.At, recv, m.Name, args)
}

func (in *invocation) call(pos lang.Pos, fn any, args []any) (any, error) {
	switch f := fn.(type) {
	case *builtin:
		return f.fn(in, pos, args)
	case *closure:
		if err := in.step(pos); err != nil {
			return nil, err
		}
		if in.depth >= maxCallDepth {
			return nil, runtimeErrorf(pos, ErrCodeDepth, "maximum call depth %d exceeded", maxCallDepth)
		}
		in.depth++
		defer func() { in.depth-- }()

		env := newFrame(f.env)
		var arg any
		if len(args) > 0 {
			arg = args[0]
		}
		env.vars[f.param] = arg
		return in.eval(f.body, env)
	}
	return nil, runtimeErrorf(pos, ErrCodeType, "%s is not callable", typeName(fn))
}

func (in *invocation) evalComprehension(e *lang.Comprehension, env *frame) (any, error) {
	iter, err := in.eval(e.Iter, env)
	if err != nil {
		return nil, err
	}
	items, err := iterate(e.Iter.Position(), iter)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if err := in.step(e.At); err != nil {
			return nil, err
		}
		inner := newFrame(env)
		inner.vars[e.Var] = item
		if e.Cond != nil {
			ok, err := in.eval(e.Cond, inner)
			if err != nil {
				return nil, err
			}
			if !truthy(ok) {
				continue
			}
		}
		v, err := in.eval(e.Expr, inner)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// httpObject is the value bound to the reserved name http.
func (in *invocation) httpObject() map[string]any {
	obj := make(map[string]any, len(sandbox.Methods))
	for verb := range sandbox.Methods {
		obj[verb] = &builtin{name: "http." + verb, fn: func(in *invocation, pos lang.Pos, args []any) (any, error) {
			return in.httpCall(pos, verb, args)
		}}
	}
	return obj
}

func (in *invocation) httpCall(pos lang.Pos, verb string, args []any) (any, error) {
	if in.sandbox == nil {
		return nil, runtimeErrorf(pos, ErrCodeValue, "http is not available")
	}
	if len(args) < 1 || len(args) > 2 {
		return nil, runtimeErrorf(pos, ErrCodeArity, "http.%s takes a url and optional options, got %d arguments", verb, len(args))
	}
	rawURL, ok := args[0].(string)
	if !ok {
		return nil, runtimeErrorf(pos, ErrCodeType, "http.%s url must be a string, got %s", verb, typeName(args[0]))
	}
	var opts sandbox.Options
	if len(args) == 2 && args[1] != nil {
		var err error
		if opts, err = in.httpOptions(pos, args[1]); err != nil {
			return nil, err
		}
	}
	out, err := in.sandbox.Do(in.ctx, sandbox.Methods[verb], rawURL, opts)
	if err != nil {
		return nil, err
	}
	return outcomeValue(out), nil
}

func (in *invocation) httpOptions(pos lang.Pos, v any) (sandbox.Options, error) {
	var opts sandbox.Options
	obj, ok := v.(map[string]any)
	if !ok {
		return opts, runtimeErrorf(pos, ErrCodeType, "http options must be an object, got %s", typeName(v))
	}
	for key, val := range obj {
		switch key {
		case "headers":
			h, ok := val.(map[string]any)
			if !ok && val != nil {
				return opts, runtimeErrorf(pos, ErrCodeType, "headers must be an object")
			}
			opts.Headers = make(map[string]string, len(h))
			for k, hv := range h {
				s, err := in.str(pos, hv)
				if err != nil {
					return opts, err
				}
				opts.Headers[k] = s
			}
		case "body", "json", "data":
			if err := in.fits(pos, val); err != nil {
				return opts, err
			}
			body, err := exportValue(val)
			if err != nil {
				return opts, runtimeErrorf(pos, ErrCodeType, "body: %v", err)
			}
			opts.Body = body
		case "params", "query":
			p, ok := val.(map[string]any)
			if !ok && val != nil {
				return opts, runtimeErrorf(pos, ErrCodeType, "params must be an object")
			}
			if err := in.fits(pos, val); err != nil {
				return opts, err
			}
			opts.Params = url.Values{}
			for k, pv := range p {
				if list, ok := pv.([]any); ok {
					for _, item := range list {
						opts.Params.Add(k, toString(item))
					}
					continue
				}
				opts.Params.Add(k, toString(pv))
			}
		case "timeoutMs", "timeout_ms":
			ms, ok := val.(float64)
			if !ok || !(ms > 0) {
				return opts, runtimeErrorf(pos, ErrCodeValue, "%s must be a positive number", key)
			}
			if ms > float64(maxHTTPTimeout/time.Millisecond) {
				return opts, runtimeErrorf(pos, ErrCodeValue, "%s must be at most %d", key, maxHTTPTimeout/time.Millisecond)
			}
			opts.Timeout = time.Duration(ms * float64(time.Millisecond))
		default:
			return opts, runtimeErrorf(pos, ErrCodeValue, "unknown http option %q", key)
		}
	}
	return opts, nil
}

// outcomeValue exposes an Outcome to capability code.
func outcomeValue(out *sandbox.Outcome) map[string]any {
	headers := make(map[string]any, len(out.Headers))
	for k, vs := range out.Headers {
		headers[k] = joinHeader(vs)
	}
	var data any
	if out.Parsed {
		data = out.ParsedBody
	}
	return map[string]any{
		"status":  float64(out.StatusCode),
		"ok":      out.Succeeded,
		"headers": headers,
		"data":    data,
		"text":    out.RawBody,
		"error":   out.ApplicationError,
	}
}

func joinHeader(vs []string) string {
	switch len(vs) {
	case 0:
		return ""
	case 1:
		return vs[0]
	}
	s := vs[0]
	for _, v := range vs[1:] {
		s += ", " + v
	}
	return s
}
