package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/lang"
	"github.com/roach88/hivelang/internal/sandbox"
)

// DefaultMaxSteps is the default step budget per invocation.
const DefaultMaxSteps = 100000

// DefaultMaxValueBytes is the default limit on the size of one value: the
// bytes of a string, the elements of a list, or the encoded size of a
// value turned into text.
const DefaultMaxValueBytes = 16 << 20

// maxCallDepth bounds nested function calls within one invocation.
const maxCallDepth = 256

// Sandbox performs HTTP calls for capability code.
// *sandbox.Client implements it.
type Sandbox interface {
	Do(ctx context.Context, method, rawURL string, opts sandbox.Options) (*sandbox.Outcome, error)
}

// Engine synthesizes and invokes capabilities. It keeps no state between
// invocations and is safe for concurrent use.
type Engine struct {
	maxSteps      int
	maxValueBytes int
	logger        *slog.Logger
	now           func() time.Time
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxSteps sets the step budget per invocation.
//
// Default: 100000 steps (DefaultMaxSteps)
// Use WithMaxSteps(10) for testing quota enforcement.
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithMaxValueBytes bounds the size of any value an invocation builds.
// The step budget alone does not bound memory: a string doubled in a loop
// outgrows any heap in a few dozen steps.
func WithMaxValueBytes(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxValueBytes = n
		}
	}
}

// WithLogger sets the logger that receives log(...) and warn(...) output.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source for the now() builtin.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		maxSteps:      DefaultMaxSteps,
		maxValueBytes: DefaultMaxValueBytes,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxSteps returns the step budget per invocation.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// MaxValueBytes returns the value size limit.
func (e *Engine) MaxValueBytes() int {
	return e.maxValueBytes
}

// Callable is a synthesized capability. It is immutable after synthesis.
type Callable struct {
	Name     string
	Params   []string
	HostCode string
	body     *lang.Body
}

// Synthesize builds a Callable whose formal parameters are params followed
// by the reserved bindings. Host code that does not parse, or that reads a
// name that is not a parameter, a local or a global, is rejected with a
// *lang.SyntaxError.
func (e *Engine) Synthesize(name string, params []string, hostCode string) (*Callable, error) {
	body, err := lang.Parse(params, hostCode)
	if err != nil {
		return nil, err
	}
	if err := CheckNames(body); err != nil {
		return nil, err
	}
	return &Callable{
		Name:     name,
		Params:   append([]string(nil), params...),
		HostCode: hostCode,
		body:     body,
	}, nil
}

// CheckNames rejects a body that reads a name that is not a parameter, a
// local, a reserved binding or a builtin.
func CheckNames(body *lang.Body) error {
	for _, id := range lang.FreeNames(body) {
		if !isGlobal(id.Name) {
			return &lang.SyntaxError{Pos: id.At, Message: fmt.Sprintf("undefined name %q", id.Name)}
		}
	}
	return nil
}

// Invoke runs c with positional args against ec, performing HTTP calls
// through sb. Missing trailing arguments are null; extra arguments are an
// error.
//
// Every failure is returned as an *ExecutionError naming the capability.
// Panics in the interpreter are recovered and reported the same way.
func (e *Engine) Invoke(ctx context.Context, c *Callable, args []any, ec ir.ExecutionContext, sb Sandbox) (result any, err error) {
	if len(args) > len(c.Params) {
		return nil, &ExecutionError{
			Capability: c.Name,
			Message:    fmt.Sprintf("takes %d arguments, got %d", len(c.Params), len(args)),
			Err:        runtimeErrorf(lang.Pos{}, ErrCodeArity, "too many arguments"),
		}
	}

	in := &invocation{
		engine:   e,
		ctx:      ctx,
		callable: c,
		sandbox:  sb,
		quota:    NewQuotaEnforcer(e.maxSteps),
		logger:   e.logger.With("capability", c.Name, "integration", ec.Integration.ID),
	}
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("capability panicked", "panic", r)
			result, err = nil, in.wrap(runtimeErrorf(in.pos, ErrCodeInternal, "internal error: %v", r))
		}
	}()

	root := newFrame(nil)
	for i, p := range c.Params {
		var v any
		if i < len(args) {
			v = ir.CloneValue(args[i])
		}
		root.vars[p] = v
	}
	in.root = root
	in.reserved = map[string]any{
		"context": ec.Value(),
		"http":    in.httpObject(),
		"error":   &builtin{name: "error", fn: builtinError},
		"log":     &builtin{name: "log", fn: builtinLog(slog.LevelInfo)},
		"warn":    &builtin{name: "warn", fn: builtinLog(slog.LevelWarn)},
	}

	_, v, err := in.execBlock(c.body.Stmts, root)
	if err != nil {
		return nil, in.wrap(err)
	}
	if err := in.fits(in.pos, v); err != nil {
		return nil, in.wrap(err)
	}
	out, err := exportValue(v)
	if err != nil {
		return nil, in.wrap(runtimeErrorf(in.pos, ErrCodeType, "%v", err))
	}
	return out, nil
}

// wrap converts an evaluation failure into an ExecutionError.
func (in *invocation) wrap(err error) error {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	msg := err.Error()
	pos := in.pos
	var re *RuntimeError
	if errors.As(err, &re) {
		msg = re.Message
		if re.Pos.Line > 0 {
			pos = re.Pos
		}
	}
	return &ExecutionError{Capability: in.callable.Name, Message: msg, Pos: pos, Err: err}
}
