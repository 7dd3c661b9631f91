package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/hivelang/internal/compiler"
	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/sandbox"
)

// Runtime owns one loaded program and the HTTP sandbox its capabilities
// call through.
//
// The program table is replaced atomically by LoadSource and is read-only
// otherwise. Callers that share a Runtime across tenants should use Bind
// or InvokeWith; SetContext followed by Invoke is only safe when a single
// goroutine drives the Runtime.
type Runtime struct {
	compiler     *compiler.Compiler
	compilerOpts []compiler.Option
	engine       *engine.Engine
	sandbox      engine.Sandbox
	logger       *slog.Logger

	mu      sync.RWMutex
	program *compiler.Program

	// callMu serializes the context slot with the invocations that read it.
	callMu  sync.Mutex
	execCtx *ir.ExecutionContext
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithEngine sets the engine used for synthesis and invocation.
func WithEngine(e *engine.Engine) Option {
	return func(r *Runtime) {
		if e != nil {
			r.engine = e
		}
	}
}

// WithCompilerOptions sets extra compiler options, such as
// compiler.WithStrictDuplicates.
func WithCompilerOptions(opts ...compiler.Option) Option {
	return func(r *Runtime) {
		r.compilerOpts = append(r.compilerOpts, opts...)
	}
}

// WithSandbox sets the HTTP sandbox capabilities call through.
func WithSandbox(sb engine.Sandbox) Option {
	return func(r *Runtime) {
		if sb != nil {
			r.sandbox = sb
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runtime with an empty program.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		engine: engine.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.compiler = compiler.New(append([]compiler.Option{
		compiler.WithEngine(r.engine),
		compiler.WithLogger(r.logger),
	}, r.compilerOpts...)...)
	if r.sandbox == nil {
		r.sandbox = sandbox.New(sandbox.WithLogger(r.logger))
	}
	return r
}

// LoadSource compiles source and replaces the program table.
//
// Loading is all-or-nothing: on a *compiler.CompileError the previous
// program stays in place and keeps serving.
func (r *Runtime) LoadSource(source string) (*compiler.Program, error) {
	prog, err := r.compiler.Compile(source)
	if err != nil {
		r.logger.Warn("load rejected", "error", err)
		return nil, err
	}
	r.mu.Lock()
	r.program = prog
	r.mu.Unlock()
	r.logger.Debug("program loaded", "capabilities", prog.Names, "hash", prog.Hash)
	return prog, nil
}

// Program returns the loaded program, or nil before the first successful
// load.
func (r *Runtime) Program() *compiler.Program {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.program
}

// Capabilities returns the names of the loaded capabilities.
func (r *Runtime) Capabilities() []string {
	if p := r.Program(); p != nil {
		return append([]string(nil), p.Names...)
	}
	return nil
}

// SetContext replaces the active execution context. It must be called
// before every Invoke.
func (r *Runtime) SetContext(ec ir.ExecutionContext) {
	r.callMu.Lock()
	defer r.callMu.Unlock()
	r.execCtx = &ec
}

// Invoke runs the named capability against the active context.
func (r *Runtime) Invoke(ctx context.Context, name string, args []any) (any, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()
	if r.execCtx == nil {
		return nil, &ContextMissingError{Capability: name}
	}
	return r.invoke(ctx, r.Program(), *r.execCtx, name, args)
}

// InvokeWith sets ec and invokes name as one atomic step, so no other
// SetContext can interleave.
func (r *Runtime) InvokeWith(ctx context.Context, ec ir.ExecutionContext, name string, args []any) (any, error) {
	r.callMu.Lock()
	defer r.callMu.Unlock()
	r.execCtx = &ec
	return r.invoke(ctx, r.Program(), ec, name, args)
}

// Binding pairs the program loaded at Bind time with one execution
// context. Bindings share only the immutable program, so any number of
// them can invoke in parallel.
type Binding struct {
	rt      *Runtime
	program *compiler.Program
	ec      ir.ExecutionContext
}

// Bind returns a Binding of the current program to ec.
func (r *Runtime) Bind(ec ir.ExecutionContext) *Binding {
	return &Binding{rt: r, program: r.Program(), ec: ec}
}

// Invoke runs the named capability against the bound context.
func (b *Binding) Invoke(ctx context.Context, name string, args []any) (any, error) {
	return b.rt.invoke(ctx, b.program, b.ec, name, args)
}

func (r *Runtime) invoke(ctx context.Context, prog *compiler.Program, ec ir.ExecutionContext, name string, args []any) (any, error) {
	if prog == nil {
		return nil, &NotFoundError{Capability: name}
	}
	c, ok := prog.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Capability: name}
	}
	return r.engine.Invoke(ctx, c.Callable, args, ec, r.sandbox)
}
