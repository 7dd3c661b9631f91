package cli

import (
	"fmt"
	"os"

	"github.com/roach88/hivelang/internal/compiler"
	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/metrics"
	"github.com/roach88/hivelang/internal/runtime"
	"github.com/roach88/hivelang/internal/sandbox"
	"github.com/roach88/hivelang/internal/service"
	"github.com/roach88/hivelang/internal/store"
)

// runtimeOptions translates the configuration into runtime construction
// options. m may be nil.
func (o *RootOptions) runtimeOptions(m *metrics.Metrics) []runtime.Option {
	cfg := o.Config
	sb := sandbox.New(
		sandbox.WithDefaultTimeout(cfg.SandboxTimeout()),
		sandbox.WithLoopback(cfg.Sandbox.AllowLoopback),
		sandbox.WithMaxBodyBytes(cfg.Sandbox.MaxBodyBytes),
		sandbox.WithUserAgent(cfg.Sandbox.UserAgent),
		sandbox.WithLogger(o.Logger),
		sandbox.WithObserver(m.SandboxObserver()),
	)
	eng := engine.New(
		engine.WithMaxSteps(cfg.Engine.MaxSteps),
		engine.WithMaxValueBytes(cfg.Engine.MaxValueBytes),
		engine.WithLogger(o.Logger),
	)
	return []runtime.Option{
		runtime.WithEngine(eng),
		runtime.WithSandbox(sb),
		runtime.WithLogger(o.Logger),
		runtime.WithCompilerOptions(compiler.WithStrictDuplicates(cfg.Compiler.StrictDuplicates)),
	}
}

// newRuntime returns a configured, empty Runtime.
func (o *RootOptions) newRuntime() *runtime.Runtime {
	return runtime.New(o.runtimeOptions(nil)...)
}

// newService wires a Service over src. A *store.Store source also
// receives the invocation log.
func (o *RootOptions) newService(src service.SourceStore, m *metrics.Metrics) *service.Service {
	opts := []service.Option{
		service.WithCache(o.Config.Cache.Capacity, runtime.WithPolicy(o.Config.CachePolicy())),
		service.WithRuntimeOptions(o.runtimeOptions(m)...),
		service.WithLogger(o.Logger),
		service.WithMetrics(m),
	}
	if st, ok := src.(*store.Store); ok {
		opts = append(opts, service.WithRecorder(st))
	}
	return service.New(src, opts...)
}

// openStore opens the configured database.
func (o *RootOptions) openStore() (*store.Store, error) {
	st, err := store.Open(o.Config.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	o.Logger.Debug("database ready", "path", o.Config.Database)
	return st, nil
}

// readSource reads a capability source file.
func readSource(f *OutputFormatter, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", f.Fail(ExitCommandError, CodeFileNotFound, fmt.Sprintf("read source: %v", err), nil)
	}
	return string(data), nil
}

// closeStore closes st, logging any error.
func (o *RootOptions) closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		o.Logger.Error("error closing database", "error", err)
	}
}
