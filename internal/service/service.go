package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/metrics"
	"github.com/roach88/hivelang/internal/runtime"
	"github.com/roach88/hivelang/internal/store"
)

// SourceStore supplies integration source at load time.
// GetIntegration returns an error wrapping store.ErrNotFound on a miss.
type SourceStore interface {
	GetIntegration(ctx context.Context, id string) (ir.Integration, error)
}

// SourceWriter persists integration source. Stores that implement it let
// Register save source after it compiles.
type SourceWriter interface {
	PutIntegration(ctx context.Context, integ ir.Integration) error
}

// InvocationRecorder receives one record per invocation.
type InvocationRecorder interface {
	WriteInvocation(ctx context.Context, rec ir.InvocationRecord) error
}

// InvocationRequest names the capability to run.
type InvocationRequest struct {
	IntegrationID string `json:"integration_id"`
	Capability    string `json:"capability"`
	Arguments     []any  `json:"arguments"`
}

// Result is the outcome of one invocation: a value on success, an error
// kind and message otherwise.
type Result struct {
	Success   bool         `json:"success"`
	Value     any          `json:"value,omitempty"`
	ErrorKind ir.ErrorKind `json:"errorKind,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// LoadResult is the outcome of loading source.
type LoadResult struct {
	Success                 bool         `json:"success"`
	CompiledCapabilityNames []string     `json:"compiledCapabilityNames"`
	Warnings                []string     `json:"warnings,omitempty"`
	ErrorKind               ir.ErrorKind `json:"errorKind,omitempty"`
	Message                 string       `json:"message,omitempty"`
}

// DefaultLoadTimeout bounds fetching source for a cache miss.
const DefaultLoadTimeout = 30 * time.Second

// Service loads integrations and invokes their capabilities.
// It is safe for concurrent use.
type Service struct {
	source      SourceStore
	recorder    InvocationRecorder
	cache       *runtime.Cache
	cacheSize   int
	cacheOpts   []runtime.CacheOption
	runtimeOpts []runtime.Option
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	loadTimeout time.Duration

	loads singleflight.Group

	// mu orders cache writes against generation bumps. A miss load only
	// caches its runtime if no explicit load or eviction happened for the
	// ID since it started.
	mu          sync.Mutex
	generations map[string]uint64
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the capacity and options of the runtime cache.
func WithCache(capacity int, opts ...runtime.CacheOption) Option {
	return func(s *Service) {
		s.cacheSize = capacity
		s.cacheOpts = append(s.cacheOpts, opts...)
	}
}

// WithRuntimeOptions sets options applied to every Runtime the service
// builds, such as the sandbox and engine.
func WithRuntimeOptions(opts ...runtime.Option) Option {
	return func(s *Service) {
		s.runtimeOpts = append(s.runtimeOpts, opts...)
	}
}

// WithRecorder sets where invocation records go. Without one nothing is
// recorded.
func WithRecorder(r InvocationRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for records and durations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoadTimeout bounds fetching source on a cache miss. The fetch is
// shared by every caller waiting on the miss, so it runs detached from
// any one caller's cancellation.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// WithIDGenerator sets the invocation ID generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New creates a Service reading source from src.
func New(src SourceStore, opts ...Option) *Service {
	s := &Service{
		source:      src,
		logger:      slog.Default(),
		now:         time.Now,
		newID:       newInvocationID,
		loadTimeout: DefaultLoadTimeout,
		generations: map[string]uint64{},
	}
	for _, opt := range opts {
		opt(s)
	}
	cacheOpts := s.cacheOpts
	if s.metrics != nil {
		cacheOpts = append(cacheOpts, runtime.WithEvictHook(s.metrics.CacheEvicted))
	}
	s.cache = runtime.NewCache(s.cacheSize, cacheOpts...)
	s.runtimeOpts = append([]runtime.Option{runtime.WithLogger(s.logger)}, s.runtimeOpts...)
	return s
}

// newInvocationID returns a time-ordered UUIDv7, falling back to a random
// UUID if the clock source fails.
func newInvocationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Cache returns the runtime cache.
func (s *Service) Cache() *runtime.Cache {
	return s.cache
}

// LoadSource compiles text for integrationID and, on success, replaces the
// cached runtime. A compile failure leaves any cached runtime serving and
// is returned both in the LoadResult and as the error.
func (s *Service) LoadSource(ctx context.Context, integrationID, text string) (LoadResult, error) {
	rt, res, err := s.compile(integrationID, text)
	if err != nil {
		return res, err
	}
	s.replace(integrationID, rt)
	return res, nil
}

// Register compiles integ.Source, persists the integration when the
// source store accepts writes, and caches the runtime. Source that does
// not compile is neither saved nor cached.
func (s *Service) Register(ctx context.Context, integ ir.Integration) (LoadResult, error) {
	rt, res, err := s.compile(integ.ID, integ.Source)
	if err != nil {
		return res, err
	}
	if w, ok := s.source.(SourceWriter); ok {
		if err := w.PutIntegration(ctx, integ); err != nil {
			return LoadResult{}, fmt.Errorf("save integration %s: %w", integ.ID, err)
		}
	}
	s.replace(integ.ID, rt)
	return res, nil
}

// Evict drops the cached runtime for integrationID so the next
// invocation reloads from the source store. Call it after the stored
// source changes.
func (s *Service) Evict(integrationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[integrationID]++
	s.loads.Forget(integrationID)
	return s.cache.Remove(integrationID)
}

// replace caches rt as the current runtime for id, superseding any miss
// load in flight.
func (s *Service) replace(id string, rt *runtime.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[id]++
	s.loads.Forget(id)
	s.cache.Put(id, rt)
}

func (s *Service) generation(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[id]
}

// putIfCurrent caches rt for id unless the ID's generation moved past gen.
// It returns the runtime callers should use.
func (s *Service) putIfCurrent(id string, gen uint64, rt *runtime.Runtime) *runtime.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[id] == gen {
		s.cache.Put(id, rt)
		return rt
	}
	if current, ok := s.cache.Peek(id); ok {
		return current
	}
	return rt
}

// Capabilities returns the capability names of an integration, loading
// it if needed.
func (s *Service) Capabilities(ctx context.Context, integrationID string) ([]string, error) {
	rt, err := s.runtimeFor(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return rt.Capabilities(), nil
}

// Invoke runs one capability with ec bound for this call only.
func (s *Service) Invoke(ctx context.Context, req InvocationRequest, ec ir.ExecutionContext) (res Result) {
	start := s.now()
	var programHash string

	defer func() {
		if r := recover(); r != nil {
			res = Result{ErrorKind: ir.KindExecution, Message: fmt.Sprintf("capability %s: internal error: %v", req.Capability, r)}
		}
		elapsed := s.now().Sub(start)
		s.metrics.ObserveInvocation(res.ErrorKind, elapsed)
		s.record(ctx, req, programHash, res, start, elapsed)
	}()

	rt, err := s.runtimeFor(ctx, req.IntegrationID)
	if err != nil {
		return failure(err)
	}
	if prog := rt.Program(); prog != nil {
		programHash = prog.Hash
	}
	if ec.Integration.ID == "" {
		ec.Integration.ID = req.IntegrationID
	}

	value, err := rt.Bind(ec).Invoke(ctx, req.Capability, req.Arguments)
	if err != nil {
		res = failure(err)
		s.logger.Warn("invocation failed",
			"integration", req.IntegrationID,
			"capability", req.Capability,
			"error_kind", res.ErrorKind,
			"infrastructure", res.ErrorKind.Infrastructure(),
			"error", err,
		)
		return res
	}
	return Result{Success: true, Value: value}
}

// compile builds a fresh Runtime for text without touching the cache.
func (s *Service) compile(integrationID, text string) (*runtime.Runtime, LoadResult, error) {
	rt := runtime.New(s.runtimeOpts...)
	prog, err := rt.LoadSource(text)
	s.metrics.ObserveLoad(err == nil)
	if err != nil {
		s.logger.Warn("source rejected", "integration", integrationID, "error", err)
		return nil, LoadResult{
			CompiledCapabilityNames: []string{},
			ErrorKind:               runtime.Classify(err),
			Message:                 err.Error(),
		}, err
	}

	res := LoadResult{
		Success:                 true,
		CompiledCapabilityNames: append([]string{}, prog.Names...),
	}
	for _, w := range prog.Warnings {
		res.Warnings = append(res.Warnings, w.Error())
	}
	s.logger.Info("source loaded",
		"integration", integrationID,
		"capabilities", len(prog.Names),
		"warnings", len(prog.Warnings),
	)
	return rt, res, nil
}

// runtimeFor returns the cached runtime for id, loading it from the
// source store on a miss. Concurrent misses for one ID share a load.
func (s *Service) runtimeFor(ctx context.Context, id string) (*runtime.Runtime, error) {
	if rt, ok := s.cache.Get(id); ok {
		s.metrics.CacheHit()
		return rt, nil
	}
	s.metrics.CacheMiss()

	if s.source == nil {
		return nil, &IntegrationNotFoundError{ID: id}
	}

	ch := s.loads.DoChan(id, func() (any, error) {
		if rt, ok := s.cache.Get(id); ok {
			return rt, nil
		}
		gen := s.generation(id)

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		integ, err := s.source.GetIntegration(fetchCtx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &IntegrationNotFoundError{ID: id}
		}
		if err != nil {
			return nil, fmt.Errorf("fetch integration %s: %w", id, err)
		}
		rt, _, err := s.compile(id, integ.Source)
		if err != nil {
			return nil, err
		}
		return s.putIfCurrent(id, gen, rt), nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*runtime.Runtime), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load integration %s: %w", id, ctx.Err())
	}
}

func (s *Service) record(ctx context.Context, req InvocationRequest, programHash string, res Result, start time.Time, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}
	argsHash, err := ir.ArgsHash(req.Arguments)
	if err != nil {
		// Arguments that cannot be hashed are still logged, without a hash.
		argsHash = ""
	}
	rec := ir.InvocationRecord{
		ID:            s.newID(),
		IntegrationID: req.IntegrationID,
		Capability:    req.Capability,
		ArgsHash:      argsHash,
		ProgramHash:   programHash,
		Success:       res.Success,
		ErrorKind:     res.ErrorKind,
		Message:       res.Message,
		DurationMs:    elapsed.Milliseconds(),
		CreatedAt:     start,
	}
	// The caller's context may already be cancelled; the record should
	// still land.
	if err := s.recorder.WriteInvocation(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("record invocation", "integration", req.IntegrationID, "error", err)
	}
}

func failure(err error) Result {
	return Result{ErrorKind: classify(err), Message: err.Error()}
}

func classify(err error) ir.ErrorKind {
	var nf *IntegrationNotFoundError
	if errors.As(err, &nf) {
		return ir.KindIntegration
	}
	return runtime.Classify(err)
}
