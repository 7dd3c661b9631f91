package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/runtime"
	"github.com/roach88/hivelang/internal/sandbox"
	"github.com/roach88/hivelang/internal/testutil"
)

// Harness executes one scenario. It owns the trace and the deterministic
// clock that numbers it.
type Harness struct {
	clock  *testutil.DeterministicClock
	logger *slog.Logger

	mu     sync.Mutex
	result *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario gets a fresh Runtime and sandbox. Execution flow:
// 1. Load the scenario source
// 2. Invoke each step with its execution context
// 3. Check each step's expect clause
// 4. Evaluate assertions against the trace and recorded requests
//
// The error return is reserved for scenarios that cannot run at all;
// failed expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		result: NewResult(),
	}

	wall := testutil.NewDeterministicClock()
	transport := &cannedTransport{responses: scenario.HTTP, onRequest: h.recordRequest}
	rt := runtime.New(
		runtime.WithEngine(engine.New(engine.WithClock(wall.Now), engine.WithLogger(h.logger))),
		runtime.WithSandbox(sandbox.New(sandbox.WithTransport(transport), sandbox.WithLogger(h.logger))),
		runtime.WithLogger(h.logger),
	)

	_, err := rt.LoadSource(scenario.Source)
	if scenario.ExpectLoadError != "" {
		switch {
		case err == nil:
			h.result.AddError(fmt.Sprintf("load: expected error containing %q, source loaded", scenario.ExpectLoadError))
		case !strings.Contains(err.Error(), scenario.ExpectLoadError):
			h.result.AddError(fmt.Sprintf("load: expected error containing %q, got %v", scenario.ExpectLoadError, err))
		}
		return h.result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}

	h.executeSteps(ctx, rt, scenario)

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) executeSteps(ctx context.Context, rt *runtime.Runtime, scenario *Scenario) {
	for i, step := range scenario.Steps {
		spec := scenario.Context
		if step.Context != nil {
			spec = *step.Context
		}

		var args []any
		for _, a := range step.Args {
			args = append(args, ir.CloneValue(a))
		}
		h.addEvent(TraceEvent{Type: EventInvocation, Capability: step.Invoke, Args: args})

		value, err := rt.InvokeWith(ctx, spec.ExecutionContext(), step.Invoke, args)
		ev := TraceEvent{Type: EventResult, Capability: step.Invoke}
		if err != nil {
			ev.ErrorKind = string(runtime.Classify(err))
			ev.Message = err.Error()
		} else {
			ev.Success = true
			ev.Value = value
		}
		h.addEvent(ev)

		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, ev) {
				h.result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Invoke, msg))
			}
		}
	}
}

func (h *Harness) addEvent(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = h.clock.Next()
	h.result.Trace = append(h.result.Trace, ev)
}

// recordRequest is called by the canned transport for every request.
// A zero status means no response was produced.
func (h *Harness) recordRequest(req Request, status int) {
	traced := req.URL
	if u, err := url.Parse(req.URL); err == nil {
		traced = stripQuery(u)
	}
	h.addEvent(TraceEvent{Type: EventHTTP, Method: req.Method, URL: traced, Status: status})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Requests = append(h.result.Requests, req)
}

func checkExpect(e *Expect, ev TraceEvent) []string {
	var errs []string
	if e.Success != nil && *e.Success != ev.Success {
		if ev.Success {
			errs = append(errs, "expected failure, got success")
		} else {
			errs = append(errs, fmt.Sprintf("expected success, got %s: %s", ev.ErrorKind, ev.Message))
		}
	}
	if e.Value != nil && !valuesEqual(ev.Value, e.Value) {
		errs = append(errs, fmt.Sprintf("expected value %s, got %s", formatValue(e.Value), formatValue(ev.Value)))
	}
	if e.ErrorKind != "" && e.ErrorKind != ev.ErrorKind {
		errs = append(errs, fmt.Sprintf("expected error kind %s, got %q", e.ErrorKind, ev.ErrorKind))
	}
	if e.MessageContains != "" && !strings.Contains(ev.Message, e.MessageContains) {
		errs = append(errs, fmt.Sprintf("expected message containing %q, got %q", e.MessageContains, ev.Message))
	}
	return errs
}
