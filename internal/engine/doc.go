// Package engine executes capability host code.
//
// Synthesis parses host code into a Callable and rejects it up front when a
// name is neither a parameter, a local nor an engine global. No source text is
// ever evaluated by the Go runtime; the Callable is walked by an interpreter.
//
// Every invocation gets its own frame holding the parameters, the reserved
// bindings and the execution context passed to Invoke. A Callable holds no
// per-call state and may be invoked concurrently.
//
// RESERVED BINDINGS:
//
//	context   the execution context: {user: {...}, integration: {id, name, slug}}
//	http      the sandbox: http.get/post/put/patch/delete(url, options)
//	error     error(message) aborts the invocation with a CapabilityError
//	log, warn non-fatal diagnostics written to the engine logger
//
// VALUES:
//
// Capability code sees null, booleans, float64 numbers, strings, lists and
// objects (map[string]any), plus functions. nil, false, 0 and "" are falsy.
//
// LIMITS:
//
// Each invocation has a step budget (see QuotaEnforcer). Statements, loop
// iterations and function calls each take one step. Exceeding the budget
// aborts the invocation with StepsExceededError.
package engine
