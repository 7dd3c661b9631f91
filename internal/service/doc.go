// Package service is the outbound interface of the hive runtime: loading
// integration source and invoking capabilities on behalf of callers.
//
// A Service owns a runtime.Cache keyed by integration ID. On a cache miss
// it fetches source from a SourceStore, compiles it once (concurrent
// misses for the same ID share one compile) and caches the result. Every
// invocation binds the caller's execution context to the cached program
// for that call only, so requests for different users of the same
// integration run in parallel without sharing a context slot.
//
// Invoke never returns a Go error. Failures come back as a Result with
// an ErrorKind so one integration's broken capability cannot take down a
// caller serving other tenants.
package service
