// Package ir holds the shared data model of the capability runtime.
//
// Every other internal package imports ir; ir imports nothing internal.
// This keeps the model at the bottom of the dependency graph.
//
// Key constraints:
//   - CapabilityUnit values are immutable once extracted.
//   - ExecutionContext is per call and is never cached or persisted.
//   - InvocationRecord never carries credentials or raw arguments.
//   - All JSON tags use snake_case.
package ir
