// Package runtime is the façade over compiler, engine and sandbox.
//
// A Runtime holds one integration's compiled program and the sandbox its
// capabilities call through. The program table is immutable once loaded;
// the execution context is supplied per call, either through a Binding
// (preferred, safe for parallel use) or through SetContext and Invoke,
// which share one mutex-guarded slot.
//
// Cache keeps loaded runtimes per integration ID, bounded by capacity,
// evicting by insertion order or, optionally, by recency of use.
package runtime
