// Package store provides SQLite-backed durable storage for integration
// sources and the invocation log.
//
// The store holds two tables:
//   - Integrations: capability source text keyed by integration ID
//   - Invocations: an append-only audit log of capability calls
//
// # Invariants
//
// Source is stored exactly as submitted. Compiled programs are derived
// state and are rebuilt by the service layer on load.
//
// The invocation log never holds credentials, execution contexts or raw
// arguments. Arguments are reduced to a domain-separated hash (see
// internal/ir/hash.go) before they reach the store.
//
// Ordering uses seq INTEGER, never timestamps, so rows written within
// the same clock tick still list deterministically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
