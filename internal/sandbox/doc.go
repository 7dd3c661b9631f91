// Package sandbox performs outbound HTTP calls on behalf of capability code.
//
// Every call is checked against the transport policy before any I/O: only
// https URLs are allowed, plus plain http to a literal loopback host when
// loopback is enabled. Redirects are checked against the same policy.
// Every call is bounded by a timeout; the default is 30s and a call may
// override it.
//
// Responses are normalized into an Outcome. Bodies are parsed as JSON when
// they are valid JSON and kept as text either way.
package sandbox
