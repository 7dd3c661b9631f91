package ir

import "time"

// CapabilityUnit is one named operation extracted from integration source.
type CapabilityUnit struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters"` // positional binding order
	RawBody    string   `json:"raw_body"`
	Line       int      `json:"line"` // 1-based line of the @capability marker
}

// IntegrationRef identifies which integration is executing.
type IntegrationRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ExecutionContext is the credential and identity scope for one caller.
//
// User is an opaque bag: id, email, api_key, access_token, refresh_token
// and any extra fields a specific integration needs.
type ExecutionContext struct {
	User        map[string]any `json:"user"`
	Integration IntegrationRef `json:"integration"`
}

// Well-known user fields.
const (
	UserID           = "id"
	UserEmail        = "email"
	UserAPIKey       = "api_key"
	UserAccessToken  = "access_token"
	UserRefreshToken = "refresh_token"
)

// UserString returns a user field as a string, or "" when absent.
func (c ExecutionContext) UserString(field string) string {
	if s, ok := c.User[field].(string); ok {
		return s
	}
	return ""
}

// Value returns the context as seen by capability code.
// The user bag is deep-copied so a capability cannot mutate the caller's
// map or leak writes into a later invocation.
func (c ExecutionContext) Value() map[string]any {
	user, _ := CloneValue(c.User).(map[string]any)
	if user == nil {
		user = map[string]any{}
	}
	return map[string]any{
		"user": user,
		"integration": map[string]any{
			"id":   c.Integration.ID,
			"name": c.Integration.Name,
			"slug": c.Integration.Slug,
		},
	}
}

// Integration is the stored unit of distribution for capabilities.
type Integration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorKind classifies invocation failures for callers and logs.
type ErrorKind string

const (
	KindCompile         ErrorKind = "compile_error"
	KindNotFound        ErrorKind = "not_found"
	KindContextMissing  ErrorKind = "context_missing"
	KindExecution       ErrorKind = "execution_error"
	KindCapability      ErrorKind = "capability_error"
	KindTimeout         ErrorKind = "timeout"
	KindTransportPolicy ErrorKind = "transport_policy"
	KindStepsExceeded   ErrorKind = "steps_exceeded"
	KindIntegration     ErrorKind = "integration_not_found"
)

// Infrastructure reports whether the kind is a platform failure rather
// than a mistake in integration-authored code.
func (k ErrorKind) Infrastructure() bool {
	switch k {
	case KindTimeout, KindTransportPolicy, KindIntegration:
		return true
	}
	return false
}

// InvocationRecord is the audit row written for every invocation.
type InvocationRecord struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	Capability    string    `json:"capability"`
	ArgsHash      string    `json:"args_hash"`
	ProgramHash   string    `json:"program_hash"`
	Success       bool      `json:"success"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Message       string    `json:"message,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}
