package harness

import "net/http"

// Trace event types.
const (
	EventInvocation = "invocation"
	EventHTTP       = "http"
	EventResult     = "result"
)

// TraceEvent is one entry in a scenario trace. Fields not relevant to the
// event type are left empty.
type TraceEvent struct {
	Type string `json:"type"`
	Seq  int64  `json:"seq"`

	// Invocation and result events.
	Capability string `json:"capability,omitempty"`
	Args       []any  `json:"args,omitempty"`

	// HTTP events. Request headers are deliberately not traced since
	// they usually carry credentials.
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Status int    `json:"status,omitempty"`

	// Result events.
	Success   bool   `json:"success,omitempty"`
	Value     any    `json:"value,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Label names the event for trace_order assertions: the capability name
// for invocations and results, "METHOD url" for HTTP events.
func (e TraceEvent) Label() string {
	if e.Type == EventHTTP {
		return e.Method + " " + e.URL
	}
	return e.Capability
}

// Request is an outbound request seen by the canned transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   string
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains invocations, HTTP calls and results in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Requests holds every outbound request, headers included. It is
	// kept out of serialized results.
	Requests []Request `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
