package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/sandbox"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Source is the capability source text. Exactly one of Source and
	// SourceFile must be set; LoadScenario reads SourceFile into Source.
	Source string `yaml:"source,omitempty"`

	// SourceFile is a path to the source, relative to the scenario file.
	SourceFile string `yaml:"source_file,omitempty"`

	// ExpectLoadError, when set, makes the scenario expect the source to
	// be rejected with an error containing this text. Steps are skipped.
	ExpectLoadError string `yaml:"expect_load_error,omitempty"`

	// Context is the execution context for every step unless a step
	// overrides it.
	Context ContextSpec `yaml:"context"`

	// HTTP lists canned responses for outbound requests.
	HTTP []CannedResponse `yaml:"http,omitempty"`

	// Steps are invoked in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and recorded requests.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ContextSpec describes an execution context.
type ContextSpec struct {
	User        map[string]any  `yaml:"user"`
	Integration IntegrationSpec `yaml:"integration"`
}

// IntegrationSpec identifies the integration in a context.
type IntegrationSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

// ExecutionContext converts the spec to the runtime form.
func (c ContextSpec) ExecutionContext() ir.ExecutionContext {
	user, _ := ir.CloneValue(c.User).(map[string]any)
	return ir.ExecutionContext{
		User: user,
		Integration: ir.IntegrationRef{
			ID:   c.Integration.ID,
			Name: c.Integration.Name,
			Slug: c.Integration.Slug,
		},
	}
}

// CannedResponse answers requests matching Method and URL.
// A URL without a query string matches requests with any query.
type CannedResponse struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Status  int               `yaml:"status"`
	Headers map[string]string `yaml:"headers,omitempty"`

	// Body is sent as-is when it is a string and JSON-encoded otherwise.
	Body any `yaml:"body,omitempty"`

	// DelayMs holds the response back, for exercising timeouts.
	DelayMs int `yaml:"delay_ms,omitempty"`
}

// Step invokes one capability.
type Step struct {
	// Invoke is the capability name.
	Invoke string `yaml:"invoke"`

	// Args are the positional arguments.
	Args []any `yaml:"args,omitempty"`

	// Context overrides the scenario context for this step.
	Context *ContextSpec `yaml:"context,omitempty"`

	// Expect specifies the expected outcome. If nil, any outcome passes.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies an expected invocation outcome. Unset fields are not
// checked; Value is compared only when present and non-null.
type Expect struct {
	Success         *bool  `yaml:"success,omitempty"`
	Value           any    `yaml:"value,omitempty"`
	ErrorKind       string `yaml:"error_kind,omitempty"`
	MessageContains string `yaml:"message_contains,omitempty"`
}

// Assertion validates the trace or the recorded requests.
type Assertion struct {
	// Type is one of http_called, http_count, header_sent, trace_order.
	Type string `yaml:"type"`

	// Method and URL select requests (http_called, http_count,
	// header_sent). An empty method matches any method.
	Method string `yaml:"method,omitempty"`
	URL    string `yaml:"url,omitempty"`

	// Header and Value are the expected request header (header_sent).
	Header string `yaml:"header,omitempty"`
	Value  string `yaml:"value,omitempty"`

	// Count is the expected number of matching requests (http_count).
	Count int `yaml:"count,omitempty"`

	// Events are event labels expected in order (trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertHTTPCalled = "http_called"
	AssertHTTPCount  = "http_count"
	AssertHeaderSent = "header_sent"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A source_file is resolved relative to the scenario file and read.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.SourceFile != "" {
		srcPath := scenario.SourceFile
		if !filepath.IsAbs(srcPath) {
			srcPath = filepath.Join(filepath.Dir(path), srcPath)
		}
		src, err := os.ReadFile(srcPath)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: source file: %w", err)
		}
		scenario.Source = string(src)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. A source_file is
// recorded but not read.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Source == "") == (s.SourceFile == "") {
		return fmt.Errorf("exactly one of source or source_file is required")
	}
	if len(s.Steps) == 0 && s.ExpectLoadError == "" {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, resp := range s.HTTP {
		if resp.URL == "" {
			return fmt.Errorf("http[%d]: url is required", i)
		}
		if _, ok := sandbox.Methods[strings.ToLower(resp.Method)]; resp.Method != "" && !ok {
			return fmt.Errorf("http[%d]: unsupported method %q", i, resp.Method)
		}
		if resp.Status != 0 && (resp.Status < 100 || resp.Status > 599) {
			return fmt.Errorf("http[%d]: status %d out of range", i, resp.Status)
		}
	}

	for i, step := range s.Steps {
		if step.Invoke == "" {
			return fmt.Errorf("steps[%d]: invoke is required", i)
		}
		if e := step.Expect; e != nil && e.Success != nil && *e.Success && (e.ErrorKind != "" || e.MessageContains != "") {
			return fmt.Errorf("steps[%d].expect: error fields set on an expected success", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertHTTPCalled, AssertHTTPCount:
		if a.URL == "" {
			return fmt.Errorf("assertions[%d]: url is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertHeaderSent:
		if a.URL == "" || a.Header == "" {
			return fmt.Errorf("assertions[%d]: url and header are required for header_sent", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
