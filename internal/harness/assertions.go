package harness

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/hivelang/internal/ir"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index   int
	Type    string
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: %s", e.Index, e.Type, e.Message)
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var msg string
		switch a.Type {
		case AssertHTTPCalled:
			msg = assertHTTPCalled(result.Requests, a)
		case AssertHTTPCount:
			msg = assertHTTPCount(result.Requests, a)
		case AssertHeaderSent:
			msg = assertHeaderSent(result.Requests, a)
		case AssertTraceOrder:
			msg = assertTraceOrder(result.Trace, a)
		default:
			msg = fmt.Sprintf("unknown assertion type %q", a.Type)
		}
		if msg != "" {
			errs = append(errs, (&AssertionError{Index: i, Type: a.Type, Message: msg}).Error())
		}
	}
	return errs
}

func matchingRequests(reqs []Request, a Assertion) []Request {
	var out []Request
	for _, r := range reqs {
		if methodMatches(a.Method, r.Method) && urlMatches(a.URL, r.URL) {
			out = append(out, r)
		}
	}
	return out
}

func assertHTTPCalled(reqs []Request, a Assertion) string {
	if len(matchingRequests(reqs, a)) == 0 {
		return fmt.Sprintf("no %s request to %s", methodOrAny(a.Method), a.URL)
	}
	return ""
}

func assertHTTPCount(reqs []Request, a Assertion) string {
	if n := len(matchingRequests(reqs, a)); n != a.Count {
		return fmt.Sprintf("expected %d %s requests to %s, got %d", a.Count, methodOrAny(a.Method), a.URL, n)
	}
	return ""
}

// assertHeaderSent passes if any matching request carried the header
// value. Actual header values are never echoed since they usually hold
// credentials.
func assertHeaderSent(reqs []Request, a Assertion) string {
	matched := matchingRequests(reqs, a)
	if len(matched) == 0 {
		return fmt.Sprintf("no %s request to %s", methodOrAny(a.Method), a.URL)
	}
	for _, r := range matched {
		if r.Header.Get(a.Header) == a.Value {
			return ""
		}
	}
	return fmt.Sprintf("header %s did not have the expected value on %d matching requests", a.Header, len(matched))
}

// assertTraceOrder checks that the labels appear in the trace in order,
// not necessarily adjacent.
func assertTraceOrder(trace []TraceEvent, a Assertion) string {
	next := 0
	for _, ev := range trace {
		if next < len(a.Events) && ev.Label() == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return fmt.Sprintf("event %q not found in order (matched %d of %d)", a.Events[next], next, len(a.Events))
	}
	return ""
}

func methodOrAny(m string) string {
	if m == "" {
		return "any"
	}
	return m
}

// valuesEqual compares a runtime value with an expected value decoded
// from YAML. Both are normalized first so integers compare equal to the
// runtime's float64 numbers.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(ir.CloneValue(actual), ir.CloneValue(expected))
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
