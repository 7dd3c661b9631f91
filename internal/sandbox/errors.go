package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// TransportPolicyError is returned when a URL is rejected before any
// network call is attempted.
type TransportPolicyError struct {
	URL    string // scheme, host and path only
	Reason string
}

func (e *TransportPolicyError) Error() string {
	return fmt.Sprintf("transport policy: %s: %s", e.Reason, e.URL)
}

// TimeoutError is returned when a call exceeds its deadline.
type TimeoutError struct {
	Method  string
	Host    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out after %s", e.Method, e.Host, e.Timeout)
}

// BodyTooLargeError is returned when a response body exceeds the
// configured limit.
type BodyTooLargeError struct {
	Host  string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("response from %s exceeds %d bytes", e.Host, e.Limit)
}

// IsTransportPolicyError reports whether err wraps a TransportPolicyError.
func IsTransportPolicyError(err error) bool {
	var pe *TransportPolicyError
	return errors.As(err, &pe)
}

// IsTimeoutError reports whether err wraps a TimeoutError.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
