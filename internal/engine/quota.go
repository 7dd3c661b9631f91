package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts evaluation steps for one invocation and enforces
// the step budget.
//
// Each invocation has its own QuotaEnforcer. The budget catches runaway
// loops and unbounded recursion through lambdas, which the sandbox timeout
// cannot interrupt because they never suspend.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates an enforcer with the given limit.
// Typical default: 100000 (configurable via engine.WithMaxSteps()).
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates it against the limit.
func (q *QuotaEnforcer) Check(capability string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Capability: capability,
			Steps:      q.current,
			Limit:      q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when an invocation exceeds its step budget.
type StepsExceededError struct {
	Capability string
	Steps      int
	Limit      int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("capability %s exceeded max steps quota: %d steps > %d limit",
		e.Capability, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
