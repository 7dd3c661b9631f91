package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hivelang/internal/lang"
)

// ExecutionError is returned by Invoke for every failure during a call.
//
// Err holds the underlying cause: a CapabilityError for error(...) calls,
// a RuntimeError for faults in capability code, StepsExceededError, or a
// sandbox error (sandbox.TimeoutError, sandbox.TransportPolicyError).
type ExecutionError struct {
	Capability string
	Message    string
	// Pos is the host code position of the statement being executed, or
	// the zero Pos when unknown.
	Pos lang.Pos
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("capability %s: %s (line %d)", e.Capability, e.Message, e.Pos.Line)
	}
	return fmt.Sprintf("capability %s: %s", e.Capability, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CapabilityError is raised by error(message) in capability code.
type CapabilityError struct {
	Message string
}

func (e *CapabilityError) Error() string { return e.Message }

// RuntimeError is a fault detected while evaluating capability code.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Pos is the host code position of the offending expression.
	Pos lang.Pos
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeType indicates an operation on a value of the wrong type.
	ErrCodeType RuntimeErrorCode = "TYPE_ERROR"

	// ErrCodeName indicates a name read before it was assigned.
	ErrCodeName RuntimeErrorCode = "NAME_ERROR"

	// ErrCodeValue indicates a value outside an operation's domain,
	// such as division by zero or malformed JSON.
	ErrCodeValue RuntimeErrorCode = "VALUE_ERROR"

	// ErrCodeArity indicates a call with the wrong number of arguments.
	ErrCodeArity RuntimeErrorCode = "ARITY_ERROR"

	// ErrCodeDepth indicates the call depth limit was reached.
	ErrCodeDepth RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeSize indicates a string, list or encoded value larger than
	// the engine's value size limit.
	ErrCodeSize RuntimeErrorCode = "SIZE_EXCEEDED"

	// ErrCodeInternal indicates a recovered panic in the interpreter.
	ErrCodeInternal RuntimeErrorCode = "INTERNAL"
)

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsExecutionError reports whether err wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsCapabilityError reports whether err wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsRuntimeError reports whether err wraps a RuntimeError with the given code.
func IsRuntimeError(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func runtimeErrorf(pos lang.Pos, code RuntimeErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...), Pos: pos}
}
