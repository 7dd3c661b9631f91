package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hivelang/internal/compiler"
	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/sandbox"
)

// ErrContextMissing is matched by every ContextMissingError.
var ErrContextMissing = errors.New("execution context not set")

// NotFoundError is returned when invoking a capability that is not in the
// loaded program.
type NotFoundError struct {
	Capability string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("capability %q not found", e.Capability)
}

// IsNotFoundError reports whether err wraps a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ContextMissingError is returned when Invoke runs before any SetContext.
type ContextMissingError struct {
	Capability string
}

func (e *ContextMissingError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Capability, ErrContextMissing)
}

func (e *ContextMissingError) Is(target error) bool {
	return target == ErrContextMissing
}

// Classify maps an error from loading or invocation to its ErrorKind.
// Infrastructure failures are checked before capability-authored ones so
// a timeout inside a capability is still reported as a timeout.
func Classify(err error) ir.ErrorKind {
	switch {
	case err == nil:
		return ""
	case compiler.IsCompileError(err):
		return ir.KindCompile
	case IsNotFoundError(err):
		return ir.KindNotFound
	case errors.Is(err, ErrContextMissing):
		return ir.KindContextMissing
	case sandbox.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		return ir.KindTimeout
	case sandbox.IsTransportPolicyError(err):
		return ir.KindTransportPolicy
	case engine.IsStepsExceededError(err):
		return ir.KindStepsExceeded
	case engine.IsCapabilityError(err):
		return ir.KindCapability
	}
	return ir.KindExecution
}
