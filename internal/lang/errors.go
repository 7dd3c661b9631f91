package lang

import (
	"errors"
	"fmt"
)

// SyntaxError is a lexing, parsing or resolution failure.
// Pos is relative to the text handed to the parser.
type SyntaxError struct {
	Pos     Pos
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Col, e.Message)
}

// IsSyntaxError reports whether err wraps a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

func errorf(p Pos, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: p, Message: fmt.Sprintf(format, args...)}
}
