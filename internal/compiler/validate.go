package compiler

import (
	"fmt"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/lang"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidParam       = "E101" // parameter is not an identifier
	ErrDuplicateParam     = "E102" // parameter declared twice
	ErrReservedParam      = "E103" // parameter shadows a reserved binding
	ErrDuplicateName      = "E104" // capability name defined more than once
	ErrEmptyBody          = "E105" // capability has no statements
	ErrNoCapabilities     = "E106" // source defines no capabilities
	ErrUnreadableBody     = "E110" // body fails to parse
	ErrUndefinedReference = "E111" // body reads an undefined name
)

// Levels of a ValidationError.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// ValidationError is one problem found in extracted capability units.
type ValidationError struct {
	Capability string `json:"capability,omitempty"`
	Field      string `json:"field"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Level      string `json:"level"`
	Line       int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks capability declarations. Bodies are not parsed here.
// Returns all problems found (does not fail-fast), warnings included.
func Validate(units []ir.CapabilityUnit) []ValidationError {
	var errs []ValidationError

	if len(units) == 0 {
		errs = append(errs, ValidationError{
			Field:   "source",
			Message: "no @capability markers found",
			Code:    ErrNoCapabilities,
			Level:   LevelWarning,
		})
		return errs
	}

	firstLine := make(map[string]int)
	for _, u := range units {
		if line, seen := firstLine[u.Name]; seen {
			errs = append(errs, ValidationError{
				Capability: u.Name,
				Field:      "name",
				Message:    fmt.Sprintf("capability %q redefined (first defined on line %d); the later definition wins", u.Name, line),
				Code:       ErrDuplicateName,
				Level:      LevelWarning,
				Line:       u.Line,
			})
		} else {
			firstLine[u.Name] = u.Line
		}

		seen := make(map[string]bool, len(u.Parameters))
		for i, p := range u.Parameters {
			field := fmt.Sprintf("parameters[%d]", i)
			switch {
			case !lang.IsIdentifier(p):
				errs = append(errs, paramError(u, field, ErrInvalidParam, fmt.Sprintf("%q is not a valid parameter name", p)))
			case lang.IsReserved(p):
				errs = append(errs, paramError(u, field, ErrReservedParam, fmt.Sprintf("%q is reserved", p)))
			case seen[p]:
				errs = append(errs, paramError(u, field, ErrDuplicateParam, fmt.Sprintf("duplicate parameter %q", p)))
			}
			seen[p] = true
		}

		if isBlank(u.RawBody) {
			errs = append(errs, ValidationError{
				Capability: u.Name,
				Field:      "body",
				Message:    "capability has an empty body and always returns null",
				Code:       ErrEmptyBody,
				Level:      LevelWarning,
				Line:       u.Line,
			})
		}
	}

	return errs
}

func paramError(u ir.CapabilityUnit, field, code, msg string) ValidationError {
	return ValidationError{
		Capability: u.Name,
		Field:      field,
		Message:    msg,
		Code:       code,
		Level:      LevelError,
		Line:       u.Line,
	}
}

// isBlank reports whether body holds only whitespace and comments.
func isBlank(body string) bool {
	toks, err := lang.Lex(body)
	if err != nil {
		return false
	}
	for _, t := range toks {
		if t.Kind != lang.TokNewline && t.Kind != lang.TokEOF {
			return false
		}
	}
	return true
}
