package compiler

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/hivelang/internal/engine"
	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/lang"
)

// CompileError reports a capability that failed to compile. A single
// CompileError fails the whole load.
type CompileError struct {
	Capability string
	Code       string
	// Line and Column are 1-based positions in the integration source, or
	// zero when the failure has no position.
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%d:%d: capability %s: %s", e.Line, e.Column, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability %s: %s", e.Capability, e.Message)
}

func (e *CompileError) Unwrap() error { return e.Err }

// IsCompileError reports whether err wraps a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// Capability is one compiled capability.
type Capability struct {
	Unit     ir.CapabilityUnit
	Callable *engine.Callable
}

// HostCode returns the transpiled body.
func (c *Capability) HostCode() string {
	return c.Callable.HostCode
}

// Program is the compiled program table of one integration source.
// It is read-only after Compile returns and safe to share.
type Program struct {
	// Names lists capability names in order of first definition.
	Names []string

	// Hash identifies the normalized source.
	Hash string

	// Warnings holds non-fatal validation findings.
	Warnings []ValidationError

	caps map[string]*Capability
}

// Lookup returns the named capability.
func (p *Program) Lookup(name string) (*Capability, bool) {
	c, ok := p.caps[name]
	return c, ok
}

// Len returns the number of distinct capabilities.
func (p *Program) Len() int {
	return len(p.caps)
}

// Compiler turns integration source into a Program.
type Compiler struct {
	engine           *engine.Engine
	strictDuplicates bool
	logger           *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithEngine sets the engine used for synthesis.
func WithEngine(e *engine.Engine) Option {
	return func(c *Compiler) {
		if e != nil {
			c.engine = e
		}
	}
}

// WithStrictDuplicates turns duplicate capability names into a
// CompileError instead of a warning.
func WithStrictDuplicates(strict bool) Option {
	return func(c *Compiler) { c.strictDuplicates = strict }
}

// WithLogger sets the logger for compile warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		engine: engine.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile extracts, transpiles and synthesizes every capability in source.
//
// Compilation is all-or-nothing: the first failing capability aborts with
// a *CompileError and no Program is returned. Source is NFC-normalized
// first so visually identical identifiers compare equal.
func (c *Compiler) Compile(source string) (*Program, error) {
	source = norm.NFC.String(source)
	units := Extract(source)

	prog := &Program{
		Hash: ir.ProgramHash(source),
		caps: make(map[string]*Capability, len(units)),
	}

	for _, v := range Validate(units) {
		if v.Level == LevelError || (v.Code == ErrDuplicateName && c.strictDuplicates) {
			return nil, &CompileError{
				Capability: v.Capability,
				Code:       v.Code,
				Line:       v.Line,
				Column:     1,
				Message:    v.Message,
				Err:        v,
			}
		}
		prog.Warnings = append(prog.Warnings, v)
		c.logger.Warn("capability source warning", "capability", v.Capability, "code", v.Code, "line", v.Line, "message", v.Message)
	}

	for _, u := range units {
		callable, err := c.compileUnit(source, u)
		if err != nil {
			return nil, err
		}
		if _, seen := prog.caps[u.Name]; !seen {
			prog.Names = append(prog.Names, u.Name)
		}
		prog.caps[u.Name] = &Capability{Unit: u, Callable: callable}
	}
	return prog, nil
}

func (c *Compiler) compileUnit(source string, u ir.CapabilityUnit) (*engine.Callable, error) {
	body, err := lang.Parse(u.Parameters, u.RawBody)
	if err != nil {
		return nil, unitError(source, u, ErrUnreadableBody, err)
	}
	if err := engine.CheckNames(body); err != nil {
		return nil, unitError(source, u, ErrUndefinedReference, err)
	}
	callable, err := c.engine.Synthesize(u.Name, u.Parameters, lang.Generate(body))
	if err != nil {
		// Host code positions do not map back to the source.
		return nil, &CompileError{Capability: u.Name, Code: ErrUnreadableBody, Message: err.Error(), Err: err}
	}
	return callable, nil
}

// unitError converts a body-relative syntax error into a CompileError
// positioned in the whole source.
func unitError(source string, u ir.CapabilityUnit, code string, err error) error {
	ce := &CompileError{Capability: u.Name, Code: code, Message: err.Error(), Err: err}
	var se *lang.SyntaxError
	if errors.As(err, &se) {
		ce.Message = se.Message
		ce.Line = u.Line + se.Pos.Line - 1
		ce.Column = se.Pos.Col
		if se.Pos.Line == 1 {
			ce.Column += bodyOffset(source, u)
		}
	}
	return ce
}
