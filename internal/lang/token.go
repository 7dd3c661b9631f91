package lang

import "fmt"

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// TokenKind classifies lexical tokens.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNewline
	TokIdent
	TokNumber
	TokString   // "..." or '...'; Text holds the unescaped value
	TokFString  // f"..."; Text holds the raw body
	TokTemplate // `...`; Text holds the raw body
	TokPunct    // operators and delimiters
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "end of input"
	case TokNewline:
		return "newline"
	case TokIdent:
		return "identifier"
	case TokNumber:
		return "number"
	case TokString:
		return "string"
	case TokFString:
		return "interpolated string"
	case TokTemplate:
		return "template string"
	case TokPunct:
		return "punctuation"
	}
	return "unknown"
}

// Token is a lexical token.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Pos
}

func (t Token) String() string {
	switch t.Kind {
	case TokEOF, TokNewline:
		return t.Kind.String()
	case TokString, TokFString, TokTemplate:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	}
	return fmt.Sprintf("%q", t.Text)
}

// is reports whether t is the punctuation or identifier s.
func (t Token) is(s string) bool {
	return (t.Kind == TokPunct || t.Kind == TokIdent) && t.Text == s
}

// HTTPVerbs are the sandbox call names, in declaration order.
var HTTPVerbs = []string{"get", "post", "put", "patch", "delete"}

func isHTTPVerb(name string) bool {
	for _, v := range HTTPVerbs {
		if v == name {
			return true
		}
	}
	return false
}

// Reserved names are bound by the engine on every invocation and cannot be
// declared as parameters or assigned.
var Reserved = []string{"context", "http", "error", "log", "warn"}

// IsReserved reports whether name is one of the engine-bound names.
func IsReserved(name string) bool {
	for _, r := range Reserved {
		if r == name {
			return true
		}
	}
	return false
}

var keywords = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "in": true, "of": true,
	"return": true, "break": true, "continue": true,
	"and": true, "or": true, "not": true,
	"true": true, "false": true, "null": true, "True": true, "False": true, "None": true,
	"let": true, "const": true, "var": true, "await": true,
}

// IsIdentifier reports whether s is a valid, non-keyword identifier.
func IsIdentifier(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for i, r := range s {
		if !isIdentRune(r, i == 0) {
			return false
		}
	}
	return true
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return true
	}
	return !first && r >= '0' && r <= '9'
}
