package lang

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

var puncts3 = []string{"===", "!=="}
var puncts2 = []string{"==", "!=", "<=", ">=", "=>", "&&", "||"}

const puncts1 = "()[]{},:.=<>+-*/%!;"

// lexer turns source text into tokens. Newlines are significant statement
// separators and object entry separators; they are dropped when the
// innermost open bracket is a parenthesis or square bracket.
type lexer struct {
	src    string
	off    int
	line   int
	col    int
	open   []byte // unclosed (, [ and {
	tokens []Token
}

// Lex tokenizes src. The returned slice always ends with TokEOF.
func Lex(src string) ([]Token, error) {
	return lexAt(src, Pos{Line: 1, Col: 1})
}

// lexAt tokenizes src as if it started at position start. Interpolation
// placeholders use it so errors point into the enclosing literal.
func lexAt(src string, start Pos) ([]Token, error) {
	lx := &lexer{src: src, line: start.Line, col: start.Col}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.tokens, nil
}

func (lx *lexer) pos() Pos { return Pos{Line: lx.line, Col: lx.col} }

func (lx *lexer) peekByte(n int) byte {
	if lx.off+n < len(lx.src) {
		return lx.src[lx.off+n]
	}
	return 0
}

func (lx *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(lx.src[lx.off:])
	lx.off += size
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) emit(kind TokenKind, text string, p Pos) {
	if kind == TokNewline {
		if n := len(lx.tokens); n == 0 || lx.tokens[n-1].Kind == TokNewline {
			return
		}
	}
	lx.tokens = append(lx.tokens, Token{Kind: kind, Text: text, Pos: p})
}

func (lx *lexer) run() error {
	for lx.off < len(lx.src) {
		c := lx.src[lx.off]
		p := lx.pos()
		switch {
		case c == '\n':
			lx.advance()
			if lx.newlinesSignificant() {
				lx.emit(TokNewline, "\n", p)
			}
		case c == ' ' || c == '\t' || c == '\r':
			lx.advance()
		case c == '#' || (c == '/' && lx.peekByte(1) == '/'):
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.advance()
			}
		case c == '"' || c == '\'':
			s, err := lx.scanQuoted(c, true)
			if err != nil {
				return err
			}
			lx.emit(TokString, s, p)
		case c == '`':
			s, err := lx.scanQuoted('`', false)
			if err != nil {
				return err
			}
			lx.emit(TokTemplate, s, p)
		case (c == 'f' || c == 'F') && (lx.peekByte(1) == '"' || lx.peekByte(1) == '\'') && !lx.prevIsIdentTail():
			lx.advance()
			s, err := lx.scanQuoted(lx.src[lx.off], false)
			if err != nil {
				return err
			}
			lx.emit(TokFString, s, p)
		case c >= '0' && c <= '9':
			lx.emit(TokNumber, lx.scanNumber(), p)
		case isIdentRune(rune(c), true):
			start := lx.off
			for lx.off < len(lx.src) && isIdentRune(rune(lx.src[lx.off]), false) {
				lx.advance()
			}
			lx.emit(TokIdent, lx.src[start:lx.off], p)
		default:
			if err := lx.scanPunct(p); err != nil {
				return err
			}
		}
	}
	lx.emit(TokNewline, "\n", lx.pos())
	lx.tokens = append(lx.tokens, Token{Kind: TokEOF, Pos: lx.pos()})
	return nil
}

func (lx *lexer) newlinesSignificant() bool {
	n := len(lx.open)
	return n == 0 || lx.open[n-1] == '{'
}

// prevIsIdentTail guards against treating the f in "if" or "elif" as a
// string prefix when no space separates it from a quote.
func (lx *lexer) prevIsIdentTail() bool {
	return lx.off > 0 && isIdentRune(rune(lx.src[lx.off-1]), false)
}

func (lx *lexer) scanPunct(p Pos) error {
	rest := lx.src[lx.off:]
	for _, group := range [][]string{puncts3, puncts2} {
		for _, op := range group {
			if strings.HasPrefix(rest, op) {
				for range op {
					lx.advance()
				}
				lx.emit(TokPunct, op, p)
				return nil
			}
		}
	}
	c := lx.src[lx.off]
	if strings.IndexByte(puncts1, c) < 0 {
		r, _ := utf8.DecodeRuneInString(rest)
		return errorf(p, "unexpected character %s", strconv.QuoteRune(r))
	}
	lx.advance()
	switch c {
	case '(', '[', '{':
		lx.open = append(lx.open, c)
	case ')', ']', '}':
		// Mismatched closers are left for the parser to report.
		if n := len(lx.open); n > 0 && lx.open[n-1] == opener(c) {
			lx.open = lx.open[:n-1]
		}
	}
	lx.emit(TokPunct, string(c), p)
	return nil
}

func opener(c byte) byte {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	}
	return '{'
}

func (lx *lexer) scanNumber() string {
	start := lx.off
	digits := func() {
		for lx.off < len(lx.src) && lx.src[lx.off] >= '0' && lx.src[lx.off] <= '9' {
			lx.advance()
		}
	}
	digits()
	if lx.peekByte(0) == '.' && lx.peekByte(1) >= '0' && lx.peekByte(1) <= '9' {
		lx.advance()
		digits()
	}
	if c := lx.peekByte(0); c == 'e' || c == 'E' {
		next := lx.peekByte(1)
		if next >= '0' && next <= '9' || ((next == '+' || next == '-') && lx.peekByte(2) >= '0' && lx.peekByte(2) <= '9') {
			lx.advance()
			if next == '+' || next == '-' {
				lx.advance()
			}
			digits()
		}
	}
	return lx.src[start:lx.off]
}

// scanQuoted consumes a quoted literal starting at the opening quote.
// When unescape is false the raw body is returned for later splitting into
// interpolation parts; escapes are still skipped so an escaped quote does
// not terminate the literal.
func (lx *lexer) scanQuoted(quote byte, unescape bool) (string, error) {
	start := lx.pos()
	lx.advance()
	var sb strings.Builder
	bodyStart := lx.off
	for {
		if lx.off >= len(lx.src) {
			return "", errorf(start, "unterminated string literal")
		}
		c := lx.src[lx.off]
		if c == quote {
			raw := lx.src[bodyStart:lx.off]
			lx.advance()
			if unescape {
				return sb.String(), nil
			}
			return raw, nil
		}
		if c == '\n' && quote != '`' {
			return "", errorf(start, "unterminated string literal")
		}
		if c == '\\' {
			escPos := lx.pos()
			lx.advance()
			if lx.off >= len(lx.src) {
				return "", errorf(start, "unterminated string literal")
			}
			if !unescape {
				lx.advance()
				continue
			}
			r, err := lx.scanEscape(escPos)
			if err != nil {
				return "", err
			}
			sb.WriteString(r)
			continue
		}
		sb.WriteRune(lx.advance())
	}
}

func (lx *lexer) scanEscape(p Pos) (string, error) {
	c := lx.advance()
	switch c {
	case 'n':
		return "\n", nil
	case 't':
		return "\t", nil
	case 'r':
		return "\r", nil
	case 'b':
		return "\b", nil
	case 'f':
		return "\f", nil
	case '0':
		return "\x00", nil
	case '\\', '"', '\'', '`', '$', '{', '}':
		return string(c), nil
	case 'u', 'x':
		n := 4
		if c == 'x' {
			n = 2
		}
		if lx.off+n > len(lx.src) {
			return "", errorf(p, "invalid escape sequence")
		}
		v, err := strconv.ParseUint(lx.src[lx.off:lx.off+n], 16, 32)
		if err != nil {
			return "", errorf(p, "invalid escape sequence")
		}
		for i := 0; i < n; i++ {
			lx.advance()
		}
		return string(rune(v)), nil
	}
	return "\\" + string(c), nil
}

// unescapeText applies the string escape rules to a raw literal segment.
func unescapeText(raw string, p Pos) (string, error) {
	if !strings.Contains(raw, "\\") {
		return raw, nil
	}
	lx := &lexer{src: raw, line: p.Line, col: p.Col}
	var sb strings.Builder
	for lx.off < len(lx.src) {
		if lx.src[lx.off] == '\\' && lx.off+1 < len(lx.src) {
			escPos := lx.pos()
			lx.advance()
			s, err := lx.scanEscape(escPos)
			if err != nil {
				return "", err
			}
			sb.WriteString(s)
			continue
		}
		sb.WriteRune(lx.advance())
	}
	return sb.String(), nil
}
