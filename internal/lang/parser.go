package lang

import (
	"strconv"
	"strings"
)

const maxNesting = 200

var compareOps = map[string]string{
	"==": "==", "===": "==",
	"!=": "!=", "!==": "!=",
	"<": "<", "<=": "<=", ">": ">", ">=": ">=",
}

type parser struct {
	toks  []Token
	i     int
	depth int
}

// Parse parses and resolves one capability body. src may be surface syntax
// or host code produced by Generate; both yield the same tree.
func Parse(params []string, src string) (*Body, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmts, err := p.parseStmtList(false)
	if err != nil {
		return nil, err
	}
	b := &Body{Params: append([]string(nil), params...), Stmts: stmts}
	if err := resolve(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) peekN(n int) Token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != TokEOF {
		p.i++
	}
	return t
}

func (p *parser) accept(s string) bool {
	if p.peek().is(s) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(s string) (Token, error) {
	t := p.peek()
	if !t.is(s) {
		return t, errorf(t.Pos, "expected %q, found %s", s, t)
	}
	p.i++
	return t, nil
}

// skipNewlines skips newline tokens and reports whether any were skipped.
func (p *parser) skipNewlines() bool {
	skipped := false
	for p.peek().Kind == TokNewline {
		p.i++
		skipped = true
	}
	return skipped
}

func (p *parser) skipSeparators() {
	for p.peek().Kind == TokNewline || p.peek().is(";") {
		p.i++
	}
}

func (p *parser) atStmtEnd() bool {
	t := p.peek()
	return t.Kind == TokNewline || t.Kind == TokEOF || t.is(";") || t.is("}")
}

func isName(t Token) bool {
	return t.Kind == TokIdent && !keywords[t.Text]
}

func (p *parser) ident() (Token, error) {
	t := p.peek()
	if !isName(t) {
		return t, errorf(t.Pos, "expected identifier, found %s", t)
	}
	p.i++
	return t, nil
}

func (p *parser) nest() error {
	p.depth++
	if p.depth > maxNesting {
		return errorf(p.peek().Pos, "nesting too deep")
	}
	return nil
}

func (p *parser) parseStmtList(inBlock bool) ([]Stmt, error) {
	var out []Stmt
	for {
		p.skipSeparators()
		t := p.peek()
		if t.Kind == TokEOF {
			if inBlock {
				return nil, errorf(t.Pos, "unexpected end of input, expected \"}\"")
			}
			return out, nil
		}
		if t.is("}") {
			if !inBlock {
				return nil, errorf(t.Pos, "unexpected \"}\"")
			}
			return out, nil
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		switch s.(type) {
		case *IfStmt, *ForStmt:
			continue
		}
		if !p.atStmtEnd() {
			t := p.peek()
			return nil, errorf(t.Pos, "unexpected %s after statement", t)
		}
	}
}

func (p *parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	if err := p.nest(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	stmts, err := p.parseStmtList(true)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("}"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) parseStmt() (Stmt, error) {
	t := p.peek()
	switch {
	case t.is("if"):
		p.next()
		return p.parseIf(t.Pos)
	case t.is("elif"), t.is("else"):
		return nil, errorf(t.Pos, "%q without matching if", t.Text)
	case t.is("for"):
		p.next()
		return p.parseFor(t.Pos)
	case t.is("return"):
		p.next()
		if p.atStmtEnd() {
			return &ReturnStmt{At: t.Pos}, nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ReturnStmt{At: t.Pos, Value: v}, nil
	case t.is("break"):
		p.next()
		return &BreakStmt{At: t.Pos}, nil
	case t.is("continue"):
		p.next()
		return &ContinueStmt{At: t.Pos}, nil
	case t.is("let"), t.is("const"), t.is("var"):
		p.next()
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect("="); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{At: t.Pos, Target: &Ident{At: name.Pos, Name: name.Text}, Value: v}, nil
	}

	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if eq := p.peek(); eq.is("=") {
		switch x.(type) {
		case *Ident, *MemberExpr, *IndexExpr:
		default:
			return nil, errorf(eq.Pos, "cannot assign to this expression")
		}
		p.next()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &AssignStmt{At: t.Pos, Target: x, Value: v}, nil
	}
	return &ExprStmt{At: t.Pos, X: x}, nil
}

// parseIf parses the remainder of an if statement after the keyword.
// elif and else may follow the closing brace on a later line.
func (p *parser) parseIf(at Pos) (*IfStmt, error) {
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &IfStmt{At: at, Cond: cond, Then: then}

	save := p.i
	p.skipNewlines()
	t := p.peek()
	switch {
	case t.is("elif"):
		p.next()
		nested, err := p.parseIf(t.Pos)
		if err != nil {
			return nil, err
		}
		s.Else, s.ElseIf = []Stmt{nested}, true
	case t.is("else"):
		p.next()
		if n := p.peek(); n.is("if") {
			p.next()
			nested, err := p.parseIf(n.Pos)
			if err != nil {
				return nil, err
			}
			s.Else, s.ElseIf = []Stmt{nested}, true
			break
		}
		if s.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	default:
		p.i = save
	}
	return s, nil
}

// parseFor accepts "for v in xs {" and "for (const v of xs) {".
func (p *parser) parseFor(at Pos) (*ForStmt, error) {
	paren := p.accept("(")
	if paren {
		if t := p.peek(); t.is("const") || t.is("let") || t.is("var") {
			p.next()
		}
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if !p.accept("in") && !p.accept("of") {
		t := p.peek()
		return nil, errorf(t.Pos, "expected \"in\", found %s", t)
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if paren {
		if _, err := p.expect(")"); err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ForStmt{At: at, Var: name.Text, Iter: iter, Body: body}, nil
}

func (p *parser) parseExpr() (Expr, error) {
	if err := p.nest(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()

	t := p.peek()
	var param Token
	switch {
	case isName(t) && p.peekN(1).is("=>"):
		param = t
		p.i += 2
	case t.is("(") && isName(p.peekN(1)) && p.peekN(2).is(")") && p.peekN(3).is("=>"):
		param = p.peekN(1)
		p.i += 4
	default:
		return p.parseOr()
	}
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Lambda{At: t.Pos, Param: param.Text, Body: body}, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.is("or") || t.is("||"); t = p.peek() {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{At: t.Pos, Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.is("and") || t.is("&&"); t = p.peek() {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{At: t.Pos, Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

// parseNot handles the loose "not" prefix, which binds below comparisons.
func (p *parser) parseNot() (Expr, error) {
	t := p.peek()
	if !t.is("not") {
		return p.parseComparison()
	}
	p.next()
	if err := p.nest(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{At: t.Pos, Op: "!", X: x}, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, negate := "", false
		switch {
		case t.Kind == TokPunct && compareOps[t.Text] != "":
			op = compareOps[t.Text]
			p.next()
		case t.is("in"):
			op = "in"
			p.next()
		case t.is("not") && p.peekN(1).is("in"):
			op, negate = "in", true
			p.i += 2
		default:
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		var e Expr = &BinaryExpr{At: t.Pos, Op: op, Left: left, Right: right}
		if negate {
			e = &UnaryExpr{At: t.Pos, Op: "!", X: e}
		}
		left = e
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.is("+") || t.is("-"); t = p.peek() {
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{At: t.Pos, Op: t.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.is("*") || t.is("/") || t.is("%"); t = p.peek() {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{At: t.Pos, Op: t.Text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if !t.is("!") && !t.is("-") && !t.is("await") {
		return p.parsePostfix()
	}
	p.next()
	if err := p.nest(); err != nil {
		return nil, err
	}
	defer func() { p.depth-- }()
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if t.Text == "await" {
		return x, nil
	}
	return &UnaryExpr{At: t.Pos, Op: t.Text, X: x}, nil
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.is("."):
			p.next()
			n := p.next()
			if n.Kind != TokIdent {
				return nil, errorf(n.Pos, "expected property name, found %s", n)
			}
			x = &MemberExpr{At: t.Pos, X: x, Name: n.Text}
		case t.is("["):
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &IndexExpr{At: t.Pos, X: x, Index: idx}
		case t.is("("):
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			x = &CallExpr{At: x.Position(), Fn: x, Args: args}
		default:
			return x, nil
		}
	}
}

// parseArgs parses call arguments after the opening parenthesis. Keyword
// arguments are gathered into one trailing object literal, in order. A
// keyword argument may follow the previous argument without a comma.
func (p *parser) parseArgs() ([]Expr, error) {
	var args []Expr
	var kw *ObjectLit
	for !p.peek().is(")") {
		t := p.peek()
		if isName(t) && p.peekN(1).is("=") {
			p.i += 2
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if kw == nil {
				kw = &ObjectLit{At: t.Pos}
			}
			for _, e := range kw.Entries {
				if e.Key == t.Text {
					return nil, errorf(t.Pos, "duplicate keyword argument %q", t.Text)
				}
			}
			kw.Entries = append(kw.Entries, ObjectEntry{Key: t.Text, Value: v})
		} else {
			if kw != nil {
				return nil, errorf(t.Pos, "positional argument follows keyword argument")
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}

		if p.accept(",") {
			continue
		}
		if n := p.peek(); isName(n) && p.peekN(1).is("=") {
			continue
		}
		if n := p.peek(); !n.is(")") {
			return nil, errorf(n.Pos, "expected \",\" or \")\", found %s", n)
		}
	}
	p.next()
	if kw != nil {
		args = append(args, kw)
	}
	return args, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.Kind {
	case TokNumber:
		p.next()
		v, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, errorf(t.Pos, "invalid number %s", t.Text)
		}
		return &NumberLit{At: t.Pos, Value: v, Raw: t.Text}, nil
	case TokString:
		p.next()
		return &StringLit{At: t.Pos, Value: t.Text}, nil
	case TokFString:
		p.next()
		return p.parseInterpolated(t, false)
	case TokTemplate:
		p.next()
		return p.parseInterpolated(t, true)
	case TokIdent:
		switch t.Text {
		case "true", "True":
			p.next()
			return &BoolLit{At: t.Pos, Value: true}, nil
		case "false", "False":
			p.next()
			return &BoolLit{At: t.Pos}, nil
		case "null", "None":
			p.next()
			return &NullLit{At: t.Pos}, nil
		}
		if keywords[t.Text] {
			return nil, errorf(t.Pos, "unexpected keyword %q", t.Text)
		}
		p.next()
		return &Ident{At: t.Pos, Name: t.Text}, nil
	case TokPunct:
		switch t.Text {
		case "(":
			p.next()
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			return p.parseList()
		case "{":
			return p.parseObject()
		}
	}
	return nil, errorf(t.Pos, "unexpected %s", t)
}

func (p *parser) parseList() (Expr, error) {
	open := p.next()
	if p.accept("]") {
		return &ListLit{At: open.Pos}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.accept("for") {
		return p.parseComprehension(open.Pos, first)
	}
	list := &ListLit{At: open.Pos, Elems: []Expr{first}}
	for p.accept(",") {
		if p.peek().is("]") {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		list.Elems = append(list.Elems, e)
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *parser) parseComprehension(at Pos, elem Expr) (Expr, error) {
	v, err := p.ident()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	c := &Comprehension{At: at, Expr: elem, Var: v.Text, Iter: iter}
	if p.accept("if") {
		if c.Cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect("]"); err != nil {
		return nil, err
	}
	return c, nil
}

// parseObject parses an object literal. Entries are separated by commas or
// newlines.
func (p *parser) parseObject() (Expr, error) {
	open := p.next()
	obj := &ObjectLit{At: open.Pos}
	for {
		p.skipNewlines()
		t := p.peek()
		if t.is("}") {
			p.next()
			return obj, nil
		}
		if t.Kind != TokIdent && t.Kind != TokString {
			return nil, errorf(t.Pos, "expected object key, found %s", t)
		}
		p.next()
		for _, e := range obj.Entries {
			if e.Key == t.Text {
				return nil, errorf(t.Pos, "duplicate key %q", t.Text)
			}
		}
		if _, err := p.expect(":"); err != nil {
			return nil, err
		}
		p.skipNewlines()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj.Entries = append(obj.Entries, ObjectEntry{Key: t.Text, Value: v})

		nl := p.skipNewlines()
		if p.accept(",") || p.peek().is("}") || nl {
			continue
		}
		n := p.peek()
		return nil, errorf(n.Pos, "expected \",\" or \"}\", found %s", n)
	}
}

// parseInterpolated splits an f-string or template body into literal text
// and embedded expressions. f-strings use {expr} with {{ and }} for literal
// braces; templates use ${expr}.
func (p *parser) parseInterpolated(t Token, template bool) (Expr, error) {
	raw := t.Text
	body := Pos{Line: t.Pos.Line, Col: t.Pos.Col + 1}
	if !template {
		body.Col++
	}

	var parts []InterpPart
	var lit strings.Builder
	flush := func() error {
		if lit.Len() == 0 {
			return nil
		}
		s, err := unescapeText(lit.String(), body)
		if err != nil {
			return err
		}
		lit.Reset()
		if n := len(parts); n > 0 && parts[n-1].Expr == nil {
			parts[n-1].Lit += s
		} else {
			parts = append(parts, InterpPart{Lit: s})
		}
		return nil
	}

	for i := 0; i < len(raw); {
		c := raw[i]
		open := -1
		switch {
		case c == '\\' && i+1 < len(raw):
			lit.WriteString(raw[i : i+2])
			i += 2
			continue
		case template && c == '$' && i+1 < len(raw) && raw[i+1] == '{':
			open = i + 1
		case !template && c == '{' && i+1 < len(raw) && raw[i+1] == '{':
			lit.WriteString(`\{`)
			i += 2
			continue
		case !template && c == '}' && i+1 < len(raw) && raw[i+1] == '}':
			lit.WriteString(`\}`)
			i += 2
			continue
		case !template && c == '{':
			open = i
		}
		if open < 0 {
			lit.WriteByte(c)
			i++
			continue
		}

		end := matchBrace(raw, open)
		if end < 0 {
			return nil, errorf(advancePos(body, raw[:i]), "unterminated placeholder in interpolated string")
		}
		if err := flush(); err != nil {
			return nil, err
		}
		e, err := p.parseEmbedded(raw[open+1:end], advancePos(body, raw[:open+1]))
		if err != nil {
			return nil, err
		}
		parts = append(parts, InterpPart{Expr: e})
		i = end + 1
	}
	if err := flush(); err != nil {
		return nil, err
	}

	hasExpr := false
	for _, part := range parts {
		if part.Expr != nil {
			hasExpr = true
		}
	}
	if !hasExpr {
		var s string
		if len(parts) == 1 {
			s = parts[0].Lit
		}
		return &StringLit{At: t.Pos, Value: s}, nil
	}
	return &InterpString{At: t.Pos, Parts: parts}, nil
}

func (p *parser) parseEmbedded(src string, at Pos) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errorf(at, "empty placeholder in interpolated string")
	}
	toks, err := lexAt(src, at)
	if err != nil {
		return nil, err
	}
	sub := &parser{toks: toks, depth: p.depth}
	sub.skipNewlines()
	e, err := sub.parseExpr()
	if err != nil {
		return nil, err
	}
	sub.skipNewlines()
	if t := sub.peek(); t.Kind != TokEOF {
		return nil, errorf(t.Pos, "unexpected %s in placeholder", t)
	}
	return e, nil
}

// matchBrace returns the index of the brace closing the one at open,
// skipping quoted text, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		case '"', '\'', '`':
			for i++; i < len(s) && s[i] != c; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		}
	}
	return -1
}

func advancePos(p Pos, s string) Pos {
	for _, r := range s {
		if r == '\n' {
			p.Line++
			p.Col = 1
		} else {
			p.Col++
		}
	}
	return p
}
