package lang

import (
	"fmt"
	"strings"
)

// Operator precedence used when printing, lowest first.
const (
	precLowest = iota
	precOr
	precAnd
	precCompare
	precAdd
	precMul
	precUnary
	precPostfix
	precPrimary
)

// Transpile rewrites one capability body into host code.
func Transpile(body string) (string, error) {
	return TranspileCapability(nil, body)
}

// TranspileCapability is Transpile for a body with declared parameters.
// Parameters shadow the context fields user and integration.
func TranspileCapability(params []string, body string) (string, error) {
	b, err := Parse(params, body)
	if err != nil {
		return "", err
	}
	return Generate(b), nil
}

// Generate prints b as host code: two-space indentation, one statement per
// line, no trailing newline.
func Generate(b *Body) string {
	g := &printer{}
	g.stmts(b.Stmts, 0)
	return strings.TrimSuffix(g.sb.String(), "\n")
}

type printer struct {
	sb strings.Builder
}

func (g *printer) write(s string) { g.sb.WriteString(s) }

func (g *printer) pad(level int) {
	for i := 0; i < level; i++ {
		g.write("  ")
	}
}

func (g *printer) stmts(stmts []Stmt, level int) {
	for _, s := range stmts {
		g.pad(level)
		g.stmt(s, level)
		g.write("\n")
	}
}

func (g *printer) stmt(s Stmt, level int) {
	switch s := s.(type) {
	case *AssignStmt:
		g.expr(s.Target, precLowest)
		g.write(" = ")
		g.expr(s.Value, precLowest)
	case *ExprStmt:
		g.expr(s.X, precLowest)
	case *ReturnStmt:
		g.write("return")
		if s.Value != nil {
			g.write(" ")
			g.expr(s.Value, precLowest)
		}
	case *IfStmt:
		g.ifStmt(s, level)
	case *ForStmt:
		g.write("for (const " + s.Var + " of ")
		g.expr(s.Iter, precLowest)
		g.write(") {\n")
		g.stmts(s.Body, level+1)
		g.pad(level)
		g.write("}")
	case *BreakStmt:
		g.write("break")
	case *ContinueStmt:
		g.write("continue")
	}
}

func (g *printer) ifStmt(s *IfStmt, level int) {
	g.write("if (")
	g.expr(s.Cond, precLowest)
	g.write(") {\n")
	g.stmts(s.Then, level+1)
	g.pad(level)
	g.write("}")
	if len(s.Else) == 0 {
		return
	}
	if nested, ok := s.Else[0].(*IfStmt); ok && s.ElseIf && len(s.Else) == 1 {
		g.write(" else ")
		g.ifStmt(nested, level)
		return
	}
	g.write(" else {\n")
	g.stmts(s.Else, level+1)
	g.pad(level)
	g.write("}")
}

func precedence(e Expr) int {
	switch e := e.(type) {
	case *Lambda:
		return precLowest
	case *BinaryExpr:
		switch e.Op {
		case "||":
			return precOr
		case "&&":
			return precAnd
		case "+", "-":
			return precAdd
		case "*", "/", "%":
			return precMul
		case "in":
			return precPostfix
		}
		return precCompare
	case *UnaryExpr, *HTTPCall:
		return precUnary
	case *MemberExpr, *IndexExpr, *CallExpr, *Comprehension:
		return precPostfix
	}
	return precPrimary
}

func (g *printer) expr(e Expr, min int) {
	if precedence(e) < min {
		g.write("(")
		g.expr(e, precLowest)
		g.write(")")
		return
	}
	switch e := e.(type) {
	case *Ident:
		g.write(e.Name)
	case *NumberLit:
		g.write(e.Raw)
	case *StringLit:
		g.write(quote(e.Value))
	case *BoolLit:
		if e.Value {
			g.write("true")
		} else {
			g.write("false")
		}
	case *NullLit:
		g.write("null")
	case *ListLit:
		g.write("[")
		g.list(e.Elems)
		g.write("]")
	case *ObjectLit:
		g.object(e)
	case *InterpString:
		g.template(e)
	case *UnaryExpr:
		g.write(e.Op)
		g.expr(e.X, precUnary)
	case *BinaryExpr:
		if e.Op == "in" {
			g.expr(e.Right, precPostfix)
			g.write(".includes(")
			g.expr(e.Left, precLowest)
			g.write(")")
			return
		}
		p := precedence(e)
		g.expr(e.Left, p)
		g.write(" " + e.Op + " ")
		g.expr(e.Right, p+1)
	case *MemberExpr:
		g.expr(e.X, precPostfix)
		g.write("." + e.Name)
	case *IndexExpr:
		g.expr(e.X, precPostfix)
		g.write("[")
		g.expr(e.Index, precLowest)
		g.write("]")
	case *CallExpr:
		g.expr(e.Fn, precPostfix)
		g.write("(")
		g.list(e.Args)
		g.write(")")
	case *HTTPCall:
		g.write("await http." + e.Verb + "(")
		g.list(e.Args)
		g.write(")")
	case *Lambda:
		g.write(e.Param + " => ")
		g.expr(e.Body, precLowest)
	case *Comprehension:
		g.expr(e.Iter, precPostfix)
		if e.Cond != nil {
			g.write(".filter(" + e.Var + " => ")
			g.expr(e.Cond, precLowest)
			g.write(")")
		}
		g.write(".map(" + e.Var + " => ")
		g.expr(e.Expr, precLowest)
		g.write(")")
	default:
		panic(fmt.Sprintf("lang: cannot print %T", e))
	}
}

func (g *printer) list(xs []Expr) {
	for i, x := range xs {
		if i > 0 {
			g.write(", ")
		}
		g.expr(x, precLowest)
	}
}

func (g *printer) object(o *ObjectLit) {
	if len(o.Entries) == 0 {
		g.write("{}")
		return
	}
	g.write("{ ")
	for i, en := range o.Entries {
		if i > 0 {
			g.write(", ")
		}
		if IsIdentifier(en.Key) {
			g.write(en.Key)
		} else {
			g.write(quote(en.Key))
		}
		g.write(": ")
		g.expr(en.Value, precLowest)
	}
	g.write(" }")
}

func (g *printer) template(s *InterpString) {
	g.write("`")
	for _, part := range s.Parts {
		if part.Expr == nil {
			g.write(escapeTemplate(part.Lit))
			continue
		}
		g.write("${")
		g.expr(part.Expr, precLowest)
		g.write("}")
	}
	g.write("`")
}

func escapeTemplate(s string) string {
	r := strings.NewReplacer("\\", `\\`, "`", "\\`", "${", `\${`)
	return r.Replace(s)
}

// quote renders s as a double-quoted literal the lexer reads back unchanged.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
