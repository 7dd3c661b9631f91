package lang

// Node is any AST node.
type Node interface {
	Position() Pos
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Body is a parsed capability body.
type Body struct {
	Params []string
	Stmts  []Stmt
}

type (
	// AssignStmt is "target = value". Target is an Ident, MemberExpr or IndexExpr.
	AssignStmt struct {
		At     Pos
		Target Expr
		Value  Expr
	}

	// ExprStmt evaluates an expression for its side effects.
	ExprStmt struct {
		At Pos
		X  Expr
	}

	// ReturnStmt returns Value, or null when Value is nil.
	ReturnStmt struct {
		At    Pos
		Value Expr
	}

	// IfStmt is a conditional. ElseIf marks an Else branch that holds a single
	// chained IfStmt written as elif / else if.
	IfStmt struct {
		At     Pos
		Cond   Expr
		Then   []Stmt
		Else   []Stmt
		ElseIf bool
	}

	// ForStmt iterates Var over the elements of Iter.
	ForStmt struct {
		At   Pos
		Var  string
		Iter Expr
		Body []Stmt
	}

	BreakStmt struct {
		At Pos
	}

	ContinueStmt struct {
		At Pos
	}
)

type (
	Ident struct {
		At   Pos
		Name string
	}

	// NumberLit keeps the source spelling so printing is stable.
	NumberLit struct {
		At    Pos
		Value float64
		Raw   string
	}

	StringLit struct {
		At    Pos
		Value string
	}

	BoolLit struct {
		At    Pos
		Value bool
	}

	NullLit struct {
		At Pos
	}

	ListLit struct {
		At    Pos
		Elems []Expr
	}

	// ObjectLit preserves entry order.
	ObjectLit struct {
		At      Pos
		Entries []ObjectEntry
	}

	// InterpString is an interpolated string. A part with a nil Expr is literal text.
	InterpString struct {
		At    Pos
		Parts []InterpPart
	}

	UnaryExpr struct {
		At Pos
		Op string // "!" or "-"
		X  Expr
	}

	// BinaryExpr operators are normalized to host spelling:
	// || && == != < <= > >= + - * / % and "in".
	BinaryExpr struct {
		At    Pos
		Op    string
		Left  Expr
		Right Expr
	}

	MemberExpr struct {
		At   Pos
		X    Expr
		Name string
	}

	IndexExpr struct {
		At    Pos
		X     Expr
		Index Expr
	}

	CallExpr struct {
		At   Pos
		Fn   Expr
		Args []Expr
	}

	// HTTPCall is a call to a sandbox verb. It is always awaited.
	HTTPCall struct {
		At   Pos
		Verb string
		Args []Expr
	}

	// Lambda is a single-parameter arrow function used by map and filter.
	Lambda struct {
		At    Pos
		Param string
		Body  Expr
	}

	// Comprehension is [Expr for Var in Iter if Cond]. Cond may be nil.
	Comprehension struct {
		At   Pos
		Expr Expr
		Var  string
		Iter Expr
		Cond Expr
	}
)

// ObjectEntry is one key/value pair of an object literal.
type ObjectEntry struct {
	Key   string
	Value Expr
}

// InterpPart is one segment of an interpolated string.
type InterpPart struct {
	Lit  string
	Expr Expr
}

func (s *AssignStmt) Position() Pos   { return s.At }
func (s *ExprStmt) Position() Pos     { return s.At }
func (s *ReturnStmt) Position() Pos   { return s.At }
func (s *IfStmt) Position() Pos       { return s.At }
func (s *ForStmt) Position() Pos      { return s.At }
func (s *BreakStmt) Position() Pos    { return s.At }
func (s *ContinueStmt) Position() Pos { return s.At }

func (*AssignStmt) stmtNode()   {}
func (*ExprStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode()   {}
func (*IfStmt) stmtNode()       {}
func (*ForStmt) stmtNode()      {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}

func (e *Ident) Position() Pos         { return e.At }
func (e *NumberLit) Position() Pos     { return e.At }
func (e *StringLit) Position() Pos     { return e.At }
func (e *BoolLit) Position() Pos       { return e.At }
func (e *NullLit) Position() Pos       { return e.At }
func (e *ListLit) Position() Pos       { return e.At }
func (e *ObjectLit) Position() Pos     { return e.At }
func (e *InterpString) Position() Pos  { return e.At }
func (e *UnaryExpr) Position() Pos     { return e.At }
func (e *BinaryExpr) Position() Pos    { return e.At }
func (e *MemberExpr) Position() Pos    { return e.At }
func (e *IndexExpr) Position() Pos     { return e.At }
func (e *CallExpr) Position() Pos      { return e.At }
func (e *HTTPCall) Position() Pos      { return e.At }
func (e *Lambda) Position() Pos        { return e.At }
func (e *Comprehension) Position() Pos { return e.At }

func (*Ident) exprNode()         {}
func (*NumberLit) exprNode()     {}
func (*StringLit) exprNode()     {}
func (*BoolLit) exprNode()       {}
func (*NullLit) exprNode()       {}
func (*ListLit) exprNode()       {}
func (*ObjectLit) exprNode()     {}
func (*InterpString) exprNode()  {}
func (*UnaryExpr) exprNode()     {}
func (*BinaryExpr) exprNode()    {}
func (*MemberExpr) exprNode()    {}
func (*IndexExpr) exprNode()     {}
func (*CallExpr) exprNode()      {}
func (*HTTPCall) exprNode()      {}
func (*Lambda) exprNode()        {}
func (*Comprehension) exprNode() {}
