package lang

// scope is a lexical name set. The function scope holds parameters and every
// name assigned anywhere in the body; lambdas and comprehensions push a
// child scope for their variable.
type scope struct {
	names  map[string]bool
	parent *scope
}

func (s *scope) has(name string) bool {
	for ; s != nil; s = s.parent {
		if s.names[name] {
			return true
		}
	}
	return false
}

func (s *scope) child(name string) *scope {
	return &scope{names: map[string]bool{name: true}, parent: s}
}

// contextFields are bare names that read from the bound execution context
// unless shadowed by a local.
var contextFields = map[string]bool{"user": true, "integration": true}

func functionScope(b *Body) (*scope, error) {
	fn := &scope{names: map[string]bool{}}
	for _, name := range b.Params {
		if IsReserved(name) {
			return nil, errorf(Pos{Line: 1, Col: 1}, "parameter %q shadows a reserved name", name)
		}
		fn.names[name] = true
	}
	if err := declare(b.Stmts, fn); err != nil {
		return nil, err
	}
	return fn, nil
}

func declare(stmts []Stmt, fn *scope) error {
	for _, s := range stmts {
		switch s := s.(type) {
		case *AssignStmt:
			if id, ok := s.Target.(*Ident); ok {
				if IsReserved(id.Name) {
					return errorf(id.At, "cannot assign to reserved name %q", id.Name)
				}
				fn.names[id.Name] = true
			}
		case *ForStmt:
			if IsReserved(s.Var) {
				return errorf(s.At, "cannot use reserved name %q as loop variable", s.Var)
			}
			fn.names[s.Var] = true
			if err := declare(s.Body, fn); err != nil {
				return err
			}
		case *IfStmt:
			if err := declare(s.Then, fn); err != nil {
				return err
			}
			if err := declare(s.Else, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve rewrites context-field reads and HTTP verb calls in place.
func resolve(b *Body) error {
	fn, err := functionScope(b)
	if err != nil {
		return err
	}
	return resolveStmts(b.Stmts, fn, false)
}

func resolveStmts(stmts []Stmt, sc *scope, inLoop bool) error {
	var err error
	for _, s := range stmts {
		switch s := s.(type) {
		case *AssignStmt:
			if _, ok := s.Target.(*Ident); !ok {
				if s.Target, err = resolveExpr(s.Target, sc); err != nil {
					return err
				}
			}
			s.Value, err = resolveExpr(s.Value, sc)
		case *ExprStmt:
			s.X, err = resolveExpr(s.X, sc)
		case *ReturnStmt:
			if s.Value != nil {
				s.Value, err = resolveExpr(s.Value, sc)
			}
		case *IfStmt:
			if s.Cond, err = resolveExpr(s.Cond, sc); err != nil {
				return err
			}
			if err = resolveStmts(s.Then, sc, inLoop); err != nil {
				return err
			}
			err = resolveStmts(s.Else, sc, inLoop)
		case *ForStmt:
			if s.Iter, err = resolveExpr(s.Iter, sc); err != nil {
				return err
			}
			err = resolveStmts(s.Body, sc, true)
		case *BreakStmt:
			if !inLoop {
				return errorf(s.At, "break outside loop")
			}
		case *ContinueStmt:
			if !inLoop {
				return errorf(s.At, "continue outside loop")
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func resolveExprs(xs []Expr, sc *scope) error {
	for i, x := range xs {
		r, err := resolveExpr(x, sc)
		if err != nil {
			return err
		}
		xs[i] = r
	}
	return nil
}

func resolveExpr(e Expr, sc *scope) (Expr, error) {
	var err error
	switch e := e.(type) {
	case *Ident:
		if contextFields[e.Name] && !sc.has(e.Name) {
			return &MemberExpr{At: e.At, X: &Ident{At: e.At, Name: "context"}, Name: e.Name}, nil
		}
	case *ListLit:
		err = resolveExprs(e.Elems, sc)
	case *ObjectLit:
		for i := range e.Entries {
			if e.Entries[i].Value, err = resolveExpr(e.Entries[i].Value, sc); err != nil {
				return nil, err
			}
		}
	case *InterpString:
		for i := range e.Parts {
			if e.Parts[i].Expr == nil {
				continue
			}
			if e.Parts[i].Expr, err = resolveExpr(e.Parts[i].Expr, sc); err != nil {
				return nil, err
			}
		}
	case *UnaryExpr:
		e.X, err = resolveExpr(e.X, sc)
	case *BinaryExpr:
		if e.Left, err = resolveExpr(e.Left, sc); err != nil {
			return nil, err
		}
		e.Right, err = resolveExpr(e.Right, sc)
	case *MemberExpr:
		e.X, err = resolveExpr(e.X, sc)
	case *IndexExpr:
		if e.X, err = resolveExpr(e.X, sc); err != nil {
			return nil, err
		}
		e.Index, err = resolveExpr(e.Index, sc)
	case *CallExpr:
		if err = resolveExprs(e.Args, sc); err != nil {
			return nil, err
		}
		if verb, ok := httpVerbCall(e.Fn, sc); ok {
			return &HTTPCall{At: e.At, Verb: verb, Args: e.Args}, nil
		}
		e.Fn, err = resolveExpr(e.Fn, sc)
	case *HTTPCall:
		err = resolveExprs(e.Args, sc)
	case *Lambda:
		if IsReserved(e.Param) {
			return nil, errorf(e.At, "cannot use reserved name %q as parameter", e.Param)
		}
		e.Body, err = resolveExpr(e.Body, sc.child(e.Param))
	case *Comprehension:
		if IsReserved(e.Var) {
			return nil, errorf(e.At, "cannot use reserved name %q as loop variable", e.Var)
		}
		if e.Iter, err = resolveExpr(e.Iter, sc); err != nil {
			return nil, err
		}
		inner := sc.child(e.Var)
		if e.Expr, err = resolveExpr(e.Expr, inner); err != nil {
			return nil, err
		}
		if e.Cond != nil {
			e.Cond, err = resolveExpr(e.Cond, inner)
		}
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// httpVerbCall reports whether fn names a sandbox verb: a bare verb that is
// not a local, or http.<verb>.
func httpVerbCall(fn Expr, sc *scope) (string, bool) {
	switch fn := fn.(type) {
	case *Ident:
		if isHTTPVerb(fn.Name) && !sc.has(fn.Name) {
			return fn.Name, true
		}
	case *MemberExpr:
		if id, ok := fn.X.(*Ident); ok && id.Name == "http" && isHTTPVerb(fn.Name) {
			return fn.Name, true
		}
	}
	return "", false
}

// FreeNames returns the identifiers in b that are not bound by a parameter,
// an assignment, a loop or a lambda, in order of first appearance. The
// engine checks them against its globals before accepting a body.
func FreeNames(b *Body) []*Ident {
	fn, err := functionScope(b)
	if err != nil {
		return nil
	}
	w := &freeWalker{seen: map[string]bool{}}
	w.stmts(b.Stmts, fn)
	return w.free
}

type freeWalker struct {
	seen map[string]bool
	free []*Ident
}

func (w *freeWalker) stmts(stmts []Stmt, sc *scope) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *AssignStmt:
			w.expr(s.Target, sc)
			w.expr(s.Value, sc)
		case *ExprStmt:
			w.expr(s.X, sc)
		case *ReturnStmt:
			w.expr(s.Value, sc)
		case *IfStmt:
			w.expr(s.Cond, sc)
			w.stmts(s.Then, sc)
			w.stmts(s.Else, sc)
		case *ForStmt:
			w.expr(s.Iter, sc)
			w.stmts(s.Body, sc)
		}
	}
}

func (w *freeWalker) expr(e Expr, sc *scope) {
	switch e := e.(type) {
	case nil:
	case *Ident:
		if !sc.has(e.Name) && !w.seen[e.Name] {
			w.seen[e.Name] = true
			w.free = append(w.free, e)
		}
	case *ListLit:
		for _, x := range e.Elems {
			w.expr(x, sc)
		}
	case *ObjectLit:
		for _, en := range e.Entries {
			w.expr(en.Value, sc)
		}
	case *InterpString:
		for _, part := range e.Parts {
			w.expr(part.Expr, sc)
		}
	case *UnaryExpr:
		w.expr(e.X, sc)
	case *BinaryExpr:
		w.expr(e.Left, sc)
		w.expr(e.Right, sc)
	case *MemberExpr:
		w.expr(e.X, sc)
	case *IndexExpr:
		w.expr(e.X, sc)
		w.expr(e.Index, sc)
	case *CallExpr:
		w.expr(e.Fn, sc)
		for _, x := range e.Args {
			w.expr(x, sc)
		}
	case *HTTPCall:
		for _, x := range e.Args {
			w.expr(x, sc)
		}
	case *Lambda:
		w.expr(e.Body, sc.child(e.Param))
	case *Comprehension:
		w.expr(e.Iter, sc)
		inner := sc.child(e.Var)
		w.expr(e.Expr, inner)
		w.expr(e.Cond, inner)
	}
}
