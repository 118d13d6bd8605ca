package compiler

// ---------------------------------------------------------------------------
// Free variable analysis
// ---------------------------------------------------------------------------

// freeNames returns the identifiers used by body that are not bound by
// params or by declarations inside body, in order of first use. Names in
// bound are treated as already bound.
func freeNames(body Expr, params []string, bound ...string) []string {
	w := &freeWalk{seen: make(map[string]bool)}
	w.push()
	for _, name := range bound {
		w.bind(name)
	}
	for _, name := range params {
		w.bind(name)
	}
	w.expr(body)
	return w.out
}

type freeWalk struct {
	scopes []map[string]bool
	seen   map[string]bool
	out    []string
}

func (w *freeWalk) push() { w.scopes = append(w.scopes, make(map[string]bool)) }
func (w *freeWalk) pop()  { w.scopes = w.scopes[:len(w.scopes)-1] }

func (w *freeWalk) bind(name string) { w.scopes[len(w.scopes)-1][name] = true }

func (w *freeWalk) bound(name string) bool {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if w.scopes[i][name] {
			return true
		}
	}
	return false
}

func (w *freeWalk) use(name string) {
	if w.bound(name) || w.seen[name] {
		return
	}
	w.seen[name] = true
	w.out = append(w.out, name)
}

func (w *freeWalk) expr(e Expr) {
	switch n := e.(type) {
	case nil:
	case *Identifier:
		w.use(n.Name)
	case *TupleExpr:
		for _, f := range n.Fields {
			w.expr(f)
		}
	case *ListExpr:
		for _, el := range n.Elements {
			w.expr(el)
		}
	case *RecordExpr:
		for _, f := range n.Fields {
			w.expr(f.Value)
		}
	case *IfElse:
		w.expr(n.Cond)
		w.expr(n.Then)
		w.expr(n.Else)
	case *Match:
		w.expr(n.Scrutinee)
	case *Block:
		w.push()
		for _, d := range n.Decls {
			w.decl(d)
		}
		w.expr(n.Value)
		w.pop()
	case *Unary:
		w.expr(n.Operand)
	case *Infix:
		w.expr(n.LHS)
		for _, op := range n.Rest {
			w.expr(op.RHS)
		}
	case *Project:
		w.expr(n.Target)
	case *IndexExpr:
		w.expr(n.Target)
		w.expr(n.Index)
	case *Call:
		w.expr(n.Fn)
		for _, a := range n.Args {
			w.expr(a)
		}
	}
}

func (w *freeWalk) decl(d Decl) {
	switch n := d.(type) {
	case *LetDecl:
		w.expr(n.Value)
		w.bind(n.Pattern)
	case *FnDecl:
		w.bind(n.FnName)
		w.push()
		for _, p := range n.Params {
			w.bind(p)
		}
		if n.Body != nil {
			w.expr(n.Body)
		}
		w.pop()
	}
}
