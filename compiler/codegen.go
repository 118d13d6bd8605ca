package compiler

import (
	"fmt"
	"math"
	"slices"

	"github.com/chazu/atlas/vm"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Codegen: Lower AST to segments
// ---------------------------------------------------------------------------

type globalKind uint8

const (
	globalFn  globalKind = iota // closure over the segment
	globalLet                   // zero-argument segment invoked at each use
)

type global struct {
	id   vm.SegmentID
	kind globalKind
}

// Compiler lowers AST nodes into segments of a Program. Top-level
// declarations persist across calls, so a Compiler is the global
// environment of a session.
type Compiler struct {
	program *vm.Program
	globals map[string]global
	errors  []string
	log     commonlog.Logger
}

// NewCompiler creates a compiler that registers segments in p.
func NewCompiler(p *vm.Program) *Compiler {
	return &Compiler{
		program: p,
		globals: make(map[string]global),
		log:     commonlog.GetLogger("atlas.compiler"),
	}
}

// Program returns the program segments are registered in.
func (c *Compiler) Program() *vm.Program { return c.program }

// Errors returns the errors of the last compilation.
func (c *Compiler) Errors() []string {
	return c.errors
}

// errorf records a compilation error.
func (c *Compiler) errorf(n Node, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if n != nil {
		msg = n.Span().Start.String() + ": " + msg
	}
	c.errors = append(c.errors, msg)
}

func (c *Compiler) reset() { c.errors = nil }

func (c *Compiler) failed() error {
	if len(c.errors) == 0 {
		return nil
	}
	return fmt.Errorf("compile errors: %v", c.errors)
}

// Global returns the segment bound to a top-level name.
func (c *Compiler) Global(name string) (vm.SegmentID, bool) {
	g, ok := c.globals[name]
	return g.id, ok
}

// IsFunction reports whether name is bound to a top-level fn.
func (c *Compiler) IsFunction(name string) bool {
	g, ok := c.globals[name]
	return ok && g.kind == globalFn
}

// Globals returns the bound top-level names, sorted.
func (c *Compiler) Globals() []string {
	names := make([]string, 0, len(c.globals))
	for name := range c.globals {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefineFunction binds name to an already registered segment, as a fn
// declaration would.
func (c *Compiler) DefineFunction(name string, id vm.SegmentID) {
	c.globals[name] = global{id: id, kind: globalFn}
}

// Lower compiles e as the body of a zero-argument segment and returns it
// unregistered. Segments for nested closures and arms are registered.
func (c *Compiler) Lower(e Expr) (*vm.Segment, error) {
	c.reset()
	f := c.newFunction(nil, nil, nil, nil)
	f.tail(e)
	seg := c.build(f.b, e)
	if err := c.failed(); err != nil {
		return nil, err
	}
	return seg, nil
}

// CompileExpr compiles e and interns its segment.
func (c *Compiler) CompileExpr(e Expr) (vm.SegmentID, error) {
	seg, err := c.Lower(e)
	if err != nil {
		return 0, err
	}
	id, _, err := c.program.Intern(seg)
	return id, err
}

// CompileDecl compiles a top-level declaration, registers its segment, and
// binds its name. A fn may call itself; a let sees only earlier bindings.
func (c *Compiler) CompileDecl(d Decl) (vm.SegmentID, error) {
	c.reset()
	id := c.program.GenID()
	prev, hadPrev := c.globals[d.Name()]

	var f *function
	switch n := d.(type) {
	case *FnDecl:
		c.globals[n.FnName] = global{id: id, kind: globalFn}
		f = c.newFunction(nil, n.Params, nil, nil)
		f.tail(n.Body)
	case *LetDecl:
		f = c.newFunction(nil, nil, nil, nil)
		f.tail(n.Value)
	default:
		c.errorf(d, "unsupported declaration %T", d)
		return 0, c.failed()
	}

	seg := c.build(f.b, d)
	if err := c.failed(); err != nil {
		if hadPrev {
			c.globals[d.Name()] = prev
		} else {
			delete(c.globals, d.Name())
		}
		return 0, err
	}
	if err := c.program.Register(id, seg); err != nil {
		return 0, err
	}
	kind := globalLet
	if _, ok := d.(*FnDecl); ok {
		kind = globalFn
	}
	c.globals[d.Name()] = global{id: id, kind: kind}
	c.log.Debugf("bound %s to segment %d", d.Name(), id)
	return id, nil
}

func (c *Compiler) build(b *vm.SegmentBuilder, n Node) *vm.Segment {
	seg, err := b.Build()
	if err != nil {
		c.errorf(n, "%v", err)
		return nil
	}
	return seg
}

// register builds b into the reserved id.
func (c *Compiler) register(id vm.SegmentID, b *vm.SegmentBuilder, n Node) {
	seg := c.build(b, n)
	if seg == nil {
		return
	}
	if err := c.program.Register(id, seg); err != nil {
		c.errorf(n, "%v", err)
	}
}

// ---------------------------------------------------------------------------
// Function contexts
// ---------------------------------------------------------------------------

// capture binds a register of a nested function to a name of its parent.
type capture struct {
	name string
	reg  vm.RegAddr
}

// selfRef lets a local fn refer to itself.
type selfRef struct {
	name string
	id   vm.SegmentID
}

// function is the compilation context of one closure body. Arm segments
// reached by JmpTarget share their function's registers and scopes.
type function struct {
	c        *Compiler
	parent   *function
	b        *vm.SegmentBuilder
	next     vm.RegAddr
	scopes   []map[string]vm.RegAddr
	captures []capture
	self     *selfRef
}

// newFunction starts a body with params unpacked into the first registers
// and a capture register for every name in free the parent can resolve.
func (c *Compiler) newFunction(parent *function, params, free []string, self *selfRef) *function {
	f := &function{c: c, parent: parent, b: vm.NewSegmentBuilder(), self: self}
	f.push()
	for _, p := range params {
		r := f.alloc()
		f.b.UnpackPos(r)
		f.bind(p, r)
	}
	if parent != nil {
		for _, name := range free {
			if parent.resolvable(name) {
				f.captures = append(f.captures, capture{name: name, reg: f.alloc()})
			}
		}
	}
	return f
}

func (f *function) alloc() vm.RegAddr {
	r := f.next
	f.next++
	return r
}

func (f *function) push() { f.scopes = append(f.scopes, make(map[string]vm.RegAddr)) }
func (f *function) pop()  { f.scopes = f.scopes[:len(f.scopes)-1] }

func (f *function) bind(name string, r vm.RegAddr) { f.scopes[len(f.scopes)-1][name] = r }

func (f *function) local(name string) (vm.RegAddr, bool) {
	for i := len(f.scopes) - 1; i >= 0; i-- {
		if r, ok := f.scopes[i][name]; ok {
			return r, true
		}
	}
	for _, cp := range f.captures {
		if cp.name == name {
			return cp.reg, true
		}
	}
	return 0, false
}

func (f *function) resolvable(name string) bool {
	if _, ok := f.local(name); ok {
		return true
	}
	return f.self != nil && f.self.name == name
}

// ref returns a register holding the unforced value of a local name.
func (f *function) ref(name string) (vm.RegAddr, bool) {
	if r, ok := f.local(name); ok {
		return r, true
	}
	if f.self != nil && f.self.name == name {
		return f.selfClosure(), true
	}
	return 0, false
}

// selfClosure rebuilds the current local fn's closure from its captures.
func (f *function) selfClosure() vm.RegAddr {
	r := f.alloc()
	f.b.Store(r, vm.PrimTarget(f.b.AddTarget(f.self.id)))
	for _, cp := range f.captures {
		f.b.ScopeSet(r, cp.reg, cp.reg)
	}
	return r
}

// closureOf loads a closure over nested function g, registered as id, with
// its captures bound.
func (f *function) closureOf(g *function, id vm.SegmentID) vm.RegAddr {
	r := f.alloc()
	f.b.Store(r, vm.PrimTarget(f.b.AddTarget(id)))
	for _, cp := range g.captures {
		src, _ := f.ref(cp.name)
		f.b.ScopeSet(r, cp.reg, src)
	}
	return r
}

// nested compiles body as a zero-argument closure and returns the register
// holding it.
func (f *function) nested(body Expr) vm.RegAddr {
	id := f.c.program.GenID()
	g := f.c.newFunction(f, nil, freeNames(body, nil), nil)
	g.tail(body)
	f.c.register(id, g.b, body)
	return f.closureOf(g, id)
}

// ---------------------------------------------------------------------------
// Tail position
// ---------------------------------------------------------------------------

// tail compiles e so that the current segment returns its value.
func (f *function) tail(e Expr) {
	switch n := e.(type) {
	case *IfElse:
		cond := f.expr(n.Cond)
		tThen := f.b.AddTarget(f.arm(n.Then))
		tElse := f.b.AddTarget(f.arm(n.Else))
		f.b.JmpTarget(cond, tThen)
		always := f.alloc()
		f.b.Store(always, vm.PrimBool(true))
		f.b.JmpTarget(always, tElse)
	case *Block:
		f.push()
		f.decls(n.Decls)
		if n.Value == nil {
			f.b.Return(f.unit())
		} else {
			f.tail(n.Value)
		}
		f.pop()
	default:
		f.b.Return(f.expr(e))
	}
}

// arm compiles e into its own segment sharing this function's registers.
func (f *function) arm(e Expr) vm.SegmentID {
	id := f.c.program.GenID()
	saved := f.b
	f.b = vm.NewSegmentBuilder()
	f.push()
	f.tail(e)
	f.pop()
	f.c.register(id, f.b, e)
	f.b = saved
	return id
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (f *function) unit() vm.RegAddr {
	r := f.alloc()
	f.b.Store(r, vm.PrimUnit())
	return r
}

func (f *function) store(p vm.Primitive) vm.RegAddr {
	r := f.alloc()
	f.b.Store(r, p)
	return r
}

// expr compiles e strictly and returns a register holding its forced value.
func (f *function) expr(e Expr) vm.RegAddr {
	switch n := e.(type) {
	case *IntLiteral:
		return f.store(vm.PrimInt(n.Value))
	case *FloatLiteral:
		if math.IsNaN(n.Value) {
			f.c.errorf(n, "NaN literal")
			return f.unit()
		}
		return f.store(vm.PrimFloat(n.Value))
	case *BoolLiteral:
		return f.store(vm.PrimBool(n.Value))
	case *StringLiteral:
		return f.store(vm.PrimString(n.Value))
	case *UnitLiteral:
		return f.unit()
	case *Identifier:
		return f.ident(n)
	case *TupleExpr:
		r := f.store(vm.PrimEmptyTuple())
		for _, field := range n.Fields {
			f.b.Append(r, r, f.lazy(field))
		}
		return r
	case *ListExpr:
		r := f.store(vm.PrimEmptyList())
		for i := len(n.Elements) - 1; i >= 0; i-- {
			f.b.Cons(r, f.lazy(n.Elements[i]), r)
		}
		return r
	case *RecordExpr:
		r := f.store(vm.PrimEmptyRecord())
		for _, field := range n.Fields {
			k := f.store(vm.PrimString(field.Name))
			f.b.Insert(r, r, k, f.lazy(field.Value))
		}
		return r
	case *IfElse:
		c := f.nested(n)
		r := f.alloc()
		f.b.Invoke(r, c)
		return r
	case *Match:
		f.c.errorf(n, "match expressions are not supported")
		return f.unit()
	case *Block:
		f.push()
		defer f.pop()
		f.decls(n.Decls)
		if n.Value == nil {
			return f.unit()
		}
		return f.expr(n.Value)
	case *Unary:
		if n.Op != "-" {
			f.c.errorf(n, "unknown unary operator %q", n.Op)
			return f.unit()
		}
		v := f.expr(n.Operand)
		r := f.alloc()
		f.b.Negate(r, v)
		return r
	case *Infix:
		tree, ok := f.c.precedence(n)
		if !ok {
			return f.unit()
		}
		return f.binary(tree)
	case *Project:
		t := f.expr(n.Target)
		k := f.store(vm.PrimString(n.Field))
		r := f.alloc()
		f.b.Lookup(r, t, k)
		f.b.Force(r)
		return r
	case *IndexExpr:
		t := f.expr(n.Target)
		i := f.expr(n.Index)
		r := f.alloc()
		f.b.Index(r, t, i)
		f.b.Force(r)
		return r
	case *Call:
		fn := f.expr(n.Fn)
		if len(n.Args) == 0 {
			r := f.alloc()
			f.b.Invoke(r, fn)
			return r
		}
		for _, a := range n.Args {
			arg := f.lazy(a)
			next := f.alloc()
			f.b.ApplyPos(next, fn, arg)
			fn = next
		}
		f.b.Force(fn)
		return fn
	case nil:
		return f.unit()
	}
	f.c.errorf(e, "unsupported expression %T", e)
	return f.unit()
}

func (f *function) ident(n *Identifier) vm.RegAddr {
	if r, ok := f.ref(n.Name); ok {
		f.b.Force(r)
		return r
	}
	g, ok := f.c.globals[n.Name]
	if !ok {
		f.c.errorf(n, "undefined: %s", n.Name)
		return f.unit()
	}
	r := f.store(vm.PrimTarget(f.b.AddTarget(g.id)))
	if g.kind == globalLet {
		f.b.Invoke(r, r)
	}
	return r
}

// lazy compiles e for use as an argument or element: literals and names
// are loaded directly, anything else becomes a thunk.
func (f *function) lazy(e Expr) vm.RegAddr {
	switch n := e.(type) {
	case *IntLiteral, *FloatLiteral, *BoolLiteral, *StringLiteral, *UnitLiteral:
		return f.expr(e)
	case *Identifier:
		if r, ok := f.ref(n.Name); ok {
			return r
		}
		if g, ok := f.c.globals[n.Name]; ok && g.kind == globalFn {
			return f.store(vm.PrimTarget(f.b.AddTarget(g.id)))
		}
		if g, ok := f.c.globals[n.Name]; ok {
			return f.thunk(f.store(vm.PrimTarget(f.b.AddTarget(g.id))))
		}
		return f.expr(e)
	}
	return f.thunk(f.nested(e))
}

// thunk defers invoking the zero-argument closure in c.
func (f *function) thunk(c vm.RegAddr) vm.RegAddr {
	empty := f.store(vm.PrimEmptyList())
	r := f.alloc()
	f.b.ApplyVarPos(r, c, empty)
	return r
}

func (f *function) decls(decls []Decl) {
	for _, d := range decls {
		switch n := d.(type) {
		case *LetDecl:
			f.bind(n.Pattern, f.lazy(n.Value))
		case *FnDecl:
			f.localFn(n)
		default:
			f.c.errorf(d, "unsupported declaration %T", d)
		}
	}
}

func (f *function) localFn(n *FnDecl) {
	if n.Body == nil {
		f.c.errorf(n, "fn %s has no body", n.FnName)
		return
	}
	id := f.c.program.GenID()
	self := &selfRef{name: n.FnName, id: id}
	g := f.c.newFunction(f, n.Params, freeNames(n.Body, n.Params, n.FnName), self)
	g.tail(n.Body)
	f.c.register(id, g.b, n)
	f.bind(n.FnName, f.closureOf(g, id))
}

// ---------------------------------------------------------------------------
// Infix chains
// ---------------------------------------------------------------------------

// binop is an infix chain resolved into a tree.
type binop struct {
	op          string
	left, right *binop
	leaf        Expr
}

var precedenceOf = map[string]int{
	"or": 1, "||": 1,
	"and": 2, "&&": 2,
	"+": 3, "-": 3,
	"*": 4, "%": 4,
}

// precedence resolves an infix chain with left-associative operators.
func (c *Compiler) precedence(n *Infix) (*binop, bool) {
	for _, op := range n.Rest {
		if _, ok := precedenceOf[op.Op]; !ok {
			c.errorf(n, "unknown operator %q", op.Op)
			return nil, false
		}
	}
	operands := []*binop{{leaf: n.LHS}}
	var ops []string
	reduce := func() {
		r := operands[len(operands)-1]
		l := operands[len(operands)-2]
		operands = append(operands[:len(operands)-2], &binop{op: ops[len(ops)-1], left: l, right: r})
		ops = ops[:len(ops)-1]
	}
	for _, op := range n.Rest {
		for len(ops) > 0 && precedenceOf[ops[len(ops)-1]] >= precedenceOf[op.Op] {
			reduce()
		}
		ops = append(ops, op.Op)
		operands = append(operands, &binop{leaf: op.RHS})
	}
	for len(ops) > 0 {
		reduce()
	}
	return operands[0], true
}

func (f *function) binary(t *binop) vm.RegAddr {
	if t.leaf != nil {
		return f.expr(t.leaf)
	}
	switch t.op {
	case "and", "&&":
		return f.shortCircuit(t, false)
	case "or", "||":
		return f.shortCircuit(t, true)
	}
	l := f.binary(t.left)
	r := f.binary(t.right)
	if t.op == "-" {
		neg := f.alloc()
		f.b.Negate(neg, r)
		r = neg
	}
	d := f.alloc()
	switch t.op {
	case "+", "-":
		f.b.Add(d, l, r)
	case "*":
		f.b.Mul(d, l, r)
	case "%":
		f.b.Mod(d, l, r)
	}
	return d
}

// shortCircuit evaluates the right operand only when the left one does not
// decide the result: for and when it is true, for or when it is false.
func (f *function) shortCircuit(t *binop, isOr bool) vm.RegAddr {
	l := f.binary(t.left)
	d := f.alloc()
	always := f.alloc()

	if isOr {
		skip := f.b.JmpAddr(l, 0)
		r := f.binary(t.right)
		f.b.Or(d, l, r)
		f.b.Store(always, vm.PrimBool(true))
		done := f.b.JmpAddr(always, 0)
		f.b.Patch(skip, f.b.Next())
		f.b.Store(d, vm.PrimBool(true))
		f.b.Patch(done, f.b.Next())
		return d
	}

	eval := f.b.JmpAddr(l, 0)
	f.b.Store(d, vm.PrimBool(false))
	f.b.Store(always, vm.PrimBool(true))
	done := f.b.JmpAddr(always, 0)
	f.b.Patch(eval, f.b.Next())
	r := f.binary(t.right)
	f.b.And(d, l, r)
	f.b.Patch(done, f.b.Next())
	return d
}
