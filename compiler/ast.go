package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Atlas
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal. NaN is rejected by
// lowering.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// UnitLiteral represents ().
type UnitLiteral struct {
	SpanVal Span
}

func (n *UnitLiteral) Span() Span { return n.SpanVal }
func (n *UnitLiteral) node()      {}
func (n *UnitLiteral) expr()      {}

// Identifier represents a variable reference.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// TupleExpr represents (a, b, ...).
type TupleExpr struct {
	SpanVal Span
	Fields  []Expr
}

func (n *TupleExpr) Span() Span { return n.SpanVal }
func (n *TupleExpr) node()      {}
func (n *TupleExpr) expr()      {}

// Field is one name: value pair of a record expression.
type Field struct {
	Name  string
	Value Expr
}

// RecordExpr represents {a: 1, b: 2}.
type RecordExpr struct {
	SpanVal Span
	Fields  []Field
}

func (n *RecordExpr) Span() Span { return n.SpanVal }
func (n *RecordExpr) node()      {}
func (n *RecordExpr) expr()      {}

// ListExpr represents [a, b, ...].
type ListExpr struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListExpr) Span() Span { return n.SpanVal }
func (n *ListExpr) node()      {}
func (n *ListExpr) expr()      {}

// IfElse represents if cond { then } else { else }.
type IfElse struct {
	SpanVal Span
	Cond    Expr
	Then    Expr
	Else    Expr
}

func (n *IfElse) Span() Span { return n.SpanVal }
func (n *IfElse) node()      {}
func (n *IfElse) expr()      {}

// Match represents a match on a scrutinee. Arms are not yet part of the
// language; lowering reports an error.
type Match struct {
	SpanVal   Span
	Scrutinee Expr
}

func (n *Match) Span() Span { return n.SpanVal }
func (n *Match) node()      {}
func (n *Match) expr()      {}

// Block represents { decls; value }. A nil Value evaluates to unit.
type Block struct {
	SpanVal Span
	Rec     bool
	Decls   []Decl
	Value   Expr
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) expr()      {}

// Unary represents a prefix operator application.
type Unary struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// InfixOp is one operator and right operand of an infix chain.
type InfixOp struct {
	Op  string
	RHS Expr
}

// Infix represents a flat operator chain lhs op1 rhs1 op2 rhs2 ...;
// precedence is applied during lowering.
type Infix struct {
	SpanVal Span
	LHS     Expr
	Rest    []InfixOp
}

func (n *Infix) Span() Span { return n.SpanVal }
func (n *Infix) node()      {}
func (n *Infix) expr()      {}

// Project represents target.field.
type Project struct {
	SpanVal Span
	Target  Expr
	Field   string
}

func (n *Project) Span() Span { return n.SpanVal }
func (n *Project) node()      {}
func (n *Project) expr()      {}

// IndexExpr represents target[index].
type IndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// Call represents fn(args...).
type Call struct {
	SpanVal Span
	Fn      Expr
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Decl is the interface for declaration nodes.
type Decl interface {
	Node
	decl() // marker method
	// Name returns the bound name.
	Name() string
}

// LetDecl represents let name = value.
type LetDecl struct {
	SpanVal Span
	Pattern string
	Value   Expr
}

func (n *LetDecl) Span() Span   { return n.SpanVal }
func (n *LetDecl) node()        {}
func (n *LetDecl) decl()        {}
func (n *LetDecl) Name() string { return n.Pattern }

// FnDecl represents fn name(params) { body }.
type FnDecl struct {
	SpanVal Span
	FnName  string
	Params  []string
	Body    *Block
}

func (n *FnDecl) Span() Span   { return n.SpanVal }
func (n *FnDecl) node()        {}
func (n *FnDecl) decl()        {}
func (n *FnDecl) Name() string { return n.FnName }

// ---------------------------------------------------------------------------
// REPL input
// ---------------------------------------------------------------------------

// ReplInput is one line of interactive input.
type ReplInput interface {
	replInput() // marker method
}

// ExprInput is an expression to evaluate.
type ExprInput struct {
	Expr Expr
}

// CommandInput invokes Expr as a command with raw argument tokens.
type CommandInput struct {
	Expr   Expr
	Tokens []Token
}

// DeclInput is a top-level declaration.
type DeclInput struct {
	Decl Decl
}

func (ExprInput) replInput()    {}
func (CommandInput) replInput() {}
func (DeclInput) replInput()    {}
