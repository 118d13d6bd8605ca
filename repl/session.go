// Package repl evaluates interactive input against a growing program.
package repl

import (
	"context"
	"fmt"

	"github.com/chazu/atlas/compiler"
	"github.com/chazu/atlas/vm"
	"github.com/tliron/commonlog"
)

// CommandParser converts the raw tokens of a command invocation into
// arguments for the callee.
type CommandParser interface {
	ParseArgs(tokens []compiler.Token) (vm.Args, error)
}

// CommandParserFunc adapts a function to CommandParser.
type CommandParserFunc func(tokens []compiler.Token) (vm.Args, error)

func (f CommandParserFunc) ParseArgs(tokens []compiler.Token) (vm.Args, error) {
	return f(tokens)
}

// StringArgs passes every token as a String positional argument.
var StringArgs CommandParser = CommandParserFunc(func(tokens []compiler.Token) (vm.Args, error) {
	args := vm.Args{Positional: make([]vm.Value, len(tokens))}
	for i, tok := range tokens {
		args.Positional[i] = vm.String(tok.Text)
	}
	return args, nil
})

// Result is the outcome of one Eval.
type Result struct {
	// Value is the deep-resolved value of an expression or command. It is
	// nil for declarations.
	Value vm.Value
	// Segment is the segment the input compiled to.
	Segment vm.SegmentID
	// Bound is the name a declaration bound.
	Bound string
}

// Session owns a program, a VM executing it, and the compiler holding the
// session's top-level bindings.
type Session struct {
	program  *vm.Program
	vm       *vm.VM
	compiler *compiler.Compiler
	parser   CommandParser
	log      commonlog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithCommandParser replaces StringArgs as the command argument parser.
func WithCommandParser(p CommandParser) Option {
	return func(s *Session) { s.parser = p }
}

// WithVMOptions passes options to the session's VM.
func WithVMOptions(opts ...vm.Option) Option {
	return func(s *Session) { s.vm = vm.New(s.program, opts...) }
}

// NewSession creates a session over p. A nil p starts an empty program.
func NewSession(p *vm.Program, opts ...Option) *Session {
	if p == nil {
		p = vm.NewProgram()
	}
	s := &Session{
		program: p,
		parser:  StringArgs,
		log:     commonlog.GetLogger("atlas.repl"),
	}
	s.vm = vm.New(p)
	for _, opt := range opts {
		opt(s)
	}
	s.compiler = compiler.NewCompiler(p)
	return s
}

// Program returns the session's program.
func (s *Session) Program() *vm.Program { return s.program }

// VM returns the session's VM.
func (s *Session) VM() *vm.VM { return s.vm }

// Compiler returns the session's compiler.
func (s *Session) Compiler() *compiler.Compiler { return s.compiler }

// Define binds name to an existing segment so later input can call it.
func (s *Session) Define(name string, id vm.SegmentID) error {
	if _, err := s.program.Segment(id); err != nil {
		return err
	}
	s.compiler.DefineFunction(name, id)
	return nil
}

// DefineHost binds name to a one-argument function that calls capability.
func (s *Session) DefineHost(name, capability string) error {
	b := vm.NewSegmentBuilder()
	b.UnpackPos(0)
	b.Store(1, vm.PrimHost(capability))
	b.ApplyPos(2, 1, 0)
	b.Return(2)
	seg, err := b.Build()
	if err != nil {
		return err
	}
	id, _, err := s.program.Intern(seg)
	if err != nil {
		return err
	}
	s.compiler.DefineFunction(name, id)
	return nil
}

// Eval evaluates one line of input.
func (s *Session) Eval(ctx context.Context, in compiler.ReplInput) (*Result, error) {
	switch n := in.(type) {
	case compiler.ExprInput:
		return s.evalExpr(ctx, n.Expr)
	case *compiler.ExprInput:
		return s.evalExpr(ctx, n.Expr)
	case compiler.DeclInput:
		return s.declare(n.Decl)
	case *compiler.DeclInput:
		return s.declare(n.Decl)
	case compiler.CommandInput:
		return s.command(ctx, n.Expr, n.Tokens)
	case *compiler.CommandInput:
		return s.command(ctx, n.Expr, n.Tokens)
	}
	return nil, fmt.Errorf("unsupported input %T", in)
}

func (s *Session) evalExpr(ctx context.Context, e compiler.Expr) (*Result, error) {
	id, err := s.compiler.CompileExpr(e)
	if err != nil {
		return nil, err
	}
	v, err := s.vm.Run(ctx, id)
	if err != nil {
		return nil, err
	}
	if v, err = s.vm.Resolve(ctx, v); err != nil {
		return nil, err
	}
	return &Result{Value: v, Segment: id}, nil
}

func (s *Session) declare(d compiler.Decl) (*Result, error) {
	id, err := s.compiler.CompileDecl(d)
	if err != nil {
		return nil, err
	}
	s.log.Infof("defined %s", d.Name())
	return &Result{Segment: id, Bound: d.Name()}, nil
}

// command evaluates callee without invoking the result, then calls it with
// the parsed tokens.
func (s *Session) command(ctx context.Context, callee compiler.Expr, tokens []compiler.Token) (*Result, error) {
	args, err := s.parser.ParseArgs(tokens)
	if err != nil {
		return nil, fmt.Errorf("command arguments: %w", err)
	}
	id, err := s.compiler.CompileExpr(callee)
	if err != nil {
		return nil, err
	}
	fn, err := s.vm.Run(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.vm.Call(ctx, fn, args)
	if err != nil {
		return nil, err
	}
	if v, err = s.vm.Resolve(ctx, v); err != nil {
		return nil, err
	}
	return &Result{Value: v, Segment: id}, nil
}
