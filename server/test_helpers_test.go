package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/chazu/atlas/compiler"
	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// testEnv bundles a server over a fresh program with an HTTP test server
// and a client pointed at it.
type testEnv struct {
	Program *vm.Program
	Table   *host.Table
	Server  *Server
	HTTP    *httptest.Server
	Client  *Client
}

// newTestEnv starts a server whose VM uses a default host table. The
// server is shut down when the test ends.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	p := vm.NewProgram()
	table := host.NewDefaultTable()
	srv := New(vm.New(p, vm.WithHost(table)), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return &testEnv{
		Program: p,
		Table:   table,
		Server:  srv,
		HTTP:    ts,
		Client:  NewClient(ts.Client(), ts.URL),
	}
}

// clientProgram compiles e into a fresh program on the client side and
// returns the program with the expression's segment.
func clientProgram(t *testing.T, e compiler.Expr, decls ...compiler.Decl) (*vm.Program, *compiler.Compiler, vm.SegmentID) {
	t.Helper()
	p := vm.NewProgram()
	c := compiler.NewCompiler(p)
	for _, d := range decls {
		if _, err := c.CompileDecl(d); err != nil {
			t.Fatalf("CompileDecl: %v", err)
		}
	}
	if e == nil {
		return p, c, 0
	}
	id, err := c.CompileExpr(e)
	if err != nil {
		t.Fatalf("CompileExpr: %v", err)
	}
	return p, c, id
}

func sum(l, r int64) compiler.Expr {
	return &compiler.Infix{
		LHS:  &compiler.IntLiteral{Value: l},
		Rest: []compiler.InfixOp{{Op: "+", RHS: &compiler.IntLiteral{Value: r}}},
	}
}

// hostSegment builds a segment applying capability to unit.
func hostSegment(t *testing.T, capability string) *vm.Segment {
	t.Helper()
	b := vm.NewSegmentBuilder()
	b.Store(0, vm.PrimUnit())
	b.Store(1, vm.PrimHost(capability))
	b.ApplyPos(2, 1, 0)
	b.Return(2)
	seg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return seg
}

func bg() context.Context {
	return context.Background()
}
