package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/atlas/compiler"
	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/store"
	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

// ---------------------------------------------------------------------------
// Register and Invoke
// ---------------------------------------------------------------------------

func TestRegisterAndInvoke(t *testing.T) {
	env := newTestEnv(t)
	p, _, root := clientProgram(t, sum(1, 2))

	id, err := env.Client.RegisterProgram(bg(), p, root)
	if err != nil {
		t.Fatalf("RegisterProgram: %v", err)
	}
	resp, err := env.Client.Invoke(bg(), "", id)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Invocation == "" {
		t.Error("response has no invocation id")
	}
	v, err := resp.Value()
	if err != nil || v != vm.Int(3) {
		t.Errorf("Invoke = %v, %v, want 3", v, err)
	}
}

func TestInvokeWithArguments(t *testing.T) {
	env := newTestEnv(t)
	add := &compiler.FnDecl{
		FnName: "add",
		Params: []string{"a", "b"},
		Body: &compiler.Block{Value: &compiler.Infix{
			LHS:  &compiler.Identifier{Name: "a"},
			Rest: []compiler.InfixOp{{Op: "+", RHS: &compiler.Identifier{Name: "b"}}},
		}},
	}
	p, c, _ := clientProgram(t, nil, add)
	root, _ := c.Global("add")

	id, err := env.Client.RegisterProgram(bg(), p, root)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := env.Client.Invoke(bg(), "", id, vm.Int(40), vm.Int(2))
	if err != nil {
		t.Fatal(err)
	}
	if v, err := resp.Value(); err != nil || v != vm.Int(42) {
		t.Errorf("add(40, 2) = %v, %v", v, err)
	}

	resp, err = env.Client.Invoke(bg(), "", id, vm.Int(1), vm.Int(2), vm.Int(3))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fault == nil || resp.Fault.Kind != "ArityError" {
		t.Errorf("fault = %+v, want ArityError", resp.Fault)
	}
}

func TestInvokeFault(t *testing.T) {
	env := newTestEnv(t)
	div := &compiler.Infix{
		LHS:  &compiler.IntLiteral{Value: 1},
		Rest: []compiler.InfixOp{{Op: "%", RHS: &compiler.IntLiteral{Value: 0}}},
	}
	p, _, root := clientProgram(t, div)
	id, err := env.Client.RegisterProgram(bg(), p, root)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := env.Client.Invoke(bg(), "", id)
	if err != nil {
		t.Fatalf("Invoke returned an RPC error for a VM fault: %v", err)
	}
	if resp.Fault == nil {
		t.Fatalf("no fault reported, result %v", resp.Result)
	}
	if resp.Fault.Kind != "DivideByZero" || resp.Fault.At == "" {
		t.Errorf("fault = %+v", resp.Fault)
	}
	if _, err := resp.Value(); !errors.Is(err, vm.ErrDivideByZero) {
		t.Errorf("Value err = %v, want DivideByZero", err)
	}
}

func TestInvokeUnknownSegment(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Client.Invoke(bg(), "", 42)
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestInvokeNotTransferable(t *testing.T) {
	env := newTestEnv(t)
	// A closure result cannot be sent back.
	b := vm.NewSegmentBuilder()
	b.Store(0, vm.PrimAddr(0))
	b.Return(0)
	seg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	assigned, err := env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(7, seg)})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := env.Client.Invoke(bg(), "", assigned[7])
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fault == nil {
		t.Error("closure result was not reported as a fault")
	}
}

// ---------------------------------------------------------------------------
// Register errors
// ---------------------------------------------------------------------------

func TestRegisterErrors(t *testing.T) {
	env := newTestEnv(t, WithPolicy(host.NewRestrictedPolicy([]string{host.Echo})))

	leaf := dist.CodeFromSegment(1, hostSegment(t, host.Echo))
	badHash := leaf
	badHash.Hash++

	b := vm.NewSegmentBuilder()
	t0 := b.AddTarget(99)
	b.Store(0, vm.PrimTarget(t0))
	b.Return(0)
	dangling, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	undeclared := dist.CodeFromSegment(4, hostSegment(t, host.ClockNow))
	undeclared.Capabilities = nil

	tests := []struct {
		name  string
		codes []dist.Code
		code  connect.Code
	}{
		{"empty", nil, connect.CodeInvalidArgument},
		{"hash mismatch", []dist.Code{badHash}, connect.CodeInvalidArgument},
		{"missing dependency", []dist.Code{dist.CodeFromSegment(2, dangling)}, connect.CodeFailedPrecondition},
		{"denied capability", []dist.Code{dist.CodeFromSegment(3, hostSegment(t, host.ClockNow))}, connect.CodePermissionDenied},
		{"undeclared denied capability", []dist.Code{undeclared}, connect.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Client.Register(bg(), tt.codes)
			if connect.CodeOf(err) != tt.code {
				t.Errorf("err = %v, want code %v", err, tt.code)
			}
		})
	}

	if _, err := env.Client.Register(bg(), []dist.Code{leaf}); err != nil {
		t.Errorf("allowed capability rejected: %v", err)
	}
}

func TestRegisterUndeclaredCapability(t *testing.T) {
	env := newTestEnv(t)
	c := dist.CodeFromSegment(0, hostSegment(t, host.Echo))
	c.Capabilities = nil
	if _, err := env.Client.Register(bg(), []dist.Code{c}); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
	if st, _ := env.Client.Status(bg()); st == nil || st.Segments != 0 {
		t.Errorf("rejected code was registered: %+v", st)
	}
}

func TestRegisterAgainstExistingSegments(t *testing.T) {
	env := newTestEnv(t)
	assigned, err := env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(0, hostSegment(t, host.Echo))})
	if err != nil {
		t.Fatal(err)
	}
	existing := assigned[0]

	// A later batch may target a segment from an earlier one by its
	// installed id.
	b := vm.NewSegmentBuilder()
	t0 := b.AddTarget(existing)
	b.Store(0, vm.PrimTarget(t0))
	b.Invoke(1, 0)
	b.Return(1)
	seg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	assigned, err = env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(500, seg)})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	resp, err := env.Client.Invoke(bg(), "", assigned[500])
	if err != nil {
		t.Fatal(err)
	}
	if v, err := resp.Value(); err != nil || v != (vm.Unit{}) {
		t.Errorf("Invoke = %v, %v, want unit", v, err)
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancelInFlight(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	env.Table.Handle("block", func(ctx context.Context, _ vm.Value) (vm.Value, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assigned, err := env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(0, hostSegment(t, "block"))})
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		resp *InvokeResponse
		err  error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := env.Client.Invoke(bg(), "inv-1", assigned[0])
		results <- result{resp, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("invocation never reached the host")
	}
	status, err := env.Client.Status(bg())
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Running) != 1 || status.Running[0] != "inv-1" {
		t.Errorf("Running = %v, want [inv-1]", status.Running)
	}

	ok, err := env.Client.Cancel(bg(), "inv-1")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	var res result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled invocation did not return")
	}
	if res.err != nil {
		t.Fatalf("Invoke: %v", res.err)
	}
	if _, err := res.resp.Value(); !errors.Is(err, vm.ErrCancelled) {
		t.Errorf("Value err = %v, want Cancelled", err)
	}

	if ok, _ := env.Client.Cancel(bg(), "inv-1"); ok {
		t.Error("finished invocation cancelled again")
	}
	if _, err := env.Client.Cancel(bg(), ""); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("empty id err = %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	env := newTestEnv(t, WithInvokeTimeout(20*time.Millisecond))
	env.Table.Handle("block", func(ctx context.Context, _ vm.Value) (vm.Value, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assigned, err := env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(0, hostSegment(t, "block"))})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := env.Client.Invoke(bg(), "", assigned[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := resp.Value(); !errors.Is(err, vm.ErrCancelled) {
		t.Errorf("Value err = %v, want Cancelled", err)
	}
}

// ---------------------------------------------------------------------------
// Status and persistence
// ---------------------------------------------------------------------------

func TestStatus(t *testing.T) {
	env := newTestEnv(t, WithCapabilities([]string{host.Echo}))
	if _, err := env.Client.Register(bg(), []dist.Code{dist.CodeFromSegment(0, hostSegment(t, host.Echo))}); err != nil {
		t.Fatal(err)
	}
	st, err := env.Client.Status(bg())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Segments != 1 || st.NextID != 1 {
		t.Errorf("Segments = %d, NextID = %d, want 1, 1", st.Segments, st.NextID)
	}
	if st.Policy != "allow all" || st.Persistent || len(st.Running) != 0 {
		t.Errorf("status = %+v", st)
	}
	if len(st.Capabilities) != 1 || st.Capabilities[0] != host.Echo {
		t.Errorf("Capabilities = %v", st.Capabilities)
	}
}

func TestRegisterPersists(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "code.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	env := newTestEnv(t, WithStore(s))

	p, _, root := clientProgram(t, sum(20, 22))
	id, err := env.Client.RegisterProgram(bg(), p, root)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadProgram(bg())
	if err != nil {
		t.Fatal(err)
	}
	got, err := vm.New(loaded).Run(bg(), id)
	if err != nil || got != vm.Int(42) {
		t.Errorf("Run(persisted) = %v, %v", got, err)
	}
	if st, _ := env.Client.Status(bg()); st == nil || !st.Persistent {
		t.Errorf("status does not report persistence: %+v", st)
	}
}

func TestRegisterPersistFailureKeepsIDs(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "code.db"))
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, WithStore(s))
	s.Close()

	p, _, root := clientProgram(t, sum(2, 3))
	id, err := env.Client.RegisterProgram(bg(), p, root)
	if !errors.Is(err, ErrNotPersisted) {
		t.Fatalf("RegisterProgram err = %v, want ErrNotPersisted", err)
	}
	resp, err := env.Client.Invoke(bg(), "", id)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := resp.Value(); err != nil || v != vm.Int(5) {
		t.Errorf("Invoke(unpersisted) = %v, %v, want 5", v, err)
	}
}
