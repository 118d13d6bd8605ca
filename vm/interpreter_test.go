package vm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func run(t *testing.T, p *Program, id SegmentID, opts ...Option) (Value, error) {
	t.Helper()
	return New(p, opts...).Run(context.Background(), id)
}

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestInterpreterOnePlusTwo(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.Store(1, PrimInt(2))
	b.Add(2, 0, 1)
	b.Return(2)
	id := mustAdd(t, p, b)

	got, err := run(t, p, id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != Int(3) {
		t.Errorf("result = %v, want 3", got)
	}
}

func TestInterpreterUnwrittenRegisterIsUnit(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Return(7)
	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil || got != (Unit{}) {
		t.Errorf("result = %v, %v; want ()", got, err)
	}
}

func TestInterpreterCollections(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimEmptyRecord())
	b.Store(1, PrimString("k"))
	b.Store(2, PrimInt(5))
	b.Insert(3, 0, 1, 2)
	b.Lookup(4, 3, 1)
	b.Store(5, PrimEmptyList())
	b.Cons(6, 4, 5)
	b.Decons(7, 8, 6)
	b.Store(9, PrimEmptyTuple())
	b.Append(9, 9, 7)
	b.Append(9, 9, 8)
	b.Store(10, PrimString("Ok"))
	b.Variant(11, 10, 9)
	b.Return(11)

	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Variant{Tag: "Ok", Value: NewTuple(Int(5), EmptyList())}
	if !Equal(got, want) {
		t.Errorf("result = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func branch(cond bool) *SegmentBuilder {
	b := NewSegmentBuilder()
	b.Store(0, PrimBool(cond))
	b.JmpAddr(0, 4)
	b.Store(1, PrimInt(1))
	b.Return(1)
	b.Store(1, PrimInt(2))
	b.Return(1)
	return b
}

func TestJmpAddrFallsThroughOnFalse(t *testing.T) {
	p := NewProgram()
	got, err := run(t, p, mustAdd(t, p, branch(false)))
	if err != nil || got != Int(1) {
		t.Errorf("result = %v, %v; want 1", got, err)
	}
}

func TestJmpAddrJumpsOnTrue(t *testing.T) {
	p := NewProgram()
	got, err := run(t, p, mustAdd(t, p, branch(true)))
	if err != nil || got != Int(2) {
		t.Errorf("result = %v, %v; want 2", got, err)
	}
}

func TestJmpAddrRequiresBool(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.JmpAddr(0, 0)
	b.Return(0)
	if _, err := run(t, p, mustAdd(t, p, b)); !errors.Is(err, ErrType) {
		t.Errorf("err = %v, want TypeError", err)
	}
}

func TestJmpTargetSharesRegisters(t *testing.T) {
	p := NewProgram()
	arm := NewSegmentBuilder()
	arm.Add(2, 1, 1)
	arm.Return(2)
	armID := mustAdd(t, p, arm)

	b := NewSegmentBuilder()
	b.Store(0, PrimBool(true))
	b.Store(1, PrimInt(7))
	b.JmpTarget(0, b.AddTarget(armID))
	b.Return(1)
	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil || got != Int(14) {
		t.Errorf("result = %v, %v; want 14", got, err)
	}
}

func TestJmpTargetUnregistered(t *testing.T) {
	p := NewProgram()
	missing := p.GenID()
	b := NewSegmentBuilder()
	b.Store(0, PrimBool(true))
	b.JmpTarget(0, b.AddTarget(missing))
	b.Return(0)
	if _, err := run(t, p, mustAdd(t, p, b)); !errors.Is(err, ErrUnregisteredSegment) {
		t.Errorf("err = %v, want UnregisteredSegment", err)
	}
}

func TestRunPastEnd(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	if _, err := run(t, p, mustAdd(t, p, b)); !errors.Is(err, ErrCode) {
		t.Errorf("err = %v, want CodeError", err)
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestFaultLocationAndTrace(t *testing.T) {
	p := NewProgram()
	inner := NewSegmentBuilder()
	inner.Store(0, PrimInt(1))
	inner.Store(1, PrimString("a"))
	inner.Add(2, 0, 1)
	inner.Return(2)
	innerID := mustAdd(t, p, inner)

	outer := NewSegmentBuilder()
	outer.Store(0, PrimTarget(outer.AddTarget(innerID)))
	outer.Invoke(1, 0)
	outer.Return(1)
	outerID := mustAdd(t, p, outer)

	_, err := run(t, p, outerID)
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Fault", err)
	}
	if f.Kind != TypeError {
		t.Errorf("Kind = %s, want TypeError", f.Kind)
	}
	if !f.Located() || f.At != (Location{Segment: innerID, Addr: 2}) {
		t.Errorf("At = %v, want seg %d @2", f.At, innerID)
	}
	if len(f.Trace) != 1 || f.Trace[0] != (Location{Segment: outerID, Addr: 1}) {
		t.Errorf("Trace = %v, want [seg %d @1]", f.Trace, outerID)
	}
	if KindOf(err) != TypeError {
		t.Errorf("KindOf = %s", KindOf(err))
	}
}

func TestInvokeNonClosure(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.Invoke(1, 0)
	b.Return(1)
	if _, err := run(t, p, mustAdd(t, p, b)); !errors.Is(err, ErrType) {
		t.Errorf("err = %v, want TypeError", err)
	}
}

func TestStackOverflow(t *testing.T) {
	p := NewProgram()
	self := p.GenID()
	b := NewSegmentBuilder()
	b.Store(0, PrimTarget(b.AddTarget(self)))
	b.Invoke(1, 0)
	b.Return(1)
	if err := p.Register(self, mustBuild(t, b)); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, p, self, WithMaxDepth(50))
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("err = %v, want StackOverflow", err)
	}
	var f *Fault
	errors.As(err, &f)
	if len(f.Trace) != 49 {
		t.Errorf("trace depth = %d, want 49", len(f.Trace))
	}
}

func TestCancelledLoop(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimBool(true))
	b.JmpAddr(0, 1)
	b.Return(0)
	id := mustAdd(t, p, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(p).Run(ctx, id)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want Cancelled", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped context.DeadlineExceeded", err)
	}
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

// tensPlusOnes returns 10*a + b for positional a, b.
func tensPlusOnes(t *testing.T, p *Program) SegmentID {
	b := NewSegmentBuilder()
	b.UnpackPos(0)
	b.UnpackPos(1)
	b.Force(0)
	b.Force(1)
	b.Store(2, PrimInt(10))
	b.Mul(3, 0, 2)
	b.Add(4, 3, 1)
	b.Return(4)
	return mustAdd(t, p, b)
}

func TestCurryEquivalence(t *testing.T) {
	p := NewProgram()
	fn := tensPlusOnes(t, p)

	b := NewSegmentBuilder()
	b.Store(0, PrimTarget(b.AddTarget(fn)))
	b.Store(1, PrimInt(3))
	b.Store(2, PrimInt(4))
	b.ApplyPos(3, 0, 1)
	b.ApplyPos(4, 3, 2)
	b.Force(4)
	b.Return(4)
	curried, err := run(t, p, mustAdd(t, p, b))
	if err != nil {
		t.Fatalf("curried: %v", err)
	}

	v := New(p)
	c, _ := v.Closure(fn)
	direct, err := v.Call(context.Background(), c, Args{Positional: []Value{Int(3), Int(4)}})
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if !Equal(curried, direct) || direct != Int(34) {
		t.Errorf("curried = %v, direct = %v; want 34", curried, direct)
	}
}

func TestApplyDefersSaturatedCall(t *testing.T) {
	p := NewProgram()
	fn := tensPlusOnes(t, p)
	v := New(p)
	ctx := context.Background()
	c, _ := v.Closure(fn)

	partial, err := v.Apply(ctx, c, Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := partial.(*Closure); !ok {
		t.Fatalf("partial application = %T, want *Closure", partial)
	}
	if c.Positional().Len() != 0 {
		t.Error("Apply mutated the original closure")
	}
	full, err := v.Apply(ctx, partial, Int(2))
	if err != nil {
		t.Fatal(err)
	}
	th, ok := full.(*Thunk)
	if !ok || th.State() != Unforced {
		t.Fatalf("saturated application = %v, want unforced thunk", full)
	}
	if _, err := v.Apply(ctx, partial.(*Closure).Positional(), Int(2)); !errors.Is(err, ErrType) {
		t.Errorf("Apply to tuple err = %v, want TypeError", err)
	}
}

func TestApplyTooManyPositional(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.UnpackPos(0)
	b.UnpackNamed(1, "x")
	b.Return(0)
	v := New(p)
	c, _ := v.Closure(mustAdd(t, p, b))

	partial, _ := v.Apply(context.Background(), c, Int(1))
	if _, err := v.Apply(context.Background(), partial, Int(2)); !errors.Is(err, ErrArity) {
		t.Errorf("err = %v, want ArityError", err)
	}
	if _, err := c.applyNamed("y", Int(1)); !errors.Is(err, ErrArity) {
		t.Errorf("unknown name err = %v, want ArityError", err)
	}
}

func TestUnpackCollectsRemainder(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.UnpackPos(0)
	b.UnpackNamed(1, "x")
	b.Store(2, PrimInt(99))
	b.UnpackOptional(2, "opt")
	b.UnpackVarPos(3)
	b.UnpackVarKey(4)
	b.Store(5, PrimEmptyTuple())
	for r := RegAddr(0); r <= 4; r++ {
		b.Append(5, 5, r)
	}
	b.Return(5)
	id := mustAdd(t, p, b)

	v := New(p)
	c, _ := v.Closure(id)
	got, err := v.Call(context.Background(), c, Args{
		Positional: []Value{Int(1), Int(2), Int(3)},
		Named:      map[string]Value{"x": Int(10), "y": Int(20), "z": Int(30)},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want := NewTuple(Int(1), Int(10), Int(99), NewList(Int(2), Int(3)),
		EmptyRecord().Insert("y", Int(20)).Insert("z", Int(30)))
	if !Equal(got, want) {
		t.Errorf("result = %v, want %v", got, want)
	}

	got, err = v.Call(context.Background(), c, Args{
		Positional: []Value{Int(1)},
		Named:      map[string]Value{"x": Int(10), "opt": Int(5)},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	want = NewTuple(Int(1), Int(10), Int(5), EmptyList(), EmptyRecord())
	if !Equal(got, want) {
		t.Errorf("result = %v, want %v", got, want)
	}
}

func TestUnpackMissingArguments(t *testing.T) {
	p := NewProgram()
	pos := NewSegmentBuilder()
	pos.UnpackPos(0)
	pos.UnpackVarPos(1)
	pos.Return(0)
	named := NewSegmentBuilder()
	named.UnpackNamed(0, "x")
	named.UnpackVarKey(1)
	named.Return(0)

	v := New(p)
	for _, id := range []SegmentID{mustAdd(t, p, pos), mustAdd(t, p, named)} {
		c, _ := v.Closure(id)
		if _, err := v.Invoke(context.Background(), c); !errors.Is(err, ErrArity) {
			t.Errorf("seg %d: err = %v, want ArityError", id, err)
		}
	}
}

func TestVariadicNeverSaturates(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.UnpackVarPos(0)
	b.Return(0)
	v := New(p)
	c, _ := v.Closure(mustAdd(t, p, b))

	got, err := v.Apply(context.Background(), c, Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(*Closure); !ok {
		t.Fatalf("variadic application = %T, want *Closure", got)
	}
	res, err := v.Invoke(context.Background(), got)
	if err != nil || !Equal(res, NewList(Int(1))) {
		t.Errorf("Invoke = %v, %v; want [1]", res, err)
	}
}

func TestApplyVarPos(t *testing.T) {
	p := NewProgram()
	fn := tensPlusOnes(t, p)

	b := NewSegmentBuilder()
	b.Store(0, PrimTarget(b.AddTarget(fn)))
	b.Store(1, PrimInt(4))
	b.Store(2, PrimEmptyList())
	b.Cons(2, 1, 2)
	b.Store(1, PrimInt(3))
	b.Cons(2, 1, 2)
	b.ApplyVarPos(3, 0, 2)
	b.Force(3)
	b.Return(3)
	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil || got != Int(34) {
		t.Errorf("ApplyVarPos result = %v, %v; want 34", got, err)
	}

	bad := NewSegmentBuilder()
	bad.Store(0, PrimTarget(bad.AddTarget(fn)))
	bad.Store(1, PrimInt(1))
	bad.ApplyVarPos(2, 0, 1)
	bad.Return(2)
	if _, err := run(t, p, mustAdd(t, p, bad)); !errors.Is(err, ErrType) {
		t.Errorf("ApplyVarPos with int err = %v, want TypeError", err)
	}
}

func TestVarKeyCollision(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.UnpackNamed(0, "x")
	b.Store(1, PrimInt(0))
	b.UnpackOptional(1, "o")
	b.UnpackVarKey(2)
	b.Return(0)
	c, _ := New(p).Closure(mustAdd(t, p, b))

	bound, err := c.applyNamed("x", Int(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bound.applyVarKey(EmptyRecord().Insert("x", Int(2))); !errors.Is(err, ErrArity) {
		t.Errorf("collision with required x err = %v, want ArityError", err)
	}

	opt, _ := c.applyNamed("o", Int(1))
	merged, err := opt.applyVarKey(EmptyRecord().Insert("o", Int(2)).Insert("extra", Int(3)))
	if err != nil {
		t.Fatalf("optional override: %v", err)
	}
	if v, _ := merged.Named().Lookup("o"); v != Int(2) {
		t.Errorf("o = %v, want 2", v)
	}

	// ByName always overrides.
	again, err := bound.applyNamed("x", Int(5))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := again.Named().Lookup("x"); v != Int(5) {
		t.Errorf("x = %v, want 5", v)
	}
}

func TestScopeSetClosureCapture(t *testing.T) {
	p := NewProgram()
	body := NewSegmentBuilder()
	body.UnpackPos(1)
	body.Force(1)
	body.Add(2, 0, 1)
	body.Return(2)
	bodyID := mustAdd(t, p, body)

	b := NewSegmentBuilder()
	b.Store(0, PrimTarget(b.AddTarget(bodyID)))
	b.Store(1, PrimInt(100))
	b.ScopeSet(0, 0, 1)
	b.Store(2, PrimInt(5))
	b.ApplyPos(3, 0, 2)
	b.Force(3)
	b.Return(3)
	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil || got != Int(105) {
		t.Errorf("result = %v, %v; want 105", got, err)
	}
}

func TestScopeSetOnPlainValue(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.ScopeSet(0, 0, 0)
	b.Return(0)
	if _, err := run(t, p, mustAdd(t, p, b)); !errors.Is(err, ErrType) {
		t.Errorf("err = %v, want TypeError", err)
	}
}

func TestAddrTargetClosure(t *testing.T) {
	p := NewProgram()
	b := NewSegmentBuilder()
	entry := b.Store(0, PrimAddr(0))
	b.Invoke(1, 0)
	b.Return(1)
	b.Patch(entry, b.Next())
	b.Store(0, PrimString("inner"))
	b.Return(0)
	got, err := run(t, p, mustAdd(t, p, b))
	if err != nil || got != String("inner") {
		t.Errorf("result = %v, %v; want \"inner\"", got, err)
	}
}
