package vm

import (
	"errors"
	"math"
	"testing"
)

func mustBuild(t *testing.T, b *SegmentBuilder) *Segment {
	t.Helper()
	seg, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return seg
}

func mustAdd(t *testing.T, p *Program, b *SegmentBuilder) SegmentID {
	t.Helper()
	id, err := p.Add(mustBuild(t, b))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

// ---------------------------------------------------------------------------
// Opcode and builder tests
// ---------------------------------------------------------------------------

func TestOpcodeNames(t *testing.T) {
	for code, info := range opcodeTable {
		if code.String() != info.Name {
			t.Errorf("%#x String = %q, want %q", uint8(code), code.String(), info.Name)
		}
	}
	if got := Opcode(0xFF).String(); got != "Opcode(0xFF)" {
		t.Errorf("unknown opcode String = %q", got)
	}
}

func TestBuilderAddresses(t *testing.T) {
	b := NewSegmentBuilder()
	if b.Next() != 0 {
		t.Fatalf("Next = %d, want 0", b.Next())
	}
	a0 := b.Store(0, PrimInt(1))
	a1 := b.Return(0)
	if a0 != 0 || a1 != 1 || b.Next() != 2 {
		t.Errorf("addresses = %d, %d, next %d", a0, a1, b.Next())
	}
	t0 := b.AddTarget(9)
	t1 := b.AddTarget(4)
	if t0 != 0 || t1 != 1 || b.AddTarget(9) != 0 {
		t.Errorf("AddTarget = %d, %d; repeated id should reuse its entry", t0, t1)
	}
}

func TestBuilderPatchForwardJump(t *testing.T) {
	b := NewSegmentBuilder()
	b.Store(0, PrimBool(true))
	jmp := b.JmpAddr(0, 0)
	b.Store(1, PrimInt(1))
	b.Return(1)
	b.Patch(jmp, b.Next())
	b.Store(1, PrimInt(2))
	b.Return(1)

	seg := mustBuild(t, b)
	if got := seg.Op(jmp).Addr; got != 4 {
		t.Errorf("patched address = %d, want 4", got)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *SegmentBuilder)
	}{
		{"empty", func(b *SegmentBuilder) {}},
		{"unknown opcode", func(b *SegmentBuilder) { b.Emit(Op{Code: 0xEE}) }},
		{"jump out of range", func(b *SegmentBuilder) { b.JmpAddr(0, 5); b.Return(0) }},
		{"target out of range", func(b *SegmentBuilder) { b.JmpTarget(0, 0); b.Return(0) }},
		{"entry out of range", func(b *SegmentBuilder) { b.Store(0, PrimAddr(9)); b.Return(0) }},
		{"external target out of range", func(b *SegmentBuilder) { b.Store(0, PrimTarget(1)); b.Return(0) }},
		{"NaN immediate", func(b *SegmentBuilder) { b.Store(0, PrimFloat(math.NaN())); b.Return(0) }},
		{"unnamed parameter", func(b *SegmentBuilder) { b.UnpackNamed(0, ""); b.Return(0) }},
		{"unnamed host", func(b *SegmentBuilder) { b.Store(0, PrimHost("")); b.Return(0) }},
	}
	for _, tt := range tests {
		b := NewSegmentBuilder()
		tt.build(b)
		if _, err := b.Build(); err == nil {
			t.Errorf("%s: Build should fail", tt.name)
		}
	}
}

func TestSegmentImmutable(t *testing.T) {
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.Return(0)
	seg := mustBuild(t, b)
	h := seg.Hash()

	ops := seg.Ops()
	ops[0].Prim = PrimInt(99)
	b.Store(1, PrimInt(2))

	if seg.Len() != 2 || seg.Op(0).Prim.Int != 1 || seg.Hash() != h {
		t.Error("segment changed after build")
	}
}

func TestSignature(t *testing.T) {
	b := NewSegmentBuilder()
	b.UnpackPos(0)
	b.UnpackNamed(1, "x")
	b.Store(2, PrimInt(0))
	b.UnpackOptional(2, "opt")
	b.UnpackPos(3)
	b.UnpackVarKey(4)
	b.Return(0)
	b.UnpackVarPos(5) // outside the prologue
	b.Return(5)
	seg := mustBuild(t, b)

	sig := seg.Signature(0)
	if sig.Positional != 2 {
		t.Errorf("Positional = %d, want 2", sig.Positional)
	}
	if len(sig.Named) != 1 || sig.Named[0] != "x" {
		t.Errorf("Named = %v, want [x]", sig.Named)
	}
	if len(sig.Optional) != 1 || sig.Optional[0] != "opt" {
		t.Errorf("Optional = %v, want [opt]", sig.Optional)
	}
	if sig.VarPos || !sig.VarKey {
		t.Errorf("VarPos = %v, VarKey = %v; want false, true", sig.VarPos, sig.VarKey)
	}
	if !sig.Required("x") || sig.Required("opt") || !sig.HasNamed("opt") {
		t.Error("Required/HasNamed disagree with the prologue")
	}

	if tail := seg.Signature(7); !tail.VarPos || tail.Positional != 0 {
		t.Errorf("Signature(7) = %+v, want VarPos only", tail)
	}
}

// ---------------------------------------------------------------------------
// Program tests
// ---------------------------------------------------------------------------

func returnInt(n int64) *SegmentBuilder {
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(n))
	b.Return(0)
	return b
}

func TestProgramRegistration(t *testing.T) {
	p := NewProgram()
	id := p.GenID()
	fwd := p.GenID()
	if id != 0 || fwd != 1 || p.NextID() != 2 {
		t.Fatalf("GenID = %d, %d; next %d", id, fwd, p.NextID())
	}

	// A segment may reference an id that is reserved but not yet registered.
	b := NewSegmentBuilder()
	b.Store(0, PrimTarget(b.AddTarget(fwd)))
	b.Return(0)
	if err := p.Register(id, mustBuild(t, b)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := p.Segment(fwd); !errors.Is(err, ErrUnregisteredSegment) {
		t.Errorf("Segment(reserved) err = %v, want UnregisteredSegment", err)
	}
	if err := p.Register(id, mustBuild(t, returnInt(1))); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("re-Register err = %v, want ErrAlreadyRegistered", err)
	}
	if err := p.Register(10, mustBuild(t, returnInt(1))); !errors.Is(err, ErrNotReserved) {
		t.Errorf("Register(unreserved) err = %v, want ErrNotReserved", err)
	}
	if err := p.Register(fwd, mustBuild(t, returnInt(1))); err != nil {
		t.Errorf("Register(fwd): %v", err)
	}
	if ids := p.IDs(); len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("IDs = %v, want [0 1]", ids)
	}
}

func TestProgramIntern(t *testing.T) {
	p := NewProgram()
	a, reused, err := p.Intern(mustBuild(t, returnInt(1)))
	if err != nil || reused {
		t.Fatalf("first Intern = %d, %v, %v", a, reused, err)
	}
	b, reused, err := p.Intern(mustBuild(t, returnInt(1)))
	if err != nil || !reused || b != a {
		t.Errorf("second Intern = %d, %v, %v; want %d reused", b, reused, err, a)
	}
	c, reused, _ := p.Intern(mustBuild(t, returnInt(2)))
	if reused || c == a {
		t.Errorf("different content interned as %d (reused %v)", c, reused)
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
}

func TestProgramReserveAndEqual(t *testing.T) {
	p := NewProgram()
	p.Reserve(5)
	if p.NextID() != 5 {
		t.Fatalf("NextID after Reserve(5) = %d", p.NextID())
	}
	p.Reserve(2)
	if p.NextID() != 5 {
		t.Errorf("Reserve moved the counter backwards to %d", p.NextID())
	}
	if err := p.Register(3, mustBuild(t, returnInt(3))); err != nil {
		t.Fatalf("Register: %v", err)
	}

	q := NewProgram()
	q.Reserve(5)
	if p.Equal(q) {
		t.Error("programs with different segments compare equal")
	}
	if err := q.Register(3, mustBuild(t, returnInt(3))); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !p.Equal(q) {
		t.Error("structurally identical programs compare unequal")
	}
	q.GenID()
	if p.Equal(q) {
		t.Error("programs with different counters compare equal")
	}
}

func TestProgramSparseReserve(t *testing.T) {
	p := NewProgram()
	far := SegmentID(1 << 62)
	p.Reserve(far)
	if id := p.GenID(); id != far {
		t.Fatalf("GenID after Reserve = %d, want %d", id, far)
	}
	if err := p.Register(far-1, mustBuild(t, returnInt(1))); err != nil {
		t.Fatalf("Register below the counter: %v", err)
	}
	if err := p.Register(far, mustBuild(t, returnInt(2))); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register(far+1, mustBuild(t, returnInt(3))); !errors.Is(err, ErrNotReserved) {
		t.Errorf("Register past the counter err = %v, want ErrNotReserved", err)
	}
	ids := p.IDs()
	if len(ids) != 2 || ids[0] != far-1 || ids[1] != far || p.Len() != 2 {
		t.Errorf("IDs = %v, Len = %d", ids, p.Len())
	}
	if _, err := p.Segment(5); !errors.Is(err, ErrUnregisteredSegment) {
		t.Errorf("reserved id err = %v, want UnregisteredSegment", err)
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestListing(t *testing.T) {
	b := NewSegmentBuilder()
	b.Store(0, PrimInt(1))
	b.Store(1, PrimInt(2))
	b.Add(2, 0, 1)
	b.Return(2)
	seg := mustBuild(t, b)
	want := "Store r0 Int(1); Store r1 Int(2); Add r2 r0 r1; Return r2"
	if got := Listing(seg); got != want {
		t.Errorf("Listing = %q, want %q", got, want)
	}
}

func TestFormatOp(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{Op{Code: OpDecons, Dest: 1, A: 0, B: 2}, "Decons r1 r2 r0"},
		{Op{Code: OpInsert, Dest: 3, A: 0, B: 1, C: 2}, "Insert r3 r0 r1 r2"},
		{Op{Code: OpUnpackNamed, Dest: 0, Name: "x"}, `UnpackNamed r0 "x"`},
		{Op{Code: OpApplyByName, Dest: 2, A: 0, B: 1, Name: "k"}, `ApplyByName r2 r0 r1 "k"`},
		{Op{Code: OpJmpTarget, A: 4, Target: 1}, "JmpTarget r4 t1"},
		{Op{Code: OpJmpAddr, A: 4, Addr: 9}, "JmpAddr r4 @9"},
		{Op{Code: OpStore, Dest: 0, Prim: PrimHost("echo")}, "Store r0 Host(echo)"},
		{Op{Code: OpStore, Dest: 0, Prim: PrimString("a")}, `Store r0 String("a")`},
		{Op{Code: OpForce, Dest: 3}, "Force r3"},
	}
	for _, tt := range tests {
		if got := FormatOp(tt.op); got != tt.want {
			t.Errorf("FormatOp = %q, want %q", got, tt.want)
		}
	}
}
