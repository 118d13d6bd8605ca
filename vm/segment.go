package vm

import (
	"fmt"
	"slices"
)

// Segment is an immutable instruction sequence plus the table of segments
// its JmpTarget and ExternalTarget references resolve through.
type Segment struct {
	ops     []Op
	targets []SegmentID
	hash    CodeHash
}

// NewSegment validates ops and targets and returns the segment. The slices
// are copied.
func NewSegment(ops []Op, targets []SegmentID) (*Segment, error) {
	s := &Segment{ops: slices.Clone(ops), targets: slices.Clone(targets)}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.hash = HashSegment(s.ops, s.targets)
	return s, nil
}

func (s *Segment) validate() error {
	if len(s.ops) == 0 {
		return fmt.Errorf("empty segment")
	}
	for i, op := range s.ops {
		info, ok := op.Code.Info()
		if !ok {
			return fmt.Errorf("op %d: unknown opcode 0x%02X", i, uint8(op.Code))
		}
		if info.Named && op.Name == "" {
			return fmt.Errorf("op %d: %s requires a name", i, op.Code)
		}
		switch op.Code {
		case OpJmpAddr:
			if int(op.Addr) >= len(s.ops) {
				return fmt.Errorf("op %d: jump address %d out of range", i, op.Addr)
			}
		case OpJmpTarget:
			if int(op.Target) >= len(s.targets) {
				return fmt.Errorf("op %d: target %d out of range", i, op.Target)
			}
		case OpStore:
			if err := op.Prim.valid(); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if op.Prim.Kind == PrimKindAddrTarget && int(op.Prim.Addr) >= len(s.ops) {
				return fmt.Errorf("op %d: entry address %d out of range", i, op.Prim.Addr)
			}
			if op.Prim.Kind == PrimKindExternalTarget && int(op.Prim.Target) >= len(s.targets) {
				return fmt.Errorf("op %d: target %d out of range", i, op.Prim.Target)
			}
		}
	}
	return nil
}

// Len returns the number of instructions.
func (s *Segment) Len() int { return len(s.ops) }

// Op returns the instruction at addr.
func (s *Segment) Op(addr OpAddr) Op { return s.ops[addr] }

// Ops returns a copy of the instruction sequence.
func (s *Segment) Ops() []Op { return slices.Clone(s.ops) }

// Targets returns a copy of the target table.
func (s *Segment) Targets() []SegmentID { return slices.Clone(s.targets) }

// Target resolves a target table entry.
func (s *Segment) Target(t TargetID) (SegmentID, bool) {
	if int(t) >= len(s.targets) {
		return 0, false
	}
	return s.targets[t], true
}

// Hash returns the segment's content hash.
func (s *Segment) Hash() CodeHash { return s.hash }

// Equal reports whether two segments have the same ops and targets.
func (s *Segment) Equal(o *Segment) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil {
		return false
	}
	return s.hash == o.hash && slices.Equal(s.ops, o.ops) && slices.Equal(s.targets, o.targets)
}

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

// Signature is the parameter list declared by an Unpack prologue.
type Signature struct {
	Positional int      // required positional parameters
	Named      []string // required named parameters
	Optional   []string
	VarPos     bool
	VarKey     bool
}

// Variadic reports whether the signature collects surplus arguments.
func (sig Signature) Variadic() bool { return sig.VarPos || sig.VarKey }

// HasNamed reports whether name is a named or optional parameter.
func (sig Signature) HasNamed(name string) bool {
	return slices.Contains(sig.Named, name) || slices.Contains(sig.Optional, name)
}

// Required reports whether name is a required named parameter.
func (sig Signature) Required(name string) bool {
	return slices.Contains(sig.Named, name)
}

// Signature derives the parameter list of the entry point at addr from the
// maximal run of Unpack and Store instructions starting there.
func (s *Segment) Signature(entry OpAddr) Signature {
	var sig Signature
	for i := int(entry); i < len(s.ops); i++ {
		op := s.ops[i]
		switch op.Code {
		case OpUnpackPos:
			sig.Positional++
		case OpUnpackNamed:
			sig.Named = append(sig.Named, op.Name)
		case OpUnpackOptional:
			sig.Optional = append(sig.Optional, op.Name)
		case OpUnpackVarPos:
			sig.VarPos = true
		case OpUnpackVarKey:
			sig.VarKey = true
		case OpStore:
		default:
			return sig
		}
	}
	return sig
}

// ---------------------------------------------------------------------------
// SegmentBuilder
// ---------------------------------------------------------------------------

// SegmentBuilder assembles a Segment one instruction at a time.
type SegmentBuilder struct {
	ops     []Op
	targets []SegmentID
}

// NewSegmentBuilder creates an empty builder.
func NewSegmentBuilder() *SegmentBuilder {
	return &SegmentBuilder{}
}

// Emit appends op and returns its address.
func (b *SegmentBuilder) Emit(op Op) OpAddr {
	b.ops = append(b.ops, op)
	return OpAddr(len(b.ops) - 1)
}

// Next returns the address the next emitted op will get.
func (b *SegmentBuilder) Next() OpAddr { return OpAddr(len(b.ops)) }

// AddTarget appends id to the target table and returns its index. Repeated
// ids share an entry.
func (b *SegmentBuilder) AddTarget(id SegmentID) TargetID {
	if i := slices.Index(b.targets, id); i >= 0 {
		return TargetID(i)
	}
	b.targets = append(b.targets, id)
	return TargetID(len(b.targets) - 1)
}

// Patch sets the jump or entry address of the op at at. It is used to
// resolve forward jumps once their destination is known.
func (b *SegmentBuilder) Patch(at, addr OpAddr) {
	op := &b.ops[at]
	switch {
	case op.Code == OpJmpAddr:
		op.Addr = addr
	case op.Code == OpStore && op.Prim.Kind == PrimKindAddrTarget:
		op.Prim.Addr = addr
	default:
		panic(fmt.Sprintf("vm: cannot patch %s at %d", op.Code, at))
	}
}

// Build validates the instructions and returns the segment.
func (b *SegmentBuilder) Build() (*Segment, error) {
	return NewSegment(b.ops, b.targets)
}

func (b *SegmentBuilder) op3(code Opcode, dest, a, bb RegAddr) OpAddr {
	return b.Emit(Op{Code: code, Dest: dest, A: a, B: bb})
}

func (b *SegmentBuilder) Negate(dest, src RegAddr) OpAddr {
	return b.Emit(Op{Code: OpNegate, Dest: dest, A: src})
}

func (b *SegmentBuilder) Add(dest, l, r RegAddr) OpAddr { return b.op3(OpAdd, dest, l, r) }
func (b *SegmentBuilder) Mul(dest, l, r RegAddr) OpAddr { return b.op3(OpMul, dest, l, r) }
func (b *SegmentBuilder) Mod(dest, l, r RegAddr) OpAddr { return b.op3(OpMod, dest, l, r) }
func (b *SegmentBuilder) Or(dest, l, r RegAddr) OpAddr  { return b.op3(OpOr, dest, l, r) }
func (b *SegmentBuilder) And(dest, l, r RegAddr) OpAddr { return b.op3(OpAnd, dest, l, r) }

// Decons splits the list in src into head and tail.
func (b *SegmentBuilder) Decons(head, tail, src RegAddr) OpAddr {
	return b.op3(OpDecons, head, src, tail)
}

func (b *SegmentBuilder) Cons(dest, head, tail RegAddr) OpAddr {
	return b.op3(OpCons, dest, head, tail)
}

func (b *SegmentBuilder) Index(dest, src, index RegAddr) OpAddr {
	return b.op3(OpIndex, dest, src, index)
}

func (b *SegmentBuilder) Append(dest, tuple, item RegAddr) OpAddr {
	return b.op3(OpAppend, dest, tuple, item)
}

func (b *SegmentBuilder) Variant(dest, tag, val RegAddr) OpAddr {
	return b.op3(OpVariant, dest, tag, val)
}

func (b *SegmentBuilder) Unwrap(dest, src RegAddr) OpAddr {
	return b.Emit(Op{Code: OpUnwrap, Dest: dest, A: src})
}

func (b *SegmentBuilder) Insert(dest, record, key, val RegAddr) OpAddr {
	return b.Emit(Op{Code: OpInsert, Dest: dest, A: record, B: key, C: val})
}

func (b *SegmentBuilder) Lookup(dest, src, key RegAddr) OpAddr {
	return b.op3(OpLookup, dest, src, key)
}

func (b *SegmentBuilder) UnpackPos(reg RegAddr) OpAddr {
	return b.Emit(Op{Code: OpUnpackPos, Dest: reg})
}

func (b *SegmentBuilder) UnpackNamed(reg RegAddr, name string) OpAddr {
	return b.Emit(Op{Code: OpUnpackNamed, Dest: reg, Name: name})
}

// UnpackOptional binds name when supplied. The default must already be in
// reg, typically from a preceding Store.
func (b *SegmentBuilder) UnpackOptional(reg RegAddr, name string) OpAddr {
	return b.Emit(Op{Code: OpUnpackOptional, Dest: reg, Name: name})
}

func (b *SegmentBuilder) UnpackVarPos(reg RegAddr) OpAddr {
	return b.Emit(Op{Code: OpUnpackVarPos, Dest: reg})
}

func (b *SegmentBuilder) UnpackVarKey(reg RegAddr) OpAddr {
	return b.Emit(Op{Code: OpUnpackVarKey, Dest: reg})
}

func (b *SegmentBuilder) ApplyPos(dest, tgt, arg RegAddr) OpAddr {
	return b.op3(OpApplyPos, dest, tgt, arg)
}

func (b *SegmentBuilder) ApplyByName(dest, tgt, arg RegAddr, name string) OpAddr {
	return b.Emit(Op{Code: OpApplyByName, Dest: dest, A: tgt, B: arg, Name: name})
}

func (b *SegmentBuilder) ApplyVarPos(dest, tgt, arg RegAddr) OpAddr {
	return b.op3(OpApplyVarPos, dest, tgt, arg)
}

func (b *SegmentBuilder) ApplyVarKey(dest, tgt, arg RegAddr) OpAddr {
	return b.op3(OpApplyVarKey, dest, tgt, arg)
}

func (b *SegmentBuilder) Store(dest RegAddr, p Primitive) OpAddr {
	return b.Emit(Op{Code: OpStore, Dest: dest, Prim: p})
}

func (b *SegmentBuilder) Invoke(dest, src RegAddr) OpAddr {
	return b.Emit(Op{Code: OpInvoke, Dest: dest, A: src})
}

// ScopeSet binds register reg of the closure or thunk in dest to src.
func (b *SegmentBuilder) ScopeSet(dest, reg, src RegAddr) OpAddr {
	return b.op3(OpScopeSet, dest, reg, src)
}

func (b *SegmentBuilder) Force(reg RegAddr) OpAddr {
	return b.Emit(Op{Code: OpForce, Dest: reg})
}

func (b *SegmentBuilder) JmpTarget(cond RegAddr, t TargetID) OpAddr {
	return b.Emit(Op{Code: OpJmpTarget, A: cond, Target: t})
}

func (b *SegmentBuilder) JmpAddr(cond RegAddr, addr OpAddr) OpAddr {
	return b.Emit(Op{Code: OpJmpAddr, A: cond, Addr: addr})
}

func (b *SegmentBuilder) Return(src RegAddr) OpAddr {
	return b.Emit(Op{Code: OpReturn, A: src})
}
