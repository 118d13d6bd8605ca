package dist

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/atlas/vm"
)

// ErrCapabilityMismatch is returned when a code's declared capabilities
// differ from the Host immediates its ops load.
var ErrCapabilityMismatch = errors.New("declared capabilities do not match code")

// CodeFromSegment converts a registered segment to its wire form.
func CodeFromSegment(id vm.SegmentID, seg *vm.Segment) Code {
	ops := seg.Ops()
	c := Code{
		ID:   uint64(id),
		Ops:  make([]OpMsg, len(ops)),
		Hash: uint64(seg.Hash()),
	}
	for i, op := range ops {
		c.Ops[i] = opToMsg(op)
	}
	for _, t := range seg.Targets() {
		c.Targets = append(c.Targets, uint64(t))
	}
	c.Capabilities = capabilities(ops)
	return c
}

// SegmentFromCode rebuilds and validates the segment c describes. A non-zero
// Hash must match the rebuilt segment, and the declared Capabilities must
// name exactly the capabilities the ops load.
func SegmentFromCode(c *Code) (*vm.Segment, error) {
	ops := make([]vm.Op, len(c.Ops))
	for i := range c.Ops {
		ops[i] = opFromMsg(&c.Ops[i])
	}
	targets := make([]vm.SegmentID, len(c.Targets))
	for i, t := range c.Targets {
		targets[i] = vm.SegmentID(t)
	}
	seg, err := vm.NewSegment(ops, targets)
	if err != nil {
		return nil, fmt.Errorf("dist: code %d: %w", c.ID, err)
	}
	if c.Hash != 0 && vm.CodeHash(c.Hash) != seg.Hash() {
		return nil, fmt.Errorf("%w: code %d declared %016x, computed %016x",
			ErrHashMismatch, c.ID, c.Hash, uint64(seg.Hash()))
	}
	declared := slices.Compact(slices.Sorted(slices.Values(c.Capabilities)))
	if used := capabilities(ops); !slices.Equal(declared, used) {
		return nil, fmt.Errorf("%w: code %d declared %v, loads %v",
			ErrCapabilityMismatch, c.ID, c.Capabilities, used)
	}
	return seg, nil
}

func opToMsg(op vm.Op) OpMsg {
	m := OpMsg{
		Code:   uint8(op.Code),
		Dest:   uint32(op.Dest),
		A:      uint32(op.A),
		B:      uint32(op.B),
		C:      uint32(op.C),
		Name:   op.Name,
		Target: uint32(op.Target),
		Addr:   uint32(op.Addr),
	}
	if op.Code == vm.OpStore {
		p := op.Prim
		m.Prim = &PrimMsg{
			Kind:   uint8(p.Kind),
			Addr:   uint32(p.Addr),
			Target: uint32(p.Target),
			Bool:   p.Bool,
			Int:    p.Int,
			Float:  p.Float,
			Char:   int32(p.Char),
		}
		if p.Kind == vm.PrimKindBuffer {
			m.Prim.Bytes = []byte(p.Str)
		} else {
			m.Prim.Str = p.Str
		}
	}
	return m
}

func opFromMsg(m *OpMsg) vm.Op {
	op := vm.Op{
		Code:   vm.Opcode(m.Code),
		Dest:   vm.RegAddr(m.Dest),
		A:      vm.RegAddr(m.A),
		B:      vm.RegAddr(m.B),
		C:      vm.RegAddr(m.C),
		Name:   m.Name,
		Target: vm.TargetID(m.Target),
		Addr:   vm.OpAddr(m.Addr),
	}
	if p := m.Prim; p != nil {
		op.Prim = vm.Primitive{
			Kind:   vm.PrimKind(p.Kind),
			Addr:   vm.OpAddr(p.Addr),
			Target: vm.TargetID(p.Target),
			Bool:   p.Bool,
			Int:    p.Int,
			Float:  p.Float,
			Char:   rune(p.Char),
			Str:    p.Str,
		}
		if op.Prim.Kind == vm.PrimKindBuffer {
			op.Prim.Str = string(p.Bytes)
		}
	}
	return op
}

// capabilities lists the host capabilities loaded by Store immediates,
// sorted and without duplicates.
func capabilities(ops []vm.Op) []string {
	var caps []string
	for _, op := range ops {
		if op.Code == vm.OpStore && op.Prim.Kind == vm.PrimKindHost {
			caps = append(caps, op.Prim.Str)
		}
	}
	slices.Sort(caps)
	return slices.Compact(caps)
}

// msgCapabilities is capabilities over wire ops, before any decoding.
func msgCapabilities(ops []OpMsg) []string {
	var caps []string
	for i := range ops {
		p := ops[i].Prim
		if vm.Opcode(ops[i].Code) == vm.OpStore && p != nil && vm.PrimKind(p.Kind) == vm.PrimKindHost {
			caps = append(caps, p.Str)
		}
	}
	return caps
}
