package vm

import (
	"fmt"
	"math"
	"strconv"
)

// RegAddr indexes a frame's register file.
type RegAddr uint32

// OpAddr is an absolute instruction index within a segment.
type OpAddr uint32

// TargetID indexes a segment's target table.
type TargetID uint32

// SegmentID identifies a registered segment within a Program.
type SegmentID uint64

// CodeHash is the content hash of a segment.
type CodeHash uint64

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode selects the instruction an Op performs.
type Opcode uint8

// Builtin operations
const (
	OpNegate  Opcode = 0x01 // dest, a=src
	OpAdd     Opcode = 0x02 // dest, a=left, b=right
	OpMul     Opcode = 0x03 // dest, a=left, b=right
	OpMod     Opcode = 0x04 // dest, a=left, b=right
	OpOr      Opcode = 0x05 // dest, a=left, b=right
	OpAnd     Opcode = 0x06 // dest, a=left, b=right
	OpDecons  Opcode = 0x07 // dest=head, a=src, b=tail
	OpCons    Opcode = 0x08 // dest, a=head, b=tail
	OpIndex   Opcode = 0x09 // dest, a=src, b=index
	OpAppend  Opcode = 0x0A // dest, a=tuple, b=item
	OpVariant Opcode = 0x0B // dest, a=tag, b=value
	OpUnwrap  Opcode = 0x0C // dest, a=src
	OpInsert  Opcode = 0x0D // dest, a=record, b=key, c=value
	OpLookup  Opcode = 0x0E // dest, a=src, b=key
)

// Parameter destructuring
const (
	OpUnpackPos      Opcode = 0x20 // dest
	OpUnpackNamed    Opcode = 0x21 // dest, name
	OpUnpackOptional Opcode = 0x22 // dest, name
	OpUnpackVarPos   Opcode = 0x23 // dest
	OpUnpackVarKey   Opcode = 0x24 // dest
)

// Curried application
const (
	OpApplyPos    Opcode = 0x30 // dest, a=target, b=arg
	OpApplyByName Opcode = 0x31 // dest, a=target, b=arg, name
	OpApplyVarPos Opcode = 0x32 // dest, a=target, b=arg
	OpApplyVarKey Opcode = 0x33 // dest, a=target, b=arg
)

// Loads, calls, and control flow
const (
	OpStore     Opcode = 0x40 // dest, prim
	OpInvoke    Opcode = 0x41 // dest, a=src
	OpScopeSet  Opcode = 0x42 // dest, a=reg, b=src
	OpForce     Opcode = 0x43 // dest
	OpJmpTarget Opcode = 0x50 // a=cond, target
	OpJmpAddr   Opcode = 0x51 // a=cond, addr
	OpReturn    Opcode = 0x60 // a=src
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo describes how an opcode uses the Op fields.
type OpcodeInfo struct {
	Name  string
	Regs  int  // register operands: Dest, A, B, C in that order
	Named bool // uses Op.Name
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNegate:  {"Negate", 2, false},
	OpAdd:     {"Add", 3, false},
	OpMul:     {"Mul", 3, false},
	OpMod:     {"Mod", 3, false},
	OpOr:      {"Or", 3, false},
	OpAnd:     {"And", 3, false},
	OpDecons:  {"Decons", 3, false},
	OpCons:    {"Cons", 3, false},
	OpIndex:   {"Index", 3, false},
	OpAppend:  {"Append", 3, false},
	OpVariant: {"Variant", 3, false},
	OpUnwrap:  {"Unwrap", 2, false},
	OpInsert:  {"Insert", 4, false},
	OpLookup:  {"Lookup", 3, false},

	OpUnpackPos:      {"UnpackPos", 1, false},
	OpUnpackNamed:    {"UnpackNamed", 1, true},
	OpUnpackOptional: {"UnpackOptional", 1, true},
	OpUnpackVarPos:   {"UnpackVarPos", 1, false},
	OpUnpackVarKey:   {"UnpackVarKey", 1, false},

	OpApplyPos:    {"ApplyPos", 3, false},
	OpApplyByName: {"ApplyByName", 3, true},
	OpApplyVarPos: {"ApplyVarPos", 3, false},
	OpApplyVarKey: {"ApplyVarKey", 3, false},

	OpStore:     {"Store", 1, false},
	OpInvoke:    {"Invoke", 2, false},
	OpScopeSet:  {"ScopeSet", 3, false},
	OpForce:     {"Force", 1, false},
	OpJmpTarget: {"JmpTarget", 0, false},
	OpJmpAddr:   {"JmpAddr", 0, false},
	OpReturn:    {"Return", 0, false},
}

// Info returns the metadata for op. Unknown opcodes report an empty name.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
}

// ---------------------------------------------------------------------------
// Op
// ---------------------------------------------------------------------------

// Op is one instruction. Which fields are meaningful depends on Code; see
// the opcode declarations. Op is comparable.
type Op struct {
	Code   Opcode
	Dest   RegAddr
	A      RegAddr
	B      RegAddr
	C      RegAddr
	Name   string
	Target TargetID
	Addr   OpAddr
	Prim   Primitive
}

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

// PrimKind selects the immediate a Store loads.
type PrimKind uint8

const (
	PrimKindUnit PrimKind = iota
	PrimKindAddrTarget
	PrimKindExternalTarget
	PrimKindBool
	PrimKindInt
	PrimKindFloat
	PrimKindChar
	PrimKindString
	PrimKindBuffer
	PrimKindEmptyList
	PrimKindEmptyTuple
	PrimKindEmptyRecord
	PrimKindHost
)

// Primitive is an immediate operand. Str carries the payload of String,
// Buffer, and Host primitives.
type Primitive struct {
	Kind   PrimKind
	Addr   OpAddr
	Target TargetID
	Bool   bool
	Int    int64
	Float  float64
	Char   rune
	Str    string
}

func PrimUnit() Primitive                  { return Primitive{Kind: PrimKindUnit} }
func PrimAddr(a OpAddr) Primitive          { return Primitive{Kind: PrimKindAddrTarget, Addr: a} }
func PrimTarget(t TargetID) Primitive      { return Primitive{Kind: PrimKindExternalTarget, Target: t} }
func PrimBool(b bool) Primitive            { return Primitive{Kind: PrimKindBool, Bool: b} }
func PrimInt(i int64) Primitive            { return Primitive{Kind: PrimKindInt, Int: i} }
func PrimFloat(f float64) Primitive        { return Primitive{Kind: PrimKindFloat, Float: f} }
func PrimChar(c rune) Primitive            { return Primitive{Kind: PrimKindChar, Char: c} }
func PrimString(s string) Primitive        { return Primitive{Kind: PrimKindString, Str: s} }
func PrimBuffer(b []byte) Primitive        { return Primitive{Kind: PrimKindBuffer, Str: string(b)} }
func PrimEmptyList() Primitive             { return Primitive{Kind: PrimKindEmptyList} }
func PrimEmptyTuple() Primitive            { return Primitive{Kind: PrimKindEmptyTuple} }
func PrimEmptyRecord() Primitive           { return Primitive{Kind: PrimKindEmptyRecord} }
func PrimHost(capability string) Primitive { return Primitive{Kind: PrimKindHost, Str: capability} }

func (p Primitive) String() string {
	switch p.Kind {
	case PrimKindUnit:
		return "Unit"
	case PrimKindAddrTarget:
		return "AddrTarget(" + strconv.FormatUint(uint64(p.Addr), 10) + ")"
	case PrimKindExternalTarget:
		return "ExternalTarget(" + strconv.FormatUint(uint64(p.Target), 10) + ")"
	case PrimKindBool:
		return "Bool(" + strconv.FormatBool(p.Bool) + ")"
	case PrimKindInt:
		return "Int(" + strconv.FormatInt(p.Int, 10) + ")"
	case PrimKindFloat:
		return "Float(" + Float(p.Float).String() + ")"
	case PrimKindChar:
		return "Char(" + strconv.QuoteRune(p.Char) + ")"
	case PrimKindString:
		return "String(" + strconv.Quote(p.Str) + ")"
	case PrimKindBuffer:
		return fmt.Sprintf("Buffer(%q)", p.Str)
	case PrimKindEmptyList:
		return "EmptyList"
	case PrimKindEmptyTuple:
		return "EmptyTuple"
	case PrimKindEmptyRecord:
		return "EmptyRecord"
	case PrimKindHost:
		return "Host(" + p.Str + ")"
	}
	return fmt.Sprintf("Primitive(%d)", p.Kind)
}

func (p Primitive) valid() error {
	if p.Kind > PrimKindHost {
		return fmt.Errorf("unknown primitive kind %d", p.Kind)
	}
	if p.Kind == PrimKindFloat && math.IsNaN(p.Float) {
		return fmt.Errorf("NaN float immediate")
	}
	if p.Kind == PrimKindHost && p.Str == "" {
		return fmt.Errorf("host primitive without a capability name")
	}
	return nil
}

// immediate converts a data primitive into a Value. Segment references and
// host capabilities need a frame and are handled by the executor.
func (p Primitive) immediate() Value {
	switch p.Kind {
	case PrimKindBool:
		return Bool(p.Bool)
	case PrimKindInt:
		return Int(p.Int)
	case PrimKindFloat:
		return Float(p.Float)
	case PrimKindChar:
		return Char(p.Char)
	case PrimKindString:
		return String(p.Str)
	case PrimKindBuffer:
		return Buffer{b: p.Str}
	case PrimKindEmptyList:
		return emptyList
	case PrimKindEmptyTuple:
		return emptyTuple
	case PrimKindEmptyRecord:
		return emptyRecord
	}
	return Unit{}
}
