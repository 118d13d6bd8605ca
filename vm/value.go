package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the runtime tag of a Value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindInt
	KindFloat
	KindChar
	KindString
	KindBuffer
	KindList
	KindTuple
	KindRecord
	KindVariant
	KindClosure
	KindThunk
)

var valueKindNames = [...]string{
	KindUnit:    "unit",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindChar:    "char",
	KindString:  "string",
	KindBuffer:  "buffer",
	KindList:    "list",
	KindTuple:   "tuple",
	KindRecord:  "record",
	KindVariant: "variant",
	KindClosure: "closure",
	KindThunk:   "thunk",
}

func (k Kind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a runtime value. The set of implementations is closed; every
// value is immutable except for the state slot of a *Thunk.
type Value interface {
	Kind() Kind
	String() string
	value()
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

type Unit struct{}

type Bool bool

type Int int64

// Float is a 64-bit float that is never NaN. Operations that would produce
// NaN fault instead.
type Float float64

type Char rune

type String string

// Buffer is an immutable byte string.
type Buffer struct{ b string }

// NewBuffer copies b into a Buffer.
func NewBuffer(b []byte) Buffer { return Buffer{b: string(b)} }

// Bytes returns a copy of the buffer contents.
func (b Buffer) Bytes() []byte { return []byte(b.b) }

func (b Buffer) Len() int { return len(b.b) }

func (Unit) Kind() Kind    { return KindUnit }
func (Bool) Kind() Kind    { return KindBool }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (Char) Kind() Kind    { return KindChar }
func (String) Kind() Kind  { return KindString }
func (Buffer) Kind() Kind  { return KindBuffer }
func (Variant) Kind() Kind { return KindVariant }

func (Unit) value()    {}
func (Bool) value()    {}
func (Int) value()     {}
func (Float) value()   {}
func (Char) value()    {}
func (String) value()  {}
func (Buffer) value()  {}
func (Variant) value() {}

func (Unit) String() string { return "()" }

func (b Bool) String() string { return strconv.FormatBool(bool(b)) }

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func (c Char) String() string { return strconv.QuoteRune(rune(c)) }

func (s String) String() string { return strconv.Quote(string(s)) }

func (b Buffer) String() string { return fmt.Sprintf("b%q", b.b) }

// checkFloat rejects NaN results.
func checkFloat(f float64, op string) (Value, error) {
	if math.IsNaN(f) {
		return nil, faultf(TypeError, "%s produced NaN", op)
	}
	return Float(f), nil
}

// ---------------------------------------------------------------------------
// Variant
// ---------------------------------------------------------------------------

// Variant is a tagged value with a single payload.
type Variant struct {
	Tag   string
	Value Value
}

func (v Variant) String() string {
	if v.Value == nil {
		return v.Tag
	}
	return v.Tag + "(" + v.Value.String() + ")"
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// Equal reports structural equality. Closures and thunks compare by
// identity; a nil Value is treated as Unit.
func Equal(a, b Value) bool {
	if a == nil {
		a = Unit{}
	}
	if b == nil {
		b = Unit{}
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Unit:
		return true
	case Bool:
		return x == b.(Bool)
	case Int:
		return x == b.(Int)
	case Float:
		return x == b.(Float)
	case Char:
		return x == b.(Char)
	case String:
		return x == b.(String)
	case Buffer:
		return x.b == b.(Buffer).b
	case *List:
		return x.equal(b.(*List))
	case *Tuple:
		return x.equal(b.(*Tuple))
	case *Record:
		return x.equal(b.(*Record))
	case Variant:
		y := b.(Variant)
		return x.Tag == y.Tag && Equal(x.Value, y.Value)
	case *Closure:
		return x == b.(*Closure)
	case *Thunk:
		return x == b.(*Thunk)
	}
	return false
}

func isThunk(v Value) bool {
	_, ok := v.(*Thunk)
	return ok
}

func describe(v Value) string {
	if v == nil {
		return KindUnit.String()
	}
	if t, ok := v.(*Thunk); ok && !t.Forced() {
		return "unforced thunk"
	}
	return v.Kind().String()
}
