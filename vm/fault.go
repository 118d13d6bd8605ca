package vm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a VM fault.
type ErrorKind uint8

const (
	TypeError ErrorKind = iota + 1
	IndexError
	ArityError
	DivideByZero
	CyclicForce
	UnregisteredSegment
	Cancelled
	HostError
	StackOverflow
	CodeError
)

var kindNames = map[ErrorKind]string{
	TypeError:           "TypeError",
	IndexError:          "IndexError",
	ArityError:          "ArityError",
	DivideByZero:        "DivideByZero",
	CyclicForce:         "CyclicForce",
	UnregisteredSegment: "UnregisteredSegment",
	Cancelled:           "Cancelled",
	HostError:           "HostError",
	StackOverflow:       "StackOverflow",
	CodeError:           "CodeError",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// ParseErrorKind maps a kind name back to its ErrorKind.
func ParseErrorKind(name string) (ErrorKind, bool) {
	for k, s := range kindNames {
		if s == name {
			return k, true
		}
	}
	return 0, false
}

// Location identifies an instruction inside a registered segment.
type Location struct {
	Segment SegmentID
	Addr    OpAddr
}

func (l Location) String() string {
	return fmt.Sprintf("seg %d @%d", l.Segment, l.Addr)
}

// Fault is the error type produced by every failing VM operation.
//
// The first frame that observes a fault stamps its location; each frame the
// fault unwinds through appends its own location to Trace. Faults compare
// equal under errors.Is when their kinds match, so the Err* sentinels below
// can be used to test for a kind.
type Fault struct {
	Kind ErrorKind
	Msg  string

	located bool
	At      Location
	Trace   []Location

	// Err is the underlying cause, if any (host failures, context errors).
	Err error
}

// Sentinels for errors.Is.
var (
	ErrType                = &Fault{Kind: TypeError}
	ErrIndex               = &Fault{Kind: IndexError}
	ErrArity               = &Fault{Kind: ArityError}
	ErrDivideByZero        = &Fault{Kind: DivideByZero}
	ErrCyclicForce         = &Fault{Kind: CyclicForce}
	ErrUnregisteredSegment = &Fault{Kind: UnregisteredSegment}
	ErrCancelled           = &Fault{Kind: Cancelled}
	ErrHost                = &Fault{Kind: HostError}
	ErrStackOverflow       = &Fault{Kind: StackOverflow}
	ErrCode                = &Fault{Kind: CodeError}
)

func faultf(kind ErrorKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Kind.String())
	if f.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Msg)
	}
	if f.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(f.Err.Error())
	}
	if f.located {
		sb.WriteString(" (at ")
		sb.WriteString(f.At.String())
		sb.WriteString(")")
	}
	return sb.String()
}

func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is a Fault of the same kind.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	return ok && t.Kind == f.Kind
}

// clone returns a copy safe to annotate independently of f.
func (f *Fault) clone() *Fault {
	c := *f
	if len(f.Trace) > 0 {
		c.Trace = append([]Location(nil), f.Trace...)
	}
	return &c
}

// Located reports whether the fault carries an instruction location.
func (f *Fault) Located() bool { return f.located }

// KindOf returns the fault kind of err, or 0 if err is not a *Fault.
func KindOf(err error) ErrorKind {
	var f *Fault
	if asFault(err, &f) {
		return f.Kind
	}
	return 0
}

func asFault(err error, out **Fault) bool {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			*out = f
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// unwind records that err passed through the frame at loc. The innermost
// location is kept; outer frames are appended to the trace. Non-fault errors
// are wrapped as CodeError so that callers always see a *Fault.
func unwind(err error, loc Location) *Fault {
	var f *Fault
	if !asFault(err, &f) {
		f = &Fault{Kind: CodeError, Err: err}
	}
	if !f.located {
		f.located = true
		f.At = loc
		return f
	}
	f.Trace = append(f.Trace, loc)
	return f
}
