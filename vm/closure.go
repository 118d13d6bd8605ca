package vm

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Closure: a segment entry point with a partial argument bag
// ---------------------------------------------------------------------------

// Closure references an entry point in a segment together with the
// arguments applied so far and the registers captured by ScopeSet. A
// closure whose Capability is set calls the host instead of a segment.
//
// Closures are immutable; every Apply or ScopeSet returns a new one.
type Closure struct {
	Segment    SegmentID
	Entry      OpAddr
	Capability string

	seg      *Segment
	sig      Signature
	pos      *Tuple
	named    *Record
	captures []capture
}

type capture struct {
	reg RegAddr
	val Value
}

func newClosure(id SegmentID, seg *Segment, entry OpAddr) *Closure {
	return &Closure{
		Segment: id,
		Entry:   entry,
		seg:     seg,
		sig:     seg.Signature(entry),
		pos:     emptyTuple,
		named:   emptyRecord,
	}
}

func newHostClosure(capability string) *Closure {
	return &Closure{
		Capability: capability,
		sig:        Signature{Positional: 1},
		pos:        emptyTuple,
		named:      emptyRecord,
	}
}

func (*Closure) Kind() Kind { return KindClosure }
func (*Closure) value()     {}

func (c *Closure) String() string {
	if c.Capability != "" {
		return fmt.Sprintf("<host %s/%d>", c.Capability, c.pos.Len())
	}
	return fmt.Sprintf("<closure seg %d @%d/%d>", c.Segment, c.Entry, c.pos.Len()+c.named.Len())
}

// Signature returns the parameter list of the closure's entry point.
func (c *Closure) Signature() Signature { return c.sig }

// Positional returns the positional arguments applied so far.
func (c *Closure) Positional() *Tuple { return c.pos }

// Named returns the named arguments applied so far.
func (c *Closure) Named() *Record { return c.named }

// Saturated reports whether every required parameter is bound. Variadic
// closures never saturate on their own; they run only when invoked.
func (c *Closure) Saturated() bool {
	if c.sig.Variadic() || c.pos.Len() < c.sig.Positional {
		return false
	}
	for _, name := range c.sig.Named {
		if _, ok := c.named.Lookup(name); !ok {
			return false
		}
	}
	return true
}

// Captured returns the value bound to reg by ScopeSet.
func (c *Closure) Captured(reg RegAddr) (Value, bool) {
	for _, cp := range c.captures {
		if cp.reg == reg {
			return cp.val, true
		}
	}
	return nil, false
}

func (c *Closure) derive() *Closure {
	nc := *c
	return &nc
}

func (c *Closure) withCapture(reg RegAddr, v Value) *Closure {
	nc := c.derive()
	nc.captures = slices.Clone(c.captures)
	for i := range nc.captures {
		if nc.captures[i].reg == reg {
			nc.captures[i].val = v
			return nc
		}
	}
	nc.captures = append(nc.captures, capture{reg: reg, val: v})
	return nc
}

func (c *Closure) applyPos(arg Value) (*Closure, error) {
	if !c.sig.VarPos && c.pos.Len() >= c.sig.Positional {
		return nil, faultf(ArityError, "%s takes %d positional arguments", c, c.sig.Positional)
	}
	nc := c.derive()
	nc.pos = c.pos.Append(arg)
	return nc, nil
}

func (c *Closure) applyNamed(name string, arg Value) (*Closure, error) {
	if !c.sig.VarKey && !c.sig.HasNamed(name) {
		return nil, faultf(ArityError, "%s has no parameter %q", c, name)
	}
	nc := c.derive()
	nc.named = c.named.Insert(name, arg)
	return nc, nil
}

func (c *Closure) applyVarPos(args *List) (*Closure, error) {
	nc := c
	for l := args; l.Len() > 0; l = l.tail {
		var err error
		if nc, err = nc.applyPos(l.head); err != nil {
			return nil, err
		}
	}
	if nc == c {
		nc = c.derive()
	}
	return nc, nil
}

func (c *Closure) applyVarKey(args *Record) (*Closure, error) {
	nc := c.derive()
	var err error
	args.Range(func(name string, v Value) bool {
		if _, bound := nc.named.Lookup(name); bound && c.sig.Required(name) {
			err = faultf(ArityError, "%s: required parameter %q already bound", c, name)
			return false
		}
		nc, err = nc.applyNamed(name, v)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return nc, nil
}
