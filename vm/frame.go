package vm

// ---------------------------------------------------------------------------
// Frame: register storage for one segment invocation
// ---------------------------------------------------------------------------

// Frame holds the registers and incoming arguments of one invocation. A
// JmpTarget re-points the frame at another segment and keeps its registers.
type Frame struct {
	seg  *Segment
	id   SegmentID
	pc   OpAddr
	regs []Value

	pos      *Tuple
	posNext  int
	named    *Record
	consumed map[string]struct{}
}

func newFrame(c *Closure) *Frame {
	f := &Frame{
		seg:   c.seg,
		id:    c.Segment,
		pc:    c.Entry,
		pos:   c.pos,
		named: c.named,
	}
	for _, cp := range c.captures {
		f.set(cp.reg, cp.val)
	}
	return f
}

// get reads a register. Unwritten registers read as Unit.
func (f *Frame) get(r RegAddr) Value {
	if int(r) >= len(f.regs) || f.regs[r] == nil {
		return Unit{}
	}
	return f.regs[r]
}

// set writes a register, growing the file as needed.
func (f *Frame) set(r RegAddr, v Value) {
	if int(r) >= len(f.regs) {
		n := max(int(r)+1, 2*len(f.regs), 8)
		regs := make([]Value, n)
		copy(regs, f.regs)
		f.regs = regs
	}
	f.regs[r] = v
}

func (f *Frame) location(at OpAddr) Location {
	return Location{Segment: f.id, Addr: at}
}

// ---------------------------------------------------------------------------
// Argument consumption by the Unpack prologue
// ---------------------------------------------------------------------------

func (f *Frame) nextPositional() (Value, bool) {
	if f.posNext >= f.pos.Len() {
		return nil, false
	}
	v, _ := f.pos.Index(f.posNext)
	f.posNext++
	return v, true
}

func (f *Frame) takeNamed(name string) (Value, bool) {
	if _, used := f.consumed[name]; used {
		return nil, false
	}
	v, ok := f.named.Lookup(name)
	if !ok {
		return nil, false
	}
	if f.consumed == nil {
		f.consumed = make(map[string]struct{})
	}
	f.consumed[name] = struct{}{}
	return v, true
}

func (f *Frame) restPositional() *List {
	rest := emptyList
	for i := f.pos.Len() - 1; i >= f.posNext; i-- {
		v, _ := f.pos.Index(i)
		rest = rest.Cons(v)
	}
	f.posNext = f.pos.Len()
	return rest
}

func (f *Frame) restNamed() *Record {
	rest := emptyRecord
	f.named.Range(func(k string, v Value) bool {
		if _, used := f.consumed[k]; !used {
			rest = rest.Insert(k, v)
		}
		return true
	})
	f.named.Range(func(k string, _ Value) bool {
		if f.consumed == nil {
			f.consumed = make(map[string]struct{})
		}
		f.consumed[k] = struct{}{}
		return true
	})
	return rest
}
