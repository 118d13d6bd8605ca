package vm

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// task: one logical call chain
// ---------------------------------------------------------------------------

// checkInterval is how many instructions run between context polls.
const checkInterval = 1024

// task is the execution state shared by every frame of one top-level
// invocation. Thunk ownership is tracked per task, which is how a thunk
// forcing itself is told apart from two invocations racing on it.
type task struct {
	vm    *VM
	ctx   context.Context
	depth int
	steps uint32

	waiting atomic.Pointer[Thunk]
}

type taskKey struct{}

// taskFor returns the task carried by ctx for this VM, or a new one. Host
// capabilities that call back into the VM with the context they were given
// stay on the caller's chain.
func (vm *VM) taskFor(ctx context.Context) *task {
	if tk, ok := ctx.Value(taskKey{}).(*task); ok && tk.vm == vm {
		return tk
	}
	tk := &task{vm: vm}
	tk.ctx = context.WithValue(ctx, taskKey{}, tk)
	return tk
}

func (tk *task) cancelled() error {
	if err := tk.ctx.Err(); err != nil {
		return &Fault{Kind: Cancelled, Msg: "invocation cancelled", Err: err}
	}
	return nil
}

// waitsOnItself follows owner and waiting links from t and reports whether
// they lead back to tk.
func (tk *task) waitsOnItself(t *Thunk) bool {
	seen := make(map[*task]struct{})
	for t != nil {
		owner := t.owner.Load()
		if owner == nil {
			return false
		}
		if owner == tk {
			return true
		}
		if _, ok := seen[owner]; ok {
			return false
		}
		seen[owner] = struct{}{}
		t = owner.waiting.Load()
	}
	return false
}

// evaluate runs a thunk's computation. Panics are converted to faults so
// that the thunk is poisoned rather than left in progress.
func (tk *task) evaluate(fn *Closure) (v Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			tk.vm.log.Errorf("panic while forcing thunk: %v\n%s", r, debug.Stack())
			v, err = nil, faultf(CodeError, "panic: %v", r)
		}
	}()
	return tk.invoke(fn)
}

func (tk *task) force(v Value) (Value, error) {
	t, ok := v.(*Thunk)
	if !ok {
		return v, nil
	}
	return t.force(tk)
}

// invoke runs a closure to completion in a new frame.
func (tk *task) invoke(c *Closure) (Value, error) {
	if c.Capability != "" {
		return tk.callHost(c)
	}
	if err := tk.cancelled(); err != nil {
		return nil, err
	}
	if tk.depth >= tk.vm.maxDepth {
		return nil, faultf(StackOverflow, "call depth exceeds %d", tk.vm.maxDepth)
	}
	tk.depth++
	defer func() { tk.depth-- }()
	return tk.run(newFrame(c))
}

func (tk *task) callHost(c *Closure) (Value, error) {
	if c.pos.Len() != 1 {
		return nil, faultf(ArityError, "host capability %s takes one argument, got %d", c.Capability, c.pos.Len())
	}
	arg, _ := c.pos.Index(0)
	req, err := tk.resolve(arg)
	if err != nil {
		return nil, err
	}
	if tk.vm.host == nil {
		return nil, faultf(HostError, "no host for capability %s", c.Capability)
	}
	res, err := tk.vm.host.Call(tk.ctx, c.Capability, req)
	if err != nil {
		var f *Fault
		if asFault(err, &f) {
			return nil, f
		}
		if cerr := tk.cancelled(); cerr != nil {
			return nil, cerr
		}
		return nil, &Fault{Kind: HostError, Msg: c.Capability, Err: err}
	}
	if res == nil {
		return Unit{}, nil
	}
	return tk.force(res)
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes f until Return or a fault.
func (tk *task) run(f *Frame) (Value, error) {
	for {
		if int(f.pc) >= f.seg.Len() {
			return nil, unwind(faultf(CodeError, "execution ran past the end of the segment"), f.location(f.pc))
		}
		at := f.pc
		op := f.seg.ops[at]
		f.pc++

		tk.steps++
		if tk.steps%checkInterval == 0 {
			if err := tk.cancelled(); err != nil {
				return nil, unwind(err, f.location(at))
			}
		}

		var (
			v   Value
			err error
		)
		switch op.Code {
		case OpNegate:
			v, err = Negate(f.get(op.A))
		case OpAdd:
			v, err = Add(f.get(op.A), f.get(op.B))
		case OpMul:
			v, err = Mul(f.get(op.A), f.get(op.B))
		case OpMod:
			v, err = Mod(f.get(op.A), f.get(op.B))
		case OpOr:
			v, err = Or(f.get(op.A), f.get(op.B))
		case OpAnd:
			v, err = And(f.get(op.A), f.get(op.B))
		case OpDecons:
			var tail *List
			if v, tail, err = Decons(f.get(op.A)); err == nil {
				f.set(op.B, tail)
			}
		case OpCons:
			v, err = Cons(f.get(op.A), f.get(op.B))
		case OpIndex:
			v, err = Index(f.get(op.A), f.get(op.B))
		case OpAppend:
			v, err = Append(f.get(op.A), f.get(op.B))
		case OpVariant:
			v, err = MakeVariant(f.get(op.A), f.get(op.B))
		case OpUnwrap:
			v, err = Unwrap(f.get(op.A))
		case OpInsert:
			v, err = Insert(f.get(op.A), f.get(op.B), f.get(op.C))
		case OpLookup:
			v, err = Lookup(f.get(op.A), f.get(op.B))

		case OpUnpackPos:
			var ok bool
			if v, ok = f.nextPositional(); !ok {
				err = faultf(ArityError, "missing positional argument %d", f.posNext+1)
			}
		case OpUnpackNamed:
			var ok bool
			if v, ok = f.takeNamed(op.Name); !ok {
				err = faultf(ArityError, "missing named argument %q", op.Name)
			}
		case OpUnpackOptional:
			var ok bool
			if v, ok = f.takeNamed(op.Name); !ok {
				continue
			}
		case OpUnpackVarPos:
			v = f.restPositional()
		case OpUnpackVarKey:
			v = f.restNamed()

		case OpApplyPos, OpApplyByName, OpApplyVarPos, OpApplyVarKey:
			v, err = tk.apply(op, f.get(op.A), f.get(op.B))

		case OpStore:
			v, err = tk.load(f, op.Prim)
		case OpInvoke:
			var c *Closure
			if c, err = tk.callee(f.get(op.A)); err == nil {
				v, err = tk.invoke(c)
			}
		case OpScopeSet:
			err = tk.scopeSet(f, op)
			if err == nil {
				continue
			}
		case OpForce:
			v, err = tk.force(f.get(op.Dest))

		case OpJmpAddr:
			var taken bool
			if taken, err = condition(f.get(op.A)); err == nil {
				if taken {
					f.pc = op.Addr
				}
				continue
			}
		case OpJmpTarget:
			var taken bool
			if taken, err = condition(f.get(op.A)); err == nil {
				if taken {
					err = tk.transfer(f, op.Target)
				}
				if err == nil {
					continue
				}
			}
		case OpReturn:
			if v, err = tk.force(f.get(op.A)); err == nil {
				return v, nil
			}

		default:
			err = faultf(CodeError, "unknown opcode %s", op.Code)
		}

		if err != nil {
			return nil, unwind(err, f.location(at))
		}
		f.set(op.Dest, v)
	}
}

func condition(v Value) (bool, error) {
	v, err := plain(v, "condition")
	if err != nil {
		return false, err
	}
	b, ok := v.(Bool)
	if !ok {
		return false, faultf(TypeError, "condition must be bool, got %s", describe(v))
	}
	return bool(b), nil
}

// transfer moves f to the start of the segment behind target t. Registers
// and arguments carry over; the current segment is abandoned.
func (tk *task) transfer(f *Frame, t TargetID) error {
	id, ok := f.seg.Target(t)
	if !ok {
		return faultf(CodeError, "target %d out of range", t)
	}
	seg, err := tk.vm.program.Segment(id)
	if err != nil {
		return err
	}
	if err := tk.cancelled(); err != nil {
		return err
	}
	f.seg, f.id, f.pc = seg, id, 0
	return nil
}

// load materializes a Store immediate.
func (tk *task) load(f *Frame, p Primitive) (Value, error) {
	switch p.Kind {
	case PrimKindAddrTarget:
		return newClosure(f.id, f.seg, p.Addr), nil
	case PrimKindExternalTarget:
		id, ok := f.seg.Target(p.Target)
		if !ok {
			return nil, faultf(CodeError, "target %d out of range", p.Target)
		}
		seg, err := tk.vm.program.Segment(id)
		if err != nil {
			return nil, err
		}
		return newClosure(id, seg, 0), nil
	case PrimKindHost:
		return newHostClosure(p.Str), nil
	}
	return p.immediate(), nil
}

// callee forces v and checks that it is callable.
func (tk *task) callee(v Value) (*Closure, error) {
	v, err := tk.force(v)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Closure)
	if !ok {
		return nil, faultf(TypeError, "cannot call %s", describe(v))
	}
	return c, nil
}

func (tk *task) scopeSet(f *Frame, op Op) error {
	src := f.get(op.B)
	switch d := f.get(op.Dest).(type) {
	case *Closure:
		f.set(op.Dest, d.withCapture(op.A, src))
		return nil
	case *Thunk:
		return d.scopeSet(op.A, src)
	default:
		return faultf(TypeError, "ScopeSet on %s", describe(d))
	}
}

// ---------------------------------------------------------------------------
// Curried application
// ---------------------------------------------------------------------------

// apply performs one Apply instruction. A saturated result is deferred
// behind a new thunk.
func (tk *task) apply(op Op, target, arg Value) (Value, error) {
	c, err := tk.callee(target)
	if err != nil {
		return nil, err
	}

	var nc *Closure
	switch op.Code {
	case OpApplyPos:
		nc, err = c.applyPos(arg)
	case OpApplyByName:
		nc, err = c.applyNamed(op.Name, arg)
	case OpApplyVarPos:
		var v Value
		if v, err = tk.force(arg); err != nil {
			return nil, err
		}
		l, ok := v.(*List)
		if !ok {
			return nil, faultf(TypeError, "ApplyVarPos: expected list, got %s", describe(v))
		}
		nc, err = c.applyVarPos(l)
	case OpApplyVarKey:
		var v Value
		if v, err = tk.force(arg); err != nil {
			return nil, err
		}
		r, ok := v.(*Record)
		if !ok {
			return nil, faultf(TypeError, "ApplyVarKey: expected record, got %s", describe(v))
		}
		nc, err = c.applyVarKey(r)
	default:
		return nil, fmt.Errorf("apply: unexpected opcode %s", op.Code)
	}
	if err != nil {
		return nil, err
	}
	if nc.Saturated() {
		return NewThunk(nc), nil
	}
	return nc, nil
}

// ---------------------------------------------------------------------------
// Deep resolution
// ---------------------------------------------------------------------------

// resolve forces v and, recursively, every element of the collections it
// contains.
func (tk *task) resolve(v Value) (Value, error) {
	v, err := tk.force(v)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case *List:
		vals := x.Slice()
		for i, e := range vals {
			if vals[i], err = tk.resolve(e); err != nil {
				return nil, err
			}
		}
		return NewList(vals...), nil
	case *Tuple:
		out := emptyTuple
		for i := 0; i < x.Len(); i++ {
			e, _ := x.Index(i)
			r, err := tk.resolve(e)
			if err != nil {
				return nil, err
			}
			out = out.Append(r)
		}
		return out, nil
	case *Record:
		out := emptyRecord
		x.Range(func(k string, e Value) bool {
			var r Value
			if r, err = tk.resolve(e); err != nil {
				return false
			}
			out = out.Insert(k, r)
			return true
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	case Variant:
		if x.Value == nil {
			return x, nil
		}
		r, err := tk.resolve(x.Value)
		if err != nil {
			return nil, err
		}
		return Variant{Tag: x.Tag, Value: r}, nil
	}
	return v, nil
}
