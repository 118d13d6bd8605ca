package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Thunk: memoized deferred computation
// ---------------------------------------------------------------------------

// ThunkState is the evaluation state of a Thunk.
type ThunkState uint32

const (
	Unforced ThunkState = iota
	InProgress
	Forced
	Poisoned
)

func (s ThunkState) String() string {
	switch s {
	case Unforced:
		return "unforced"
	case InProgress:
		return "in-progress"
	case Forced:
		return "forced"
	case Poisoned:
		return "poisoned"
	default:
		return fmt.Sprintf("ThunkState(%d)", uint32(s))
	}
}

// Thunk defers the invocation of a saturated closure. It is evaluated at
// most once: the first forcer runs it, concurrent forcers wait for that
// result, and later forcers read the memoized value or error.
type Thunk struct {
	state atomic.Uint32

	mu   sync.Mutex
	fn   *Closure      // pending computation while Unforced or InProgress
	done chan struct{} // closed on transition to Forced or Poisoned
	val  Value
	err  *Fault

	owner   atomic.Pointer[task]
	waiters atomic.Int32
}

// NewThunk defers invoking fn.
func NewThunk(fn *Closure) *Thunk {
	return &Thunk{fn: fn}
}

func (*Thunk) Kind() Kind { return KindThunk }
func (*Thunk) value()     {}

func (t *Thunk) String() string {
	switch t.State() {
	case Forced:
		return str(t.val)
	case Poisoned:
		return "<poisoned thunk: " + t.err.Kind.String() + ">"
	}
	return "<thunk>"
}

// State returns the current state.
func (t *Thunk) State() ThunkState { return ThunkState(t.state.Load()) }

// Forced reports whether the thunk holds a value.
func (t *Thunk) Forced() bool { return t.State() == Forced }

// Value returns the memoized value of a forced thunk.
func (t *Thunk) Value() (Value, bool) {
	if t.State() != Forced {
		return nil, false
	}
	return t.val, true
}

// Err returns the error of a poisoned thunk.
func (t *Thunk) Err() error {
	if t.State() != Poisoned {
		return nil
	}
	return t.err.clone()
}

// scopeSet binds a capture of the pending computation in place. Only an
// unforced thunk can be updated; this is what lets a thunk capture itself.
func (t *Thunk) scopeSet(reg RegAddr, v Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ThunkState(t.state.Load()) != Unforced {
		return faultf(TypeError, "ScopeSet on %s thunk", t.State())
	}
	t.fn = t.fn.withCapture(reg, v)
	return nil
}

// settled returns the outcome of a forced or poisoned thunk.
func (t *Thunk) settled() (Value, bool, error) {
	switch ThunkState(t.state.Load()) {
	case Forced:
		return t.val, true, nil
	case Poisoned:
		return nil, true, t.err.clone()
	}
	return nil, false, nil
}

// force evaluates t on behalf of tk.
func (t *Thunk) force(tk *task) (Value, error) {
	if v, ok, err := t.settled(); ok {
		return v, err
	}

	t.mu.Lock()
	if v, ok, err := t.settled(); ok {
		t.mu.Unlock()
		return v, err
	}
	if ThunkState(t.state.Load()) == Unforced {
		fn := t.fn
		t.done = make(chan struct{})
		t.owner.Store(tk)
		t.state.Store(uint32(InProgress))
		t.mu.Unlock()
		return t.finish(tk.evaluate(fn))
	}

	// InProgress
	owner := t.owner.Load()
	done := t.done
	if owner == tk {
		f := faultf(CyclicForce, "thunk forced itself")
		t.poisonLocked(f)
		t.mu.Unlock()
		return nil, f.clone()
	}
	t.mu.Unlock()
	return t.wait(tk, done)
}

// wait blocks until the owner settles t or tk's context ends.
func (t *Thunk) wait(tk *task, done chan struct{}) (Value, error) {
	tk.waiting.Store(t)
	defer tk.waiting.Store(nil)
	if tk.waitsOnItself(t) {
		return nil, faultf(CyclicForce, "thunk depends on itself across invocations")
	}

	t.waiters.Add(1)
	defer t.waiters.Add(-1)
	select {
	case <-done:
	case <-tk.ctx.Done():
		return nil, &Fault{Kind: Cancelled, Msg: "wait for thunk abandoned", Err: tk.ctx.Err()}
	}
	v, _, err := t.settled()
	return v, err
}

// finish records the owner's outcome. A thunk poisoned while in progress
// keeps its original error.
func (t *Thunk) finish(v Value, err error) (Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ThunkState(t.state.Load()) == InProgress {
		if err != nil {
			var f *Fault
			if !asFault(err, &f) {
				f = &Fault{Kind: CodeError, Err: err}
			}
			t.poisonLocked(f.clone())
		} else {
			t.val = v
			t.fn = nil
			t.owner.Store(nil)
			t.state.Store(uint32(Forced))
			close(t.done)
		}
	}
	v, _, err = t.settled()
	return v, err
}

func (t *Thunk) poisonLocked(f *Fault) {
	t.err = f
	t.fn = nil
	t.owner.Store(nil)
	t.state.Store(uint32(Poisoned))
	close(t.done)
}
