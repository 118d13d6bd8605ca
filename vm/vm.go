package vm

import (
	"context"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: the Atlas virtual machine
// ---------------------------------------------------------------------------

// DefaultMaxDepth bounds nested invocations per call chain.
const DefaultMaxDepth = 10000

// VM executes segments of a Program. A VM holds no per-invocation state;
// any number of goroutines may run invocations concurrently.
type VM struct {
	program  *Program
	host     Host
	maxDepth int
	log      commonlog.Logger
}

// Option configures a VM.
type Option func(*VM)

// WithHost sets the capability host used by Host(name) closures.
func WithHost(h Host) Option {
	return func(vm *VM) { vm.host = h }
}

// WithMaxDepth sets the maximum invocation depth. Values below one are
// ignored.
func WithMaxDepth(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxDepth = n
		}
	}
}

// WithLogger overrides the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.log = l }
}

// New creates a VM over p.
func New(p *Program, opts ...Option) *VM {
	vm := &VM{
		program:  p,
		maxDepth: DefaultMaxDepth,
		log:      commonlog.GetLogger("atlas.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Program returns the program the VM executes.
func (vm *VM) Program() *Program { return vm.program }

// Args is a set of arguments for Call.
type Args struct {
	Positional []Value
	Named      map[string]Value
}

// Closure returns a closure over the entry of segment id with no arguments
// applied.
func (vm *VM) Closure(id SegmentID) (*Closure, error) {
	seg, err := vm.program.Segment(id)
	if err != nil {
		return nil, err
	}
	return newClosure(id, seg, 0), nil
}

// HostClosure returns the closure a Host(capability) immediate loads.
func (vm *VM) HostClosure(capability string) *Closure {
	return newHostClosure(capability)
}

// Run invokes segment id with no arguments.
func (vm *VM) Run(ctx context.Context, id SegmentID) (Value, error) {
	c, err := vm.Closure(id)
	if err != nil {
		return nil, err
	}
	return vm.Invoke(ctx, c)
}

// Invoke forces callee if it is a thunk and runs the resulting closure.
func (vm *VM) Invoke(ctx context.Context, callee Value) (Value, error) {
	tk := vm.taskFor(ctx)
	c, err := tk.callee(callee)
	if err != nil {
		return nil, err
	}
	v, err := tk.invoke(c)
	if err != nil {
		vm.log.Debugf("invocation of %s failed: %s", c, err)
	}
	return v, err
}

// Call applies args to callee and invokes it. Positional arguments are
// applied in order, then named arguments.
func (vm *VM) Call(ctx context.Context, callee Value, args Args) (Value, error) {
	tk := vm.taskFor(ctx)
	c, err := tk.callee(callee)
	if err != nil {
		return nil, err
	}
	for _, a := range args.Positional {
		if c, err = c.applyPos(a); err != nil {
			return nil, err
		}
	}
	if len(args.Named) > 0 {
		named := emptyRecord
		for k, v := range args.Named {
			named = named.Insert(k, v)
		}
		var fail error
		named.Range(func(k string, v Value) bool {
			c, fail = c.applyNamed(k, v)
			return fail == nil
		})
		if fail != nil {
			return nil, fail
		}
	}
	return tk.invoke(c)
}

// Apply performs one curried positional application, as ApplyPos does.
func (vm *VM) Apply(ctx context.Context, callee, arg Value) (Value, error) {
	return vm.taskFor(ctx).apply(Op{Code: OpApplyPos}, callee, arg)
}

// Force evaluates v if it is a thunk.
func (vm *VM) Force(ctx context.Context, v Value) (Value, error) {
	return vm.taskFor(ctx).force(v)
}

// Resolve forces v and every value nested in its lists, tuples, records,
// and variants.
func (vm *VM) Resolve(ctx context.Context, v Value) (Value, error) {
	return vm.taskFor(ctx).resolve(v)
}
