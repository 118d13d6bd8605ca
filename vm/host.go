package vm

import "context"

// Host is the execution environment's I/O capability. The VM calls it for
// Host(name) closures with the fully resolved argument. A returned *Fault
// propagates unchanged; any other error becomes a HostError fault.
type Host interface {
	Call(ctx context.Context, capability string, req Value) (Value, error)
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(ctx context.Context, capability string, req Value) (Value, error)

func (f HostFunc) Call(ctx context.Context, capability string, req Value) (Value, error) {
	return f(ctx, capability, req)
}
