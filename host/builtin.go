package host

import (
	"context"

	"github.com/chazu/atlas/vm"
)

// Built-in capability names.
const (
	Echo     = "echo"
	ClockNow = "clock.now"
	Log      = "log"
)

func (t *Table) registerBuiltins() {
	t.Handle(Echo, func(_ context.Context, req vm.Value) (vm.Value, error) {
		return req, nil
	})

	// clock.now ignores its argument and returns Unix nanoseconds.
	t.Handle(ClockNow, func(context.Context, vm.Value) (vm.Value, error) {
		return vm.Int(t.now().UnixNano()), nil
	})

	t.Handle(Log, func(_ context.Context, req vm.Value) (vm.Value, error) {
		if s, ok := req.(vm.String); ok {
			t.log.Info(string(s))
		} else {
			t.log.Info(req.String())
		}
		return vm.Unit{}, nil
	})
}
