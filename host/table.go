// Package host provides the capability table the VM calls out to. Code
// loads a capability with a Host(name) immediate; the table routes the call
// to a registered handler after checking it against a Policy.
package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chazu/atlas/vm"
	"github.com/tliron/commonlog"
)

// ErrUnknownCapability is returned for capabilities with no handler.
var ErrUnknownCapability = errors.New("unknown capability")

// Handler serves one capability. req has been fully resolved.
type Handler func(ctx context.Context, req vm.Value) (vm.Value, error)

// Table is a vm.Host dispatching to named handlers.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	policy   *Policy
	now      func() time.Time
	log      commonlog.Logger
}

var _ vm.Host = (*Table)(nil)

// Option configures a Table.
type Option func(*Table)

// WithPolicy restricts which capabilities the table will serve.
func WithPolicy(p *Policy) Option {
	return func(t *Table) { t.policy = p }
}

// WithClock replaces the time source of clock.now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithLogger overrides the logger used by the log capability.
func WithLogger(l commonlog.Logger) Option {
	return func(t *Table) { t.log = l }
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		handlers: make(map[string]Handler),
		policy:   NewPermissivePolicy(),
		now:      time.Now,
		log:      commonlog.GetLogger("atlas.host"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewDefaultTable creates a table serving the built-in capabilities.
func NewDefaultTable(opts ...Option) *Table {
	t := NewTable(opts...)
	t.registerBuiltins()
	return t
}

// Handle registers h for capability, replacing any previous handler.
func (t *Table) Handle(capability string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[capability] = h
}

// Names returns the registered capabilities, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Policy returns the table's policy.
func (t *Table) Policy() *Policy { return t.policy }

// Call implements vm.Host.
func (t *Table) Call(ctx context.Context, capability string, req vm.Value) (vm.Value, error) {
	if !t.policy.Allows(capability) {
		return nil, fmt.Errorf("%w: %s", ErrDenied, capability)
	}
	t.mu.RLock()
	h, ok := t.handlers[capability]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
	return h(ctx, req)
}
