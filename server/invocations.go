package server

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/atlas/vm"
)

// ErrDuplicateInvocation is returned when an invocation id is already in
// flight.
var ErrDuplicateInvocation = errors.New("invocation id already in use")

// invocation is an in-flight call of a segment.
type invocation struct {
	id      string
	segment vm.SegmentID
	cancel  context.CancelFunc
	started time.Time
}

// InvocationStore tracks in-flight invocations by id so they can be
// cancelled from another request.
type InvocationStore struct {
	mu          sync.RWMutex
	invocations map[string]*invocation
}

// NewInvocationStore creates an empty store.
func NewInvocationStore() *InvocationStore {
	return &InvocationStore{invocations: make(map[string]*invocation)}
}

// Start registers an invocation of segment and returns a context that
// Cancel(id) cancels. An empty id is replaced with a fresh uuid. The
// returned done function must be called when the invocation finishes.
func (s *InvocationStore) Start(ctx context.Context, id string, segment vm.SegmentID) (string, context.Context, func(), error) {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invocations[id]; ok {
		cancel()
		return "", nil, nil, ErrDuplicateInvocation
	}
	s.invocations[id] = &invocation{
		id:      id,
		segment: segment,
		cancel:  cancel,
		started: time.Now(),
	}
	done := func() {
		s.mu.Lock()
		delete(s.invocations, id)
		s.mu.Unlock()
		cancel()
	}
	return id, ctx, done, nil
}

// Cancel cancels an in-flight invocation and reports whether it existed.
func (s *InvocationStore) Cancel(id string) bool {
	s.mu.RLock()
	inv, ok := s.invocations[id]
	s.mu.RUnlock()
	if ok {
		inv.cancel()
	}
	return ok
}

// CancelAll cancels every in-flight invocation.
func (s *InvocationStore) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invocations {
		inv.cancel()
	}
}

// Running returns the ids of in-flight invocations, sorted.
func (s *InvocationStore) Running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.invocations))
	for id := range s.invocations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Age returns how long an invocation has been running.
func (s *InvocationStore) Age(id string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invocations[id]
	if !ok {
		return 0, false
	}
	return time.Since(inv.started), true
}
