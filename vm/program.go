package vm

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	// ErrNotReserved is returned when registering an id GenID never issued.
	ErrNotReserved = errors.New("segment id not reserved")
	// ErrAlreadyRegistered is returned when an id already holds a segment.
	ErrAlreadyRegistered = errors.New("segment id already registered")
)

// Program is the growable arena of segments, indexed by SegmentID.
// Entries are never removed or replaced. Ids below the counter that hold
// no segment are reserved; they cost nothing, so the counter may run far
// ahead of the registered segments. Registration is expected to come from
// a single driver; lookups are safe from any goroutine.
type Program struct {
	mu       sync.RWMutex
	segments map[SegmentID]*Segment
	next     SegmentID
	content  *ContentStore
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{segments: make(map[SegmentID]*Segment), content: NewContentStore()}
}

// GenID reserves and returns the next id. The id may be referenced from
// other segments before it is registered.
func (p *Program) GenID() SegmentID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	return id
}

// Reserve advances the id counter so that the next GenID returns at least
// next. It never moves the counter backwards.
func (p *Program) Reserve(next SegmentID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if next > p.next {
		p.next = next
	}
}

// NextID returns the id the next GenID will issue.
func (p *Program) NextID() SegmentID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.next
}

// Register installs seg under a reserved id.
func (p *Program) Register(id SegmentID, seg *Segment) error {
	if seg == nil {
		return fmt.Errorf("register segment %d: nil segment", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id >= p.next {
		return fmt.Errorf("register segment %d: %w", id, ErrNotReserved)
	}
	if p.segments[id] != nil {
		return fmt.Errorf("register segment %d: %w", id, ErrAlreadyRegistered)
	}
	p.segments[id] = seg
	p.content.Index(seg.Hash(), id)
	return nil
}

// Add reserves a fresh id and registers seg under it.
func (p *Program) Add(seg *Segment) (SegmentID, error) {
	id := p.GenID()
	if err := p.Register(id, seg); err != nil {
		return 0, err
	}
	return id, nil
}

// Intern returns the id of a registered segment with the same content as
// seg, registering seg under a fresh id when there is none. The boolean
// reports whether an existing id was reused.
func (p *Program) Intern(seg *Segment) (SegmentID, bool, error) {
	for _, id := range p.content.Lookup(seg.Hash()) {
		if existing, err := p.Segment(id); err == nil && existing.Equal(seg) {
			return id, true, nil
		}
	}
	id, err := p.Add(seg)
	return id, false, err
}

// Segment returns the segment registered under id.
func (p *Program) Segment(id SegmentID) (*Segment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seg, ok := p.segments[id]
	if !ok {
		return nil, faultf(UnregisteredSegment, "segment %d is not registered", id)
	}
	return seg, nil
}

// IDs returns the registered ids in ascending order.
func (p *Program) IDs() []SegmentID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.segments))
}

// Len returns the number of registered segments.
func (p *Program) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.segments)
}

// Equal reports whether both programs register the same segments under the
// same ids and have the same id counter.
func (p *Program) Equal(o *Program) bool {
	if p.NextID() != o.NextID() {
		return false
	}
	ids := p.IDs()
	if len(ids) != len(o.IDs()) {
		return false
	}
	for _, id := range ids {
		a, _ := p.Segment(id)
		b, err := o.Segment(id)
		if err != nil || !a.Equal(b) {
			return false
		}
	}
	return true
}
