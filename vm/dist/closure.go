package dist

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/atlas/vm"
)

// ErrMissingDependency is returned by Install when a code's target table
// names a segment that is neither in the batch nor already installed.
var ErrMissingDependency = errors.New("dist: missing dependency")

// Reachable computes every segment id reachable from root by following
// target tables, root first, in depth-first discovery order.
func Reachable(p *vm.Program, root vm.SegmentID) ([]vm.SegmentID, error) {
	seen := make(map[vm.SegmentID]bool)
	var result []vm.SegmentID
	var walk func(vm.SegmentID) error

	walk = func(id vm.SegmentID) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		seg, err := p.Segment(id)
		if err != nil {
			return err
		}
		result = append(result, id)
		for _, t := range seg.Targets() {
			if err := walk(t); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return result, nil
}

// Extract returns root and every segment it depends on as codes, ready to
// ship to another process.
func Extract(p *vm.Program, root vm.SegmentID) ([]Code, error) {
	ids, err := Reachable(p, root)
	if err != nil {
		return nil, err
	}
	codes := make([]Code, len(ids))
	for i, id := range ids {
		seg, err := p.Segment(id)
		if err != nil {
			return nil, err
		}
		codes[i] = CodeFromSegment(id, seg)
	}
	return codes, nil
}

// BuildCapabilityManifest gathers the unique host capabilities the ops of
// codes load. Declared Capabilities fields are not consulted. It returns nil
// when none are used.
func BuildCapabilityManifest(codes []Code) *CapabilityManifest {
	var caps []string
	for i := range codes {
		caps = append(caps, msgCapabilities(codes[i].Ops)...)
	}
	if len(caps) == 0 {
		return nil
	}
	slices.Sort(caps)
	return &CapabilityManifest{Required: slices.Compact(caps)}
}

// Install verifies codes and registers them in p under fresh ids, rewriting
// target tables to match. Targets may name another code in the batch by its
// wire id, or a segment already registered in p when known is true for it.
// The returned map takes wire ids to installed ids.
//
// Codes without targets are interned, so shipping the same leaf twice
// reuses the first copy.
func Install(p *vm.Program, codes []Code, known func(vm.SegmentID) bool) (map[uint64]vm.SegmentID, error) {
	segs := make([]*vm.Segment, len(codes))
	ids := make(map[uint64]vm.SegmentID, len(codes))
	for i := range codes {
		if _, dup := ids[codes[i].ID]; dup {
			return nil, fmt.Errorf("dist: duplicate code id %d", codes[i].ID)
		}
		seg, err := SegmentFromCode(&codes[i])
		if err != nil {
			return nil, err
		}
		segs[i] = seg
		ids[codes[i].ID] = 0
	}

	for i := range codes {
		for _, t := range codes[i].Targets {
			if _, ok := ids[t]; ok || (known != nil && known(vm.SegmentID(t))) {
				continue
			}
			return nil, fmt.Errorf("%w: code %d targets %d", ErrMissingDependency, codes[i].ID, t)
		}
	}

	// Leaves first, so that their interned ids are fixed before anything
	// that targets them is rewritten.
	pending := make([]int, 0, len(codes))
	for i, seg := range segs {
		if len(codes[i].Targets) > 0 {
			pending = append(pending, i)
			continue
		}
		id, _, err := p.Intern(seg)
		if err != nil {
			return nil, err
		}
		ids[codes[i].ID] = id
	}
	for _, i := range pending {
		ids[codes[i].ID] = p.GenID()
	}
	for _, i := range pending {
		rewritten, err := retarget(segs[i], func(t vm.SegmentID) vm.SegmentID {
			if id, ok := ids[uint64(t)]; ok {
				return id
			}
			return t
		})
		if err != nil {
			return nil, fmt.Errorf("dist: code %d: %w", codes[i].ID, err)
		}
		if err := p.Register(ids[codes[i].ID], rewritten); err != nil {
			return nil, fmt.Errorf("dist: code %d: %w", codes[i].ID, err)
		}
	}
	return ids, nil
}

func retarget(seg *vm.Segment, mapID func(vm.SegmentID) vm.SegmentID) (*vm.Segment, error) {
	targets := seg.Targets()
	for i, t := range targets {
		targets[i] = mapID(t)
	}
	return vm.NewSegment(seg.Ops(), targets)
}
