package vm

import (
	"encoding/binary"
	"math"
	"slices"
	"sync"

	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// ContentStore: content-addressed index for segments
// ---------------------------------------------------------------------------

// ContentStore indexes registered segments by their CodeHash so identical
// code compiled twice maps to one SegmentID.
type ContentStore struct {
	mu     sync.RWMutex
	byHash map[CodeHash][]SegmentID
}

// NewContentStore creates an empty content store.
func NewContentStore() *ContentStore {
	return &ContentStore{byHash: make(map[CodeHash][]SegmentID)}
}

// Index records that id holds code with hash h.
func (cs *ContentStore) Index(h CodeHash, id SegmentID) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !slices.Contains(cs.byHash[h], id) {
		cs.byHash[h] = append(cs.byHash[h], id)
	}
}

// Lookup returns the ids indexed under h, oldest first.
func (cs *ContentStore) Lookup(h CodeHash) []SegmentID {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return slices.Clone(cs.byHash[h])
}

// HasHash reports whether any segment is indexed under h.
func (cs *ContentStore) HasHash(h CodeHash) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.byHash[h]) > 0
}

// Count returns the number of distinct hashes.
func (cs *ContentStore) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.byHash)
}

// ---------------------------------------------------------------------------
// Segment hashing
// ---------------------------------------------------------------------------

// HashSegment computes the xxh3 CodeHash of a segment from a deterministic
// big-endian rendering of its ops followed by its target table.
func HashSegment(ops []Op, targets []SegmentID) CodeHash {
	var buf []byte

	writeU32 := func(v uint32) {
		buf = binary.BigEndian.AppendUint32(buf, v)
	}
	writeU64 := func(v uint64) {
		buf = binary.BigEndian.AppendUint64(buf, v)
	}
	writeString := func(s string) {
		writeU32(uint32(len(s)))
		buf = append(buf, s...)
	}

	// Tag byte for segment hash format
	buf = append(buf, 0x01)
	writeU32(uint32(len(ops)))
	for _, op := range ops {
		buf = append(buf, byte(op.Code))
		writeU32(uint32(op.Dest))
		writeU32(uint32(op.A))
		writeU32(uint32(op.B))
		writeU32(uint32(op.C))
		writeString(op.Name)
		writeU32(uint32(op.Target))
		writeU32(uint32(op.Addr))

		p := op.Prim
		buf = append(buf, byte(p.Kind))
		switch p.Kind {
		case PrimKindAddrTarget:
			writeU32(uint32(p.Addr))
		case PrimKindExternalTarget:
			writeU32(uint32(p.Target))
		case PrimKindBool:
			if p.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case PrimKindInt:
			writeU64(uint64(p.Int))
		case PrimKindFloat:
			writeU64(math.Float64bits(p.Float))
		case PrimKindChar:
			writeU32(uint32(p.Char))
		case PrimKindString, PrimKindBuffer, PrimKindHost:
			writeString(p.Str)
		}
	}

	writeU32(uint32(len(targets)))
	for _, t := range targets {
		writeU64(uint64(t))
	}

	return CodeHash(xxh3.Hash(buf))
}
