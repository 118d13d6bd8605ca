package vm

import (
	"math/bits"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"
)

const (
	hamtBits = 5
	hamtMask = 1<<hamtBits - 1
)

// Record is a persistent map from field name to Value, stored as a hash
// array mapped trie. Insert path-copies one root-to-leaf spine.
type Record struct {
	n    int
	root *hamtNode
}

type hamtLeaf struct {
	hash uint64
	key  string
	val  Value
}

type hamtSlot struct {
	leaf *hamtLeaf
	node *hamtNode
}

type hamtNode struct {
	bitmap uint32
	slots  []hamtSlot

	// bucket holds full-hash collisions below the last level.
	bucket []*hamtLeaf
}

var emptyRecord = &Record{root: &hamtNode{}}

// EmptyRecord returns the shared empty record.
func EmptyRecord() *Record { return emptyRecord }

func (*Record) Kind() Kind { return KindRecord }
func (*Record) value()     {}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.n
}

// Insert returns a record with key bound to val.
func (r *Record) Insert(key string, val Value) *Record {
	if r == nil {
		r = emptyRecord
	}
	leaf := &hamtLeaf{hash: xxh3.HashString(key), key: key, val: val}
	root, added := r.root.insert(0, leaf)
	n := r.n
	if added {
		n++
	}
	return &Record{n: n, root: root}
}

// Lookup returns the value bound to key.
func (r *Record) Lookup(key string) (Value, bool) {
	if r.Len() == 0 {
		return nil, false
	}
	h := xxh3.HashString(key)
	n := r.root
	for shift := uint(0); ; shift += hamtBits {
		if shift >= 64 {
			for _, l := range n.bucket {
				if l.key == key {
					return l.val, true
				}
			}
			return nil, false
		}
		bit := uint32(1) << ((h >> shift) & hamtMask)
		if n.bitmap&bit == 0 {
			return nil, false
		}
		s := n.slots[bits.OnesCount32(n.bitmap&(bit-1))]
		if s.node == nil {
			if s.leaf.key == key {
				return s.leaf.val, true
			}
			return nil, false
		}
		n = s.node
	}
}

func (n *hamtNode) insert(shift uint, leaf *hamtLeaf) (*hamtNode, bool) {
	if shift >= 64 {
		bucket := slices.Clone(n.bucket)
		for i, l := range bucket {
			if l.key == leaf.key {
				bucket[i] = leaf
				return &hamtNode{bucket: bucket}, false
			}
		}
		return &hamtNode{bucket: append(bucket, leaf)}, true
	}

	bit := uint32(1) << ((leaf.hash >> shift) & hamtMask)
	idx := bits.OnesCount32(n.bitmap & (bit - 1))
	if n.bitmap&bit == 0 {
		slots := make([]hamtSlot, 0, len(n.slots)+1)
		slots = append(slots, n.slots[:idx]...)
		slots = append(slots, hamtSlot{leaf: leaf})
		slots = append(slots, n.slots[idx:]...)
		return &hamtNode{bitmap: n.bitmap | bit, slots: slots}, true
	}

	slots := slices.Clone(n.slots)
	s := slots[idx]
	added := false
	switch {
	case s.node != nil:
		slots[idx].node, added = s.node.insert(shift+hamtBits, leaf)
	case s.leaf.key == leaf.key:
		slots[idx].leaf = leaf
	default:
		child, _ := (&hamtNode{}).insert(shift+hamtBits, s.leaf)
		child, _ = child.insert(shift+hamtBits, leaf)
		slots[idx] = hamtSlot{node: child}
		added = true
	}
	return &hamtNode{bitmap: n.bitmap, slots: slots}, added
}

func (n *hamtNode) each(fn func(*hamtLeaf)) {
	for _, l := range n.bucket {
		fn(l)
	}
	for _, s := range n.slots {
		if s.node != nil {
			s.node.each(fn)
		} else {
			fn(s.leaf)
		}
	}
}

// Keys returns the field names in sorted order.
func (r *Record) Keys() []string {
	if r.Len() == 0 {
		return nil
	}
	keys := make([]string, 0, r.n)
	r.root.each(func(l *hamtLeaf) { keys = append(keys, l.key) })
	slices.Sort(keys)
	return keys
}

// Range calls fn for each field in sorted key order until fn returns false.
func (r *Record) Range(fn func(key string, val Value) bool) {
	if r.Len() == 0 {
		return
	}
	leaves := make([]*hamtLeaf, 0, r.n)
	r.root.each(func(l *hamtLeaf) { leaves = append(leaves, l) })
	slices.SortFunc(leaves, func(a, b *hamtLeaf) int { return strings.Compare(a.key, b.key) })
	for _, l := range leaves {
		if !fn(l.key, l.val) {
			return
		}
	}
}

func (r *Record) equal(o *Record) bool {
	if r == o {
		return true
	}
	if r.Len() != o.Len() {
		return false
	}
	eq := true
	r.Range(func(k string, v Value) bool {
		w, ok := o.Lookup(k)
		eq = ok && Equal(v, w)
		return eq
	})
	return eq
}

func (r *Record) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	r.Range(func(k string, v Value) bool {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(str(v))
		return true
	})
	sb.WriteByte('}')
	return sb.String()
}
