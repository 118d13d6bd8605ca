package vm

import "strings"

const (
	tupleBits  = 5
	tupleWidth = 1 << tupleBits
	tupleMask  = tupleWidth - 1
)

// Tuple is a persistent vector: a 32-way trie of leaves plus a tail buffer
// holding the last partially filled leaf. Append copies at most one path
// from the root and shares every other node with the original.
type Tuple struct {
	cnt   int
	shift uint
	root  *tupleNode
	tail  []Value
}

type tupleNode struct {
	kids []*tupleNode
	vals []Value
}

var emptyTuple = &Tuple{shift: tupleBits, root: &tupleNode{}}

// EmptyTuple returns the shared empty tuple.
func EmptyTuple() *Tuple { return emptyTuple }

// NewTuple builds a tuple holding vals in order.
func NewTuple(vals ...Value) *Tuple {
	t := emptyTuple
	for _, v := range vals {
		t = t.Append(v)
	}
	return t
}

func (*Tuple) Kind() Kind { return KindTuple }
func (*Tuple) value()     {}

// Len returns the number of elements.
func (t *Tuple) Len() int {
	if t == nil {
		return 0
	}
	return t.cnt
}

func (t *Tuple) tailOffset() int {
	if t.cnt < tupleWidth {
		return 0
	}
	return ((t.cnt - 1) >> tupleBits) << tupleBits
}

// Append returns a new tuple with v added at the end.
func (t *Tuple) Append(v Value) *Tuple {
	if t == nil {
		t = emptyTuple
	}
	if t.cnt-t.tailOffset() < tupleWidth {
		tail := make([]Value, len(t.tail)+1)
		copy(tail, t.tail)
		tail[len(t.tail)] = v
		return &Tuple{cnt: t.cnt + 1, shift: t.shift, root: t.root, tail: tail}
	}

	leaf := &tupleNode{vals: t.tail}
	shift := t.shift
	var root *tupleNode
	if (t.cnt >> tupleBits) > (1 << t.shift) {
		root = &tupleNode{kids: []*tupleNode{t.root, newTuplePath(t.shift, leaf)}}
		shift += tupleBits
	} else {
		root = t.pushTail(t.shift, t.root, leaf)
	}
	return &Tuple{cnt: t.cnt + 1, shift: shift, root: root, tail: []Value{v}}
}

func (t *Tuple) pushTail(level uint, parent, leaf *tupleNode) *tupleNode {
	sub := ((t.cnt - 1) >> level) & tupleMask
	n := &tupleNode{kids: make([]*tupleNode, len(parent.kids), max(len(parent.kids), sub+1))}
	copy(n.kids, parent.kids)

	var child *tupleNode
	switch {
	case level == tupleBits:
		child = leaf
	case sub < len(parent.kids):
		child = t.pushTail(level-tupleBits, parent.kids[sub], leaf)
	default:
		child = newTuplePath(level-tupleBits, leaf)
	}
	if sub < len(n.kids) {
		n.kids[sub] = child
	} else {
		n.kids = append(n.kids, child)
	}
	return n
}

func newTuplePath(level uint, leaf *tupleNode) *tupleNode {
	if level == 0 {
		return leaf
	}
	return &tupleNode{kids: []*tupleNode{newTuplePath(level-tupleBits, leaf)}}
}

// Index returns the i-th element.
func (t *Tuple) Index(i int) (Value, bool) {
	if i < 0 || i >= t.Len() {
		return nil, false
	}
	if i >= t.tailOffset() {
		return t.tail[i&tupleMask], true
	}
	n := t.root
	for level := t.shift; level > 0; level -= tupleBits {
		n = n.kids[(i>>level)&tupleMask]
	}
	return n.vals[i&tupleMask], true
}

// Slice copies the elements into a new slice.
func (t *Tuple) Slice() []Value {
	out := make([]Value, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		v, _ := t.Index(i)
		out = append(out, v)
	}
	return out
}

func (t *Tuple) equal(o *Tuple) bool {
	if t == o {
		return true
	}
	if t.Len() != o.Len() {
		return false
	}
	for i := 0; i < t.Len(); i++ {
		a, _ := t.Index(i)
		b, _ := o.Index(i)
		if !Equal(a, b) {
			return false
		}
	}
	return true
}

func (t *Tuple) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range t.Slice() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(str(v))
	}
	if t.Len() == 1 {
		sb.WriteByte(',')
	}
	sb.WriteByte(')')
	return sb.String()
}
