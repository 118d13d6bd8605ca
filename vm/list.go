package vm

import "strings"

// List is a persistent singly linked list. The empty list is a *List with
// length zero; a nil *List is also treated as empty.
type List struct {
	head Value
	tail *List
	n    int
}

var emptyList = &List{}

// EmptyList returns the shared empty list.
func EmptyList() *List { return emptyList }

// NewList builds a list holding vals in order.
func NewList(vals ...Value) *List {
	l := emptyList
	for i := len(vals) - 1; i >= 0; i-- {
		l = l.Cons(vals[i])
	}
	return l
}

func (*List) Kind() Kind { return KindList }
func (*List) value()     {}

// Len returns the number of elements.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return l.n
}

// Cons returns a new list whose tail is l.
func (l *List) Cons(head Value) *List {
	if l == nil {
		l = emptyList
	}
	return &List{head: head, tail: l, n: l.n + 1}
}

// Decons splits off the head. The returned tail is l's own tail, not a copy.
func (l *List) Decons() (Value, *List, bool) {
	if l.Len() == 0 {
		return nil, nil, false
	}
	return l.head, l.tail, true
}

// At returns the i-th element.
func (l *List) At(i int) (Value, bool) {
	if i < 0 || i >= l.Len() {
		return nil, false
	}
	for ; i > 0; i-- {
		l = l.tail
	}
	return l.head, true
}

// Slice copies the elements into a new slice.
func (l *List) Slice() []Value {
	out := make([]Value, 0, l.Len())
	for ; l.Len() > 0; l = l.tail {
		out = append(out, l.head)
	}
	return out
}

func (l *List) equal(o *List) bool {
	if l.Len() != o.Len() {
		return false
	}
	for ; l.Len() > 0; l, o = l.tail, o.tail {
		if l == o {
			return true
		}
		if !Equal(l.head, o.head) {
			return false
		}
	}
	return true
}

func (l *List) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range l.Slice() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(str(v))
	}
	sb.WriteByte(']')
	return sb.String()
}

func str(v Value) string {
	if v == nil {
		return Unit{}.String()
	}
	return v.String()
}
