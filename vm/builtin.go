package vm

import "math"

// ---------------------------------------------------------------------------
// Builtin operations
// ---------------------------------------------------------------------------

// The functions below implement the builtin instructions. They never mutate
// their operands. Operands they inspect must already be evaluated: a forced
// thunk is read through, any other thunk is a TypeError. Operands that are
// only stored (list heads, tuple items, record values, variant payloads)
// may be unevaluated.

// plain reads through a forced thunk and rejects unevaluated ones.
func plain(v Value, what string) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Unit{}, nil
	case *Thunk:
		if val, ok := x.Value(); ok {
			return val, nil
		}
		return nil, faultf(TypeError, "%s is an unforced thunk", what)
	}
	return v, nil
}

// Negate returns the arithmetic negation of an Int or Float.
func Negate(src Value) (Value, error) {
	v, err := plain(src, "operand")
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case Int:
		return -x, nil
	case Float:
		return -x, nil
	}
	return nil, faultf(TypeError, "cannot negate %s", describe(v))
}

func numbers(op string, left, right Value) (Value, Value, error) {
	l, err := plain(left, "left operand")
	if err != nil {
		return nil, nil, err
	}
	r, err := plain(right, "right operand")
	if err != nil {
		return nil, nil, err
	}
	switch l.(type) {
	case Int:
		if _, ok := r.(Int); ok {
			return l, r, nil
		}
	case Float:
		if _, ok := r.(Float); ok {
			return l, r, nil
		}
	}
	return nil, nil, faultf(TypeError, "%s: mismatched operands %s and %s", op, describe(l), describe(r))
}

// Add sums two Ints (wrapping) or two Floats.
func Add(left, right Value) (Value, error) {
	l, r, err := numbers("Add", left, right)
	if err != nil {
		return nil, err
	}
	if x, ok := l.(Int); ok {
		return x + r.(Int), nil
	}
	return checkFloat(float64(l.(Float))+float64(r.(Float)), "Add")
}

// Mul multiplies two Ints (wrapping) or two Floats.
func Mul(left, right Value) (Value, error) {
	l, r, err := numbers("Mul", left, right)
	if err != nil {
		return nil, err
	}
	if x, ok := l.(Int); ok {
		return x * r.(Int), nil
	}
	return checkFloat(float64(l.(Float))*float64(r.(Float)), "Mul")
}

// Mod is the truncated remainder: the result has the sign of the dividend.
func Mod(left, right Value) (Value, error) {
	l, r, err := numbers("Mod", left, right)
	if err != nil {
		return nil, err
	}
	if x, ok := l.(Int); ok {
		y := r.(Int)
		if y == 0 {
			return nil, faultf(DivideByZero, "Mod by zero")
		}
		return x % y, nil
	}
	y := float64(r.(Float))
	if y == 0 {
		return nil, faultf(DivideByZero, "Mod by zero")
	}
	return checkFloat(math.Mod(float64(l.(Float)), y), "Mod")
}

func bools(op string, left, right Value) (Bool, Bool, error) {
	l, err := plain(left, "left operand")
	if err != nil {
		return false, false, err
	}
	r, err := plain(right, "right operand")
	if err != nil {
		return false, false, err
	}
	x, ok1 := l.(Bool)
	y, ok2 := r.(Bool)
	if !ok1 || !ok2 {
		return false, false, faultf(TypeError, "%s: expected bool operands, got %s and %s", op, describe(l), describe(r))
	}
	return x, y, nil
}

// Or is the logical or of two Bools.
func Or(left, right Value) (Value, error) {
	x, y, err := bools("Or", left, right)
	if err != nil {
		return nil, err
	}
	return x || y, nil
}

// And is the logical and of two Bools.
func And(left, right Value) (Value, error) {
	x, y, err := bools("And", left, right)
	if err != nil {
		return nil, err
	}
	return x && y, nil
}

func asList(v Value, op string) (*List, error) {
	v, err := plain(v, op+" operand")
	if err != nil {
		return nil, err
	}
	l, ok := v.(*List)
	if !ok {
		return nil, faultf(TypeError, "%s: expected list, got %s", op, describe(v))
	}
	return l, nil
}

// Decons splits a non-empty list. The tail is shared, not copied.
func Decons(src Value) (Value, *List, error) {
	l, err := asList(src, "Decons")
	if err != nil {
		return nil, nil, err
	}
	head, tail, ok := l.Decons()
	if !ok {
		return nil, nil, faultf(IndexError, "Decons of empty list")
	}
	return head, tail, nil
}

// Cons prepends head to the list tail.
func Cons(head, tail Value) (Value, error) {
	l, err := asList(tail, "Cons")
	if err != nil {
		return nil, err
	}
	return l.Cons(head), nil
}

// Index returns element index of a Tuple or List, or an IndexError when it
// is out of range.
func Index(src, index Value) (Value, error) {
	s, err := plain(src, "indexed value")
	if err != nil {
		return nil, err
	}
	iv, err := plain(index, "index")
	if err != nil {
		return nil, err
	}
	i, ok := iv.(Int)
	if !ok {
		return nil, faultf(TypeError, "index must be int, got %s", describe(iv))
	}
	var (
		v     Value
		found bool
		n     int
	)
	switch x := s.(type) {
	case *Tuple:
		n = x.Len()
		if i >= 0 && int64(i) < int64(n) {
			v, found = x.Index(int(i))
		}
	case *List:
		n = x.Len()
		if i >= 0 && int64(i) < int64(n) {
			v, found = x.At(int(i))
		}
	default:
		return nil, faultf(TypeError, "cannot index %s", describe(s))
	}
	if !found {
		return nil, faultf(IndexError, "index %d out of range [0, %d)", i, n)
	}
	return v, nil
}

// Append returns the tuple with item added at the end.
func Append(tuple, item Value) (Value, error) {
	v, err := plain(tuple, "tuple")
	if err != nil {
		return nil, err
	}
	t, ok := v.(*Tuple)
	if !ok {
		return nil, faultf(TypeError, "Append: expected tuple, got %s", describe(v))
	}
	return t.Append(item), nil
}

func asName(v Value, what string) (string, error) {
	v, err := plain(v, what)
	if err != nil {
		return "", err
	}
	s, ok := v.(String)
	if !ok {
		return "", faultf(TypeError, "%s must be a string, got %s", what, describe(v))
	}
	return string(s), nil
}

// MakeVariant tags val with the String tag.
func MakeVariant(tag, val Value) (Value, error) {
	t, err := asName(tag, "variant tag")
	if err != nil {
		return nil, err
	}
	return Variant{Tag: t, Value: val}, nil
}

// Unwrap returns the payload of a Variant.
func Unwrap(src Value) (Value, error) {
	v, err := plain(src, "operand")
	if err != nil {
		return nil, err
	}
	vr, ok := v.(Variant)
	if !ok {
		return nil, faultf(TypeError, "cannot unwrap %s", describe(v))
	}
	if vr.Value == nil {
		return Unit{}, nil
	}
	return vr.Value, nil
}

func asRecord(v Value, op string) (*Record, error) {
	v, err := plain(v, op+" operand")
	if err != nil {
		return nil, err
	}
	r, ok := v.(*Record)
	if !ok {
		return nil, faultf(TypeError, "%s: expected record, got %s", op, describe(v))
	}
	return r, nil
}

// Insert returns the record with the String key bound to val.
func Insert(rec, key, val Value) (Value, error) {
	r, err := asRecord(rec, "Insert")
	if err != nil {
		return nil, err
	}
	k, err := asName(key, "record key")
	if err != nil {
		return nil, err
	}
	return r.Insert(k, val), nil
}

// Lookup returns the field key of a record, or an IndexError when it is
// missing.
func Lookup(rec, key Value) (Value, error) {
	r, err := asRecord(rec, "Lookup")
	if err != nil {
		return nil, err
	}
	k, err := asName(key, "record key")
	if err != nil {
		return nil, err
	}
	v, ok := r.Lookup(k)
	if !ok {
		return nil, faultf(IndexError, "record has no field %q", k)
	}
	return v, nil
}
