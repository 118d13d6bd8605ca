package dist

import (
	"errors"
	"fmt"

	"github.com/chazu/atlas/vm"
	"github.com/fxamacker/cbor/v2"
)

// ErrNotTransferable is returned for values that have no wire form:
// closures and unforced thunks.
var ErrNotTransferable = errors.New("dist: value is not transferable")

// WireValue is the wire form of plain data. Items holds list and tuple
// elements, record values (paired with Keys), and a variant's payload.
type WireValue struct {
	Kind  uint8       `cbor:"1,keyasint"`
	Bool  bool        `cbor:"2,keyasint,omitempty"`
	Int   int64       `cbor:"3,keyasint,omitempty"`
	Float float64     `cbor:"4,keyasint,omitempty"`
	Char  int32       `cbor:"5,keyasint,omitempty"`
	Str   string      `cbor:"6,keyasint,omitempty"` // String payload, variant tag
	Bytes []byte      `cbor:"7,keyasint,omitempty"`
	Items []WireValue `cbor:"8,keyasint,omitempty"`
	Keys  []string    `cbor:"9,keyasint,omitempty"`
}

// ToWire converts v. Forced thunks are read through; resolve values with
// vm.VM.Resolve first to force nested thunks.
func ToWire(v vm.Value) (WireValue, error) {
	if v == nil {
		v = vm.Unit{}
	}
	w := WireValue{Kind: uint8(v.Kind())}
	switch x := v.(type) {
	case vm.Unit:
	case vm.Bool:
		w.Bool = bool(x)
	case vm.Int:
		w.Int = int64(x)
	case vm.Float:
		w.Float = float64(x)
	case vm.Char:
		w.Char = int32(x)
	case vm.String:
		w.Str = string(x)
	case vm.Buffer:
		w.Bytes = x.Bytes()
	case *vm.List:
		return w, toWireItems(&w, x.Slice())
	case *vm.Tuple:
		return w, toWireItems(&w, x.Slice())
	case *vm.Record:
		var err error
		x.Range(func(k string, val vm.Value) bool {
			var item WireValue
			if item, err = ToWire(val); err != nil {
				return false
			}
			w.Keys = append(w.Keys, k)
			w.Items = append(w.Items, item)
			return true
		})
		return w, err
	case vm.Variant:
		w.Str = x.Tag
		if x.Value != nil {
			return w, toWireItems(&w, []vm.Value{x.Value})
		}
	case *vm.Thunk:
		if val, ok := x.Value(); ok {
			return ToWire(val)
		}
		return w, fmt.Errorf("%w: %s thunk", ErrNotTransferable, x.State())
	default:
		return w, fmt.Errorf("%w: %s", ErrNotTransferable, v.Kind())
	}
	return w, nil
}

func toWireItems(w *WireValue, vals []vm.Value) error {
	w.Items = make([]WireValue, len(vals))
	for i, val := range vals {
		item, err := ToWire(val)
		if err != nil {
			return err
		}
		w.Items[i] = item
	}
	return nil
}

// FromWire converts w back to a value.
func FromWire(w WireValue) (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindUnit:
		return vm.Unit{}, nil
	case vm.KindBool:
		return vm.Bool(w.Bool), nil
	case vm.KindInt:
		return vm.Int(w.Int), nil
	case vm.KindFloat:
		return vm.Float(w.Float), nil
	case vm.KindChar:
		return vm.Char(w.Char), nil
	case vm.KindString:
		return vm.String(w.Str), nil
	case vm.KindBuffer:
		return vm.NewBuffer(w.Bytes), nil
	case vm.KindList:
		vals, err := fromWireItems(w.Items)
		if err != nil {
			return nil, err
		}
		return vm.NewList(vals...), nil
	case vm.KindTuple:
		vals, err := fromWireItems(w.Items)
		if err != nil {
			return nil, err
		}
		return vm.NewTuple(vals...), nil
	case vm.KindRecord:
		if len(w.Keys) != len(w.Items) {
			return nil, fmt.Errorf("dist: record has %d keys and %d values", len(w.Keys), len(w.Items))
		}
		r := vm.EmptyRecord()
		for i, k := range w.Keys {
			val, err := FromWire(w.Items[i])
			if err != nil {
				return nil, err
			}
			r = r.Insert(k, val)
		}
		return r, nil
	case vm.KindVariant:
		switch len(w.Items) {
		case 0:
			return vm.Variant{Tag: w.Str}, nil
		case 1:
			val, err := FromWire(w.Items[0])
			if err != nil {
				return nil, err
			}
			return vm.Variant{Tag: w.Str, Value: val}, nil
		}
		return nil, fmt.Errorf("dist: variant %s has %d payloads", w.Str, len(w.Items))
	}
	return nil, fmt.Errorf("%w: kind %s", ErrNotTransferable, vm.Kind(w.Kind))
}

func fromWireItems(items []WireValue) ([]vm.Value, error) {
	vals := make([]vm.Value, len(items))
	for i, item := range items {
		val, err := FromWire(item)
		if err != nil {
			return nil, err
		}
		vals[i] = val
	}
	return vals, nil
}

// MarshalValue converts v and serializes it to CBOR bytes.
func MarshalValue(v vm.Value) ([]byte, error) {
	w, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalValue deserializes a MarshalValue payload.
func UnmarshalValue(data []byte) (vm.Value, error) {
	var w WireValue
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("dist: unmarshal value: %w", err)
	}
	return FromWire(w)
}
