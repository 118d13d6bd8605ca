// Package dist is the wire format for compiled Atlas code. Segments travel
// as CBOR-encoded Code messages carrying their ops, their target table, and
// their content hash; the receiver rebuilds the segment and verifies the
// hash before registering it.
package dist

// PrimMsg is the wire form of a vm.Primitive.
type PrimMsg struct {
	Kind   uint8   `cbor:"1,keyasint"`
	Addr   uint32  `cbor:"2,keyasint,omitempty"`
	Target uint32  `cbor:"3,keyasint,omitempty"`
	Bool   bool    `cbor:"4,keyasint,omitempty"`
	Int    int64   `cbor:"5,keyasint,omitempty"`
	Float  float64 `cbor:"6,keyasint"`
	Char   int32   `cbor:"7,keyasint,omitempty"`
	Str    string  `cbor:"8,keyasint,omitempty"` // String and Host payloads
	Bytes  []byte  `cbor:"9,keyasint,omitempty"` // Buffer payload
}

// OpMsg is the wire form of a vm.Op.
type OpMsg struct {
	Code   uint8    `cbor:"1,keyasint"`
	Dest   uint32   `cbor:"2,keyasint,omitempty"`
	A      uint32   `cbor:"3,keyasint,omitempty"`
	B      uint32   `cbor:"4,keyasint,omitempty"`
	C      uint32   `cbor:"5,keyasint,omitempty"`
	Name   string   `cbor:"6,keyasint,omitempty"`
	Target uint32   `cbor:"7,keyasint,omitempty"`
	Addr   uint32   `cbor:"8,keyasint,omitempty"`
	Prim   *PrimMsg `cbor:"9,keyasint,omitempty"` // Store only
}

// Code is one segment as shipped between processes.
type Code struct {
	ID           uint64   `cbor:"1,keyasint"`
	Ops          []OpMsg  `cbor:"2,keyasint"`
	Targets      []uint64 `cbor:"3,keyasint,omitempty"`
	Hash         uint64   `cbor:"4,keyasint,omitempty"` // zero skips verification
	Capabilities []string `cbor:"5,keyasint,omitempty"` // host capabilities the segment loads
}

// ProgramMsg is a whole program: the id counter plus every registered
// segment in id order.
type ProgramMsg struct {
	NextID uint64 `cbor:"1,keyasint"`
	Codes  []Code `cbor:"2,keyasint"`
}

// CapabilityManifest declares what host capabilities a set of codes uses.
type CapabilityManifest struct {
	Required []string `cbor:"1,keyasint"`
}
