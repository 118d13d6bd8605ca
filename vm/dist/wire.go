package dist

import (
	"errors"
	"fmt"
	"io"

	"github.com/chazu/atlas/vm"
	"github.com/fxamacker/cbor/v2"
)

// ErrHashMismatch is returned when a Code's declared hash differs from the
// hash of the segment rebuilt from it.
var ErrHashMismatch = errors.New("dist: hash mismatch")

// cborEncMode uses canonical mode so that equal messages encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncMode returns the canonical CBOR encoding mode used for all dist
// messages.
func EncMode() cbor.EncMode { return cborEncMode }

// MarshalCode serializes a Code to CBOR bytes.
func MarshalCode(c *Code) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalCode deserializes a Code from CBOR bytes.
func UnmarshalCode(data []byte) (*Code, error) {
	var c Code
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dist: unmarshal code: %w", err)
	}
	return &c, nil
}

// EncodeProgram serializes every registered segment of p.
func EncodeProgram(p *vm.Program) ([]byte, error) {
	msg := ProgramMsg{NextID: uint64(p.NextID())}
	for _, id := range p.IDs() {
		seg, err := p.Segment(id)
		if err != nil {
			return nil, err
		}
		msg.Codes = append(msg.Codes, CodeFromSegment(id, seg))
	}
	return cborEncMode.Marshal(&msg)
}

// DecodeProgram rebuilds a program from EncodeProgram output. Segment ids
// are preserved.
func DecodeProgram(data []byte) (*vm.Program, error) {
	var msg ProgramMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("dist: unmarshal program: %w", err)
	}
	return ProgramFromMsg(&msg)
}

// ProgramFromMsg rebuilds a program with the ids recorded in msg.
func ProgramFromMsg(msg *ProgramMsg) (*vm.Program, error) {
	p := vm.NewProgram()
	p.Reserve(vm.SegmentID(msg.NextID))
	for i := range msg.Codes {
		c := &msg.Codes[i]
		seg, err := SegmentFromCode(c)
		if err != nil {
			return nil, err
		}
		if err := p.Register(vm.SegmentID(c.ID), seg); err != nil {
			return nil, fmt.Errorf("dist: %w", err)
		}
	}
	return p, nil
}

// WriteCodes streams codes to w as a sequence of CBOR items.
func WriteCodes(w io.Writer, codes []Code) error {
	enc := cborEncMode.NewEncoder(w)
	for i := range codes {
		if err := enc.Encode(&codes[i]); err != nil {
			return fmt.Errorf("dist: write code %d: %w", codes[i].ID, err)
		}
	}
	return nil
}

// ReadCodes reads a WriteCodes stream until EOF.
func ReadCodes(r io.Reader) ([]Code, error) {
	dec := cbor.NewDecoder(r)
	var codes []Code
	for {
		var c Code
		err := dec.Decode(&c)
		if errors.Is(err, io.EOF) {
			return codes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("dist: read code %d: %w", len(codes), err)
		}
		codes = append(codes, c)
	}
}
