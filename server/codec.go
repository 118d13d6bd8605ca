package server

import (
	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/atlas/vm/dist"
)

// CodecName is the connect codec name; it travels as application/cbor.
const CodecName = "cbor"

// cborCodec is a connect codec for the plain Go message structs in this
// package, using the canonical encoding of the code wire format.
type cborCodec struct {
	dec cbor.DecMode
}

var _ connect.Codec = (*cborCodec)(nil)

func newCodec() *cborCodec {
	dec, err := cbor.DecOptions{MaxArrayElements: 1 << 20}.DecMode()
	if err != nil {
		panic("server: cbor decode options: " + err.Error())
	}
	return &cborCodec{dec: dec}
}

func (c *cborCodec) Name() string { return CodecName }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return dist.EncMode().Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	return c.dec.Unmarshal(data, msg)
}

// WithCodec returns the client option selecting the CBOR codec.
func WithCodec() connect.ClientOption {
	return connect.WithCodec(newCodec())
}
