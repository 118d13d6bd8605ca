package server

import (
	"errors"

	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

// Procedure names of the execution service.
const (
	ServiceName = "atlas.v1.ExecutionService"

	RegisterProcedure = "/" + ServiceName + "/Register"
	InvokeProcedure   = "/" + ServiceName + "/Invoke"
	CancelProcedure   = "/" + ServiceName + "/Cancel"
	StatusProcedure   = "/" + ServiceName + "/Status"
)

// RegisterRequest carries a closed batch of codes. Code ids are local to
// the batch; targets name either codes in the batch or segments the server
// already has.
type RegisterRequest struct {
	Codes []dist.Code `cbor:"1,keyasint"`
}

// RegisterResponse maps every batch id to the segment it was installed as.
// PersistError is set when the segments were installed but the server's
// store failed to record them.
type RegisterResponse struct {
	Assigned     map[uint64]uint64 `cbor:"1,keyasint"`
	PersistError string            `cbor:"2,keyasint,omitempty"`
}

// ErrNotPersisted is returned by Client.Register, together with the
// assigned ids, when the server installed the codes but could not persist
// them.
var ErrNotPersisted = errors.New("registered but not persisted")

// InvokeRequest runs a registered segment with arguments. An empty
// Invocation gets a fresh id; callers that want to cancel pick their own.
type InvokeRequest struct {
	Invocation string                    `cbor:"1,keyasint,omitempty"`
	Segment    uint64                    `cbor:"2,keyasint"`
	Args       []dist.WireValue          `cbor:"3,keyasint,omitempty"`
	Named      map[string]dist.WireValue `cbor:"4,keyasint,omitempty"`
}

// FaultInfo reports a VM fault across the wire.
type FaultInfo struct {
	Kind    string   `cbor:"1,keyasint"`
	Message string   `cbor:"2,keyasint"`
	At      string   `cbor:"3,keyasint,omitempty"`
	Trace   []string `cbor:"4,keyasint,omitempty"`
}

// InvokeResponse holds either a result or a fault.
type InvokeResponse struct {
	Invocation string          `cbor:"1,keyasint"`
	Result     *dist.WireValue `cbor:"2,keyasint,omitempty"`
	Fault      *FaultInfo      `cbor:"3,keyasint,omitempty"`
}

// CancelRequest names an in-flight invocation.
type CancelRequest struct {
	Invocation string `cbor:"1,keyasint"`
}

// CancelResponse reports whether the invocation was running.
type CancelResponse struct {
	Cancelled bool `cbor:"1,keyasint"`
}

// StatusRequest has no fields.
type StatusRequest struct{}

// StatusResponse describes the server's program and workload.
type StatusResponse struct {
	Segments     int      `cbor:"1,keyasint"`
	NextID       uint64   `cbor:"2,keyasint"`
	Running      []string `cbor:"3,keyasint,omitempty"`
	Capabilities []string `cbor:"4,keyasint,omitempty"`
	Policy       string   `cbor:"5,keyasint"`
	Persistent   bool     `cbor:"6,keyasint"`
}

// faultInfo converts err into wire form. Errors that are not faults are
// reported with an empty kind.
func faultInfo(err error) *FaultInfo {
	var f *vm.Fault
	if !errors.As(err, &f) {
		return &FaultInfo{Message: err.Error()}
	}
	info := &FaultInfo{Kind: f.Kind.String(), Message: f.Error()}
	if f.Located() {
		info.At = f.At.String()
	}
	for _, loc := range f.Trace {
		info.Trace = append(info.Trace, loc.String())
	}
	return info
}
