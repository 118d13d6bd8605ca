package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

// Client calls an execution service with the CBOR codec.
type Client struct {
	register *connect.Client[RegisterRequest, RegisterResponse]
	invoke   *connect.Client[InvokeRequest, InvokeResponse]
	cancel   *connect.Client[CancelRequest, CancelResponse]
	status   *connect.Client[StatusRequest, StatusResponse]
}

// NewClient creates a client for the service at baseURL. Extra options
// such as connect.WithGRPC() select another protocol.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithCodec()}, opts...)
	return &Client{
		register: connect.NewClient[RegisterRequest, RegisterResponse](httpClient, baseURL+RegisterProcedure, opts...),
		invoke:   connect.NewClient[InvokeRequest, InvokeResponse](httpClient, baseURL+InvokeProcedure, opts...),
		cancel:   connect.NewClient[CancelRequest, CancelResponse](httpClient, baseURL+CancelProcedure, opts...),
		status:   connect.NewClient[StatusRequest, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
	}
}

// Register sends codes and returns the installed id of each wire id. An
// ErrNotPersisted error comes with a valid map.
func (c *Client) Register(ctx context.Context, codes []dist.Code) (map[uint64]vm.SegmentID, error) {
	resp, err := c.register.CallUnary(ctx, connect.NewRequest(&RegisterRequest{Codes: codes}))
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]vm.SegmentID, len(resp.Msg.Assigned))
	for wire, id := range resp.Msg.Assigned {
		out[wire] = vm.SegmentID(id)
	}
	if msg := resp.Msg.PersistError; msg != "" {
		return out, fmt.Errorf("%w: %s", ErrNotPersisted, msg)
	}
	return out, nil
}

// RegisterProgram extracts root and everything it reaches from p, registers
// it, and returns the id root was installed as.
func (c *Client) RegisterProgram(ctx context.Context, p *vm.Program, root vm.SegmentID) (vm.SegmentID, error) {
	codes, err := dist.Extract(p, root)
	if err != nil {
		return 0, err
	}
	assigned, err := c.Register(ctx, codes)
	return assigned[uint64(root)], err
}

// Invoke calls segment with positional arguments. When invocation is
// empty a fresh id is used; pass your own to cancel the call later.
func (c *Client) Invoke(ctx context.Context, invocation string, segment vm.SegmentID, args ...vm.Value) (*InvokeResponse, error) {
	if invocation == "" {
		invocation = uuid.NewString()
	}
	req := &InvokeRequest{Invocation: invocation, Segment: uint64(segment)}
	for _, a := range args {
		w, err := dist.ToWire(a)
		if err != nil {
			return nil, err
		}
		req.Args = append(req.Args, w)
	}
	resp, err := c.invoke.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Cancel cancels an in-flight invocation.
func (c *Client) Cancel(ctx context.Context, invocation string) (bool, error) {
	resp, err := c.cancel.CallUnary(ctx, connect.NewRequest(&CancelRequest{Invocation: invocation}))
	if err != nil {
		return false, err
	}
	return resp.Msg.Cancelled, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&StatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Value decodes the result of an invocation, or returns its fault as an
// error.
func (r *InvokeResponse) Value() (vm.Value, error) {
	if r.Fault != nil {
		return nil, r.Fault
	}
	if r.Result == nil {
		return vm.Unit{}, nil
	}
	return dist.FromWire(*r.Result)
}

// Error implements error so a reported fault can be returned directly.
func (f *FaultInfo) Error() string { return f.Message }

// Is matches vm fault sentinels by kind.
func (f *FaultInfo) Is(target error) bool {
	t, ok := target.(*vm.Fault)
	return ok && t.Kind.String() == f.Kind
}
