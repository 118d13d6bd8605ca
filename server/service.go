package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

// Register installs a batch of codes into the program and, when the server
// has a store, persists the installed segments.
func (s *Server) Register(
	ctx context.Context,
	req *connect.Request[RegisterRequest],
) (*connect.Response[RegisterResponse], error) {
	codes := req.Msg.Codes
	if len(codes) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("no codes to register"))
	}
	if err := s.policy.Check(dist.BuildCapabilityManifest(codes)); err != nil {
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	}

	result, err := s.registrar.Do(func(p *vm.Program) (any, error) {
		known := func(id vm.SegmentID) bool {
			_, err := p.Segment(id)
			return err == nil
		}
		return dist.Install(p, codes, known)
	})
	if err != nil {
		return nil, registerError(err)
	}

	assigned := result.(map[uint64]vm.SegmentID)
	resp := &RegisterResponse{Assigned: make(map[uint64]uint64, len(assigned))}
	for wire, id := range assigned {
		resp.Assigned[wire] = uint64(id)
	}
	if err := s.persist(ctx, assigned); err != nil {
		s.log.Errorf("registered %d codes without persisting: %s", len(codes), err)
		resp.PersistError = err.Error()
		return connect.NewResponse(resp), nil
	}
	s.log.Infof("registered %d codes", len(codes))
	return connect.NewResponse(resp), nil
}

// persist records installed segments in the store. The segments stay
// registered when it fails.
func (s *Server) persist(ctx context.Context, assigned map[uint64]vm.SegmentID) error {
	if s.store == nil {
		return nil
	}
	p := s.vm.Program()
	for _, id := range assigned {
		seg, err := p.Segment(id)
		if err != nil {
			return err
		}
		if err := s.store.Put(ctx, id, seg); err != nil {
			return fmt.Errorf("persist segment %d: %w", id, err)
		}
	}
	return nil
}

func registerError(err error) error {
	switch {
	case errors.Is(err, dist.ErrHashMismatch), errors.Is(err, dist.ErrCapabilityMismatch),
		errors.Is(err, vm.ErrCode):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, dist.ErrMissingDependency):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, host.ErrDenied):
		return connect.NewError(connect.CodePermissionDenied, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// Invoke calls a registered segment with the request's arguments and
// returns the deep-resolved result. VM faults are reported in the
// response, not as RPC errors.
func (s *Server) Invoke(
	ctx context.Context,
	req *connect.Request[InvokeRequest],
) (*connect.Response[InvokeResponse], error) {
	id := vm.SegmentID(req.Msg.Segment)
	callee, err := s.vm.Closure(id)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	args, err := decodeArgs(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	invID, ictx, done, err := s.invocations.Start(ctx, req.Msg.Invocation, id)
	if err != nil {
		return nil, connect.NewError(connect.CodeAlreadyExists, err)
	}
	defer done()
	if s.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ictx, s.invokeTimeout)
		defer cancel()
	}

	resp := &InvokeResponse{Invocation: invID}
	v, err := s.vm.Call(ictx, callee, args)
	if err == nil {
		v, err = s.vm.Resolve(ictx, v)
	}
	if err == nil {
		var w dist.WireValue
		if w, err = dist.ToWire(v); err == nil {
			resp.Result = &w
		}
	}
	if err != nil {
		s.log.Debugf("invocation %s of segment %d failed: %s", invID, id, err)
		resp.Fault = faultInfo(err)
	}
	return connect.NewResponse(resp), nil
}

func decodeArgs(msg *InvokeRequest) (vm.Args, error) {
	var args vm.Args
	for i, w := range msg.Args {
		v, err := dist.FromWire(w)
		if err != nil {
			return vm.Args{}, fmt.Errorf("argument %d: %w", i, err)
		}
		args.Positional = append(args.Positional, v)
	}
	if len(msg.Named) > 0 {
		args.Named = make(map[string]vm.Value, len(msg.Named))
		for name, w := range msg.Named {
			v, err := dist.FromWire(w)
			if err != nil {
				return vm.Args{}, fmt.Errorf("argument %q: %w", name, err)
			}
			args.Named[name] = v
		}
	}
	return args, nil
}

// Cancel cancels an in-flight invocation. Thunks the invocation was
// evaluating are poisoned with Cancelled.
func (s *Server) Cancel(
	ctx context.Context,
	req *connect.Request[CancelRequest],
) (*connect.Response[CancelResponse], error) {
	id := req.Msg.Invocation
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invocation id is required"))
	}
	age, _ := s.invocations.Age(id)
	ok := s.invocations.Cancel(id)
	if ok {
		s.log.Infof("cancelled invocation %s after %s", id, age)
	}
	return connect.NewResponse(&CancelResponse{Cancelled: ok}), nil
}

// Status reports the size of the program and the running invocations.
func (s *Server) Status(
	ctx context.Context,
	req *connect.Request[StatusRequest],
) (*connect.Response[StatusResponse], error) {
	p := s.vm.Program()
	return connect.NewResponse(&StatusResponse{
		Segments:     p.Len(),
		NextID:       uint64(p.NextID()),
		Running:      s.invocations.Running(),
		Capabilities: s.capabilities,
		Policy:       s.policy.String(),
		Persistent:   s.store != nil,
	}), nil
}
