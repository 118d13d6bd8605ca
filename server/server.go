// Package server exposes a VM as a connect execution service: clients
// register compiled code, invoke segments, and cancel invocations.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/store"
	"github.com/chazu/atlas/vm"
)

// Server is the execution host wrapping a VM. It serves the connect
// protocol, gRPC, and gRPC-Web on one handler, with CBOR message bodies.
type Server struct {
	vm          *vm.VM
	registrar   *Registrar
	invocations *InvocationStore
	mux         *http.ServeMux
	log         commonlog.Logger

	store         *store.Store
	policy        *host.Policy
	capabilities  []string
	invokeTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists every registered segment in s.
func WithStore(s *store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithPolicy rejects registration of code that needs a capability the
// policy denies. Without it every capability is allowed.
func WithPolicy(p *host.Policy) Option {
	return func(srv *Server) {
		if p != nil {
			srv.policy = p
		}
	}
}

// WithCapabilities lists the capabilities the host provides, for Status.
func WithCapabilities(names []string) Option {
	return func(srv *Server) { srv.capabilities = names }
}

// WithInvokeTimeout bounds each invocation. Zero means no limit.
func WithInvokeTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.invokeTimeout = d }
}

// WithLogger overrides the server's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

// New creates a Server executing on v.
func New(v *vm.VM, opts ...Option) *Server {
	s := &Server{
		vm:          v,
		registrar:   NewRegistrar(v.Program()),
		invocations: NewInvocationStore(),
		mux:         http.NewServeMux(),
		log:         commonlog.GetLogger("atlas.server"),
		policy:      host.NewPermissivePolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}

	codec := connect.WithCodec(newCodec())
	s.mux.Handle(RegisterProcedure, connect.NewUnaryHandler(RegisterProcedure, s.Register, codec))
	s.mux.Handle(InvokeProcedure, connect.NewUnaryHandler(InvokeProcedure, s.Invoke, codec))
	s.mux.Handle(CancelProcedure, connect.NewUnaryHandler(CancelProcedure, s.Cancel, codec))
	s.mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, codec))
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is done, then shuts down and
// cancels in-flight invocations.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{Addr: addr, Handler: s.mux}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	s.log.Infof("execution service listening on %s", addr)
	s.log.Infof("  http://%s%s", addr, InvokeProcedure)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.invocations.CancelAll()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels in-flight invocations and stops the registrar.
func (s *Server) Stop() {
	s.invocations.CancelAll()
	s.registrar.Stop()
}
