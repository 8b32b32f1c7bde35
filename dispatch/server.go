package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

// observerMu serialises observer swaps of destinations shared by servers.
var observerMu sync.Mutex

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInterceptors adds interceptors to the inbound chain of the
// endpoint. They apply while the endpoint is the only one on its destination.
func WithServerInterceptors(ins ...message.Interceptor) ServerOption {
	return func(s *Server) { s.extra = append(s.extra, ins...) }
}

// WithMultipleEndpointOptions configures the observer created when a second
// endpoint is published on the same destination.
func WithMultipleEndpointOptions(opts ...MultipleOption) ServerOption {
	return func(s *Server) { s.multiple = append(s.multiple, opts...) }
}

// Server publishes an endpoint on a destination.
type Server struct {
	bus         *bus.Bus
	endpoint    *endpoint.Endpoint
	destination transport.Destination
	extra       []message.Interceptor
	multiple    []MultipleOption
	logger      loggingpkg.ServiceLogger

	mu      sync.Mutex
	started bool
}

// NewServer resolves the destination of ep. The destination factory is chosen
// by the endpoint transport ID, or by its address prefix when that is empty.
func NewServer(ctx context.Context, b *bus.Bus, ep *endpoint.Endpoint, opts ...ServerOption) (*Server, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}
	if ep == nil {
		return nil, errspkg.ErrEndpointRequired
	}

	var (
		df  transport.DestinationFactory
		err error
	)
	if id := ep.Info().TransportID; id != "" {
		df, err = b.Transports().DestinationFactory(ctx, id)
	} else {
		df, err = b.Transports().DestinationFactoryForURI(ctx, ep.Address())
	}
	if err != nil {
		return nil, err
	}
	d, err := df.Destination(ctx, ep.Info())
	if err != nil {
		return nil, err
	}

	s := &Server{
		bus:         b,
		endpoint:    ep,
		destination: d,
		logger:      loggingpkg.Component(b.Logger(), "server").With(loggingpkg.LogFields{"endpoint": ep.Name(), "address": ep.Address()}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Endpoint() *endpoint.Endpoint {
	return s.endpoint
}

func (s *Server) Destination() transport.Destination {
	return s.destination
}

// Start installs the observer on the destination. When the destination
// already serves another endpoint both are moved behind a
// MultipleEndpointObserver.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	observerMu.Lock()
	switch cur := s.destination.MessageObserver().(type) {
	case nil:
		s.destination.SetMessageObserver(NewChainInitiationObserver(s.bus, s.endpoint, s.destination, s.extra...))
	case *ChainInitiationObserver:
		if cur.Endpoint() != s.endpoint {
			multi := NewMultipleEndpointObserver(s.bus, s.destination, s.multiple...)
			multi.AddEndpoint(cur.Endpoint())
			multi.AddEndpoint(s.endpoint)
			s.destination.SetMessageObserver(multi)
		}
	case *MultipleEndpointObserver:
		cur.AddEndpoint(s.endpoint)
	default:
		observerMu.Unlock()
		return fmt.Errorf("destination %s is observed by %T", s.endpoint.Address(), cur)
	}
	observerMu.Unlock()

	s.started = true
	s.bus.Publish(s)
	s.logger.Info("Endpoint published", nil)
	return nil
}

// Stop removes the endpoint from its destination and shuts the destination
// down once no endpoint is left on it.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.bus.Unpublish(s)

	observerMu.Lock()
	idle := false
	switch cur := s.destination.MessageObserver().(type) {
	case *ChainInitiationObserver:
		idle = cur.Endpoint() == s.endpoint
	case *MultipleEndpointObserver:
		cur.RemoveEndpoint(s.endpoint)
		idle = len(cur.Endpoints()) == 0
	case nil:
		idle = true
	}
	if idle {
		s.destination.SetMessageObserver(nil)
	}
	observerMu.Unlock()

	s.logger.Info("Endpoint stopped", nil)
	if !idle {
		return nil
	}
	return s.destination.Shutdown(ctx)
}

// Info describes the published endpoint and its inbound chain.
func (s *Server) Info() bus.ServerInfo {
	info := bus.ServerInfo{
		Name:       s.endpoint.Name(),
		Address:    s.endpoint.Address(),
		Service:    s.endpoint.Service().Name,
		Operations: s.endpoint.Service().OperationNames(),
	}
	chain, err := endpoint.InChain(s.bus, s.endpoint, append(ServerInterceptors(), s.extra...))
	if err == nil {
		info.InChain = chain.Layout()
	}
	return info
}
