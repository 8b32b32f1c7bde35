// Package http provides a synchronous HTTP transport. Addresses are plain
// http:// URLs: destinations are served by one chi router per host:port and
// answer on the inbound connection, conduits POST the request body and hand
// the HTTP response to their observer.
package http

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// DefaultClientTimeout bounds a request when the configuration names none.
const DefaultClientTimeout = 30 * time.Second

// ShutdownTimeout bounds the graceful stop of a listener.
var ShutdownTimeout = 5 * time.Second

// Listen allows overriding the listener creation for testing.
var Listen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

func init() {
	Register()
}

// Build creates a new HTTP transport factory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Factory, error) {
	timeout := DefaultClientTimeout
	if cfg != nil && cfg.GetHTTPClientTimeout() > 0 {
		timeout = cfg.GetHTTPClientTimeout()
	}
	return NewFactory(logger, WithClient(&nethttp.Client{Timeout: timeout})), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// Option configures a Factory.
type Option func(*Factory)

// WithClient sets the client conduits send with.
func WithClient(c *nethttp.Client) Option {
	return func(f *Factory) { f.client = c }
}

// WithSuspendTimeout bounds how long a destination keeps a request open for a
// paused or suspended chain.
func WithSuspendTimeout(d time.Duration) Option {
	return func(f *Factory) { f.suspendTimeout = d }
}

// Factory creates HTTP destinations and conduits. Destinations on the same
// host:port share one listener.
type Factory struct {
	client         *nethttp.Client
	suspendTimeout time.Duration
	logger         loggingpkg.ServiceLogger

	mu      sync.Mutex
	engines map[string]*engine
	closed  bool
}

// NewFactory returns an HTTP transport factory.
func NewFactory(logger watermill.LoggerAdapter, opts ...Option) *Factory {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	f := &Factory{
		client:         &nethttp.Client{Timeout: DefaultClientTimeout},
		suspendTimeout: DefaultSuspendTimeout,
		logger:         loggingpkg.Component(loggingpkg.NewWatermillServiceLogger(logger), "http"),
		engines:        make(map[string]*engine),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) TransportIDs() []string {
	return []string{TransportName}
}

func (f *Factory) URIPrefixes() []string {
	return transport.HTTPCapabilities.URIPrefixes
}

// Capabilities returns the capabilities of this transport.
func (f *Factory) Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// Destination serves info.Address. A port of 0 binds a free port; the
// returned destination's address names the bound one.
func (f *Factory) Destination(_ context.Context, info transport.EndpointInfo) (transport.Destination, error) {
	if info.Address == "" {
		return nil, errspkg.ErrAddressRequired
	}
	u, err := url.Parse(info.Address)
	if err != nil {
		return nil, errspkg.NewIOError("listen", info.Address, err)
	}
	if u.Scheme != "http" {
		return nil, errspkg.NewIOError("listen", info.Address, errors.New("destinations serve plain http only"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errspkg.NewIOError("listen", info.Address, errspkg.ErrDestinationShutdown)
	}

	e, ok := f.engines[u.Host]
	if !ok {
		e, err = startEngine(u.Host, f.logger)
		if err != nil {
			return nil, errspkg.NewIOError("listen", info.Address, err)
		}
		f.engines[u.Host] = e
		// later destinations may name the bound port
		f.engines[e.addr] = e
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	bound := *u
	bound.Host = e.addr
	d := newDestination(f, e, path, transport.EndpointReference{Address: bound.String(), Properties: info.Properties})
	if err := e.add(path, d); err != nil {
		if e.empty() {
			_ = f.stopEngineLocked(e)
		}
		return nil, errspkg.NewIOError("listen", info.Address, err)
	}
	return d, nil
}

// release unregisters a destination and stops its listener when nothing else
// is served on it.
func (f *Factory) release(e *engine, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.remove(path)
	if !e.empty() {
		return nil
	}
	return f.stopEngineLocked(e)
}

func (f *Factory) stopEngineLocked(e *engine) error {
	stopped := false
	for host, candidate := range f.engines {
		if candidate == e {
			delete(f.engines, host)
			stopped = true
		}
	}
	if !stopped {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return e.stop(ctx)
}

// Conduit returns a conduit POSTing to target.
func (f *Factory) Conduit(_ context.Context, _ transport.EndpointInfo, target transport.EndpointReference) (transport.Conduit, error) {
	if target.Address == "" {
		return nil, errspkg.ErrAddressRequired
	}
	if _, err := url.Parse(target.Address); err != nil {
		return nil, errspkg.NewIOError("connect", target.Address, err)
	}
	return newConduit(f, target), nil
}

// decoupled answers to a reply-to address carried by an inbound request.
func (f *Factory) decoupled(ctx context.Context, replyTo transport.EndpointReference) (transport.Conduit, error) {
	return f.Conduit(ctx, transport.EndpointInfo{}, replyTo)
}

// Close stops every listener and drops idle client connections.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, e := range f.engines {
		if err := f.stopEngineLocked(e); err != nil {
			errs = append(errs, err)
		}
	}
	f.client.CloseIdleConnections()
	return errors.Join(errs...)
}
