package transport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
)

// observerSlot is a single-writer, many-reader observer holder. Readers never
// lock.
type observerSlot struct {
	p atomic.Pointer[observerBox]
}

type observerBox struct {
	o MessageObserver
}

func (s *observerSlot) set(o MessageObserver) {
	if o == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&observerBox{o: o})
}

func (s *observerSlot) get() MessageObserver {
	if b := s.p.Load(); b != nil {
		return b.o
	}
	return nil
}

// DecoupledResolver returns a conduit to a non-anonymous reply-to address.
type DecoupledResolver func(ctx context.Context, replyTo EndpointReference) (Conduit, error)

// DestinationOption configures a BaseDestination.
type DestinationOption func(*BaseDestination)

// WithRelease sets a hook run once on Shutdown, for example to unregister a
// route or cancel a subscription.
func WithRelease(fn func(ctx context.Context) error) DestinationOption {
	return func(d *BaseDestination) { d.release = fn }
}

// WithDecoupledConduit lets back-channels target a reply-to address carried by
// the inbound message.
func WithDecoupledConduit(fn DecoupledResolver) DestinationOption {
	return func(d *BaseDestination) { d.decoupled = fn }
}

// WithDestinationLogger sets the destination logger.
func WithDestinationLogger(log loggingpkg.ServiceLogger) DestinationOption {
	return func(d *BaseDestination) { d.logger = loggingpkg.OrNop(log) }
}

// BaseDestination implements the observer slot, dispatch, back-channel
// selection and idempotent shutdown shared by every destination.
type BaseDestination struct {
	address   EndpointReference
	observer  observerSlot
	decoupled DecoupledResolver
	release   func(ctx context.Context) error
	logger    loggingpkg.ServiceLogger

	closed      atomic.Bool
	once        sync.Once
	shutdownErr error
}

// NewBaseDestination returns a destination listening on address.
func NewBaseDestination(address EndpointReference, opts ...DestinationOption) *BaseDestination {
	d := &BaseDestination{address: address, logger: loggingpkg.NopLogger()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(loggingpkg.LogFields{"address": address.Address})
	return d
}

func (d *BaseDestination) Address() EndpointReference {
	return d.address
}

func (d *BaseDestination) SetMessageObserver(o MessageObserver) {
	d.observer.set(o)
}

func (d *BaseDestination) MessageObserver() MessageObserver {
	return d.observer.get()
}

// Logger returns the destination logger.
func (d *BaseDestination) Logger() loggingpkg.ServiceLogger {
	return d.logger
}

// Dispatch hands an inbound message to the current observer.
func (d *BaseDestination) Dispatch(m *message.Message) error {
	if d.closed.Load() {
		return errspkg.NewIOError("receive", d.address.Address, errspkg.ErrDestinationShutdown)
	}
	o := d.observer.get()
	if o == nil {
		d.logger.Debug("Dropping inbound message, no observer", loggingpkg.LogFields{"message_id": m.ID()})
		return errspkg.ErrObserverRequired
	}
	if m.GetString(message.KeyEndpointAddress) == "" {
		m.Put(message.KeyEndpointAddress, d.address.Address)
	}
	m.Put(message.KeyInbound, true)
	return o.OnMessage(m)
}

// BackChannel returns a conduit to the inbound reply-to address when one is
// present and a decoupled resolver is configured. Otherwise it synthesizes an
// anonymous back-channel over the reply path the transport attached to in.
func (d *BaseDestination) BackChannel(in *message.Message) (Conduit, error) {
	if replyTo := in.GetString(message.KeyReplyTo); replyTo != "" && replyTo != AnonymousAddress && d.decoupled != nil {
		c, err := d.decoupled(in.Context(), EndpointReference{Address: replyTo})
		if err != nil {
			return nil, errspkg.NewIOError("back-channel", replyTo, err)
		}
		return c, nil
	}
	path, ok := message.Content[ReplyPath](in)
	if !ok || path == nil {
		return nil, errspkg.NewIOError("back-channel", d.address.Address, errspkg.ErrNoBackChannel)
	}
	return NewBackChannelConduit(path), nil
}

// Shutdown stops dispatch and runs the release hook once.
func (d *BaseDestination) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.closed.Store(true)
		d.observer.set(nil)
		if d.release != nil {
			d.shutdownErr = d.release(ctx)
		}
		d.logger.Debug("Destination shut down", nil)
	})
	return d.shutdownErr
}

// IsShutdown reports whether Shutdown was called.
func (d *BaseDestination) IsShutdown() bool {
	return d.closed.Load()
}

// backChannelConduit answers over the inbound connection. Nothing is ever
// received on it, so its observer slot is not kept.
type backChannelConduit struct {
	path ReplyPath
}

// NewBackChannelConduit returns an anonymous conduit writing through path.
func NewBackChannelConduit(path ReplyPath) Conduit {
	return &backChannelConduit{path: path}
}

func (c *backChannelConduit) Target() EndpointReference          { return AnonymousReference() }
func (c *backChannelConduit) SetMessageObserver(MessageObserver) {}
func (c *backChannelConduit) MessageObserver() MessageObserver   { return nil }
func (c *backChannelConduit) Shutdown()                          {}

func (c *backChannelConduit) Prepare(m *message.Message) error {
	w, err := c.path.Open(m)
	if err != nil {
		return errspkg.NewIOError("prepare", AnonymousAddress, err)
	}
	message.SetContent[io.Writer](m, w)
	return nil
}

func (c *backChannelConduit) Close(m *message.Message) error {
	return errspkg.NewIOError("send", AnonymousAddress, c.path.Commit(m))
}

// BaseConduit implements the target and observer slot shared by conduits.
type BaseConduit struct {
	target   EndpointReference
	observer observerSlot
	logger   loggingpkg.ServiceLogger
}

// NewBaseConduit returns a conduit base sending to target.
func NewBaseConduit(target EndpointReference, log loggingpkg.ServiceLogger) *BaseConduit {
	return &BaseConduit{
		target: target,
		logger: loggingpkg.OrNop(log).With(loggingpkg.LogFields{"target": target.Address}),
	}
}

func (c *BaseConduit) Target() EndpointReference {
	return c.target
}

func (c *BaseConduit) SetMessageObserver(o MessageObserver) {
	c.observer.set(o)
}

func (c *BaseConduit) MessageObserver() MessageObserver {
	return c.observer.get()
}

// Logger returns the conduit logger.
func (c *BaseConduit) Logger() loggingpkg.ServiceLogger {
	return c.logger
}

// DeliverResponse hands a correlated inbound response to the observer.
func (c *BaseConduit) DeliverResponse(in *message.Message) error {
	o := c.observer.get()
	if o == nil {
		c.logger.Debug("Dropping response, no observer", loggingpkg.LogFields{
			"correlation_id": message.CorrelationID(in),
		})
		return errspkg.ErrObserverRequired
	}
	in.Put(message.KeyInbound, true)
	return o.OnMessage(in)
}
