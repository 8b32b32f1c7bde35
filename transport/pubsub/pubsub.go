// Package pubsub binds destinations and conduits to any Watermill publisher
// and subscriber pair. An address "scheme://topic" maps to a topic. Requests
// that expect a response carry a reply-to address naming the requestor's reply
// topic and a correlation ID; the responder publishes its reply there and the
// requestor's reply router hands it to the conduit that sent the request.
package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

var _ transport.Factory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithReplyTopic enables request/response over the factory's conduits: replies
// are expected on topic.
func WithReplyTopic(topic string) Option {
	return func(f *Factory) { f.replyTopic = topic }
}

// WithCapabilities sets the capabilities reported by the factory.
func WithCapabilities(caps transport.Capabilities) Option {
	return func(f *Factory) { f.caps = caps }
}

// WithTopicMapper overrides how an address is turned into a topic.
func WithTopicMapper(fn func(address string) string) Option {
	return func(f *Factory) { f.topic = fn }
}

// WithCloser registers a resource closed together with the factory, for
// example a broker connection shared by the publisher and subscriber.
func WithCloser(fn func() error) Option {
	return func(f *Factory) { f.closers = append(f.closers, fn) }
}

// Factory creates pub/sub destinations and conduits for one transport ID.
type Factory struct {
	name       string
	pub        wmmessage.Publisher
	sub        wmmessage.Subscriber
	logger     loggingpkg.ServiceLogger
	caps       transport.Capabilities
	replyTopic string
	topic      func(string) string
	closers    []func() error

	mu           sync.Mutex
	destinations map[string]*Destination
	replies      *replyRouter
	closed       bool
}

// New returns a factory for transport name over pub and sub.
func New(name string, pub wmmessage.Publisher, sub wmmessage.Subscriber, logger watermill.LoggerAdapter, opts ...Option) *Factory {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	f := &Factory{
		name:         name,
		pub:          pub,
		sub:          sub,
		caps:         transport.Capabilities{Name: name, URIPrefixes: []string{name + "://"}},
		topic:        transport.StripScheme,
		destinations: make(map[string]*Destination),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = loggingpkg.Component(loggingpkg.NewWatermillServiceLogger(logger), "pubsub").
		With(loggingpkg.LogFields{"transport": name})
	return f
}

func (f *Factory) TransportIDs() []string {
	return []string{f.name}
}

func (f *Factory) URIPrefixes() []string {
	if len(f.caps.URIPrefixes) == 0 {
		return []string{f.name + "://"}
	}
	return f.caps.URIPrefixes
}

// Capabilities returns the capabilities of this transport.
func (f *Factory) Capabilities() transport.Capabilities {
	return f.caps
}

// ReplyTopic returns the topic replies are expected on, or "".
func (f *Factory) ReplyTopic() string {
	return f.replyTopic
}

// Topic maps an address to a topic.
func (f *Factory) Topic(address string) string {
	return f.topic(address)
}

// Destination subscribes to the topic of info.Address. Destinations are shared
// per address until shut down.
func (f *Factory) Destination(ctx context.Context, info transport.EndpointInfo) (transport.Destination, error) {
	if info.Address == "" {
		return nil, errspkg.ErrAddressRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errspkg.NewIOError("subscribe", info.Address, errspkg.ErrDestinationShutdown)
	}
	if d, ok := f.destinations[info.Address]; ok {
		return d, nil
	}

	d, err := newDestination(ctx, f, info)
	if err != nil {
		return nil, err
	}
	f.destinations[info.Address] = d
	return d, nil
}

func (f *Factory) forget(address string, d *Destination) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destinations[address] == d {
		delete(f.destinations, address)
	}
}

// Conduit returns a conduit publishing to the topic of target.
func (f *Factory) Conduit(_ context.Context, _ transport.EndpointInfo, target transport.EndpointReference) (transport.Conduit, error) {
	if target.Address == "" {
		return nil, errspkg.ErrAddressRequired
	}
	return &Conduit{
		BaseConduit: transport.NewBaseConduit(target, f.logger),
		factory:     f,
		topic:       f.topic(target.Address),
	}, nil
}

// Close shuts down every destination, the reply router, the publisher and
// subscriber and any registered closers.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	destinations := make([]*Destination, 0, len(f.destinations))
	for _, d := range f.destinations {
		destinations = append(destinations, d)
	}
	replies := f.replies
	f.mu.Unlock()

	var errs []error
	for _, d := range destinations {
		if err := d.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if replies != nil {
		replies.stop()
	}
	if f.pub != nil {
		errs = append(errs, f.pub.Close())
	}
	if f.sub != nil && any(f.sub) != any(f.pub) {
		errs = append(errs, f.sub.Close())
	}
	for _, closer := range f.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

func (f *Factory) replyRouter() (*replyRouter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replies != nil {
		return f.replies, nil
	}
	if f.closed {
		return nil, errspkg.ErrDestinationShutdown
	}
	r, err := startReplyRouter(f)
	if err != nil {
		return nil, err
	}
	f.replies = r
	return r, nil
}

func (f *Factory) publish(topic string, m *message.Message, payload []byte) error {
	wm := ToWatermill(m, payload)
	if err := f.pub.Publish(topic, wm); err != nil {
		return errspkg.NewIOError("publish", topic, err)
	}
	f.logger.Trace("Published message", loggingpkg.LogFields{
		"topic":          topic,
		"message_id":     wm.UUID,
		"correlation_id": message.CorrelationID(m),
	})
	return nil
}

func (f *Factory) replyAddress() string {
	return f.name + "://" + f.replyTopic
}
