// Package jetstream provides a NATS JetStream transport. Addresses look like
// "jetstream://orders"; every topic is a subject of one stream consumed by a
// durable pull consumer, so inbound requests survive restarts.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is the stream used when Config names none.
	DefaultStreamName = "PHASEFLOW"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge bounds how long unconsumed requests stay in the stream.
	DefaultMaxAge = 7 * 24 * time.Hour

	// DefaultFetchBatch is the number of messages pulled per fetch.
	DefaultFetchBatch = 10

	fetchWait = time.Second
)

// TransportFactory allows overriding the publisher and subscriber creation for
// testing.
var TransportFactory = func(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	t, err := New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

func init() {
	Register()
}

// Build creates a new NATS JetStream transport factory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Factory, error) {
	if cfg.GetNATSURL() == "" {
		return nil, errspkg.NewConfigValidationError(errspkg.ErrConfigRequired)
	}
	pub, sub, err := TransportFactory(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return nil, err
	}
	return pubsub.New(TransportName, pub, sub, logger,
		pubsub.WithReplyTopic(cfg.GetReplyTopic()),
		pubsub.WithCapabilities(transport.NATSJetStreamCapabilities),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	URL string

	// StreamName defaults to DefaultStreamName. Every topic becomes the
	// subject "<StreamName>.<topic>".
	StreamName string

	MaxDeliver int
	AckWait    time.Duration
	MaxAge     time.Duration
	Replicas   int

	// FetchBatch is the pull batch size per subscription.
	FetchBatch int

	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = DefaultFetchBatch
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Transport is a Watermill Publisher and Subscriber over one JetStream
// stream. Publishing sets Nats-Msg-Id to the message UUID so the stream drops
// duplicates of a redelivered publish.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	mu   sync.Mutex
	subs []*nats.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// New connects to cfg.URL and makes sure the stream exists.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("phaseflow-jetstream"))
	if err != nil {
		return nil, fmt.Errorf("jetstream: connect %s: %w", cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: context: %w", err)
	}

	t := &Transport{
		nc:     nc,
		js:     js,
		config: cfg,
		logger: logger.With(watermill.LogFields{"stream": cfg.StreamName}),
		done:   make(chan struct{}),
	}
	t.ensureStream()
	return t, nil
}

func (t *Transport) ensureStream() {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    t.config.MaxAge,
		Replicas:  t.config.Replicas,
		Retention: t.config.retention(),
	}
	if _, err := t.js.AddStream(streamCfg); err == nil {
		return
	}
	// The stream may exist with another configuration, or be owned by an
	// operator; either way publishing still works.
	if _, err := t.js.UpdateStream(streamCfg); err != nil {
		t.logger.Info("Using existing JetStream stream", watermill.LogFields{"error": err.Error()})
	}
}

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Publish publishes messages to the subject of topic.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.closed() {
		return errspkg.ErrDestinationShutdown
	}
	subject := t.Subject(topic)
	for _, msg := range messages {
		if _, err := t.js.PublishMsg(watermillToNATS(subject, msg)); err != nil {
			return fmt.Errorf("jetstream: publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Subscribe creates (or updates) the durable consumer of topic and pulls
// from it until ctx is done or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.closed() {
		return nil, errspkg.ErrDestinationShutdown
	}

	subject := t.Subject(topic)
	durable := ConsumerName(topic)
	consumerCfg := &nats.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverNewPolicy,
	}
	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("jetstream: consumer %s: %w", durable, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, durable)
	if err != nil {
		return nil, fmt.Errorf("jetstream: subscribe %s: %w", subject, err)
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	output := make(chan *message.Message)
	go t.pull(ctx, sub, output, t.logger.With(watermill.LogFields{"topic": topic}))
	return output, nil
}

func (t *Transport) pull(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, logger watermill.LoggerAdapter) {
	defer close(output)

	for !t.closed() && ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(t.config.FetchBatch, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				logger.Error("JetStream fetch failed", err, nil)
			}
			continue
		}
		for _, natsMsg := range msgs {
			if !t.deliver(ctx, natsMsg, output, logger) {
				return
			}
		}
	}
}

// deliver hands one message to the subscriber and settles it on the stream
// once the subscriber acks or nacks. It reports false when delivery stopped.
func (t *Transport) deliver(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message, logger watermill.LoggerAdapter) bool {
	msg := natsToWatermill(natsMsg)
	select {
	case output <- msg:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	var err error
	select {
	case <-msg.Acked():
		err = natsMsg.Ack()
	case <-msg.Nacked():
		err = natsMsg.Nak()
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}
	if err != nil {
		logger.Error("JetStream settle failed", err, watermill.LogFields{"message_uuid": msg.UUID})
	}
	return true
}

func watermillToNATS(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(nats.MsgIdHdr, msg.UUID)
	return &nats.Msg{Subject: subject, Data: msg.Payload, Header: headers}
}

func natsToWatermill(natsMsg *nats.Msg) *message.Message {
	id := natsMsg.Header.Get(nats.MsgIdHdr)
	if id == "" {
		id = idspkg.CreateULID()
	}
	msg := message.NewMessage(id, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		msg.Metadata.Set(k, v[0])
	}
	return msg
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_")

// Subject maps a topic onto a subject of the stream.
func (t *Transport) Subject(topic string) string {
	return t.config.StreamName + "." + tokenReplacer.Replace(topic)
}

// ConsumerName returns the durable consumer name of a topic.
func ConsumerName(topic string) string {
	return "consumer_" + tokenReplacer.Replace(topic)
}

// Close stops every pull loop and closes the connection. It is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		for _, sub := range t.subs {
			_ = sub.Unsubscribe()
		}
		t.subs = nil
		t.mu.Unlock()
		t.nc.Close()
	})
	return nil
}
