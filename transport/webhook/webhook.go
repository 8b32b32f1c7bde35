// Package webhook provides a one-way HTTP push transport built on
// watermill-http. Addresses look like "webhook://orders": sends POST to
// <publisher url>/orders and destinations accept POST /orders on the
// configured listen address.
package webhook

import (
	"context"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "webhook"

// DefaultListenAddress is used when the configuration names none.
const DefaultListenAddress = ":8081"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// Register registers the webhook transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebhookCapabilities)
}

func init() {
	Register()
}

// Build creates a new webhook transport factory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Factory, error) {
	listen := cfg.GetWebhookListenAddress()
	if listen == "" {
		listen = DefaultListenAddress
	}
	base := strings.TrimSuffix(cfg.GetHTTPPublisherURL(), "/")

	client := &nethttp.Client{Timeout: cfg.GetHTTPClientTimeout()}
	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(base+topic, msg)
			},
			Client: client,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		listen,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return pubsub.New(TransportName, publisher, &startingSubscriber{Subscriber: subscriber, logger: logger}, logger,
		pubsub.WithCapabilities(transport.WebhookCapabilities),
		pubsub.WithTopicMapper(Path),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WebhookCapabilities
}

// Path maps an endpoint address onto the URL path it is served under.
func Path(address string) string {
	return "/" + strings.TrimPrefix(transport.StripScheme(address), "/")
}

type httpServer interface {
	StartHTTPServer() error
}

// startingSubscriber starts the HTTP server after the first route was
// registered.
type startingSubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *startingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	if srv, ok := s.Subscriber.(httpServer); ok {
		s.once.Do(func() {
			go func() {
				if err := srv.StartHTTPServer(); err != nil && err != nethttp.ErrServerClosed {
					s.logger.Error("Webhook server stopped", err, nil)
				}
			}()
		})
	}
	return msgs, nil
}
