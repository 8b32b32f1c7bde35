// Package local provides an in-process transport over Watermill's Go channel
// pub/sub. Addresses look like "local://orders"; replies travel on the
// configured reply topic, "replies" by default. It is useful for testing and
// for wiring endpoints inside one process.
package local

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "local"

// DefaultReplyTopic is used when the config names no reply topic.
const DefaultReplyTopic = "phaseflow.replies"

// PubSubFactory allows overriding the channel creation for testing.
var PubSubFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// Register registers the local transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.LocalCapabilities)
}

func init() {
	Register()
}

// Build creates a new in-process transport factory.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Factory, error) {
	replyTopic := cfg.GetReplyTopic()
	if replyTopic == "" {
		replyTopic = DefaultReplyTopic
	}
	pub, sub := PubSubFactory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return pubsub.New(TransportName, pub, sub, logger,
		pubsub.WithReplyTopic(replyTopic),
		pubsub.WithCapabilities(transport.LocalCapabilities),
	), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.LocalCapabilities
}
