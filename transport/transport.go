// Package transport defines the destination and conduit contracts that bind
// message chains to a wire, the registries that locate them by transport ID or
// address prefix, and base implementations concrete transports embed. Each
// transport implementation (kafka, rabbitmq, http, etc.) lives in its own
// sub-package and registers itself with the default registry.
package transport

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/phaseflow/message"
)

// AnonymousAddress is the address of a synthesized back-channel: the reply
// travels over the connection the request arrived on.
const AnonymousAddress = "http://www.w3.org/2005/08/addressing/anonymous"

// MessageObserver receives messages from a destination or conduit.
type MessageObserver = message.Observer

// Observable holds at most one message observer. Setting nil stops delivery.
type Observable interface {
	SetMessageObserver(o MessageObserver)
	MessageObserver() MessageObserver
}

// EndpointReference addresses a destination or reply target.
type EndpointReference struct {
	Address    string            `json:"address"`
	Properties map[string]string `json:"properties,omitempty"`
}

// IsAnonymous reports whether the reference points back over the inbound
// connection.
func (r EndpointReference) IsAnonymous() bool {
	return r.Address == "" || r.Address == AnonymousAddress
}

// AnonymousReference returns the reference used for synthesized back-channels.
func AnonymousReference() EndpointReference {
	return EndpointReference{Address: AnonymousAddress}
}

// EndpointInfo describes a published or consumed endpoint to a transport.
type EndpointInfo struct {
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	TransportID string            `json:"transport_id,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Reference returns the endpoint address as a reference.
func (i EndpointInfo) Reference() EndpointReference {
	return EndpointReference{Address: i.Address, Properties: i.Properties}
}

// Destination is the receive side of a transport. Inbound messages are handed
// to the message observer, which may be reset at any time.
type Destination interface {
	Observable
	Address() EndpointReference
	// BackChannel returns the conduit a response or fault for in is sent on.
	BackChannel(in *message.Message) (Conduit, error)
	Shutdown(ctx context.Context) error
}

// Conduit is the send side of a transport. Prepare binds an output sink to the
// message (an io.Writer content), Close flushes and transmits. Responses to
// sent requests are delivered to the message observer.
type Conduit interface {
	Observable
	Target() EndpointReference
	Prepare(m *message.Message) error
	Close(m *message.Message) error
	Shutdown()
}

// ReplyPath is content placed on an inbound message by a transport that can
// answer over the inbound connection. Open returns the sink for the reply body
// and Commit completes the reply.
type ReplyPath interface {
	Open(m *message.Message) (io.Writer, error)
	Commit(m *message.Message) error
}

// DestinationFactory creates destinations for one or more transport IDs.
type DestinationFactory interface {
	TransportIDs() []string
	URIPrefixes() []string
	Destination(ctx context.Context, info EndpointInfo) (Destination, error)
}

// ConduitInitiator creates conduits for one or more transport IDs.
type ConduitInitiator interface {
	TransportIDs() []string
	URIPrefixes() []string
	Conduit(ctx context.Context, info EndpointInfo, target EndpointReference) (Conduit, error)
}

// Factory is what a registered transport builder produces: both sides of the
// transport plus the resources they share.
type Factory interface {
	DestinationFactory
	ConduitInitiator
	Close() error
}

// Builder is the function signature for creating a transport factory from
// config. Each transport package provides a Builder that it registers.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Factory, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPClientTimeout() time.Duration
	GetWebhookListenAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// ReplyTopic is the decoupled reply topic of pub/sub conduits.
	GetReplyTopic() string
}

// CapabilitiesProvider is implemented by factories that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Scheme returns the scheme of address, or "".
func Scheme(address string) string {
	if i := strings.Index(address, "://"); i > 0 {
		return address[:i]
	}
	return ""
}

// StripScheme returns address without its scheme prefix.
func StripScheme(address string) string {
	if i := strings.Index(address, "://"); i > 0 {
		return address[i+3:]
	}
	return address
}

const (
	keyDestination = "phaseflow.transport.destination"
	keyConduit     = "phaseflow.transport.conduit"
)

// SetDestination records the destination an exchange arrived on.
func SetDestination(ex *message.Exchange, d Destination) {
	ex.Put(keyDestination, d)
}

// DestinationOf returns the destination an exchange arrived on, or nil.
func DestinationOf(ex *message.Exchange) Destination {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(keyDestination)
	d, _ := v.(Destination)
	return d
}

// SetConduit records the conduit a requestor sends on.
func SetConduit(ex *message.Exchange, c Conduit) {
	ex.Put(keyConduit, c)
}

// ConduitOf returns the exchange conduit, or nil.
func ConduitOf(ex *message.Exchange) Conduit {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(keyConduit)
	c, _ := v.(Conduit)
	return c
}
