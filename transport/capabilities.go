package transport

// Capabilities describes the features supported by a transport backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// Name is the transport ID.
	Name string

	// URIPrefixes are the address prefixes routed to this transport.
	URIPrefixes []string

	// SupportsBackChannel indicates a response can travel over the inbound
	// connection (anonymous back-channel).
	SupportsBackChannel bool

	// SupportsDecoupled indicates responses can be routed to a reply-to
	// address carried by the request.
	SupportsDecoupled bool

	// SupportsOneWay indicates fire-and-forget sends are supported.
	SupportsOneWay bool

	// Synchronous indicates the requestor blocks on the wire for the response.
	Synchronous bool

	// SupportsOrdering indicates the transport guarantees message ordering.
	SupportsOrdering bool

	// SupportsHeaders indicates protocol headers (operation, correlation,
	// tracing) travel with the message.
	SupportsHeaders bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsRequestResponse returns true if a requestor can receive a reply,
// either over the inbound connection or on a reply-to address.
func (c Capabilities) SupportsRequestResponse() bool {
	return c.SupportsBackChannel || c.SupportsDecoupled
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built-in transports.
var (
	// LocalCapabilities for the in-process Go channel transport.
	LocalCapabilities = Capabilities{
		Name:              "local",
		URIPrefixes:       []string{"local://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsOrdering:  true,
		SupportsHeaders:   true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:              "kafka",
		URIPrefixes:       []string{"kafka://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsOrdering:  true,
		SupportsHeaders:   true,
		SupportsAck:       true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		URIPrefixes:       []string{"rabbitmq://", "amqp://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsOrdering:  true,
		SupportsHeaders:   true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:              "nats",
		URIPrefixes:       []string{"nats://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsHeaders:   true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:              "nats-jetstream",
		URIPrefixes:       []string{"jetstream://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsOrdering:  true,
		SupportsHeaders:   true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		URIPrefixes:       []string{"aws://", "sns://"},
		SupportsDecoupled: true,
		SupportsOneWay:    true,
		SupportsOrdering:  true,
		SupportsHeaders:   true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    262144, // 256KB
	}

	// HTTPCapabilities for the synchronous HTTP transport.
	HTTPCapabilities = Capabilities{
		Name:                "http",
		URIPrefixes:         []string{"http://", "https://"},
		SupportsBackChannel: true,
		SupportsDecoupled:   true,
		SupportsOneWay:      true,
		Synchronous:         true,
		SupportsHeaders:     true,
	}

	// WebhookCapabilities for one-way HTTP push.
	WebhookCapabilities = Capabilities{
		Name:            "webhook",
		URIPrefixes:     []string{"webhook://"},
		SupportsOneWay:  true,
		SupportsHeaders: true,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		URIPrefixes:      []string{"file://", "io://"},
		SupportsOneWay:   true,
		SupportsOrdering: true,
		SupportsHeaders:  true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Uses the registry to look up capabilities registered by each transport package.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
