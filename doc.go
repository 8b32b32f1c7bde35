// Package phaseflow is a transport-agnostic message dispatch core for
// request/response and one-way services.
//
// Every inbound or outbound message travels through an interceptor chain whose
// interceptors are ordered by named phases (receive, read, unmarshal,
// pre-logical, invoke, ... on the way in; setup, prepare-send, marshal, write,
// send and their -ending counterparts on the way out). A Bus owns the phase
// configuration, the transport registries and the bus-wide interceptor lists;
// a Service describes operations and an Invoker, and an Endpoint binds a
// Service to an address.
//
// NewServer publishes an Endpoint on the Destination matching its address
// scheme and answers requests over the destination back-channel. When a
// second endpoint is published on the same destination the server switches
// to a MultipleEndpointObserver that routes each message to the endpoint owning
// the requested operation. NewClient sends requests through a Conduit and waits
// for the correlated response.
//
// # Transports
//
// Importing this package registers the built-in transports with the default
// registry:
//   - local: in-process Go channels (Watermill gochannel)
//   - http: synchronous HTTP request/response on a shared listener
//   - webhook: one-way HTTP push
//   - kafka, rabbitmq, nats, jetstream: broker topics with decoupled reply topics
//   - aws: SNS publish / SQS subscribe
//   - io: newline-delimited JSON records on a file
//
// # Interceptors
//
// The interceptors package ships JSON and protobuf bindings, fault writers and
// readers, correlation IDs, structured logging, Prometheus metrics,
// OpenTelemetry tracing and lifecycle hooks. Each is installed as an endpoint
// or bus Feature, or added directly to an interceptor list.
//
// When a chain aborts, interceptors that already ran see HandleFault in
// reverse order and the out-fault chain sends a protocol-level fault reply.
package phaseflow
