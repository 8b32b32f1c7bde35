// Package interceptors provides the built-in interceptors and features: the
// message sender and outgoing chain that deliver replies, the service invoker,
// JSON and protobuf data binding, correlation IDs, logging, Prometheus
// metrics, OpenTelemetry tracing and lifecycle hooks.
//
// Features implement both endpoint.Feature and bus.Feature, so they can be
// installed for one endpoint or for every endpoint on a bus.
package interceptors
