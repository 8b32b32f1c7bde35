package interceptors

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	"github.com/drblury/phaseflow/internal/runtime/cloudevents"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	CloudEventsInID  = "CloudEventsIn"
	CloudEventsOutID = "CloudEventsOut"

	// KeyCloudEvent holds the cloudevents.Context read from an inbound message.
	KeyCloudEvent = "phaseflow.cloudevents.context"
)

// CloudEvents stamps outbound messages with CloudEvents binary content mode
// headers and reads them back from inbound messages. The event type is
// "<service>.<operation>", suffixed with ".response" or ".fault" on replies.
type CloudEvents struct {
	source string
	strict bool
}

type CloudEventsOption func(*CloudEvents)

// WithEventSource fixes the source attribute. By default the endpoint address
// is used.
func WithEventSource(source string) CloudEventsOption {
	return func(c *CloudEvents) { c.source = source }
}

// RequireCloudEvents rejects inbound messages without CloudEvents headers
// with a client fault.
func RequireCloudEvents() CloudEventsOption {
	return func(c *CloudEvents) { c.strict = true }
}

func NewCloudEvents(opts ...CloudEventsOption) *CloudEvents {
	c := &CloudEvents{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CloudEvents) Initialize(ep *endpoint.Endpoint) error {
	c.install(&ep.Interceptors)
	return nil
}

func (c *CloudEvents) InitializeBus(b *bus.Bus) error {
	c.install(&b.Interceptors)
	return nil
}

func (c *CloudEvents) install(lists *phase.Interceptors) {
	lists.InInterceptors().Add(c.inbound())
	lists.OutInterceptors().Add(c.outbound())
	lists.OutFaultInterceptors().Add(c.outbound())
}

// CloudEvent returns the event context read from m by the CloudEvents
// interceptor.
func CloudEvent(m *message.Message) (cloudevents.Context, bool) {
	v, ok := m.Get(KeyCloudEvent)
	if !ok {
		return cloudevents.Context{}, false
	}
	evt, ok := v.(cloudevents.Context)
	return evt, ok
}

func (c *CloudEvents) inbound() message.Interceptor {
	return phase.Func(CloudEventsInID, phase.Receive, func(m *message.Message) error {
		evt, ok, err := cloudevents.FromHeaders(m.ProtocolHeaders())
		if err != nil {
			return message.ClientFault(err, "invalid cloud event")
		}
		if !ok {
			if c.strict {
				return message.NewFault(message.FaultCodeClient, "message is not a cloud event")
			}
			return nil
		}
		if err := evt.Validate(); err != nil {
			return message.ClientFault(err, "invalid cloud event")
		}
		m.Put(KeyCloudEvent, evt)
		if id := evt.Extension(cloudevents.ExtCorrelationID); id != "" && message.CorrelationID(m) == "" {
			m.Put(message.KeyCorrelationID, id)
		}
		return nil
	}).RunsBefore(CorrelationInID)
}

func (c *CloudEvents) outbound() message.Interceptor {
	return phase.Func(CloudEventsOutID, phase.Setup, func(m *message.Message) error {
		evt := cloudevents.New(eventType(m), c.sourceFor(m))
		evt.ID = m.ID()
		if id := message.CorrelationID(m); id != "" {
			evt = evt.WithExtension(cloudevents.ExtCorrelationID, id)
		}
		if sc := trace.SpanContextFromContext(m.Context()); sc.IsValid() {
			evt = evt.WithExtension(cloudevents.ExtTraceParent,
				fmt.Sprintf("00-%s-%s-%s", sc.TraceID(), sc.SpanID(), sc.TraceFlags()))
		}
		if ex := m.Exchange(); ex != nil && ex.InMessage() != nil {
			if in, ok := CloudEvent(ex.InMessage()); ok {
				evt.Subject = in.ID
			}
		}
		evt.ToHeaders(m.ProtocolHeaders())
		return nil
	}).RunsAfter(CorrelationOutID, TracingOutID)
}

func (c *CloudEvents) sourceFor(m *message.Message) string {
	if c.source != "" {
		return c.source
	}
	if ep := endpoint.Of(m.Exchange()); ep != nil && ep.Address() != "" {
		return ep.Address()
	}
	return "phaseflow"
}

func eventType(m *message.Message) string {
	name := operationLabel(m)
	if ep := endpoint.Of(m.Exchange()); ep != nil && ep.Name() != "" {
		name = ep.Name() + "." + name
	}
	ex := m.Exchange()
	switch {
	case ex != nil && ex.OutFaultMessage() == m:
		return name + ".fault"
	case !m.IsRequestor():
		return name + ".response"
	default:
		return name
	}
}
