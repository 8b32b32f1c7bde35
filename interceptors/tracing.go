package interceptors

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	TracingInID     = "TracingIn"
	TracingInEndID  = "TracingInEnd"
	TracingOutID    = "TracingOut"
	TracingOutEndID = "TracingOutEnd"

	// TracerName is the instrumentation name used when no tracer is given.
	TracerName = "github.com/drblury/phaseflow"

	keySpan = "phaseflow.tracing.span"
)

// Tracing wraps every chain in an OpenTelemetry span. Inbound spans start in
// receive and end after post-invoke; outbound spans cover setup to
// setup-ending. A fault records the error on the span and ends it.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing uses tracer, or the global tracer provider when nil.
func NewTracing(tracer trace.Tracer) *Tracing {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &Tracing{tracer: tracer}
}

func (t *Tracing) Initialize(ep *endpoint.Endpoint) error {
	t.install(&ep.Interceptors)
	return nil
}

func (t *Tracing) InitializeBus(b *bus.Bus) error {
	t.install(&b.Interceptors)
	return nil
}

func (t *Tracing) install(lists *phase.Interceptors) {
	lists.InInterceptors().Add(
		t.start(TracingInID, phase.Receive),
		t.end(TracingInEndID, phase.PostInvoke).RunsAfter(OutgoingChainID),
	)
	lists.OutInterceptors().Add(
		t.start(TracingOutID, phase.Setup),
		t.end(TracingOutEndID, phase.Ending(phase.Setup)),
	)
}

func (t *Tracing) start(id, ph string) *phase.FuncInterceptor {
	return phase.Func(id, ph, func(m *message.Message) error {
		kind := trace.SpanKindServer
		name := "phaseflow.receive"
		if m.IsOutbound() {
			kind, name = trace.SpanKindProducer, "phaseflow.send"
			if m.IsRequestor() {
				kind = trace.SpanKindClient
			}
		} else if m.IsRequestor() {
			kind, name = trace.SpanKindConsumer, "phaseflow.response"
		}

		ctx, span := t.tracer.Start(m.Context(), name, trace.WithSpanKind(kind))
		m.SetContext(ctx)
		m.Put(keySpan, span)
		span.SetAttributes(
			attribute.String("message.id", m.ID()),
			attribute.String("message.correlation_id", message.CorrelationID(m)),
			attribute.String("phaseflow.operation", operationLabel(m)),
			attribute.String("phaseflow.endpoint", endpointLabel(m)),
		)
		return nil
	}).OnFault(func(m *message.Message) {
		span := spanOf(m)
		if span == nil {
			return
		}
		if err := m.Exception(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		endSpan(m)
	})
}

func (t *Tracing) end(id, ph string) *phase.FuncInterceptor {
	return phase.Func(id, ph, func(m *message.Message) error {
		if span := spanOf(m); span != nil {
			span.SetStatus(codes.Ok, "")
		}
		endSpan(m)
		return nil
	})
}

func spanOf(m *message.Message) trace.Span {
	v, _ := m.Get(keySpan)
	span, _ := v.(trace.Span)
	return span
}

func endSpan(m *message.Message) {
	if span := spanOf(m); span != nil {
		span.End()
		m.Remove(keySpan)
	}
}
