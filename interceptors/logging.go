package interceptors

import (
	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	LoggingInID       = "LoggingIn"
	LoggingOutID      = "LoggingOut"
	LoggingOutFaultID = "LoggingOutFault"
)

// Logging logs inbound and outbound messages at debug level and faults at
// error level. A nil logger falls back to the exchange's bus logger.
type Logging struct {
	logger loggingpkg.ServiceLogger
}

func NewLogging(log loggingpkg.ServiceLogger) *Logging {
	return &Logging{logger: log}
}

func (l *Logging) Initialize(ep *endpoint.Endpoint) error {
	ep.InInterceptors().Add(l.inbound())
	ep.OutInterceptors().Add(l.outbound())
	ep.OutFaultInterceptors().Add(l.outboundFault())
	return nil
}

func (l *Logging) InitializeBus(b *bus.Bus) error {
	b.InInterceptors().Add(l.inbound())
	b.OutInterceptors().Add(l.outbound())
	b.OutFaultInterceptors().Add(l.outboundFault())
	return nil
}

func (l *Logging) inbound() message.Interceptor {
	return phase.Func(LoggingInID, phase.Receive, func(m *message.Message) error {
		l.loggerFor(m).Debug("Inbound message", messageFields(m))
		return nil
	}).OnFault(func(m *message.Message) {
		l.loggerFor(m).Error("Inbound chain faulted", m.Exception(), messageFields(m))
	})
}

func (l *Logging) outbound() message.Interceptor {
	return phase.Func(LoggingOutID, phase.Setup, func(m *message.Message) error {
		l.loggerFor(m).Debug("Outbound message", messageFields(m))
		return nil
	})
}

func (l *Logging) outboundFault() message.Interceptor {
	return phase.Func(LoggingOutFaultID, phase.Setup, func(m *message.Message) error {
		l.loggerFor(m).Error("Sending fault", m.Exception(), messageFields(m))
		return nil
	})
}

func (l *Logging) loggerFor(m *message.Message) loggingpkg.ServiceLogger {
	if l.logger != nil {
		return l.logger
	}
	if b := bus.Of(m.Exchange()); b != nil {
		return b.Logger()
	}
	return loggingpkg.NopLogger()
}

func messageFields(m *message.Message) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"message_id":     m.ID(),
		"correlation_id": message.CorrelationID(m),
		"requestor":      m.IsRequestor(),
	}
	if op, ok := m.ContextualProperty(message.KeyOperationName); ok {
		fields["operation"] = op
	}
	if addr := m.GetString(message.KeyEndpointAddress); addr != "" {
		fields["address"] = addr
	} else if ep := endpoint.Of(m.Exchange()); ep != nil {
		fields["address"] = ep.Address()
	}
	if headers := m.ProtocolHeaders(); len(headers) > 0 {
		fields["headers"] = headers
	}
	return fields
}
