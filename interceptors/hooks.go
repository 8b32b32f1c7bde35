package interceptors

import (
	"context"
	"time"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	HooksStartID = "HooksStart"
	HooksDoneID  = "HooksDone"

	keyHooksStart = "phaseflow.hooks.start"
)

// CallContext provides information about one inbound exchange to hooks.
type CallContext struct {
	// Endpoint is the name of the endpoint serving the call, if known.
	Endpoint string
	// Operation is the invoked operation name, if known.
	Operation string
	// MessageID is the identifier of the inbound message.
	MessageID string
	// CorrelationID correlates the request with its response.
	CorrelationID string
	// Headers are the transport headers of the inbound message.
	Headers metadatapkg.Metadata
	// Context is the context of the inbound message.
	Context context.Context
	// StartedAt is when the inbound chain started.
	StartedAt time.Time
	// Duration is how long the chain ran (only set in OnDone and OnFault).
	Duration time.Duration
}

// Hooks defines callbacks for the lifecycle of inbound exchanges.
// All hooks are optional - nil hooks are simply not called.
type Hooks struct {
	// OnStart is called when the inbound chain starts.
	OnStart func(ctx CallContext)

	// OnDone is called after the service was invoked and the response sent.
	OnDone func(ctx CallContext)

	// OnFault is called when the inbound chain faults, before the fault reply
	// is sent.
	OnFault func(ctx CallContext, err error)
}

// Merge combines two Hooks, creating a new Hooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnStart: chainCallHooks(h.OnStart, other.OnStart),
		OnDone:  chainCallHooks(h.OnDone, other.OnDone),
		OnFault: chainFaultHooks(h.OnFault, other.OnFault),
	}
}

func chainCallHooks(a, b func(CallContext)) func(CallContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext) {
		a(ctx)
		b(ctx)
	}
}

func chainFaultHooks(a, b func(CallContext, error)) func(CallContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx CallContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h Hooks) Initialize(ep *endpoint.Endpoint) error {
	h.install(&ep.Interceptors)
	return nil
}

func (h Hooks) InitializeBus(b *bus.Bus) error {
	h.install(&b.Interceptors)
	return nil
}

func (h Hooks) install(lists *phase.Interceptors) {
	lists.InInterceptors().Add(h.start(), h.done())
}

func (h Hooks) start() message.Interceptor {
	return phase.Func(HooksStartID, phase.Receive, func(m *message.Message) error {
		started := time.Now()
		m.Put(keyHooksStart, started)
		if h.OnStart != nil {
			h.OnStart(callContext(m, started))
		}
		return nil
	}).OnFault(func(m *message.Message) {
		if h.OnFault == nil {
			return
		}
		ctx := callContext(m, startedAt(m))
		ctx.Duration = time.Since(ctx.StartedAt)
		h.OnFault(ctx, m.Exception())
	})
}

func (h Hooks) done() message.Interceptor {
	return phase.Func(HooksDoneID, phase.PostInvoke, func(m *message.Message) error {
		if h.OnDone != nil {
			ctx := callContext(m, startedAt(m))
			ctx.Duration = time.Since(ctx.StartedAt)
			h.OnDone(ctx)
		}
		return nil
	}).RunsAfter(OutgoingChainID)
}

func startedAt(m *message.Message) time.Time {
	v, _ := m.Get(keyHooksStart)
	t, ok := v.(time.Time)
	if !ok {
		return time.Now()
	}
	return t
}

func callContext(m *message.Message, started time.Time) CallContext {
	ctx := CallContext{
		Operation:     operationLabel(m),
		MessageID:     m.ID(),
		CorrelationID: message.CorrelationID(m),
		Headers:       m.ProtocolHeaders(),
		Context:       m.Context(),
		StartedAt:     started,
	}
	if ep := endpoint.Of(m.Exchange()); ep != nil {
		ctx.Endpoint = ep.Name()
	}
	return ctx
}

// LoggingHooks returns pre-built hooks that log call lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnStart: func(ctx CallContext) {
			logger.Info("Call started", loggingpkg.LogFields{
				"endpoint":       ctx.Endpoint,
				"operation":      ctx.Operation,
				"message_id":     ctx.MessageID,
				"correlation_id": ctx.CorrelationID,
			})
		},
		OnDone: func(ctx CallContext) {
			logger.Info("Call completed", loggingpkg.LogFields{
				"endpoint":    ctx.Endpoint,
				"operation":   ctx.Operation,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnFault: func(ctx CallContext, err error) {
			logger.Error("Call faulted", err, loggingpkg.LogFields{
				"endpoint":       ctx.Endpoint,
				"operation":      ctx.Operation,
				"message_id":     ctx.MessageID,
				"correlation_id": ctx.CorrelationID,
				"duration_ms":    ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record call metrics.
func MetricsHooks(onStart, onDone, onFault func(endpoint, operation string)) Hooks {
	return Hooks{
		OnStart: func(ctx CallContext) {
			if onStart != nil {
				onStart(ctx.Endpoint, ctx.Operation)
			}
		},
		OnDone: func(ctx CallContext) {
			if onDone != nil {
				onDone(ctx.Endpoint, ctx.Operation)
			}
		},
		OnFault: func(ctx CallContext, err error) {
			if onFault != nil {
				onFault(ctx.Endpoint, ctx.Operation)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on faults.
func AlertingHooks(alertFunc func(ctx CallContext, err error)) Hooks {
	return Hooks{
		OnFault: alertFunc,
	}
}
