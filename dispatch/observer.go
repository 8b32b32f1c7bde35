// Package dispatch connects transports to interceptor chains: observers that
// turn inbound messages into chain runs, the Server that publishes an
// endpoint on a destination, the Client that invokes a remote endpoint over a
// conduit, and the admin API listing what is published.
package dispatch

import (
	"errors"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/interceptors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// ServerInterceptors returns the interceptors every published endpoint runs
// besides the bus, service and endpoint contributions.
func ServerInterceptors() []message.Interceptor {
	return []message.Interceptor{
		interceptors.NewCorrelationIDIn(),
		interceptors.NewOneWayProcessor(),
		interceptors.NewServiceInvoker(),
		interceptors.NewOutgoingChain(),
	}
}

// ChainInitiationObserver runs the inbound chain of one endpoint for every
// message its destination receives.
type ChainInitiationObserver struct {
	bus          *bus.Bus
	endpoint     *endpoint.Endpoint
	destination  transport.Destination
	interceptors []message.Interceptor
	logger       loggingpkg.ServiceLogger
}

// NewChainInitiationObserver creates the observer for ep on d. Extra
// interceptors are added to every chain after the server interceptors.
func NewChainInitiationObserver(b *bus.Bus, ep *endpoint.Endpoint, d transport.Destination, extra ...message.Interceptor) *ChainInitiationObserver {
	return &ChainInitiationObserver{
		bus:          b,
		endpoint:     ep,
		destination:  d,
		interceptors: append(ServerInterceptors(), extra...),
		logger:       loggingpkg.Component(b.Logger(), "dispatch").With(loggingpkg.LogFields{"endpoint": ep.Name()}),
	}
}

// Endpoint returns the endpoint the observer dispatches to.
func (o *ChainInitiationObserver) Endpoint() *endpoint.Endpoint {
	return o.endpoint
}

// Chain builds the inbound chain the observer runs, without a message. The
// admin API uses it to report the chain layout.
func (o *ChainInitiationObserver) Chain() (*phase.Chain, error) {
	return endpoint.InChain(o.bus, o.endpoint, o.interceptors)
}

func (o *ChainInitiationObserver) OnMessage(m *message.Message) error {
	ex := prepareExchange(o.bus, o.destination, m)
	endpoint.Set(ex, o.endpoint)

	chain, err := o.Chain()
	if err != nil {
		return err
	}
	chain.SetFaultObserver(NewOutFaultChainInitiatorObserver(o.bus))
	return finish(o.logger, m, chain.DoIntercept(m))
}

// prepareExchange links m to an exchange bound to b and d and carries b on the
// message context.
func prepareExchange(b *bus.Bus, d transport.Destination, m *message.Message) *message.Exchange {
	ex := message.Ensure(m)
	if ex.InMessage() != m {
		ex.SetInMessage(m)
	}
	bus.Set(ex, b)
	if d != nil {
		transport.SetDestination(ex, d)
	}
	m.SetContext(bus.WithContext(m.Context(), b))
	return ex
}

// finish maps the chain result to the observer result. A suspended chain
// continues elsewhere and a fault that was answered is routine traffic; only
// unanswered faults reach the transport.
func finish(log loggingpkg.ServiceLogger, m *message.Message, err error) error {
	if err == nil || errors.Is(err, errspkg.ErrSuspended) {
		return nil
	}
	if ex := m.Exchange(); ex != nil && ex.GetBool(message.KeyFaultReplied) {
		return nil
	}
	log.Error("Inbound chain failed without a fault reply", err, loggingpkg.LogFields{
		"message_id":     m.ID(),
		"correlation_id": message.CorrelationID(m),
	})
	return err
}

// OutFaultChainInitiatorObserver is the fault observer of inbound chains. It
// creates the out-fault message, runs the out-fault chain and sends the fault
// reply over the back-channel. Faults of one-way exchanges are only logged.
type OutFaultChainInitiatorObserver struct {
	bus    *bus.Bus
	logger loggingpkg.ServiceLogger
}

func NewOutFaultChainInitiatorObserver(b *bus.Bus) *OutFaultChainInitiatorObserver {
	return &OutFaultChainInitiatorObserver{bus: b, logger: loggingpkg.Component(b.Logger(), "fault")}
}

func (o *OutFaultChainInitiatorObserver) OnMessage(in *message.Message) error {
	ex := in.Exchange()
	if ex == nil {
		return errspkg.ErrNoBackChannel
	}
	fault := message.AsFault(in.Exception())
	ep := endpoint.Of(ex)

	if ex.OneWay() {
		o.logger.Error("One-way exchange faulted", fault, loggingpkg.LogFields{
			"message_id":     in.ID(),
			"correlation_id": message.CorrelationID(in),
		})
		ex.Put(message.KeyFaultReplied, true)
		return nil
	}

	out := message.NewMessageWithContext(in.Context())
	out.SetException(in.Exception())
	message.SetContent(out, fault)
	out.Put(message.KeyResponseCode, fault.Status())
	out.Put(message.KeyFaultResponse, true)
	ex.SetOutFaultMessage(out)

	chain, err := endpoint.OutFaultChain(o.bus, ep, []message.Interceptor{interceptors.NewMessageSender()})
	if err != nil {
		return err
	}
	if err := chain.DoIntercept(out); err != nil {
		return err
	}
	ex.Put(message.KeyFaultReplied, true)
	return nil
}
