package interceptors

import (
	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// ServiceInvoker calls the service invoker with the bound input objects and
// stores the results on the out-message.
type ServiceInvoker struct {
	phase.Base
}

func NewServiceInvoker() *ServiceInvoker {
	return &ServiceInvoker{Base: phase.NewBase(ServiceInvokerID, phase.Invoke)}
}

func (s *ServiceInvoker) HandleMessage(m *message.Message) error {
	ex := m.Exchange()
	ep := endpoint.Of(ex)
	if ep == nil {
		return errspkg.ErrEndpointRequired
	}
	op, err := endpoint.SelectOperation(m)
	if err != nil {
		return err
	}
	svc := ep.Service()
	if svc.Invoker == nil {
		return message.NewFault(message.FaultCodeServer, "service %s has no invoker", svc.Name)
	}

	results, err := svc.Invoker.Invoke(m.Context(), op, m.Objects())
	if err != nil {
		return err
	}
	if ex.OneWay() || op.OneWay {
		return nil
	}
	out := outMessage(m)
	out.SetObjects(results...)
	return nil
}

func outMessage(in *message.Message) *message.Message {
	ex := in.Exchange()
	out := ex.OutMessage()
	if out == nil {
		out = message.NewMessageWithContext(in.Context())
		ex.SetOutMessage(out)
	}
	return out
}

// OutgoingChain runs the out chain over the out-message of a two-way exchange
// so the response travels back over the destination's back-channel.
type OutgoingChain struct {
	phase.Base
}

func NewOutgoingChain() *OutgoingChain {
	return &OutgoingChain{Base: phase.NewBase(OutgoingChainID, phase.PostInvoke)}
}

func (o *OutgoingChain) HandleMessage(m *message.Message) error {
	ex := m.Exchange()
	if ex == nil || ex.OneWay() {
		return nil
	}
	if op := endpoint.OperationOf(ex); op != nil && op.OneWay {
		return nil
	}

	out := outMessage(m)
	chain, err := endpoint.OutChain(bus.Of(ex), endpoint.Of(ex), []message.Interceptor{NewMessageSender()})
	if err != nil {
		return err
	}
	return chain.DoIntercept(out)
}

// OneWayProcessor marks the exchange of a one-way operation and, when the
// request arrived on a connection that expects an answer, acknowledges it
// before the service runs.
type OneWayProcessor struct {
	phase.Base
}

func NewOneWayProcessor() *OneWayProcessor {
	return &OneWayProcessor{Base: phase.NewBase(OneWayProcessorID, phase.PreLogical)}
}

func (p *OneWayProcessor) HandleMessage(m *message.Message) error {
	ex := m.Exchange()
	if ex == nil || m.IsRequestor() {
		return nil
	}
	oneWay := ex.OneWay()
	if !oneWay && endpoint.Of(ex) != nil {
		op, err := endpoint.SelectOperation(m)
		if err != nil {
			return err
		}
		oneWay = op.OneWay
	}
	if !oneWay {
		return nil
	}
	ex.SetOneWay(true)

	if m.GetString(message.KeyReplyTo) != "" {
		return nil
	}
	if _, ok := message.Content[transport.ReplyPath](m); !ok {
		return nil
	}
	d := transport.DestinationOf(ex)
	if d == nil {
		return nil
	}
	c, err := d.BackChannel(m)
	if err != nil {
		return err
	}

	ack := message.NewMessageWithContext(m.Context())
	ack.SetExchange(ex)
	ack.Put(message.KeyResponseCode, 202)
	if err := c.Prepare(ack); err != nil {
		return err
	}
	return c.Close(ack)
}
