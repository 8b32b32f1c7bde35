package interceptors

import (
	"io"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// Interceptor IDs.
const (
	MessageSenderID       = "MessageSender"
	MessageSenderEndingID = "MessageSenderEnding"
	ServiceInvokerID      = "ServiceInvoker"
	OutgoingChainID       = "OutgoingChain"
	OneWayProcessorID     = "OneWayProcessor"
)

// ConduitFor returns the conduit an outbound message is written to: the
// exchange conduit for a requestor, the back-channel of the inbound
// destination for a responder.
func ConduitFor(m *message.Message) (transport.Conduit, error) {
	ex := m.Exchange()
	if ex == nil {
		return nil, errspkg.NewIOError("send", "", errspkg.ErrNoBackChannel)
	}
	if m.IsRequestor() {
		if c := transport.ConduitOf(ex); c != nil {
			return c, nil
		}
		return nil, errspkg.NewIOError("send", "", errspkg.ErrNoBackChannel)
	}

	d := transport.DestinationOf(ex)
	in := ex.InMessage()
	if d == nil || in == nil {
		return nil, errspkg.NewIOError("send", "", errspkg.ErrNoBackChannel)
	}
	return d.BackChannel(in)
}

// MessageSender prepares the conduit of an outbound message and schedules the
// ending interceptor that transmits it once the body has been written.
type MessageSender struct {
	phase.Base
}

func NewMessageSender() *MessageSender {
	return &MessageSender{Base: phase.NewBase(MessageSenderID, phase.PrepareSend)}
}

func (s *MessageSender) HandleMessage(m *message.Message) error {
	c, err := ConduitFor(m)
	if err != nil {
		return err
	}
	if err := c.Prepare(m); err != nil {
		return err
	}
	message.SetContent(m, c)

	chain := m.InterceptorChain()
	if chain == nil {
		return c.Close(m)
	}
	return chain.Add(&messageSenderEnding{
		Base:    phase.NewBase(MessageSenderEndingID, phase.Ending(phase.PrepareSend)),
		conduit: c,
	})
}

// HandleFault drops the prepared output without transmitting it.
func (s *MessageSender) HandleFault(m *message.Message) {
	message.RemoveContent[io.Writer](m)
	message.RemoveContent[transport.Conduit](m)
}

type messageSenderEnding struct {
	phase.Base
	conduit transport.Conduit
}

func (e *messageSenderEnding) HandleMessage(m *message.Message) error {
	return e.conduit.Close(m)
}
