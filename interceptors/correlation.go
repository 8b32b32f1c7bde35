package interceptors

import (
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	CorrelationInID  = "CorrelationIDIn"
	CorrelationOutID = "CorrelationIDOut"
)

// NewCorrelationIDIn ensures every inbound message and its exchange carry a
// correlation ID.
func NewCorrelationIDIn() message.Interceptor {
	return phase.Func(CorrelationInID, phase.Receive, ensureCorrelationID)
}

// NewCorrelationIDOut copies the exchange correlation ID onto outbound
// messages, generating one when the exchange has none.
func NewCorrelationIDOut() message.Interceptor {
	return phase.Func(CorrelationOutID, phase.Setup, ensureCorrelationID)
}

func ensureCorrelationID(m *message.Message) error {
	id := message.CorrelationID(m)
	if id == "" {
		id = idspkg.CreateULID()
	}
	m.Put(message.KeyCorrelationID, id)
	if ex := m.Exchange(); ex != nil && ex.GetString(message.KeyCorrelationID) == "" {
		ex.Put(message.KeyCorrelationID, id)
	}
	m.ProtocolHeaders()[message.HeaderCorrelationID] = id
	return nil
}
