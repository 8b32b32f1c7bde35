package pubsub

import (
	"bytes"
	"io"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/transport"
)

// FromWatermill converts a received Watermill message into an inbound message.
// The payload becomes io.Reader content; the well-known headers become
// message properties.
func FromWatermill(wm *wmmessage.Message) *message.Message {
	m := message.NewMessageWithContext(wm.Context())
	transport.ApplyInboundHeaders(m, metadatapkg.FromWatermill(wm.Metadata))
	if message.CorrelationID(m) == "" {
		m.Put(message.KeyCorrelationID, wm.UUID)
	}
	message.SetContent[io.Reader](m, bytes.NewReader(wm.Payload))
	return m
}

// ToWatermill converts an outbound message and its serialized body into a
// Watermill message.
func ToWatermill(m *message.Message, payload []byte) *wmmessage.Message {
	wm := wmmessage.NewMessage(idspkg.CreateULID(), payload)
	wm.Metadata = metadatapkg.ToWatermill(transport.OutboundHeaders(m))
	wm.SetContext(m.Context())
	return wm
}
