package transport

import (
	"strconv"
	"strings"

	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
	"github.com/drblury/phaseflow/message"
)

// OutboundHeaders returns the protocol headers of m with the well-known
// properties (correlation, operation, reply-to, content type, fault marker,
// response code) encoded as wire headers.
func OutboundHeaders(m *message.Message) metadatapkg.Metadata {
	md := m.ProtocolHeaders().Clone()
	if md == nil {
		md = metadatapkg.Metadata{}
	}
	if id := message.CorrelationID(m); id != "" {
		md[message.HeaderCorrelationID] = id
	}
	if op, _ := m.ContextualProperty(message.KeyOperationName); op != nil {
		if s, ok := op.(string); ok && s != "" {
			md[message.HeaderOperation] = s
		}
	}
	if replyTo := m.GetString(message.KeyReplyTo); replyTo != "" {
		md[message.HeaderReplyTo] = replyTo
	}
	if ct := m.GetString(message.KeyContentType); ct != "" {
		md[message.HeaderContentType] = ct
	}
	if m.GetBool(message.KeyFaultResponse) {
		md[message.HeaderFault] = "true"
	}
	if code := message.ResponseCode(m); code > 0 {
		md[message.HeaderResponseCode] = strconv.Itoa(code)
	}
	return md
}

// ApplyInboundHeaders stores md as the protocol headers of m and decodes the
// well-known headers into message properties. Header names match regardless
// of case, since some brokers lower-case them in transit.
func ApplyInboundHeaders(m *message.Message, md metadatapkg.Metadata) {
	if md == nil {
		md = metadatapkg.Metadata{}
	}
	m.SetProtocolHeaders(md)
	get := func(key string) string {
		v, _ := md.Lookup(key)
		return v
	}

	if id := get(message.HeaderCorrelationID); id != "" {
		m.Put(message.KeyCorrelationID, id)
	}
	if op := get(message.HeaderOperation); op != "" {
		m.Put(message.KeyOperationName, op)
	}
	if replyTo := get(message.HeaderReplyTo); replyTo != "" {
		m.Put(message.KeyReplyTo, replyTo)
	}
	if ct := get(message.HeaderContentType); ct != "" {
		m.Put(message.KeyContentType, ct)
	}
	if strings.EqualFold(get(message.HeaderFault), "true") {
		m.Put(message.KeyFaultResponse, true)
	}
	if code, err := strconv.Atoi(get(message.HeaderResponseCode)); err == nil && code > 0 {
		m.Put(message.KeyResponseCode, code)
	}
}
