package message

// Well-known property keys.
const (
	KeyRequestorRole    = "phaseflow.requestor.role"
	KeyInbound          = "phaseflow.message.inbound"
	KeyEndpointAddress  = "phaseflow.endpoint.address"
	KeyContentType      = "Content-Type"
	KeyProtocolHeaders  = "phaseflow.protocol.headers"
	KeyResponseCode     = "phaseflow.response.code"
	KeyOperationName    = "phaseflow.operation.name"
	KeyCorrelationID    = "phaseflow.correlation.id"
	KeyReplyTo          = "phaseflow.reply.to"
	KeyFaultResponse    = "phaseflow.fault.response"
	KeyDecoupledChannel = "phaseflow.decoupled.channel"
	KeyFaultReplied     = "phaseflow.fault.replied"
)

// Wire header names transports use to carry the well-known properties.
const (
	HeaderOperation     = "X-Phaseflow-Operation"
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderReplyTo       = "X-Phaseflow-Reply-To"
	HeaderFault         = "X-Phaseflow-Fault"
	HeaderResponseCode  = "X-Phaseflow-Response-Code"
	HeaderContentType   = "Content-Type"
)

// CorrelationID returns the correlation identifier visible to m.
func CorrelationID(m *Message) string {
	v, _ := m.ContextualProperty(KeyCorrelationID)
	s, _ := v.(string)
	return s
}

// ResponseCode returns the response code recorded on m, or 0.
func ResponseCode(m *Message) int {
	v, _ := m.Get(KeyResponseCode)
	code, _ := v.(int)
	return code
}
