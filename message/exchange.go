package message

import (
	"sync"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
)

// Exchange groups the messages of one request/response correlation and holds
// exchange-scoped properties (endpoint, destination, conduit, bus) visible to
// every message in the group. Each slot holds at most one message; setting a
// slot replaces the previous reference.
type Exchange struct {
	properties

	id string

	mu          sync.RWMutex
	in          *Message
	out         *Message
	inFault     *Message
	outFault    *Message
	oneWay      bool
	synchronous bool
	fallback    PropertySource
}

// NewExchange creates a synchronous two-way exchange with a fresh ULID.
func NewExchange() *Exchange {
	return &Exchange{id: idspkg.CreateULID(), synchronous: true}
}

// Ensure returns the exchange of m, creating and linking one as its in-message
// when m has none.
func Ensure(m *Message) *Exchange {
	if ex := m.Exchange(); ex != nil {
		return ex
	}
	ex := NewExchange()
	ex.SetInMessage(m)
	return ex
}

// ID returns the exchange identifier.
func (e *Exchange) ID() string {
	return e.id
}

// InMessage returns the current in-message.
func (e *Exchange) InMessage() *Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.in
}

// SetInMessage replaces the in-message and links it to e. The replaced message
// keeps its own reference to e.
func (e *Exchange) SetInMessage(m *Message) {
	e.setSlot(&e.in, m)
}

// OutMessage returns the current out-message.
func (e *Exchange) OutMessage() *Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.out
}

// SetOutMessage replaces the out-message and links it to e.
func (e *Exchange) SetOutMessage(m *Message) {
	e.setSlot(&e.out, m)
}

// InFaultMessage returns the fault received in response to a request.
func (e *Exchange) InFaultMessage() *Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inFault
}

// SetInFaultMessage replaces the in-fault message and links it to e.
func (e *Exchange) SetInFaultMessage(m *Message) {
	e.setSlot(&e.inFault, m)
}

// OutFaultMessage returns the fault being sent in reply to a request.
func (e *Exchange) OutFaultMessage() *Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outFault
}

// SetOutFaultMessage replaces the out-fault message and links it to e.
func (e *Exchange) SetOutFaultMessage(m *Message) {
	e.setSlot(&e.outFault, m)
}

func (e *Exchange) setSlot(slot **Message, m *Message) {
	e.mu.Lock()
	*slot = m
	e.mu.Unlock()
	if m != nil {
		m.SetExchange(e)
	}
}

// OneWay reports whether no response is expected.
func (e *Exchange) OneWay() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oneWay
}

// SetOneWay marks the exchange as fire-and-forget.
func (e *Exchange) SetOneWay(oneWay bool) {
	e.mu.Lock()
	e.oneWay = oneWay
	e.mu.Unlock()
}

// Synchronous reports whether the response travels on the request's channel.
func (e *Exchange) Synchronous() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.synchronous
}

// SetSynchronous records whether the response travels on the request's channel.
func (e *Exchange) SetSynchronous(synchronous bool) {
	e.mu.Lock()
	e.synchronous = synchronous
	e.mu.Unlock()
}

// Fallback returns the source consulted after exchange properties.
func (e *Exchange) Fallback() PropertySource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallback
}

// SetFallback sets the source consulted after exchange properties.
func (e *Exchange) SetFallback(src PropertySource) {
	e.mu.Lock()
	e.fallback = src
	e.mu.Unlock()
}
