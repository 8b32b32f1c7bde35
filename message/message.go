package message

import (
	"context"
	"reflect"
	"sync"

	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/phaseflow/internal/runtime/metadata"
)

// Message is one direction's worth of in-flight traffic: an open property bag,
// typed content slots, a back-reference to its Exchange and the chain that is
// currently processing it. It is mutable throughout processing and belongs to
// exactly one Exchange.
type Message struct {
	properties

	id string

	mu        sync.RWMutex
	ctx       context.Context
	contents  map[reflect.Type]any
	exchange  *Exchange
	chain     InterceptorChain
	exception error
}

// NewMessage creates a message with a fresh ULID and a background context.
func NewMessage() *Message {
	return NewMessageWithContext(context.Background())
}

// NewMessageWithContext creates a message bound to ctx.
func NewMessageWithContext(ctx context.Context) *Message {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Message{id: idspkg.CreateULID(), ctx: ctx}
}

// ID returns the message identifier.
func (m *Message) ID() string {
	return m.id
}

// Context returns the context the message is processed under.
func (m *Message) Context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctx
}

// SetContext replaces the processing context, for example after a tracing
// interceptor started a span.
func (m *Message) SetContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// Exchange returns the owning exchange, or nil before the message is linked.
func (m *Message) Exchange() *Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exchange
}

// SetExchange links the message to ex without placing it in any exchange slot.
// Transports use it for responses whose slot (in or in-fault) is decided by the
// receiving observer; Exchange setters call it for every slot assignment.
func (m *Message) SetExchange(ex *Exchange) {
	m.mu.Lock()
	m.exchange = ex
	m.mu.Unlock()
}

// InterceptorChain returns the chain currently driving the message.
func (m *Message) InterceptorChain() InterceptorChain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chain
}

// SetInterceptorChain attaches the chain that processes the message.
func (m *Message) SetInterceptorChain(c InterceptorChain) {
	m.mu.Lock()
	m.chain = c
	m.mu.Unlock()
}

// Exception returns the processing fault recorded on the message, if any.
func (m *Message) Exception() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exception
}

// SetException records a processing fault. Fault handlers clear it with
// ClearException to convert the fault back to success.
func (m *Message) SetException(err error) {
	m.mu.Lock()
	m.exception = err
	m.mu.Unlock()
}

// ClearException removes the recorded fault.
func (m *Message) ClearException() {
	m.SetException(nil)
}

// ContextualProperty resolves key against the message, then its exchange, then
// the exchange's fallback source (normally the bus).
func (m *Message) ContextualProperty(key string) (any, bool) {
	if v, ok := m.Get(key); ok {
		return v, true
	}
	ex := m.Exchange()
	if ex == nil {
		return nil, false
	}
	if v, ok := ex.Get(key); ok {
		return v, true
	}
	if src := ex.Fallback(); src != nil {
		return src.Get(key)
	}
	return nil, false
}

// IsRequestor reports whether the message belongs to the client side.
func (m *Message) IsRequestor() bool {
	if m.GetBool(KeyRequestorRole) {
		return true
	}
	if ex := m.Exchange(); ex != nil {
		return ex.GetBool(KeyRequestorRole)
	}
	return false
}

// IsOutbound reports whether the message occupies an out or out-fault slot.
func (m *Message) IsOutbound() bool {
	ex := m.Exchange()
	if ex == nil {
		return false
	}
	return m == ex.OutMessage() || m == ex.OutFaultMessage()
}

// Objects returns the data-bound payload objects.
func (m *Message) Objects() []any {
	objs, _ := Content[[]any](m)
	return objs
}

// SetObjects replaces the data-bound payload objects.
func (m *Message) SetObjects(objs ...any) {
	SetContent(m, objs)
}

// ProtocolHeaders returns the transport-level headers, never nil.
func (m *Message) ProtocolHeaders() metadatapkg.Metadata {
	v, _ := m.Get(KeyProtocolHeaders)
	if md, ok := v.(metadatapkg.Metadata); ok && md != nil {
		return md
	}
	md := metadatapkg.Metadata{}
	m.Put(KeyProtocolHeaders, md)
	return md
}

// SetProtocolHeaders replaces the transport-level headers.
func (m *Message) SetProtocolHeaders(md metadatapkg.Metadata) {
	m.Put(KeyProtocolHeaders, md)
}

// Content returns the content of static type T stored on m.
func Content[T any](m *Message) (T, bool) {
	key := reflect.TypeFor[T]()
	m.mu.RLock()
	v, ok := m.contents[key]
	m.mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// SetContent stores v as the content of static type T, so an *os.File stored
// as io.Writer is retrieved with Content[io.Writer].
func SetContent[T any](m *Message, v T) {
	key := reflect.TypeFor[T]()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contents == nil {
		m.contents = make(map[reflect.Type]any)
	}
	m.contents[key] = v
}

// RemoveContent deletes the content of static type T.
func RemoveContent[T any](m *Message) {
	key := reflect.TypeFor[T]()
	m.mu.Lock()
	delete(m.contents, key)
	m.mu.Unlock()
}

// ContentTypes lists the static types of the stored contents.
func ContentTypes(m *Message) []reflect.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]reflect.Type, 0, len(m.contents))
	for t := range m.contents {
		types = append(types, t)
	}
	return types
}
