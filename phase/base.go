package phase

import "github.com/drblury/phaseflow/message"

// Base carries the identity and ordering metadata of an interceptor. Embed it
// and implement HandleMessage.
type Base struct {
	id     string
	phase  string
	before []string
	after  []string
}

// NewBase returns a Base for the given ID and phase.
func NewBase(id, phase string) Base {
	return Base{id: id, phase: phase}
}

func (b *Base) ID() string       { return b.id }
func (b *Base) Phase() string    { return b.phase }
func (b *Base) Before() []string { return b.before }
func (b *Base) After() []string  { return b.after }

// AddBefore requires the interceptor to run before the named same-phase ones.
func (b *Base) AddBefore(ids ...string) {
	b.before = append(b.before, ids...)
}

// AddAfter requires the interceptor to run after the named same-phase ones.
func (b *Base) AddAfter(ids ...string) {
	b.after = append(b.after, ids...)
}

// HandleFault does nothing.
func (b *Base) HandleFault(*message.Message) {}

// FuncInterceptor adapts plain functions to message.Interceptor.
type FuncInterceptor struct {
	Base
	Handle func(m *message.Message) error
	Fault  func(m *message.Message)
}

// Func returns an interceptor running handle in the given phase.
func Func(id, phase string, handle func(m *message.Message) error) *FuncInterceptor {
	return &FuncInterceptor{Base: NewBase(id, phase), Handle: handle}
}

// RunsBefore sets ordering constraints and returns f for chaining.
func (f *FuncInterceptor) RunsBefore(ids ...string) *FuncInterceptor {
	f.AddBefore(ids...)
	return f
}

// RunsAfter sets ordering constraints and returns f for chaining.
func (f *FuncInterceptor) RunsAfter(ids ...string) *FuncInterceptor {
	f.AddAfter(ids...)
	return f
}

// OnFault sets the fault handler and returns f for chaining.
func (f *FuncInterceptor) OnFault(fn func(m *message.Message)) *FuncInterceptor {
	f.Fault = fn
	return f
}

func (f *FuncInterceptor) HandleMessage(m *message.Message) error {
	if f.Handle == nil {
		return nil
	}
	return f.Handle(m)
}

func (f *FuncInterceptor) HandleFault(m *message.Message) {
	if f.Fault != nil {
		f.Fault(m)
	}
}
