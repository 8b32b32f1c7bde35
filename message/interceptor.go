package message

// Interceptor is one unit of processing bound to a phase. Before and After name
// the IDs of same-phase interceptors it must precede or follow; they never
// order interceptors across phases.
type Interceptor interface {
	ID() string
	Phase() string
	Before() []string
	After() []string

	// HandleMessage runs on the forward pass. A non-nil error is a processing
	// fault and starts the unwind.
	HandleMessage(m *Message) error

	// HandleFault runs during the unwind for interceptors that were already
	// passed. Clearing the message exception stops the unwind.
	HandleFault(m *Message)
}

// ChainState is the execution state of an InterceptorChain.
type ChainState int

const (
	StateIdle ChainState = iota
	StateExecuting
	StatePaused
	StateSuspended
	StateComplete
	StateAborted
)

func (s ChainState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StatePaused:
		return "paused"
	case StateSuspended:
		return "suspended"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// InterceptorChain drives a message through an ordered interceptor sequence.
type InterceptorChain interface {
	Add(interceptors ...Interceptor) error
	DoIntercept(m *Message) error
	Pause()
	Suspend()
	Resume() error
	Abort()
	Reset()
	State() ChainState
	FaultObserver() Observer
	SetFaultObserver(o Observer)
}

// Observer is notified with a message when something happened: a transport
// received traffic, a conduit received a response, a chain aborted.
type Observer interface {
	OnMessage(m *Message) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m *Message) error

func (f ObserverFunc) OnMessage(m *Message) error {
	return f(m)
}
