package phase

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
)

var _ message.InterceptorChain = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for fault and unwind diagnostics.
func WithLogger(log loggingpkg.ServiceLogger) Option {
	return func(c *Chain) { c.logger = loggingpkg.OrNop(log) }
}

// WithFaultObserver sets the observer notified when a fault aborts the chain.
func WithFaultObserver(o message.Observer) Option {
	return func(c *Chain) { c.faultObserver = o }
}

// WithName labels the chain in logs.
func WithName(name string) Option {
	return func(c *Chain) { c.name = name }
}

// Chain is the interceptor engine. It keeps the contributed interceptors in
// insertion order, the sorted sequence derived from them, and a resumable
// cursor into that sequence. A chain processes one message at a time; it is
// safe to Add from other goroutines and from interceptors while it runs.
type Chain struct {
	mu     sync.Mutex
	name   string
	phases []Phase
	index  map[string]int

	added []message.Interceptor
	list  []message.Interceptor

	next    int
	current int
	passed  []message.Interceptor

	// stop is a Pause or Suspend request. It takes effect only once the
	// running interceptor has returned.
	stop stopRequest

	state   message.ChainState
	pending *message.Message
	err     error

	faultObserver message.Observer
	logger        loggingpkg.ServiceLogger
}

type stopRequest int

const (
	stopNone stopRequest = iota
	stopPause
	stopSuspend
)

// NewChain returns an empty chain over phases.
func NewChain(phases []Phase, opts ...Option) *Chain {
	c := &Chain{
		phases: append([]Phase(nil), phases...),
		index:  phaseIndex(phases),
		logger: loggingpkg.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(loggingpkg.LogFields{"chain": c.name})
	return c
}

// Build returns a chain over phases holding every contributed list, in order.
func Build(phases []Phase, lists ...[]message.Interceptor) (*Chain, error) {
	c := NewChain(phases)
	if err := c.AddLists(lists...); err != nil {
		return nil, err
	}
	return c, nil
}

// Phases returns the chain's phase list.
func (c *Chain) Phases() []Phase {
	return append([]Phase(nil), c.phases...)
}

// Add inserts interceptors. An interceptor whose ID is already in the chain is
// ignored; one whose phase is unknown fails the whole call and nothing is
// added. Before a run starts the chain is fully re-sorted. During a run the new
// interceptor is placed relative to the fixed existing order: it executes in
// this run only when it lands after the cursor.
func (c *Chain) Add(interceptors ...message.Interceptor) error {
	return c.add(false, interceptors)
}

// ForceAdd is Add without duplicate suppression.
func (c *Chain) ForceAdd(interceptors ...message.Interceptor) error {
	return c.add(true, interceptors)
}

// AddLists adds several contributions, for example bus, service and endpoint
// lists, with a single re-sort.
func (c *Chain) AddLists(lists ...[]message.Interceptor) error {
	var all []message.Interceptor
	for _, l := range lists {
		all = append(all, l...)
	}
	return c.Add(all...)
}

func (c *Chain) add(force bool, interceptors []message.Interceptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, in := range interceptors {
		if in == nil {
			continue
		}
		if _, ok := c.index[in.Phase()]; !ok {
			return &errspkg.UnknownPhaseError{Phase: in.Phase(), InterceptorID: in.ID()}
		}
	}

	resort := false
	for _, in := range interceptors {
		if in == nil || (!force && c.hasLocked(in.ID())) {
			continue
		}
		c.added = append(c.added, in)
		if c.inFlightLocked() {
			c.insertLocked(in)
		} else {
			resort = true
		}
	}
	if resort {
		c.list = sortKnown(c.index, len(c.phases), c.added)
	}
	return nil
}

func (c *Chain) hasLocked(id string) bool {
	if id == "" {
		return false
	}
	for _, in := range c.added {
		if in.ID() == id {
			return true
		}
	}
	return false
}

func (c *Chain) inFlightLocked() bool {
	return c.next > 0 || len(c.passed) > 0 || c.state == message.StateExecuting ||
		c.state == message.StatePaused || c.state == message.StateSuspended
}

// insertLocked places in inside its phase range without moving existing
// interceptors: after every member it must follow, before the first member it
// must precede, otherwise at the end of the phase.
func (c *Chain) insertLocked(in message.Interceptor) {
	pi := c.index[in.Phase()]

	start := len(c.list)
	for i, existing := range c.list {
		if c.index[existing.Phase()] >= pi {
			start = i
			break
		}
	}
	end := start
	for end < len(c.list) && c.index[c.list[end].Phase()] == pi {
		end++
	}

	lower, upper := start, end
	for i := start; i < end; i++ {
		if mustPrecede(c.list[i], in) {
			lower = i + 1
		}
	}
	for i := start; i < end; i++ {
		if mustPrecede(in, c.list[i]) {
			upper = i
			break
		}
	}

	pos := end
	if upper < pos {
		pos = upper
	}
	if lower > pos {
		pos = lower
	}

	c.list = slices.Insert(c.list, pos, in)
	if pos < c.next {
		c.next++
		c.current++
	}
}

// DoIntercept drives m from the current cursor. It returns nil when the chain
// completes, is paused or aborted without a fault, or when a fault handler
// cleared the fault during the unwind. It returns the fault when the unwind
// reached the start of the chain, and ErrSuspended when an interceptor
// suspended the chain. Calling DoIntercept from inside an interceptor continues
// the same cursor.
func (c *Chain) DoIntercept(m *message.Message) error {
	c.mu.Lock()
	c.state = message.StateExecuting
	c.pending = m
	c.mu.Unlock()
	m.SetInterceptorChain(c)

	for {
		c.mu.Lock()
		if c.applyStopLocked(false) || c.state != message.StateExecuting {
			c.mu.Unlock()
			break
		}
		if c.next >= len(c.list) {
			c.state = message.StateComplete
			c.mu.Unlock()
			break
		}
		in := c.list[c.next]
		c.current = c.next
		c.next++
		c.passed = append(c.passed, in)
		c.mu.Unlock()

		err := in.HandleMessage(m)

		c.mu.Lock()
		if err != nil && !errors.Is(err, errspkg.ErrSuspended) {
			// A fault wins over a stop request or Abort from the
			// failing interceptor.
			c.stop = stopNone
			c.mu.Unlock()
			c.unwind(m, in, err)
			break
		}
		if err != nil {
			c.stop = stopSuspend
		}
		if c.applyStopLocked(true) || c.state != message.StateExecuting {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
	}

	return c.result()
}

func (c *Chain) result() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case message.StateSuspended:
		return errspkg.ErrSuspended
	case message.StateAborted:
		return c.err
	default:
		return nil
	}
}

// unwind calls HandleFault on every interceptor passed before failing, most
// recent first. The failing interceptor and those never reached get no call.
func (c *Chain) unwind(m *message.Message, failing message.Interceptor, err error) {
	m.SetException(err)

	c.mu.Lock()
	cut := len(c.passed) - 1
	for cut >= 0 && c.passed[cut] != failing {
		cut--
	}
	if cut < 0 {
		cut = len(c.passed)
	}
	passed := append([]message.Interceptor(nil), c.passed[:cut]...)
	c.mu.Unlock()

	c.logger.Debug("Interceptor faulted, unwinding", loggingpkg.LogFields{
		"interceptor": failing.ID(),
		"phase":       failing.Phase(),
		"passed":      len(passed),
		"error":       err.Error(),
	})

	for i := len(passed) - 1; i >= 0; i-- {
		passed[i].HandleFault(m)
		if m.Exception() == nil {
			c.mu.Lock()
			c.state = message.StateComplete
			c.err = nil
			c.mu.Unlock()
			c.logger.Debug("Fault cleared during unwind", loggingpkg.LogFields{
				"interceptor": passed[i].ID(),
			})
			return
		}
	}

	c.mu.Lock()
	c.state = message.StateAborted
	c.err = m.Exception()
	observer := c.faultObserver
	c.mu.Unlock()

	if observer == nil {
		return
	}
	if oerr := observer.OnMessage(m); oerr != nil {
		c.logger.Error("Fault observer failed", oerr, loggingpkg.LogFields{
			"interceptor": failing.ID(),
		})
	}
}

// Pause stops the chain once the current interceptor returns. Resume continues
// with the next interceptor. The chain stays executing until then, so Resume
// from another goroutine cannot overtake the pausing interceptor.
func (c *Chain) Pause() {
	c.request(stopPause)
}

// Suspend stops the chain once the current interceptor returns. Resume runs
// the current interceptor again. Returning an error wrapping ErrSuspended from
// HandleMessage has the same effect.
func (c *Chain) Suspend() {
	c.request(stopSuspend)
}

func (c *Chain) request(r stopRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == message.StateExecuting && r > c.stop {
		c.stop = r
	}
}

// applyStopLocked turns a pending stop request into the chain state and
// reports whether it did. A suspension rewinds the cursor only when it is
// applied right after the interceptor that asked for it.
func (c *Chain) applyStopLocked(returned bool) bool {
	r := c.stop
	c.stop = stopNone
	if r == stopNone || c.state != message.StateExecuting {
		return false
	}
	switch {
	case r == stopPause:
		c.state = message.StatePaused
	case returned:
		c.suspendLocked()
	default:
		c.state = message.StateSuspended
	}
	return true
}

func (c *Chain) suspendLocked() {
	c.state = message.StateSuspended
	c.next = c.current
	if n := len(c.passed); n > 0 && c.current < len(c.list) && c.passed[n-1] == c.list[c.current] {
		c.passed = c.passed[:n-1]
	}
}

// Resume re-enters a paused or suspended chain on the calling goroutine.
func (c *Chain) Resume() error {
	c.mu.Lock()
	if c.state != message.StatePaused && c.state != message.StateSuspended {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", errspkg.ErrChainNotPaused, state)
	}
	m := c.pending
	c.mu.Unlock()
	return c.DoIntercept(m)
}

// Abort stops the chain without running fault handlers.
func (c *Chain) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = message.StateAborted
	c.stop = stopNone
}

// Reset rewinds the cursor and re-sorts every contributed interceptor so the
// chain can process another message.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next, c.current = 0, 0
	c.passed = nil
	c.stop = stopNone
	c.state = message.StateIdle
	c.pending = nil
	c.err = nil
	c.list = sortKnown(c.index, len(c.phases), c.added)
}

// DoInterceptStartingAfter runs m from the interceptor following id.
func (c *Chain) DoInterceptStartingAfter(m *message.Message, id string) error {
	return c.startFrom(m, id, 1)
}

// DoInterceptStartingAt runs m from the interceptor with the given id.
func (c *Chain) DoInterceptStartingAt(m *message.Message, id string) error {
	return c.startFrom(m, id, 0)
}

func (c *Chain) startFrom(m *message.Message, id string, offset int) error {
	c.mu.Lock()
	at := -1
	for i, in := range c.list {
		if in.ID() == id {
			at = i
			break
		}
	}
	if at < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", errspkg.ErrInterceptorNotFound, id)
	}
	c.next = at + offset
	c.mu.Unlock()
	return c.DoIntercept(m)
}

func (c *Chain) State() message.ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Chain) FaultObserver() message.Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faultObserver
}

func (c *Chain) SetFaultObserver(o message.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faultObserver = o
}

// Interceptors returns a snapshot of the sorted sequence.
func (c *Chain) Interceptors() []message.Interceptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Interceptor(nil), c.list...)
}

// Iterate yields the interceptors of a snapshot in execution order.
func (c *Chain) Iterate() iter.Seq[message.Interceptor] {
	list := c.Interceptors()
	return func(yield func(message.Interceptor) bool) {
		for _, in := range list {
			if !yield(in) {
				return
			}
		}
	}
}

// Len returns the number of interceptors in the chain.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list)
}

// Layout groups the interceptor IDs by phase in execution order, skipping
// empty phases.
func (c *Chain) Layout() []PhaseLayout {
	c.mu.Lock()
	defer c.mu.Unlock()
	var layout []PhaseLayout
	for _, in := range c.list {
		if n := len(layout); n > 0 && layout[n-1].Phase == in.Phase() {
			layout[n-1].Interceptors = append(layout[n-1].Interceptors, in.ID())
			continue
		}
		layout = append(layout, PhaseLayout{Phase: in.Phase(), Interceptors: []string{in.ID()}})
	}
	return layout
}

// PhaseLayout is one phase of a chain layout.
type PhaseLayout struct {
	Phase        string   `json:"phase"`
	Interceptors []string `json:"interceptors"`
}

func (c *Chain) String() string {
	var b strings.Builder
	b.WriteString("Chain{")
	for i, p := range c.Layout() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Phase)
		b.WriteString(": [")
		b.WriteString(strings.Join(p.Interceptors, " "))
		b.WriteString("]")
	}
	b.WriteString("}")
	return b.String()
}
