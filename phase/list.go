package phase

import (
	"sync"
	"sync/atomic"

	"github.com/drblury/phaseflow/message"
)

// List is a copy-on-write interceptor list. Readers take lock-free snapshots
// while writers, which are rare, replace the whole slice. The zero value is an
// empty list. A List must not be copied after first use.
type List struct {
	mu    sync.Mutex
	items atomic.Pointer[[]message.Interceptor]
}

// NewList returns a list holding interceptors.
func NewList(interceptors ...message.Interceptor) *List {
	l := &List{}
	l.Add(interceptors...)
	return l
}

// Snapshot returns the current contents. The returned slice is never mutated.
func (l *List) Snapshot() []message.Interceptor {
	if p := l.items.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of interceptors.
func (l *List) Len() int {
	return len(l.Snapshot())
}

// Add appends interceptors; nil entries are skipped.
func (l *List) Add(interceptors ...message.Interceptor) {
	l.update(func(current []message.Interceptor) []message.Interceptor {
		next := make([]message.Interceptor, 0, len(current)+len(interceptors))
		next = append(next, current...)
		for _, in := range interceptors {
			if in != nil {
				next = append(next, in)
			}
		}
		return next
	})
}

// AddFirst prepends interceptors, keeping their relative order.
func (l *List) AddFirst(interceptors ...message.Interceptor) {
	l.update(func(current []message.Interceptor) []message.Interceptor {
		next := make([]message.Interceptor, 0, len(current)+len(interceptors))
		for _, in := range interceptors {
			if in != nil {
				next = append(next, in)
			}
		}
		return append(next, current...)
	})
}

// Remove drops every interceptor with the given ID and reports whether any was
// removed.
func (l *List) Remove(id string) bool {
	removed := false
	l.update(func(current []message.Interceptor) []message.Interceptor {
		next := make([]message.Interceptor, 0, len(current))
		for _, in := range current {
			if in.ID() == id {
				removed = true
				continue
			}
			next = append(next, in)
		}
		return next
	})
	return removed
}

func (l *List) update(fn func([]message.Interceptor) []message.Interceptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := fn(l.Snapshot())
	l.items.Store(&next)
}

// Provider exposes the four interceptor lists contributed by a bus, service or
// endpoint.
type Provider interface {
	InInterceptors() *List
	OutInterceptors() *List
	InFaultInterceptors() *List
	OutFaultInterceptors() *List
}

// Interceptors is an embeddable Provider implementation.
type Interceptors struct {
	in       List
	out      List
	inFault  List
	outFault List
}

func (i *Interceptors) InInterceptors() *List       { return &i.in }
func (i *Interceptors) OutInterceptors() *List      { return &i.out }
func (i *Interceptors) InFaultInterceptors() *List  { return &i.inFault }
func (i *Interceptors) OutFaultInterceptors() *List { return &i.outFault }
