package dispatch

import (
	"context"
	"net/http"
	"runtime/pprof"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// KeyEndpoints is the exchange property holding the candidate endpoints of a
// MultipleEndpointObserver.
const KeyEndpoints = "phaseflow.dispatch.endpoints"

const EndpointSelectorID = "EndpointSelector"

// MultipleEndpointObserver fronts several endpoints sharing one destination.
// The owning endpoint is chosen inside the chain by the routing interceptors,
// EndpointSelector by default.
type MultipleEndpointObserver struct {
	bus         *bus.Bus
	destination transport.Destination
	logger      loggingpkg.ServiceLogger
	labels      bool

	mu        sync.Mutex
	endpoints atomic.Pointer[[]*endpoint.Endpoint]

	binding phase.List
	routing phase.List
}

// MultipleOption configures a MultipleEndpointObserver.
type MultipleOption func(*MultipleEndpointObserver)

// WithProfilerLabels tags the dispatching goroutine with pprof labels naming
// the bus and destination for the duration of each call.
func WithProfilerLabels() MultipleOption {
	return func(o *MultipleEndpointObserver) { o.labels = true }
}

// NewMultipleEndpointObserver creates an observer whose binding list holds the
// server interceptors and whose routing list holds an EndpointSelector.
func NewMultipleEndpointObserver(b *bus.Bus, d transport.Destination, opts ...MultipleOption) *MultipleEndpointObserver {
	o := &MultipleEndpointObserver{
		bus:         b,
		destination: d,
		logger:      loggingpkg.Component(b.Logger(), "dispatch").With(loggingpkg.LogFields{"address": d.Address().Address}),
	}
	empty := []*endpoint.Endpoint{}
	o.endpoints.Store(&empty)
	o.binding.Add(ServerInterceptors()...)
	o.routing.Add(NewEndpointSelector())
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BindingInterceptors returns the binding list; additions apply to
// subsequent messages.
func (o *MultipleEndpointObserver) BindingInterceptors() *phase.List {
	return &o.binding
}

// RoutingInterceptors returns the routing list.
func (o *MultipleEndpointObserver) RoutingInterceptors() *phase.List {
	return &o.routing
}

// AddEndpoint adds ep to the candidate set. Adding an endpoint twice is a
// no-op.
func (o *MultipleEndpointObserver) AddEndpoint(ep *endpoint.Endpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur := *o.endpoints.Load()
	if slices.Contains(cur, ep) {
		return
	}
	next := append(slices.Clone(cur), ep)
	o.endpoints.Store(&next)
}

// RemoveEndpoint removes ep and reports whether it was present.
func (o *MultipleEndpointObserver) RemoveEndpoint(ep *endpoint.Endpoint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur := *o.endpoints.Load()
	i := slices.Index(cur, ep)
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	o.endpoints.Store(&next)
	return true
}

// Endpoints returns a snapshot of the candidate endpoints.
func (o *MultipleEndpointObserver) Endpoints() []*endpoint.Endpoint {
	return slices.Clone(*o.endpoints.Load())
}

// Chain builds the chain the observer starts every message with.
func (o *MultipleEndpointObserver) Chain() (*phase.Chain, error) {
	chain := phase.NewChain(o.bus.PhaseManager().InPhases(),
		phase.WithLogger(o.bus.Logger()),
		phase.WithName(o.destination.Address().Address+"/in"),
	)
	err := chain.AddLists(
		o.bus.InInterceptors().Snapshot(),
		o.binding.Snapshot(),
		o.routing.Snapshot(),
	)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func (o *MultipleEndpointObserver) OnMessage(m *message.Message) error {
	if o.labels {
		defer o.label(m.Context())()
	}

	ex := prepareExchange(o.bus, o.destination, m)
	ex.Put(KeyEndpoints, o.Endpoints())

	chain, err := o.Chain()
	if err != nil {
		return err
	}
	chain.SetFaultObserver(NewOutFaultChainInitiatorObserver(o.bus))
	return finish(o.logger, m, chain.DoIntercept(m))
}

// label sets goroutine profiler labels and returns the function resetting
// them to the labels of ctx.
func (o *MultipleEndpointObserver) label(ctx context.Context) func() {
	labelled := pprof.WithLabels(ctx, pprof.Labels(
		"phaseflow.bus", o.bus.ID(),
		"phaseflow.destination", o.destination.Address().Address,
	))
	pprof.SetGoroutineLabels(labelled)
	return func() { pprof.SetGoroutineLabels(ctx) }
}

// Endpoints returns the candidate endpoints recorded on ex.
func Endpoints(ex *message.Exchange) []*endpoint.Endpoint {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(KeyEndpoints)
	eps, _ := v.([]*endpoint.Endpoint)
	return eps
}

// EndpointSelector picks the endpoint owning an inbound message from the
// candidates on its exchange, by the operation it names, and splices the
// service and endpoint interceptors into the running chain. Spliced
// interceptors in phases the chain has already passed do not run.
type EndpointSelector struct {
	phase.Base
}

func NewEndpointSelector() *EndpointSelector {
	return &EndpointSelector{Base: phase.NewBase(EndpointSelectorID, phase.Read)}
}

func (s *EndpointSelector) HandleMessage(m *message.Message) error {
	ex := m.Exchange()
	ep := endpoint.Of(ex)
	if ep == nil {
		var err error
		if ep, err = selectEndpoint(m, Endpoints(ex)); err != nil {
			return err
		}
		endpoint.Set(ex, ep)
	}

	chain := m.InterceptorChain()
	if chain == nil {
		return nil
	}
	var spliced []message.Interceptor
	spliced = append(spliced, ep.Service().InInterceptors().Snapshot()...)
	spliced = append(spliced, ep.InInterceptors().Snapshot()...)
	return chain.Add(spliced...)
}

func selectEndpoint(m *message.Message, candidates []*endpoint.Endpoint) (*endpoint.Endpoint, error) {
	v, _ := m.ContextualProperty(message.KeyOperationName)
	opName, _ := v.(string)

	if opName == "" {
		if len(candidates) == 1 {
			return candidates[0], nil
		}
	} else {
		for _, ep := range candidates {
			if _, ok := ep.Service().Operation(opName); ok {
				return ep, nil
			}
		}
	}
	f := message.NewFault(message.FaultCodeClient, "no endpoint serves operation %q", opName)
	f.StatusCode = http.StatusNotFound
	return nil, f
}
