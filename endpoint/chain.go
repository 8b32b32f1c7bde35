package endpoint

import (
	"github.com/drblury/phaseflow/bus"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

// Contributions from the bus, then the service, then the endpoint, then the
// caller are merged into a single chain. A nil endpoint contributes nothing.

// InChain builds the inbound chain for ep.
func InChain(b *bus.Bus, ep *Endpoint, extra ...[]message.Interceptor) (*phase.Chain, error) {
	return build(b, ep, "in", b.PhaseManager().InPhases(), (*phase.Interceptors).InInterceptors, extra)
}

// OutChain builds the outbound chain for ep.
func OutChain(b *bus.Bus, ep *Endpoint, extra ...[]message.Interceptor) (*phase.Chain, error) {
	return build(b, ep, "out", b.PhaseManager().OutPhases(), (*phase.Interceptors).OutInterceptors, extra)
}

// InFaultChain builds the chain a requestor runs over a fault response.
func InFaultChain(b *bus.Bus, ep *Endpoint, extra ...[]message.Interceptor) (*phase.Chain, error) {
	return build(b, ep, "in-fault", b.PhaseManager().InFaultPhases(), (*phase.Interceptors).InFaultInterceptors, extra)
}

// OutFaultChain builds the chain that writes a fault reply.
func OutFaultChain(b *bus.Bus, ep *Endpoint, extra ...[]message.Interceptor) (*phase.Chain, error) {
	return build(b, ep, "out-fault", b.PhaseManager().OutFaultPhases(), (*phase.Interceptors).OutFaultInterceptors, extra)
}

func build(
	b *bus.Bus,
	ep *Endpoint,
	direction string,
	phases []phase.Phase,
	pick func(*phase.Interceptors) *phase.List,
	extra [][]message.Interceptor,
) (*phase.Chain, error) {
	if b == nil {
		return nil, errspkg.ErrBusRequired
	}

	name := direction
	lists := [][]message.Interceptor{pick(&b.Interceptors).Snapshot()}
	if ep != nil {
		name = ep.Name() + "/" + direction
		lists = append(lists,
			pick(&ep.service.Interceptors).Snapshot(),
			pick(&ep.Interceptors).Snapshot(),
		)
	}
	lists = append(lists, extra...)

	chain := phase.NewChain(phases,
		phase.WithLogger(b.Logger()),
		phase.WithName(name),
	)
	if err := chain.AddLists(lists...); err != nil {
		return nil, err
	}
	return chain, nil
}
