package transport

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
)

// Manager resolves destination factories and conduit initiators by transport
// ID or address. Explicitly registered factories win; otherwise the registry
// builder for the transport is invoked once and its factory is shared by every
// later lookup. A miss is always an UnknownTransportError, never nil.
type Manager struct {
	registry *Registry
	cfg      Config
	logger   watermill.LoggerAdapter

	mu           sync.Mutex
	destinations map[string]DestinationFactory
	conduits     map[string]ConduitInitiator
	built        map[string]Factory
}

// NewManager returns a manager backed by registry. A nil registry means the
// default one.
func NewManager(registry *Registry, cfg Config, logger watermill.LoggerAdapter) *Manager {
	if registry == nil {
		registry = DefaultRegistry
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Manager{
		registry:     registry,
		cfg:          cfg,
		logger:       logger,
		destinations: make(map[string]DestinationFactory),
		conduits:     make(map[string]ConduitInitiator),
		built:        make(map[string]Factory),
	}
}

// Registry returns the backing registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// RegisterDestinationFactory registers f under name.
func (m *Manager) RegisterDestinationFactory(name string, f DestinationFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[name] = f
}

// DeregisterDestinationFactory removes an explicit registration.
func (m *Manager) DeregisterDestinationFactory(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.destinations, name)
}

// RegisterConduitInitiator registers ci under name.
func (m *Manager) RegisterConduitInitiator(name string, ci ConduitInitiator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conduits[name] = ci
}

// DeregisterConduitInitiator removes an explicit registration.
func (m *Manager) DeregisterConduitInitiator(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conduits, name)
}

// RegisterFactory registers f as both destination factory and conduit
// initiator for each of its transport IDs.
func (m *Manager) RegisterFactory(f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range f.TransportIDs() {
		m.destinations[id] = f
		m.conduits[id] = f
	}
}

// DestinationFactory returns the destination factory for a transport ID.
func (m *Manager) DestinationFactory(ctx context.Context, name string) (DestinationFactory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.destinations[name]; ok {
		return f, nil
	}
	f, err := m.buildLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DestinationFactoryForURI returns the destination factory whose address
// prefix is the longest match for uri.
func (m *Manager) DestinationFactoryForURI(ctx context.Context, uri string) (DestinationFactory, error) {
	m.mu.Lock()
	if f := longestPrefix(m.destinations, uri); f != nil {
		m.mu.Unlock()
		return f, nil
	}
	m.mu.Unlock()

	name, ok := m.registry.NameForURI(uri)
	if !ok {
		return nil, m.unknown(uri)
	}
	return m.DestinationFactory(ctx, name)
}

// ConduitInitiator returns the conduit initiator for a transport ID.
func (m *Manager) ConduitInitiator(ctx context.Context, name string) (ConduitInitiator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ci, ok := m.conduits[name]; ok {
		return ci, nil
	}
	f, err := m.buildLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ConduitInitiatorForURI returns the conduit initiator whose address prefix is
// the longest match for uri.
func (m *Manager) ConduitInitiatorForURI(ctx context.Context, uri string) (ConduitInitiator, error) {
	m.mu.Lock()
	if ci := longestPrefix(m.conduits, uri); ci != nil {
		m.mu.Unlock()
		return ci, nil
	}
	m.mu.Unlock()

	name, ok := m.registry.NameForURI(uri)
	if !ok {
		return nil, m.unknown(uri)
	}
	return m.ConduitInitiator(ctx, name)
}

func (m *Manager) buildLocked(ctx context.Context, name string) (Factory, error) {
	if f, ok := m.built[name]; ok {
		return f, nil
	}
	if !m.registry.Has(name) {
		return nil, m.unknownLocked(name)
	}
	if m.cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	f, err := m.registry.Build(ctx, name, m.cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.built[name] = f
	m.logger.Debug("Transport factory created", watermill.LogFields{"transport": name})
	return f, nil
}

func (m *Manager) unknown(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unknownLocked(name)
}

func (m *Manager) unknownLocked(name string) error {
	seen := make(map[string]struct{})
	for _, n := range m.registry.Names() {
		seen[n] = struct{}{}
	}
	for n := range m.destinations {
		seen[n] = struct{}{}
	}
	for n := range m.conduits {
		seen[n] = struct{}{}
	}
	registered := make([]string, 0, len(seen))
	for n := range seen {
		registered = append(registered, n)
	}
	sort.Strings(registered)
	return &errspkg.UnknownTransportError{Name: name, Registered: registered}
}

// Shutdown closes every factory the manager built.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	built := m.built
	m.built = make(map[string]Factory)
	m.mu.Unlock()

	var errs []error
	for name, f := range built {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := f.Close(); err != nil {
			errs = append(errs, errspkg.NewIOError("close", name, err))
		}
	}
	return errors.Join(errs...)
}

type prefixed interface {
	URIPrefixes() []string
}

func longestPrefix[T prefixed](candidates map[string]T, uri string) T {
	var (
		best    T
		bestLen int
	)
	for _, c := range candidates {
		for _, prefix := range c.URIPrefixes() {
			if len(prefix) > bestLen && strings.HasPrefix(uri, prefix) {
				best, bestLen = c, len(prefix)
			}
		}
	}
	return best
}
