// Package bus holds the process-level registries every endpoint shares: the
// phase manager, the transport manager, bus-wide interceptor lists and
// properties, and the HTTP listeners for metrics and the admin API.
package bus

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	idspkg "github.com/drblury/phaseflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// Feature contributes interceptors or properties to a bus at creation.
type Feature interface {
	InitializeBus(b *Bus) error
}

// FeatureFunc adapts a function to Feature.
type FeatureFunc func(b *Bus) error

func (f FeatureFunc) InitializeBus(b *Bus) error {
	return f(b)
}

// Dependencies holds the optional collaborators of a Bus. Leave fields empty
// to use the defaults.
type Dependencies struct {
	// Registry supplies transport builders. Defaults to transport.DefaultRegistry.
	Registry *transport.Registry

	InInterceptors       []message.Interceptor
	OutInterceptors      []message.Interceptor
	InFaultInterceptors  []message.Interceptor
	OutFaultInterceptors []message.Interceptor

	// Features run after the interceptors above were added.
	Features []Feature

	// Properties seed the bus property bag.
	Properties map[string]any

	// MetricsRegistry receives every collector registered through the bus and
	// backs the /metrics endpoint. Defaults to the Prometheus default registry.
	MetricsRegistry *prometheus.Registry

	// AdminHandler builds the admin API handler mounted on Start when the admin
	// API is enabled.
	AdminHandler func(b *Bus) http.Handler
}

// Published is a running endpoint the bus stops on Shutdown and reports in
// the admin API.
type Published interface {
	Info() ServerInfo
	Stop(ctx context.Context) error
}

// ServerInfo describes a published endpoint.
type ServerInfo struct {
	Name       string              `json:"name"`
	Address    string              `json:"address"`
	Service    string              `json:"service"`
	Operations []string            `json:"operations"`
	InChain    []phase.PhaseLayout `json:"in_chain"`
}

// Bus is the shared runtime of a process. It implements
// message.PropertySource so messages can resolve bus-wide properties.
type Bus struct {
	phase.Interceptors

	id       string
	conf     *configpkg.Config
	logger   loggingpkg.ServiceLogger
	wmLogger watermill.LoggerAdapter

	phases     *phase.Manager
	transports *transport.Manager

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	admin      func(b *Bus) http.Handler

	propsMu sync.RWMutex
	props   map[string]any

	publishedMu sync.Mutex
	published   []Published

	httpMu      sync.Mutex
	httpServers map[int]*httpListener

	stateMu  sync.Mutex
	started  bool
	shutdown bool
}

// New validates conf, applies its custom phases and builds the bus.
func New(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.NewConfigValidationError(errspkg.ErrConfigRequired)
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	id := conf.BusID
	if id == "" {
		id = idspkg.CreateULID()
	}

	phases := phase.NewManager()
	if err := phases.Apply(toSpecs(conf.CustomInPhases), toSpecs(conf.CustomOutPhases)); err != nil {
		return nil, err
	}

	log = loggingpkg.Component(log, "bus").With(loggingpkg.LogFields{"bus_id": id})
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	b := &Bus{
		id:          id,
		conf:        conf,
		logger:      log,
		wmLogger:    wmLogger,
		phases:      phases,
		transports:  transport.NewManager(deps.Registry, conf, wmLogger),
		registerer:  prometheus.DefaultRegisterer,
		gatherer:    prometheus.DefaultGatherer,
		admin:       deps.AdminHandler,
		props:       make(map[string]any, len(deps.Properties)),
		httpServers: make(map[int]*httpListener),
	}
	if deps.MetricsRegistry != nil {
		b.registerer = deps.MetricsRegistry
		b.gatherer = deps.MetricsRegistry
	}
	for k, v := range deps.Properties {
		b.props[k] = v
	}

	b.InInterceptors().Add(deps.InInterceptors...)
	b.OutInterceptors().Add(deps.OutInterceptors...)
	b.InFaultInterceptors().Add(deps.InFaultInterceptors...)
	b.OutFaultInterceptors().Add(deps.OutFaultInterceptors...)
	for _, f := range deps.Features {
		if err := f.InitializeBus(b); err != nil {
			return nil, err
		}
	}

	log.Info("Created bus", loggingpkg.LogFields{
		"config":     conf,
		"transports": b.transports.Registry().Names(),
	})
	return b, nil
}

// MustNew is New that panics on error.
func MustNew(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) *Bus {
	b, err := New(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return b
}

func toSpecs(specs []configpkg.PhaseSpec) []phase.Spec {
	out := make([]phase.Spec, len(specs))
	for i, s := range specs {
		out[i] = phase.Spec{Name: s.Name, Before: s.Before, After: s.After}
	}
	return out
}

func (b *Bus) ID() string {
	return b.id
}

// Config returns the configuration the bus was created with.
func (b *Bus) Config() *configpkg.Config {
	return b.conf
}

func (b *Bus) Logger() loggingpkg.ServiceLogger {
	return b.logger
}

// WatermillLogger returns the bus logger adapted for Watermill components.
func (b *Bus) WatermillLogger() watermill.LoggerAdapter {
	return b.wmLogger
}

func (b *Bus) PhaseManager() *phase.Manager {
	return b.phases
}

func (b *Bus) Transports() *transport.Manager {
	return b.transports
}

// MetricsRegisterer is where interceptors register their collectors.
func (b *Bus) MetricsRegisterer() prometheus.Registerer {
	return b.registerer
}

// Get returns a bus property.
func (b *Bus) Get(key string) (any, bool) {
	b.propsMu.RLock()
	defer b.propsMu.RUnlock()
	v, ok := b.props[key]
	return v, ok
}

// Put stores a bus property.
func (b *Bus) Put(key string, value any) {
	b.propsMu.Lock()
	defer b.propsMu.Unlock()
	b.props[key] = value
}

// Keys returns the property keys in sorted order.
func (b *Bus) Keys() []string {
	b.propsMu.RLock()
	defer b.propsMu.RUnlock()
	keys := make([]string, 0, len(b.props))
	for k := range b.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Publish records p so it is reported by the admin API and stopped on
// Shutdown.
func (b *Bus) Publish(p Published) {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()
	b.published = append(b.published, p)
}

// Unpublish forgets p.
func (b *Bus) Unpublish(p Published) {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()
	for i, candidate := range b.published {
		if candidate == p {
			b.published = append(b.published[:i:i], b.published[i+1:]...)
			return
		}
	}
}

// PublishedEndpoints returns a snapshot of the published endpoints.
func (b *Bus) PublishedEndpoints() []Published {
	b.publishedMu.Lock()
	defer b.publishedMu.Unlock()
	return append([]Published(nil), b.published...)
}

// Start opens the metrics and admin listeners configured for the bus and any
// handler registered through RegisterHTTPHandler.
func (b *Bus) Start(context.Context) error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.shutdown {
		return errspkg.ErrDestinationShutdown
	}
	if b.started {
		return nil
	}

	b.registerMetricsEndpoint()
	b.registerAdminEndpoint()
	if err := b.startHTTPServers(); err != nil {
		return err
	}
	b.started = true
	b.logger.Info("Bus started", nil)
	return nil
}

// Shutdown stops every published endpoint, the transport factories and the
// HTTP listeners, and clears the process default if it is b. It is
// idempotent.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.stateMu.Lock()
	if b.shutdown {
		b.stateMu.Unlock()
		return nil
	}
	b.shutdown = true
	b.stateMu.Unlock()
	defaultBus.CompareAndSwap(b, nil)

	var errs []error
	for _, p := range b.PublishedEndpoints() {
		if err := p.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.transports.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.stopHTTPServers(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		b.logger.Error("Bus shut down with errors", err, nil)
	} else {
		b.logger.Info("Bus shut down", nil)
	}
	return err
}
