package bus

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/phaseflow/internal/runtime/config"
	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/phaseflow/internal/runtime/logging"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
	"github.com/drblury/phaseflow/transport/local"
)

func newTestBus(t *testing.T, conf *configpkg.Config, deps Dependencies) *Bus {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = transport.NewRegistry()
		deps.Registry.RegisterWithCapabilities(local.TransportName, local.Build, local.Capabilities())
	}
	if deps.MetricsRegistry == nil {
		deps.MetricsRegistry = prometheus.NewRegistry()
	}
	b, err := New(conf, loggingpkg.NopLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b
}

func localListen(t *testing.T) {
	t.Helper()
	prev := ListenFunc
	ListenFunc = func(string) (net.Listener, error) {
		return net.Listen("tcp", "127.0.0.1:0")
	}
	t.Cleanup(func() { ListenFunc = prev })
}

func TestNewRequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, loggingpkg.NopLogger(), Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = New(&configpkg.Config{}, nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = New(&configpkg.Config{HTTPClientTimeout: -1}, loggingpkg.NopLogger(), Dependencies{})
	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewUsesConfiguredIDOrGeneratesOne(t *testing.T) {
	b := newTestBus(t, &configpkg.Config{BusID: "orders-bus"}, Dependencies{})
	assert.Equal(t, "orders-bus", b.ID())

	other := newTestBus(t, &configpkg.Config{}, Dependencies{})
	assert.Len(t, other.ID(), 26)
}

func TestNewAppliesCustomPhases(t *testing.T) {
	conf := &configpkg.Config{
		CustomInPhases:  []configpkg.PhaseSpec{{Name: "audit", After: phase.Unmarshal}},
		CustomOutPhases: []configpkg.PhaseSpec{{Name: "sign", Before: phase.Write}},
	}
	b := newTestBus(t, conf, Dependencies{})

	in := b.PhaseManager().InPhases()
	assert.Equal(t, phase.Index(in, phase.Unmarshal)+1, phase.Index(in, "audit"))
	out := b.PhaseManager().OutPhases()
	assert.Equal(t, phase.Index(out, phase.Write)-1, phase.Index(out, "sign"))
}

func TestNewFailsOnUnresolvedPhaseAnchor(t *testing.T) {
	conf := &configpkg.Config{
		CustomInPhases: []configpkg.PhaseSpec{{Name: "audit", After: "missing"}},
	}
	_, err := New(conf, loggingpkg.NopLogger(), Dependencies{Registry: transport.NewRegistry()})
	var anchorErr *errspkg.PhaseAnchorError
	require.ErrorAs(t, err, &anchorErr)
	assert.Equal(t, "missing", anchorErr.Anchor)
}

func TestMustNewPanics(t *testing.T) {
	assert.Panics(t, func() { MustNew(nil, loggingpkg.NopLogger(), Dependencies{}) })
}

func TestDependenciesSeedInterceptorsAndProperties(t *testing.T) {
	in := phase.Func("in", phase.Receive, func(*message.Message) error { return nil })
	out := phase.Func("out", phase.Setup, func(*message.Message) error { return nil })

	var seen *Bus
	b := newTestBus(t, &configpkg.Config{}, Dependencies{
		InInterceptors:  []message.Interceptor{in},
		OutInterceptors: []message.Interceptor{out},
		Properties:      map[string]any{"tenant": "acme"},
		Features: []Feature{FeatureFunc(func(b *Bus) error {
			seen = b
			b.Put("feature", true)
			return nil
		})},
	})

	assert.Same(t, b, seen)
	assert.Equal(t, 1, b.InInterceptors().Len())
	assert.Equal(t, 1, b.OutInterceptors().Len())
	assert.Zero(t, b.InFaultInterceptors().Len())

	v, ok := b.Get("tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)
	assert.Equal(t, []string{"feature", "tenant"}, b.Keys())
}

func TestFeatureErrorFailsNew(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(&configpkg.Config{}, loggingpkg.NopLogger(), Dependencies{
		Registry: transport.NewRegistry(),
		Features: []Feature{FeatureFunc(func(*Bus) error { return boom })},
	})
	assert.ErrorIs(t, err, boom)
}

func TestTransportsResolveAndShutDown(t *testing.T) {
	b := newTestBus(t, &configpkg.Config{}, Dependencies{})

	df, err := b.Transports().DestinationFactoryForURI(context.Background(), "local://orders")
	require.NoError(t, err)
	assert.NotNil(t, df)

	_, err = b.Transports().DestinationFactoryForURI(context.Background(), "carrier-pigeon://orders")
	var unknown *errspkg.UnknownTransportError
	assert.ErrorAs(t, err, &unknown)

	require.NoError(t, b.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))
	assert.ErrorIs(t, b.Start(context.Background()), errspkg.ErrDestinationShutdown)
}

type fakePublished struct {
	name    string
	stopped int
	err     error
}

func (f *fakePublished) Info() ServerInfo { return ServerInfo{Name: f.name} }

func (f *fakePublished) Stop(context.Context) error {
	f.stopped++
	return f.err
}

func TestShutdownStopsPublishedEndpoints(t *testing.T) {
	b := newTestBus(t, &configpkg.Config{}, Dependencies{})
	stopErr := errors.New("stuck")
	first := &fakePublished{name: "first"}
	second := &fakePublished{name: "second", err: stopErr}
	gone := &fakePublished{name: "gone"}

	b.Publish(first)
	b.Publish(gone)
	b.Publish(second)
	b.Unpublish(gone)
	require.Len(t, b.PublishedEndpoints(), 2)

	err := b.Shutdown(context.Background())
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, 1, first.stopped)
	assert.Equal(t, 1, second.stopped)
	assert.Zero(t, gone.stopped)
}

func TestStartServesMetricsAndRegisteredHandlers(t *testing.T) {
	localListen(t)
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "bus_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	b := newTestBus(t, &configpkg.Config{MetricsEnabled: true, MetricsPort: 9464}, Dependencies{
		MetricsRegistry: reg,
	})
	b.RegisterHTTPHandler(9100, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	body := get(t, "http://"+b.HTTPAddr(9464)+"/metrics")
	assert.Contains(t, body, "bus_test_total 1")
	assert.Equal(t, "pong", get(t, "http://"+b.HTTPAddr(9100)+"/ping"))

	require.NoError(t, b.Shutdown(context.Background()))
	_, err := http.Get("http://" + b.HTTPAddr(9100) + "/ping")
	assert.Error(t, err)
}

func TestStartMountsAdminHandler(t *testing.T) {
	localListen(t)
	b := newTestBus(t, &configpkg.Config{AdminEnabled: true}, Dependencies{
		AdminHandler: func(b *Bus) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, b.ID())
			})
		},
	})
	require.NoError(t, b.Start(context.Background()))
	assert.Equal(t, b.ID(), get(t, "http://"+b.HTTPAddr(DefaultAdminPort)+"/servers"))
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
