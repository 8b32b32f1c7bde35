package interceptors

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/phaseflow/bus"
	"github.com/drblury/phaseflow/endpoint"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
)

const (
	MetricsInID   = "MetricsIn"
	MetricsDoneID = "MetricsDone"
	MetricsOutID  = "MetricsOut"

	keyMetricsStart = "phaseflow.metrics.start"
)

// Metrics counts messages and faults per endpoint and records how long
// inbound exchanges take.
type Metrics struct {
	mu         sync.Mutex
	registered bool

	messagesTotal *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

func newChainCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phaseflow",
			Subsystem: "chain",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. They are registered when the feature is
// installed, or explicitly through Register.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesTotal: newChainCounterVec("messages_total", "Total number of messages that entered an interceptor chain", []string{"endpoint", "direction", "operation"}),
		faultsTotal:   newChainCounterVec("faults_total", "Total number of interceptor chains that faulted", []string{"endpoint", "direction", "code"}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "phaseflow",
				Subsystem: "chain",
				Name:      "duration_seconds",
				Help:      "Time from receiving a message to the end of its inbound chain",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "operation"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times; collectors
// already registered by another Metrics value are reused.
func (mt *Metrics) Register(reg prometheus.Registerer) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.registered {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	if mt.messagesTotal, err = registerOrReuse(reg, mt.messagesTotal); err != nil {
		return err
	}
	if mt.faultsTotal, err = registerOrReuse(reg, mt.faultsTotal); err != nil {
		return err
	}
	if mt.duration, err = registerOrReuse(reg, mt.duration); err != nil {
		return err
	}
	mt.registered = true
	return nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, nil
}

func (mt *Metrics) Initialize(ep *endpoint.Endpoint) error {
	if err := mt.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	mt.install(&ep.Interceptors)
	return nil
}

func (mt *Metrics) InitializeBus(b *bus.Bus) error {
	if err := mt.Register(b.MetricsRegisterer()); err != nil {
		return err
	}
	mt.install(&b.Interceptors)
	return nil
}

func (mt *Metrics) install(lists *phase.Interceptors) {
	lists.InInterceptors().Add(mt.inbound(), mt.done())
	lists.OutInterceptors().Add(mt.outbound())
}

func (mt *Metrics) inbound() message.Interceptor {
	return phase.Func(MetricsInID, phase.Receive, func(m *message.Message) error {
		m.Put(keyMetricsStart, time.Now())
		mt.messagesTotal.WithLabelValues(endpointLabel(m), direction(m, "in"), operationLabel(m)).Inc()
		return nil
	}).OnFault(func(m *message.Message) {
		code := "unknown"
		if f := message.AsFault(m.Exception()); f != nil {
			code = string(f.Code)
		}
		mt.faultsTotal.WithLabelValues(endpointLabel(m), direction(m, "in"), code).Inc()
		mt.observe(m)
	})
}

func (mt *Metrics) done() message.Interceptor {
	return phase.Func(MetricsDoneID, phase.PostInvoke, func(m *message.Message) error {
		mt.observe(m)
		return nil
	}).RunsAfter(OutgoingChainID)
}

func (mt *Metrics) outbound() message.Interceptor {
	return phase.Func(MetricsOutID, phase.Setup, func(m *message.Message) error {
		mt.messagesTotal.WithLabelValues(endpointLabel(m), direction(m, "out"), operationLabel(m)).Inc()
		return nil
	})
}

func (mt *Metrics) observe(m *message.Message) {
	v, ok := m.Get(keyMetricsStart)
	start, _ := v.(time.Time)
	if !ok || start.IsZero() {
		return
	}
	m.Remove(keyMetricsStart)
	mt.duration.WithLabelValues(endpointLabel(m), operationLabel(m)).Observe(time.Since(start).Seconds())
}

func direction(m *message.Message, d string) string {
	if m.IsRequestor() {
		return "client-" + d
	}
	return d
}

func endpointLabel(m *message.Message) string {
	if ep := endpoint.Of(m.Exchange()); ep != nil {
		return ep.Name()
	}
	return "unknown"
}

func operationLabel(m *message.Message) string {
	if v, ok := m.ContextualProperty(message.KeyOperationName); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}
