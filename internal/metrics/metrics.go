// Package metrics exposes Prometheus metrics for the skatepark service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "where2skate"

// Manager owns a private registry and every collector registered on it.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	subscriptionsActive *prometheus.GaugeVec
	subscriptionsFailed *prometheus.CounterVec
	snapshotsEmitted    *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

type Option func(*Manager)

func WithNamespace(ns string) Option {
	return func(m *Manager) { m.namespace = ns }
}

// WithHistogramBuckets sets the latency buckets. An empty slice keeps the
// prometheus defaults.
func WithHistogramBuckets(b []float64) Option {
	return func(m *Manager) {
		if len(b) > 0 {
			m.buckets = b
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Manager) {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: defaultNamespace,
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)

	m.operations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "repository",
		Name:      "operations_total",
		Help:      "Repository write and read operations by outcome.",
	}, []string{"op", "result"})

	m.operationDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "repository",
		Name:      "operation_duration_seconds",
		Help:      "Latency of repository operations.",
		Buckets:   m.buckets,
	}, []string{"op"})

	m.subscriptionsActive = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "repository",
		Name:      "subscriptions_active",
		Help:      "Live store subscriptions.",
	}, []string{"op"})

	m.subscriptionsFailed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "repository",
		Name:      "subscriptions_failed_total",
		Help:      "Subscriptions ended by a listener failure.",
	}, []string{"op"})

	m.snapshotsEmitted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "repository",
		Name:      "snapshots_emitted_total",
		Help:      "Snapshots delivered to subscribers.",
	}, []string{"op"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   m.buckets,
	}, []string{"route", "method"})

	return m
}

func (m *Manager) ObserveOperation(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Manager) SubscriptionStarted(op string) {
	m.subscriptionsActive.WithLabelValues(op).Inc()
}

func (m *Manager) SubscriptionEnded(op string, failed bool) {
	m.subscriptionsActive.WithLabelValues(op).Dec()
	if failed {
		m.subscriptionsFailed.WithLabelValues(op).Inc()
	}
}

func (m *Manager) Emitted(op string) {
	m.snapshotsEmitted.WithLabelValues(op).Inc()
}

// ObserveRequest records one finished HTTP request. route is the mux
// pattern, not the raw path.
func (m *Manager) ObserveRequest(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}
