// Package metrics collects Prometheus metrics for the link gateway and the
// click pipeline. One Metrics instance is shared by the server, the cache
// and the click producer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Metrics is the gateway's Prometheus collector set.
type Metrics struct {
	// Redirect hot path
	redirectsTotal  *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	cacheHitsTotal  prometheus.Counter
	cacheMissTotal  prometheus.Counter
	activeRequests  prometheus.Gauge

	// Create path
	createsTotal *prometheus.CounterVec

	// Click producer
	eventsPublishedTotal  prometheus.Counter
	eventsDroppedTotal    *prometheus.CounterVec
	eventsSpooledTotal    prometheus.Counter
	eventsDeadLetterTotal prometheus.Counter

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// New creates a collector set on the default registry.
func New(namespace string, logger *zap.Logger) *Metrics {
	return NewWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates a collector set on a custom registry; tests use
// this to avoid duplicate registration.
func NewWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	m := &Metrics{logger: logger}

	m.redirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "redirects_total",
			Help:      "Total redirect lookups by outcome",
		},
		[]string{"outcome"}, // redirect, not_found, gone, invalid, error
	)

	m.resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "resolve_duration_seconds",
			Help:      "Time taken to resolve a short code",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"source"}, // cache, store
	)

	m.cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "cache_hits_total",
		Help:      "Total link cache hits on the redirect path",
	})

	m.cacheMissTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "cache_misses_total",
		Help:      "Total link cache misses on the redirect path",
	})

	m.activeRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "active_requests",
		Help:      "Number of requests currently in flight",
	})

	m.createsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "creates_total",
			Help:      "Total create requests by outcome",
		},
		[]string{"outcome"}, // created, reused, invalid, code_taken, collision, error
	)

	m.eventsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clicks",
		Name:      "events_published_total",
		Help:      "Total click events handed to the broker",
	})

	m.eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clicks",
			Name:      "events_dropped_total",
			Help:      "Total click events lost, by reason",
		},
		[]string{"reason"},
	)

	m.eventsSpooledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clicks",
		Name:      "events_spooled_total",
		Help:      "Total click events diverted to the local spool",
	})

	m.eventsDeadLetterTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "clicks",
		Name:      "events_dead_lettered_total",
		Help:      "Total click events routed to the dead-letter subject",
	})

	registerer.MustRegister(
		m.redirectsTotal,
		m.resolveDuration,
		m.cacheHitsTotal,
		m.cacheMissTotal,
		m.activeRequests,
		m.createsTotal,
		m.eventsPublishedTotal,
		m.eventsDroppedTotal,
		m.eventsSpooledTotal,
		m.eventsDeadLetterTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	m.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() func(*fasthttp.RequestCtx) {
	return m.httpHandler
}

// Redirect records one redirect lookup outcome.
func (m *Metrics) Redirect(outcome string) {
	m.redirectsTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolve records the duration of one resolve, labeled by whether
// the cache or the store answered.
func (m *Metrics) ObserveResolve(fromCache bool, d time.Duration) {
	source := "store"
	if fromCache {
		source = "cache"
		m.cacheHitsTotal.Inc()
	} else {
		m.cacheMissTotal.Inc()
	}
	m.resolveDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Create records one create request outcome.
func (m *Metrics) Create(outcome string) {
	m.createsTotal.WithLabelValues(outcome).Inc()
}

// RequestStarted and RequestFinished track the in-flight gauge.
func (m *Metrics) RequestStarted()  { m.activeRequests.Inc() }
func (m *Metrics) RequestFinished() { m.activeRequests.Dec() }

// The producer.Metrics contract.

func (m *Metrics) EventPublished() { m.eventsPublishedTotal.Inc() }

func (m *Metrics) EventDropped(reason string) {
	m.eventsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventSpooled() { m.eventsSpooledTotal.Inc() }

func (m *Metrics) EventDeadLettered() { m.eventsDeadLetterTotal.Inc() }
