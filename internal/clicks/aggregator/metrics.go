package aggregator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Metrics observes the consume loop.
type Metrics interface {
	EventProcessed()
	EventDuplicate()
	EventPoisoned()
	FlushSucceeded()
	FlushFailed()
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) EventProcessed() {}
func (NopMetrics) EventDuplicate() {}
func (NopMetrics) EventPoisoned()  {}
func (NopMetrics) FlushSucceeded() {}
func (NopMetrics) FlushFailed()    {}

// PromMetrics is the aggregator's Prometheus collector set.
type PromMetrics struct {
	eventsProcessedTotal prometheus.Counter
	eventsDuplicateTotal prometheus.Counter
	eventsPoisonedTotal  prometheus.Counter
	flushesTotal         *prometheus.CounterVec

	httpHandler func(*fasthttp.RequestCtx)
}

// NewMetrics creates a collector set on the default registry.
func NewMetrics(namespace string, logger *zap.Logger) *PromMetrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewMetricsWithRegistry creates a collector set on a custom registry; tests
// use this to avoid duplicate registration.
func NewMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PromMetrics {
	m := &PromMetrics{}

	m.eventsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "events_processed_total",
		Help:      "Total click events folded into rollup windows",
	})

	m.eventsDuplicateTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "events_duplicate_total",
		Help:      "Total redelivered click events skipped by event-id dedupe",
	})

	m.eventsPoisonedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "events_poisoned_total",
		Help:      "Total undecodable click events terminated",
	})

	m.flushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "flushes_total",
			Help:      "Total rollup flushes by outcome",
		},
		[]string{"outcome"}, // ok, error
	)

	registerer.MustRegister(
		m.eventsProcessedTotal,
		m.eventsDuplicateTotal,
		m.eventsPoisonedTotal,
		m.flushesTotal,
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
func (m *PromMetrics) Handler() func(*fasthttp.RequestCtx) {
	return m.httpHandler
}

func (m *PromMetrics) EventProcessed() { m.eventsProcessedTotal.Inc() }
func (m *PromMetrics) EventDuplicate() { m.eventsDuplicateTotal.Inc() }
func (m *PromMetrics) EventPoisoned()  { m.eventsPoisonedTotal.Inc() }
func (m *PromMetrics) FlushSucceeded() { m.flushesTotal.WithLabelValues("ok").Inc() }
func (m *PromMetrics) FlushFailed()    { m.flushesTotal.WithLabelValues("error").Inc() }
