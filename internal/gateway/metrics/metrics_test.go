package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func gatherCounter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if metricMatches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func metricMatches(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string)
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRedirectOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("linkmesh", registry, zap.NewNop())

	m.Redirect("redirect")
	m.Redirect("redirect")
	m.Redirect("not_found")

	assert.Equal(t, 2.0, gatherCounter(t, registry, "linkmesh_gateway_redirects_total", map[string]string{"outcome": "redirect"}))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_gateway_redirects_total", map[string]string{"outcome": "not_found"}))
}

func TestObserveResolveCountsHitsAndMisses(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("linkmesh", registry, zap.NewNop())

	m.ObserveResolve(true, time.Millisecond)
	m.ObserveResolve(true, time.Millisecond)
	m.ObserveResolve(false, 5*time.Millisecond)

	assert.Equal(t, 2.0, gatherCounter(t, registry, "linkmesh_gateway_cache_hits_total", nil))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_gateway_cache_misses_total", nil))
}

func TestProducerMetricsContract(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("linkmesh", registry, zap.NewNop())

	m.EventPublished()
	m.EventDropped("queue_full")
	m.EventDropped("queue_full")
	m.EventSpooled()
	m.EventDeadLettered()

	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_clicks_events_published_total", nil))
	assert.Equal(t, 2.0, gatherCounter(t, registry, "linkmesh_clicks_events_dropped_total", map[string]string{"reason": "queue_full"}))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_clicks_events_spooled_total", nil))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_clicks_events_dead_lettered_total", nil))
}

func TestHandlerServesExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewWithRegistry("linkmesh", registry, zap.NewNop())
	m.Redirect("redirect")

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "linkmesh_gateway_redirects_total")
}
