package aggregator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
			if counterMatches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func counterMatches(metric *dto.Metric, labels map[string]string) bool {
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

func TestConsumerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry("linkmesh", registry, zap.NewNop())

	m.EventProcessed()
	m.EventProcessed()
	m.EventDuplicate()
	m.EventPoisoned()
	m.FlushSucceeded()
	m.FlushFailed()

	assert.Equal(t, 2.0, gatherCounter(t, registry, "linkmesh_aggregator_events_processed_total", nil))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_aggregator_events_duplicate_total", nil))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_aggregator_events_poisoned_total", nil))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_aggregator_flushes_total", map[string]string{"outcome": "ok"}))
	assert.Equal(t, 1.0, gatherCounter(t, registry, "linkmesh_aggregator_flushes_total", map[string]string{"outcome": "error"}))
}

func TestMetricsHandlerServesExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry("linkmesh", registry, zap.NewNop())
	m.EventProcessed()

	assert.NotNil(t, m.Handler())
}
