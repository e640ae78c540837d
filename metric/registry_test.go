package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistryExportsCoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	r.Metrics.MessagesPublished.WithLabelValues("HSP::Fact_v0.1", "success").Inc()
	r.Metrics.AckTimeouts.Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentmesh_messages_published_total"])
	assert.True(t, names["agentmesh_ack_timeouts_total"])
}

func TestRegisterComponentCollector(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_ops_total",
		Help: "test",
	})
	require.NoError(t, r.Register("connector", "ops", counter))

	// Same key again is rejected.
	err := r.Register("connector", "ops", counter)
	require.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_unregister_total",
		Help: "test",
	})
	require.NoError(t, r.Register("connector", "gone", counter))
	assert.True(t, r.Unregister("connector", "gone"))
	assert.False(t, r.Unregister("connector", "gone"))
}
