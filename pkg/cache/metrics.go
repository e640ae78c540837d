package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics exports cache activity to Prometheus. All methods are
// nil-safe so the cache works without a registry.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// WithMetrics registers cache metrics on the given registerer under the
// given cache name label.
func WithMetrics[V any](reg prometheus.Registerer, name string) Option[V] {
	return func(c *IntelligentCache[V]) {
		labels := prometheus.Labels{"cache": name}
		m := &cacheMetrics{
			hits: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "agentmesh_cache_hits_total",
				Help:        "Total cache hits",
				ConstLabels: labels,
			}),
			misses: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "agentmesh_cache_misses_total",
				Help:        "Total cache misses",
				ConstLabels: labels,
			}),
			evictions: prometheus.NewCounter(prometheus.CounterOpts{
				Name:        "agentmesh_cache_evictions_total",
				Help:        "Total capacity evictions",
				ConstLabels: labels,
			}),
			size: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "agentmesh_cache_entries",
				Help:        "Current number of cache entries",
				ConstLabels: labels,
			}),
		}
		reg.MustRegister(m.hits, m.misses, m.evictions, m.size)
		c.metrics = m
	}
}

func (m *cacheMetrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) recordEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *cacheMetrics) setSize(n int) {
	if m != nil {
		m.size.Set(float64(n))
	}
}
