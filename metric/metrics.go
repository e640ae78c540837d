// Package metric owns the Prometheus registry and the core protocol
// metrics exported by the runtime.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core protocol instruments.
type Metrics struct {
	MessagesPublished *prometheus.CounterVec // by message_type, result
	MessagesReceived  *prometheus.CounterVec // by message_type
	MessagesDropped   prometheus.Counter
	AckLatency        prometheus.Histogram
	AckTimeouts       prometheus.Counter
	FallbackSends     *prometheus.CounterVec // by transport
	RetryAttempts     prometheus.Counter
	CircuitState      prometheus.Gauge // 0 closed, 1 open, 2 half-open
	PendingAcks       prometheus.Gauge
}

// NewMetrics creates the core instruments, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmesh_messages_published_total",
			Help: "Messages published, by message type and result",
		}, []string{"message_type", "result"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmesh_messages_received_total",
			Help: "Messages received and dispatched, by message type",
		}, []string{"message_type"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentmesh_messages_dropped_total",
			Help: "Inbound messages dropped for security or alignment failures",
		}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentmesh_ack_latency_seconds",
			Help:    "Time from publish to acknowledgement receipt",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentmesh_ack_timeouts_total",
			Help: "Publishes whose acknowledgement deadline expired",
		}),
		FallbackSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmesh_fallback_sends_total",
			Help: "Messages delivered through a fallback transport",
		}, []string{"transport"}),
		RetryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentmesh_publish_retries_total",
			Help: "Publish retry attempts after ACK timeout",
		}),
		CircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentmesh_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}),
		PendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentmesh_pending_acks",
			Help: "Publishes currently awaiting acknowledgement",
		}),
	}
}

// collectors returns every instrument for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesPublished,
		m.MessagesReceived,
		m.MessagesDropped,
		m.AckLatency,
		m.AckTimeouts,
		m.FallbackSends,
		m.RetryAttempts,
		m.CircuitState,
		m.PendingAcks,
	}
}
