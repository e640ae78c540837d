package connector

import (
	"github.com/c360/agentmesh/fallback"
	"github.com/c360/agentmesh/pkg/balancer"
	"github.com/c360/agentmesh/pkg/worker"
	"github.com/c360/agentmesh/transport"
)

// Status is a point-in-time snapshot of the connector's health for
// diagnostics and operational endpoints.
type Status struct {
	AIID    string
	Started bool

	// Transports maps node name to its connection status.
	Transports map[string]transport.Status

	BreakerState string
	PendingAcks  int

	// DedupeSummary is the dedupe cache's one-line statistics summary.
	DedupeSummary string
	DedupeSize    int

	Balancer   []balancer.NodeStats
	Fallback   []fallback.TransportStatus
	DecodePool worker.Stats

	// BridgeDropped counts inbound wire messages that failed alignment.
	BridgeDropped int64

	SubscribedTopics []string
}

// Status reports the connector's current state.
func (c *Connector) Status() Status {
	c.mu.Lock()
	started := c.started
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()

	s := Status{
		AIID:             c.cfg.AIID,
		Started:          started,
		Transports:       make(map[string]transport.Status, len(c.byNode)),
		BreakerState:     c.breaker.State().String(),
		PendingAcks:      c.acks.count(),
		DedupeSummary:    c.dedupe.Stats().Summary(),
		DedupeSize:       c.dedupe.Size(),
		Balancer:         c.lb.Stats(),
		DecodePool:       c.decodePool.Stats(),
		BridgeDropped:    c.msgBridge.Dropped(),
		SubscribedTopics: topics,
	}
	for node, tr := range c.byNode {
		s.Transports[node] = tr.Status()
	}
	if c.chain != nil {
		s.Fallback = c.chain.Status()
	}
	return s
}
