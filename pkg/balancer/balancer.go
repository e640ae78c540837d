// Package balancer distributes requests across named nodes using a
// pluggable selection strategy. Callers report request starts and
// completions so the least-connections and response-time strategies have
// live data to select on.
package balancer

import (
	"math"
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
)

// Strategy selects which node receives the next request.
type Strategy string

const (
	// RoundRobin cycles through nodes in registration order.
	RoundRobin Strategy = "round_robin"
	// LeastConnections picks the node that has been handed the fewest
	// requests overall.
	LeastConnections Strategy = "least_connections"
	// WeightedResponseTime picks the node with the best score, where
	// score = average response time × (1 + error rate). Lower is better.
	WeightedResponseTime Strategy = "weighted_response_time"
)

// Valid reports whether the strategy is one of the supported values.
func (s Strategy) Valid() bool {
	switch s {
	case RoundRobin, LeastConnections, WeightedResponseTime:
		return true
	}
	return false
}

// NodeStats is a snapshot of a node's accumulated request statistics.
type NodeStats struct {
	Name            string
	ActiveRequests  int
	TotalRequests   int64
	TotalErrors     int64
	AvgResponseTime time.Duration
	ErrorRate       float64
}

// node holds live statistics for one backend.
type node struct {
	name           string
	activeRequests int
	totalRequests  int64
	totalErrors    int64
	totalLatency   time.Duration
}

func (n *node) avgResponseTime() time.Duration {
	completed := n.totalRequests - int64(n.activeRequests)
	if completed <= 0 {
		return 0
	}
	return n.totalLatency / time.Duration(completed)
}

func (n *node) errorRate() float64 {
	if n.totalRequests == 0 {
		return 0
	}
	return float64(n.totalErrors) / float64(n.totalRequests)
}

// score is the weighted-response-time selection metric; lower wins.
// Nodes with no completed requests score +Inf: a node with data always
// outranks one without, and Next rotates round-robin while no node has
// any.
func (n *node) score() float64 {
	if n.totalRequests-int64(n.activeRequests) <= 0 {
		return math.Inf(1)
	}
	return float64(n.avgResponseTime()) * (1 + n.errorRate())
}

// Balancer selects nodes per the configured strategy. Construct with New.
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	nodes    []*node
	byName   map[string]*node
	rrIndex  int
}

// New creates a balancer using the given strategy.
func New(strategy Strategy) (*Balancer, error) {
	if !strategy.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Balancer", "New",
			"unknown strategy "+string(strategy))
	}
	return &Balancer{
		strategy: strategy,
		byName:   make(map[string]*node),
	}, nil
}

// AddNode registers a backend. Adding an existing name is a no-op.
func (b *Balancer) AddNode(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byName[name]; ok {
		return
	}
	n := &node{name: name}
	b.nodes = append(b.nodes, n)
	b.byName[name] = n
}

// RemoveNode deregisters a backend. Its statistics are discarded.
func (b *Balancer) RemoveNode(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byName[name]; !ok {
		return
	}
	delete(b.byName, name)
	for i, n := range b.nodes {
		if n.name == name {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	if b.rrIndex >= len(b.nodes) {
		b.rrIndex = 0
	}
}

// Next selects a node per the strategy and records a request start against
// it. Callers must pair every Next with a RecordResponse.
func (b *Balancer) Next() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.nodes) == 0 {
		return "", errors.WrapTransient(errors.ErrNoConnection, "Balancer", "Next", "no nodes registered")
	}

	var selected *node
	switch b.strategy {
	case RoundRobin:
		selected = b.nodes[b.rrIndex%len(b.nodes)]
		b.rrIndex = (b.rrIndex + 1) % len(b.nodes)
	case LeastConnections:
		for _, n := range b.nodes {
			if selected == nil || n.totalRequests < selected.totalRequests {
				selected = n
			}
		}
	case WeightedResponseTime:
		best := math.Inf(1)
		for _, n := range b.nodes {
			if s := n.score(); s < best {
				best = s
				selected = n
			}
		}
		if selected == nil {
			// No node has completed a request yet; rotate.
			selected = b.nodes[b.rrIndex%len(b.nodes)]
			b.rrIndex = (b.rrIndex + 1) % len(b.nodes)
		}
	}

	selected.activeRequests++
	selected.totalRequests++
	return selected.name, nil
}

// RecordResponse reports the outcome of a request started by Next.
func (b *Balancer) RecordResponse(name string, latency time.Duration, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.byName[name]
	if !ok {
		return
	}
	if n.activeRequests > 0 {
		n.activeRequests--
	}
	n.totalLatency += latency
	if failed {
		n.totalErrors++
	}
}

// Stats returns a snapshot for every registered node in registration order.
func (b *Balancer) Stats() []NodeStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]NodeStats, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, NodeStats{
			Name:            n.name,
			ActiveRequests:  n.activeRequests,
			TotalRequests:   n.totalRequests,
			TotalErrors:     n.totalErrors,
			AvgResponseTime: n.avgResponseTime(),
			ErrorRate:       n.errorRate(),
		})
	}
	return out
}

// Strategy returns the configured selection strategy.
func (b *Balancer) Strategy() Strategy {
	return b.strategy
}
