package fallback

import (
	"context"
	"sync"

	"github.com/c360/agentmesh/errors"
)

// QueuedMessage is one message held by the in-memory transport.
type QueuedMessage struct {
	Topic string
	Data  []byte
}

// InMemory buffers messages in a bounded queue. It is the first fallback
// tried: delivery is instant but messages survive only as long as the
// process, so a drain hook hands them back when the primary recovers.
type InMemory struct {
	mu       sync.Mutex
	queue    []QueuedMessage
	capacity int
	priority int
	running  bool
}

// NewInMemory creates the transport with the given queue capacity and
// chain priority.
func NewInMemory(capacity, priority int) *InMemory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemory{capacity: capacity, priority: priority}
}

// Name implements Transport.
func (m *InMemory) Name() string { return "in_memory" }

// Priority implements Transport.
func (m *InMemory) Priority() int { return m.priority }

// Initialize implements Transport.
func (m *InMemory) Initialize(_ context.Context) error { return nil }

// Start implements Transport.
func (m *InMemory) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop implements Transport.
func (m *InMemory) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Send queues the message, failing when the queue is full.
func (m *InMemory) Send(_ context.Context, topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return errors.WrapInvalid(errors.ErrNotStarted, "InMemory", "Send", "transport stopped")
	}
	if len(m.queue) >= m.capacity {
		return errors.WrapTransient(errors.ErrTransportFailure, "InMemory", "Send", "queue full")
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.queue = append(m.queue, QueuedMessage{Topic: topic, Data: buf})
	return nil
}

// Healthy reports whether the queue has room.
func (m *InMemory) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && len(m.queue) < m.capacity
}

// Drain removes and returns all queued messages, oldest first.
func (m *InMemory) Drain() []QueuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

// Len returns the number of queued messages.
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
