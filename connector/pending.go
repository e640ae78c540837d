package connector

import (
	"sync"
	"time"

	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
)

// pendingAck is a single-resolution future for one awaited acknowledgement.
type pendingAck struct {
	ch        chan *envelope.Acknowledgement
	created   time.Time
	retries   int
	resolved  bool
	resolveMu sync.Mutex
}

// ackTracker maps correlation IDs to pending acknowledgement futures.
// Each future resolves at most once; unmatched ACKs are reported to the
// caller for logging but are never an error.
type ackTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingAck
}

func newAckTracker() *ackTracker {
	return &ackTracker{pending: make(map[string]*pendingAck)}
}

// register creates a future for a correlation ID. A second registration
// for the same ID while one is pending is a caller error.
func (t *ackTracker) register(correlationID string) (*pendingAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[correlationID]; exists {
		return nil, errors.WrapInvalid(errors.ErrDuplicateCorrelation, "ackTracker", "register",
			"correlation id "+correlationID)
	}

	p := &pendingAck{
		ch:      make(chan *envelope.Acknowledgement, 1),
		created: time.Now(),
	}
	t.pending[correlationID] = p
	return p, nil
}

// resolve delivers an acknowledgement to its future. Returns false when no
// matching future exists or it already resolved.
func (t *ackTracker) resolve(correlationID string, ack *envelope.Acknowledgement) bool {
	t.mu.Lock()
	p, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	p.resolveMu.Lock()
	defer p.resolveMu.Unlock()
	if p.resolved {
		return false
	}
	p.resolved = true
	p.ch <- ack
	return true
}

// remove drops a future without resolving it (timeout or final failure).
func (t *ackTracker) remove(correlationID string) {
	t.mu.Lock()
	delete(t.pending, correlationID)
	t.mu.Unlock()
}

// has reports whether a correlation ID is still awaiting its ACK.
func (t *ackTracker) has(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[correlationID]
	return ok
}

// count returns the number of outstanding futures.
func (t *ackTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// incrementRetries bumps and returns the retry counter for a pending ID.
func (t *ackTracker) incrementRetries(correlationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[correlationID]; ok {
		p.retries++
		return p.retries
	}
	return 0
}
