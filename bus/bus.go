// Package bus is the in-process publish/subscribe fabric that decouples
// the wire transport from application dispatch. Handlers run synchronously
// in registration order; a handler error is logged and never stops
// delivery to the remaining handlers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/c360/agentmesh/envelope"
)

// Message is what flows over the internal bus: the decoded envelope plus
// the wire topic it arrived on.
type Message struct {
	Topic    string
	Envelope *envelope.Envelope
}

// Handler consumes one internal bus message.
type Handler func(msg Message) error

// subscription pairs a handler with its registration order.
type subscription struct {
	id      int
	handler Handler
}

// Bus is an in-process topic-keyed dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
	logger *slog.Logger
}

// New creates a bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Handlers fire in registration order.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers a message to every subscriber of its topic, in
// registration order. Handler errors are logged and swallowed so one
// misbehaving consumer cannot starve the others.
func (b *Bus) Publish(msg Message) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[msg.Topic]))
	copy(subs, b.subs[msg.Topic])
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.safeInvoke(s.handler, msg); err != nil {
			b.logger.Error("bus handler failed",
				"topic", msg.Topic,
				"error", err)
		}
	}
	return len(subs)
}

// safeInvoke contains a panicking handler so dispatch continues.
func (b *Bus) safeInvoke(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"topic", msg.Topic,
				"panic", r)
		}
	}()
	return h(msg)
}

// SubscriberCount returns the number of handlers registered on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
