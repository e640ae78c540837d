// Package transport defines the external broker contract consumed by the
// runtime. Implementations wrap a concrete client (NATS in production, an
// in-memory broker in tests); the rest of the runtime only sees this
// interface, so swapping brokers never touches the protocol code.
package transport

import "context"

// MessageHandler receives raw wire bytes for a subscribed topic.
type MessageHandler func(topic string, data []byte)

// StatusHandler is notified of connection state changes.
type StatusHandler func(connected bool)

// Status describes the connection state of a transport.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusClosed       Status = "closed"
)

// ExternalTransport is the minimal broker contract: connect, publish,
// subscribe, and connection-state observation.
type ExternalTransport interface {
	// Connect establishes the broker connection. Safe to call once.
	Connect(ctx context.Context) error

	// Close tears the connection down and stops all subscriptions.
	Close() error

	// Publish sends raw bytes to a topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe registers a handler for a topic. Wildcard syntax is
	// implementation-defined.
	Subscribe(ctx context.Context, topic string, h MessageHandler) error

	// Unsubscribe removes a topic subscription.
	Unsubscribe(topic string) error

	// Status returns the current connection state.
	Status() Status

	// OnStatusChange registers a handler notified on connect/disconnect.
	OnStatusChange(h StatusHandler)
}
