// Package pooled wraps a transport factory in a bounded connection pool.
// Publishes borrow a connection from the pool; subscriptions live on one
// dedicated connection so handler registration survives pool churn.
package pooled

import (
	"context"
	"time"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/pkg/pool"
	"github.com/c360/agentmesh/transport"
)

// Factory builds one underlying transport connection.
type Factory func() (transport.ExternalTransport, error)

// Transport implements ExternalTransport over a pool of publish
// connections plus a dedicated subscribe connection.
type Transport struct {
	factory  Factory
	pub      *pool.Pool[transport.ExternalTransport]
	sub      transport.ExternalTransport
	handlers []transport.StatusHandler
}

// New creates a pooled transport. maxConnections bounds concurrent
// publishers; connectionTimeout recycles idle publish connections.
func New(factory Factory, maxConnections int, connectionTimeout time.Duration) (*Transport, error) {
	if factory == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "pooled", "New", "factory is required")
	}

	t := &Transport{factory: factory}

	p, err := pool.New(
		pool.Config{MaxConnections: maxConnections, IdleTimeout: connectionTimeout},
		func(ctx context.Context) (transport.ExternalTransport, error) {
			conn, err := factory()
			if err != nil {
				return nil, err
			}
			if err := conn.Connect(ctx); err != nil {
				return nil, err
			}
			return conn, nil
		},
		func(conn transport.ExternalTransport) { _ = conn.Close() },
	)
	if err != nil {
		return nil, err
	}
	t.pub = p
	return t, nil
}

// Connect establishes the dedicated subscribe connection.
func (t *Transport) Connect(ctx context.Context) error {
	if t.sub != nil && t.sub.Status() == transport.StatusConnected {
		return nil
	}
	conn, err := t.factory()
	if err != nil {
		return errors.Wrap(err, "pooled", "Connect", "create subscribe connection")
	}
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	for _, h := range t.handlers {
		conn.OnStatusChange(h)
	}
	t.sub = conn
	return nil
}

// Close shuts the pool and the subscribe connection.
func (t *Transport) Close() error {
	t.pub.Close()
	if t.sub != nil {
		return t.sub.Close()
	}
	return nil
}

// Publish borrows a pooled connection for one send. A send failure
// discards the connection instead of returning it.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	conn, err := t.pub.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := conn.Publish(ctx, topic, data); err != nil {
		t.pub.Discard(conn)
		return err
	}
	t.pub.Release(conn)
	return nil
}

// Subscribe registers a handler on the dedicated subscribe connection.
func (t *Transport) Subscribe(ctx context.Context, topic string, h transport.MessageHandler) error {
	if t.sub == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "pooled", "Subscribe", "not connected")
	}
	return t.sub.Subscribe(ctx, topic, h)
}

// Unsubscribe removes a subscription from the subscribe connection.
func (t *Transport) Unsubscribe(topic string) error {
	if t.sub == nil {
		return nil
	}
	return t.sub.Unsubscribe(topic)
}

// Status reports the subscribe connection's state.
func (t *Transport) Status() transport.Status {
	if t.sub == nil {
		return transport.StatusDisconnected
	}
	return t.sub.Status()
}

// OnStatusChange registers a handler on the subscribe connection. Handlers
// registered before Connect are attached when the connection is made.
func (t *Transport) OnStatusChange(h transport.StatusHandler) {
	t.handlers = append(t.handlers, h)
	if t.sub != nil {
		t.sub.OnStatusChange(h)
	}
}

// PoolStats exposes pool occupancy for status reporting.
func (t *Transport) PoolStats() pool.Stats {
	return t.pub.Stats()
}
