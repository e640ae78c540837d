// Package memtransport is an in-process broker used in tests and demos.
// It supports NATS-style subject wildcards ("*" for one token, ">" for the
// remainder) and delivers synchronously.
package memtransport

import (
	"context"
	"strings"
	"sync"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/transport"
)

// Broker is a shared in-memory message fabric. Multiple Clients attached
// to one Broker can exchange messages, which is how tests wire two agents
// together.
type Broker struct {
	mu      sync.RWMutex
	clients []*Client
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{}
}

// Client attaches to the broker; construct with Broker.NewClient.
func (b *Broker) NewClient() *Client {
	c := &Client{
		broker: b,
		subs:   make(map[string]transport.MessageHandler),
	}
	c.status = transport.StatusDisconnected

	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// deliver routes a message to every matching subscription on every
// connected client, including the sender's own subscriptions.
func (b *Broker) deliver(topic string, data []byte) {
	b.mu.RLock()
	clients := make([]*Client, len(b.clients))
	copy(clients, b.clients)
	b.mu.RUnlock()

	for _, c := range clients {
		c.dispatch(topic, data)
	}
}

// Client implements ExternalTransport over the in-memory broker.
type Client struct {
	broker *Broker

	mu       sync.Mutex
	status   transport.Status
	subs     map[string]transport.MessageHandler
	handlers []transport.StatusHandler

	// Fault injection for tests.
	publishErr error
}

// Connect marks the client connected.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	if c.status == transport.StatusClosed {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "memtransport", "Connect", "client closed")
	}
	c.status = transport.StatusConnected
	c.mu.Unlock()

	c.notify(true)
	return nil
}

// Close disconnects and drops all subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	c.status = transport.StatusClosed
	c.subs = make(map[string]transport.MessageHandler)
	c.mu.Unlock()
	return nil
}

// Publish delivers to every matching subscription on the broker.
func (c *Client) Publish(_ context.Context, topic string, data []byte) error {
	c.mu.Lock()
	status := c.status
	failErr := c.publishErr
	c.mu.Unlock()

	if status != transport.StatusConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "memtransport", "Publish", "publish to "+topic)
	}
	if failErr != nil {
		return failErr
	}

	c.broker.deliver(topic, data)
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (c *Client) Subscribe(_ context.Context, topic string, h transport.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == transport.StatusClosed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "memtransport", "Subscribe", "client closed")
	}
	c.subs[topic] = h
	return nil
}

// Unsubscribe removes a subject pattern subscription.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

// Status returns the connection state.
func (c *Client) Status() transport.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatusChange registers a connection-state handler.
func (c *Client) OnStatusChange(h transport.StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// SetPublishError injects a publish failure. Test hook: a non-nil error
// makes every Publish fail until cleared with nil.
func (c *Client) SetPublishError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// Disconnect simulates a broker outage without closing the client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.status == transport.StatusConnected {
		c.status = transport.StatusDisconnected
	}
	c.mu.Unlock()
	c.notify(false)
}

func (c *Client) dispatch(topic string, data []byte) {
	c.mu.Lock()
	if c.status != transport.StatusConnected {
		c.mu.Unlock()
		return
	}
	type match struct {
		handler transport.MessageHandler
	}
	var matched []match
	for pattern, h := range c.subs {
		if TopicMatches(pattern, topic) {
			matched = append(matched, match{handler: h})
		}
	}
	c.mu.Unlock()

	for _, m := range matched {
		m.handler(topic, data)
	}
}

func (c *Client) notify(connected bool) {
	c.mu.Lock()
	handlers := make([]transport.StatusHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}

// TopicMatches reports whether a dotted subject matches a pattern using
// NATS wildcard rules: "*" matches exactly one token, ">" matches one or
// more trailing tokens.
func TopicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	pt := strings.Split(pattern, ".")
	tt := strings.Split(topic, ".")

	for i, p := range pt {
		if p == ">" {
			return i < len(tt)
		}
		if i >= len(tt) {
			return false
		}
		if p != "*" && p != tt[i] {
			return false
		}
	}
	return len(pt) == len(tt)
}
