// Package natstransport is the production broker transport, backed by a
// NATS connection with automatic reconnect and status reporting.
package natstransport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/transport"
)

// Client wraps a NATS connection behind the ExternalTransport contract.
type Client struct {
	url    string
	status atomic.Value // stores transport.Status
	logger *slog.Logger

	conn *nats.Conn

	mu       sync.Mutex
	subs     map[string]*nats.Subscription
	handlers []transport.StatusHandler
	closed   atomic.Bool

	// Connection options
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	username      string
	password      string
	token         string
	tlsConfig     *tls.Config
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithName sets the client name reported to the broker.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithMaxReconnects bounds automatic reconnect attempts.
func WithMaxReconnects(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithReconnectWait sets the delay between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// WithTimeout sets the initial connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Client) { c.drainTimeout = d }
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTLS sets the TLS configuration for the broker connection. A nil
// config leaves the connection in plaintext.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tlsConfig }
}

// New creates an unconnected client for the given broker URL.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "New", "broker URL is required")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		subs:          make(map[string]*nats.Subscription),
		name:          "agentmesh",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       10 * time.Second,
		drainTimeout:  5 * time.Second,
	}
	c.status.Store(transport.StatusDisconnected)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Client", "Connect", "client closed")
	}
	if c.Status() == transport.StatusConnected {
		return nil
	}

	c.setStatus(transport.StatusConnecting)

	conn, err := nats.Connect(c.url, c.connectionOptions()...)
	if err != nil {
		c.setStatus(transport.StatusDisconnected)
		return errors.WrapTransient(errors.ErrTransportFailure, "Client", "Connect", "dial "+c.url)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setStatus(transport.StatusConnected)
	c.notify(true)
	c.logger.Info("connected to broker", "url", c.url)
	return nil
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(transport.StatusDisconnected)
			c.notify(false)
			c.logger.Warn("broker disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(transport.StatusConnected)
			c.notify(true)
			c.logger.Info("broker reconnected", "url", c.url)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if !c.closed.Load() {
				c.setStatus(transport.StatusDisconnected)
				c.notify(false)
			}
		}),
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	return opts
}

// Publish sends raw bytes to a subject.
func (c *Client) Publish(_ context.Context, topic string, data []byte) error {
	conn := c.connection()
	if conn == nil || c.Status() != transport.StatusConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "publish to "+topic)
	}
	if err := conn.Publish(topic, data); err != nil {
		return errors.WrapTransient(errors.ErrTransportFailure, "Client", "Publish", "publish to "+topic)
	}
	return nil
}

// Subscribe registers a handler for a subject. NATS wildcard syntax
// applies ("*" for one token, ">" for the rest).
func (c *Client) Subscribe(_ context.Context, topic string, h transport.MessageHandler) error {
	conn := c.connection()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "subscribe to "+topic)
	}

	sub, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(errors.ErrTransportFailure, "Client", "Subscribe", "subscribe to "+topic)
	}

	c.mu.Lock()
	if old, ok := c.subs[topic]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[topic] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes a subject subscription.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errors.WrapTransient(errors.ErrTransportFailure, "Client", "Unsubscribe",
			"unsubscribe from "+topic)
	}
	return nil
}

// Status returns the current connection state.
func (c *Client) Status() transport.Status {
	return c.status.Load().(transport.Status)
}

// OnStatusChange registers a connection-state handler.
func (c *Client) OnStatusChange(h transport.StatusHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Close drains and closes the connection. Idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	c.setStatus(transport.StatusClosed)
	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	return nil
}

func (c *Client) connection() *nats.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setStatus(s transport.Status) {
	c.status.Store(s)
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
