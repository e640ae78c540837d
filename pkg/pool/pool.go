// Package pool provides a bounded generic connection pool with idle
// expiry. Acquire blocks until a connection is free or the context is done;
// idle connections older than the configured timeout are closed and
// replaced instead of being handed out.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
)

const (
	// DefaultMaxConnections bounds the pool size.
	DefaultMaxConnections = 10
	// DefaultIdleTimeout is how long an idle connection stays usable.
	DefaultIdleTimeout = 30 * time.Second
)

// Factory creates a new pooled connection.
type Factory[T any] func(ctx context.Context) (T, error)

// Closer tears down a connection that expired or is being discarded.
type Closer[T any] func(conn T)

// Config configures the pool bounds.
type Config struct {
	MaxConnections int           // Upper bound on live connections
	IdleTimeout    time.Duration // Idle connections older than this are recycled
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: DefaultMaxConnections,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// pooled wraps a connection with its last-used timestamp.
type pooled[T any] struct {
	conn     T
	idleFrom time.Time
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Live     int   // Connections currently created (idle + in use)
	Idle     int   // Connections parked in the pool
	InUse    int   // Connections handed out
	Acquired int64 // Total successful acquires
	Recycled int64 // Connections closed due to idle expiry
}

// Pool is a bounded connection pool. Construct with New.
type Pool[T any] struct {
	mu       sync.Mutex
	cfg      Config
	factory  Factory[T]
	closer   Closer[T]
	idle     chan pooled[T]
	slots    chan struct{} // capacity tokens, one per live connection allowance
	closed   bool
	acquired int64
	recycled int64
	inUse    int

	// clock is swappable for tests
	now func() time.Time
}

// New creates a pool that builds connections with factory and tears them
// down with closer. closer may be nil for connections with no teardown.
func New[T any](cfg Config, factory Factory[T], closer Closer[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pool", "New", "factory is required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	p := &Pool[T]{
		cfg:     cfg,
		factory: factory,
		closer:  closer,
		idle:    make(chan pooled[T], cfg.MaxConnections),
		slots:   make(chan struct{}, cfg.MaxConnections),
		now:     time.Now,
	}
	for i := 0; i < cfg.MaxConnections; i++ {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Acquire returns a connection, reusing an idle one when available and
// creating a new one otherwise. It blocks while the pool is at capacity
// until a connection is released or ctx is done, in which case it returns
// errors.ErrPoolExhausted.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, errors.WrapInvalid(errors.ErrAlreadyStopped, "Pool", "Acquire", "pool closed")
	}
	p.mu.Unlock()

	// Drain stale idle connections first so a fresh slot opens up.
	for {
		select {
		case pc := <-p.idle:
			if p.now().Sub(pc.idleFrom) > p.cfg.IdleTimeout {
				p.discard(pc.conn)
				p.slots <- struct{}{}
				continue
			}
			p.markAcquired()
			return pc.conn, nil
		default:
		}
		break
	}

	select {
	case <-ctx.Done():
		return zero, errors.WrapTransient(errors.ErrPoolExhausted, "Pool", "Acquire", "wait for free connection")
	case pc := <-p.idle:
		if p.now().Sub(pc.idleFrom) > p.cfg.IdleTimeout {
			p.discard(pc.conn)
			p.slots <- struct{}{}
			return p.Acquire(ctx)
		}
		p.markAcquired()
		return pc.conn, nil
	case <-p.slots:
		conn, err := p.factory(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return zero, errors.WrapTransient(err, "Pool", "Acquire", "create connection")
		}
		p.markAcquired()
		return conn, nil
	}
}

// Release returns a connection to the pool for reuse.
func (p *Pool[T]) Release(conn T) {
	p.mu.Lock()
	p.inUse--
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.discard(conn)
		return
	}

	select {
	case p.idle <- pooled[T]{conn: conn, idleFrom: p.now()}:
	default:
		// Pool shrank under us; drop the connection.
		p.discard(conn)
		p.slots <- struct{}{}
	}
}

// Discard removes a broken connection from circulation, freeing its slot so
// a replacement can be created.
func (p *Pool[T]) Discard(conn T) {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	p.discard(conn)
	p.slots <- struct{}{}
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := len(p.idle)
	return Stats{
		Live:     idle + p.inUse,
		Idle:     idle,
		InUse:    p.inUse,
		Acquired: p.acquired,
		Recycled: p.recycled,
	}
}

// Close tears down all idle connections and rejects future acquires.
// Connections still in use are discarded when released.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case pc := <-p.idle:
			p.discard(pc.conn)
		default:
			return
		}
	}
}

func (p *Pool[T]) markAcquired() {
	p.mu.Lock()
	p.acquired++
	p.inUse++
	p.mu.Unlock()
}

func (p *Pool[T]) discard(conn T) {
	p.mu.Lock()
	p.recycled++
	closer := p.closer
	p.mu.Unlock()

	if closer != nil {
		closer(conn)
	}
}

// setClock overrides the time source. Test hook.
func (p *Pool[T]) setClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
