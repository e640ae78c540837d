// Package worker provides a bounded worker pool for CPU-bound message
// decode/verify work, keeping inbound dispatch off the transport callback
// goroutine.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/metric"
)

// Pool processes work items of type T on a fixed set of goroutines with a
// bounded queue. Submission is non-blocking: a full queue drops the item
// and reports it, which for inbound messages is preferable to stalling the
// transport.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
}

// Option configures the pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers queue metrics on the runtime registry under the
// given prefix.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_queue_depth",
				Help: "Current worker pool queue depth",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_processed_total",
				Help: "Work items processed",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_failed_total",
				Help: "Work items whose processor returned an error",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dropped_total",
				Help: "Work items dropped because the queue was full",
			}),
		}
		if registry.Register(prefix, "queue_depth", m.queueDepth) != nil {
			return
		}
		_ = registry.Register(prefix, "processed", m.processed)
		_ = registry.Register(prefix, "failed", m.failed)
		_ = registry.Register(prefix, "dropped", m.dropped)
		p.metrics = m
	}
}

// NewPool creates a pool of the given size over the processor function.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pool", "NewPool", "processor is required")
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the workers. The context cancels all of them.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pool", "Start", "pool running")
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return nil
}

// Submit enqueues a work item without blocking. A full queue returns an
// error and drops the item.
func (p *Pool[T]) Submit(work T) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Pool", "Submit", "pool not started")
	}
	if p.stopped {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Pool", "Submit", "pool stopped")
	}
	p.mu.Unlock()

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return errors.WrapTransient(errors.ErrTransportFailure, "Pool", "Submit", "queue full")
	}
}

// Stop closes the queue and waits up to timeout for in-flight work.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Pool", "Stop", "drain workers")
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			if err := p.processor(ctx, work); err != nil {
				p.failed.Add(1)
				if p.metrics != nil {
					p.metrics.failed.Inc()
				}
			} else {
				p.processed.Add(1)
				if p.metrics != nil {
					p.metrics.processed.Inc()
				}
			}
			if p.metrics != nil {
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
			}
		}
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers    int
	QueueDepth int
	Submitted  int64
	Processed  int64
	Failed     int64
	Dropped    int64
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}
