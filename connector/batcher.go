package connector

import (
	"log/slog"
	"sync"
	"time"
)

// batchItem is one wire message queued for batched delivery.
type batchItem struct {
	topic       string
	messageType string
	data        []byte
}

// batcher coalesces low-priority fire-and-forget publishes. A batch
// flushes when it reaches size or when its oldest item reaches maxAge,
// whichever comes first.
type batcher struct {
	size   int
	maxAge time.Duration
	flush  func(items []batchItem)
	logger *slog.Logger

	mu      sync.Mutex
	items   []batchItem
	timer   *time.Timer
	stopped bool
}

func newBatcher(size int, maxAge time.Duration, flush func(items []batchItem), logger *slog.Logger) *batcher {
	if size <= 0 {
		size = 10
	}
	if maxAge <= 0 {
		maxAge = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &batcher{
		size:   size,
		maxAge: maxAge,
		flush:  flush,
		logger: logger,
	}
}

func (b *batcher) start() {
	b.mu.Lock()
	b.stopped = false
	b.mu.Unlock()
}

// enqueue adds one item, flushing immediately on a full batch. The first
// item of a batch arms the age timer.
func (b *batcher) enqueue(item batchItem) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		b.flush([]batchItem{item})
		return
	}

	b.items = append(b.items, item)
	if len(b.items) >= b.size {
		items := b.takeLocked()
		b.mu.Unlock()
		b.flush(items)
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxAge, b.flushDue)
	}
	b.mu.Unlock()
}

// flushDue fires when the oldest queued item hits maxAge.
func (b *batcher) flushDue() {
	b.mu.Lock()
	items := b.takeLocked()
	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(items)
	}
}

// stop flushes whatever is queued and rejects further batching. Items
// enqueued after stop are flushed individually so nothing is lost during
// shutdown.
func (b *batcher) stop() {
	b.mu.Lock()
	b.stopped = true
	items := b.takeLocked()
	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(items)
	}
}

// takeLocked removes and returns all queued items and disarms the timer.
// Must be called with the mutex held.
func (b *batcher) takeLocked() []batchItem {
	items := b.items
	b.items = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return items
}

// flushBatch delivers a batch item by item. Failures are logged; batched
// traffic is fire-and-forget by definition.
func (c *Connector) flushBatch(items []batchItem) {
	for _, item := range items {
		if err := c.sendReliable(c.runCtx, item.topic, item.data); err != nil {
			c.countPublished(item.messageType, "error")
			c.logger.Warn("batched publish failed",
				"topic", item.topic,
				"error", err)
			continue
		}
		c.countPublished(item.messageType, "ok")
	}
}
