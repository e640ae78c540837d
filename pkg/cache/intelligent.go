package cache

import (
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
)

const (
	// DefaultMaxSize is the default entry capacity.
	DefaultMaxSize = 1000
	// DefaultTTL is the default per-entry lifetime.
	DefaultTTL = 5 * time.Minute
)

// entry holds a cached value with its expiry and access bookkeeping.
type entry[V any] struct {
	value       V
	expiresAt   time.Time
	accessCount int64
	seq         uint64 // insertion order, breaks access-count ties
}

// IntelligentCache is a bounded TTL cache that evicts the least-accessed
// entry when full. Expiry is lazy: expired entries are dropped when read,
// not by a background goroutine.
type IntelligentCache[V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	items      map[string]*entry[V]
	nextSeq    uint64
	stats      *Statistics
	metrics    *cacheMetrics
	onEvict    EvictCallback[V]

	// clock is swappable for tests
	now func() time.Time
}

// Option configures an IntelligentCache.
type Option[V any] func(*IntelligentCache[V])

// WithMaxSize sets the entry capacity.
func WithMaxSize[V any](n int) Option[V] {
	return func(c *IntelligentCache[V]) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Put receives a non-positive ttl.
func WithDefaultTTL[V any](ttl time.Duration) Option[V] {
	return func(c *IntelligentCache[V]) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithEvictCallback registers a callback invoked for capacity evictions.
func WithEvictCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *IntelligentCache[V]) {
		c.onEvict = fn
	}
}

// NewIntelligent creates a cache with the given options.
func NewIntelligent[V any](opts ...Option[V]) *IntelligentCache[V] {
	c := &IntelligentCache[V]{
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		items:      make(map[string]*entry[V]),
		stats:      NewStatistics(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key. Expired entries are removed and reported as
// misses. A hit increments the entry's access count.
func (c *IntelligentCache[V]) Get(key string) (V, bool) {
	var zero V
	if err := validateKey(key); err != nil {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.RecordMiss()
		c.metrics.recordMiss()
		return zero, false
	}

	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		c.stats.RecordExpiry()
		c.stats.RecordMiss()
		c.metrics.recordMiss()
		return zero, false
	}

	e.accessCount++
	c.stats.RecordHit()
	c.metrics.recordHit()
	return e.value, true
}

// Put stores a value with the given TTL, evicting the least-accessed entry
// if the cache is full and the key is new. Returns true when a new entry
// was created rather than an existing one replaced.
func (c *IntelligentCache[V]) Put(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		c.stats.RecordPut()
		return false, nil
	}

	if len(c.items) >= c.maxSize {
		c.evictLeastAccessed()
	}

	c.nextSeq++
	c.items[key] = &entry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		seq:       c.nextSeq,
	}
	c.stats.RecordPut()
	c.metrics.setSize(len(c.items))
	return true, nil
}

// evictLeastAccessed removes the entry with the lowest access count,
// preferring the oldest insertion on ties. Must be called with the mutex
// held and at least one entry present.
func (c *IntelligentCache[V]) evictLeastAccessed() {
	var victimKey string
	var victim *entry[V]

	for key, e := range c.items {
		if victim == nil ||
			e.accessCount < victim.accessCount ||
			(e.accessCount == victim.accessCount && e.seq < victim.seq) {
			victimKey = key
			victim = e
		}
	}

	if victim == nil {
		return
	}

	delete(c.items, victimKey)
	c.stats.RecordEviction()
	c.metrics.recordEviction()
	if c.onEvict != nil {
		c.onEvict(victimKey, victim.value)
	}
}

// Delete removes an entry by key.
func (c *IntelligentCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false, nil
	}
	delete(c.items, key)
	c.metrics.setSize(len(c.items))
	return true, nil
}

// Clear removes all entries.
func (c *IntelligentCache[V]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
	c.metrics.setSize(0)
	return nil
}

// Size returns the current entry count, including not-yet-collected expired
// entries.
func (c *IntelligentCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all non-expired keys.
func (c *IntelligentCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for key, e := range c.items {
		if now.Before(e.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns the statistics tracker.
func (c *IntelligentCache[V]) Stats() *Statistics {
	return c.stats
}

// AccessCount returns the access count for a key, for diagnostics.
func (c *IntelligentCache[V]) AccessCount(key string) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "IntelligentCache", "AccessCount", "key not found")
	}
	return e.accessCount, nil
}

// setClock overrides the time source. Test hook.
func (c *IntelligentCache[V]) setClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
