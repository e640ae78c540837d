package cache

import (
	"fmt"
	"sync/atomic"
)

// Statistics tracks cache performance metrics using atomic counters.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expiries  atomic.Int64
	puts      atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// RecordHit increments the hit counter.
func (s *Statistics) RecordHit() { s.hits.Add(1) }

// RecordMiss increments the miss counter.
func (s *Statistics) RecordMiss() { s.misses.Add(1) }

// RecordEviction increments the eviction counter.
func (s *Statistics) RecordEviction() { s.evictions.Add(1) }

// RecordExpiry increments the TTL expiry counter.
func (s *Statistics) RecordExpiry() { s.expiries.Add(1) }

// RecordPut increments the put counter.
func (s *Statistics) RecordPut() { s.puts.Add(1) }

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the total number of capacity evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// Expiries returns the total number of TTL expiries observed on read.
func (s *Statistics) Expiries() int64 { return s.expiries.Load() }

// Puts returns the total number of put operations.
func (s *Statistics) Puts() int64 { return s.puts.Load() }

// HitRatio returns the hit ratio in [0, 1]. Zero lookups yields 0.
func (s *Statistics) HitRatio() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Reset zeroes all counters.
func (s *Statistics) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.evictions.Store(0)
	s.expiries.Store(0)
	s.puts.Store(0)
}

// Summary returns a human-readable one-line summary.
func (s *Statistics) Summary() string {
	return fmt.Sprintf("hits=%d misses=%d ratio=%.2f evictions=%d expiries=%d",
		s.Hits(), s.Misses(), s.HitRatio(), s.Evictions(), s.Expiries())
}
