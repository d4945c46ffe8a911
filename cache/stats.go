// Package cache implements the two-tier memoization engine: a bounded,
// weak-anchored in-process identity cache (L1) and a persistent,
// content-addressed store (L2), tied together by the durability tracker
// and the structural hasher.
package cache

import (
	"math"
	"sync/atomic"
	"time"
)

// ewmaAlpha is the smoothing factor for the hash-latency average.
const ewmaAlpha = 0.05

// Stats holds operational counters for the cache engine. All fields are
// updated atomically; snapshots are advisory, not transactional.
type Stats struct {
	L1Hits   atomic.Uint64
	L1Misses atomic.Uint64
	L2Hits   atomic.Uint64
	L2Misses atomic.Uint64

	Evictions  atomic.Uint64 // L1 capacity evictions
	WeakClears atomic.Uint64 // L1 entries dropped because their key died
	Swept      atomic.Uint64 // entries removed by periodic sweeps

	L2Writes  atomic.Uint64
	L2Corrupt atomic.Uint64 // corrupt or version-mismatched records evicted

	hashCount    atomic.Uint64
	hashEWMABits atomic.Uint64 // float64 bits of the latency EWMA, nanoseconds
}

// NewStats creates a zeroed statistics block.
func NewStats() *Stats {
	return &Stats{}
}

// RecordHashLatency folds one key-hash duration into the running average.
func (s *Stats) RecordHashLatency(d time.Duration) {
	s.hashCount.Add(1)
	ns := float64(d.Nanoseconds())
	for {
		old := s.hashEWMABits.Load()
		cur := math.Float64frombits(old)
		var next float64
		if old == 0 {
			next = ns
		} else {
			next = cur + ewmaAlpha*(ns-cur)
		}
		if s.hashEWMABits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// HashLatency returns the average key-hash latency and the sample count.
func (s *Stats) HashLatency() (time.Duration, uint64) {
	ns := math.Float64frombits(s.hashEWMABits.Load())
	return time.Duration(ns), s.hashCount.Load()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	L1Hits, L1Misses uint64
	L2Hits, L2Misses uint64
	Evictions        uint64
	WeakClears       uint64
	Swept            uint64
	L2Writes         uint64
	L2Corrupt        uint64
	HashLatency      time.Duration
	HashCount        uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	lat, n := s.HashLatency()
	return Snapshot{
		L1Hits:      s.L1Hits.Load(),
		L1Misses:    s.L1Misses.Load(),
		L2Hits:      s.L2Hits.Load(),
		L2Misses:    s.L2Misses.Load(),
		Evictions:   s.Evictions.Load(),
		WeakClears:  s.WeakClears.Load(),
		Swept:       s.Swept.Load(),
		L2Writes:    s.L2Writes.Load(),
		L2Corrupt:   s.L2Corrupt.Load(),
		HashLatency: lat,
		HashCount:   n,
	}
}
