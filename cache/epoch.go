package cache

import (
	"runtime"
	"sync/atomic"
)

// Epoch is the allocation-epoch counter: it increments once per
// garbage-collection cycle. Every identity-cache key embeds the epoch
// recorded when its frame was allocated, so a key minted before a
// collection can never match an allocation made after it — key
// comparisons are correct by construction, without a validity check on
// every hit.
//
// The counter advances by re-arming a sentinel allocation with a runtime
// cleanup: when a collection reclaims the sentinel, the cleanup bumps the
// counter and plants a fresh sentinel for the next cycle.
type Epoch struct {
	n      atomic.Uint64
	closed atomic.Bool
}

// NewEpoch creates an epoch counter and arms it.
func NewEpoch() *Epoch {
	e := &Epoch{}
	e.arm()
	return e
}

func (e *Epoch) arm() {
	sentinel := new(int64)
	runtime.AddCleanup(sentinel, func(_ struct{}) {
		if e.closed.Load() {
			return
		}
		e.n.Add(1)
		e.arm()
	}, struct{}{})
}

// Current returns the current epoch.
func (e *Epoch) Current() uint64 {
	return e.n.Load()
}

// Close stops re-arming. The counter freezes at its current value.
func (e *Epoch) Close() {
	e.closed.Store(true)
}
