// Package durability classifies externally observed inputs into tiers and
// tracks per-tier version counters used to scope cache invalidation.
//
// Tiers order from most volatile to most durable. A derived result's tier
// is the minimum tier of anything it observed; a computation that observes
// nothing remains High.
package durability

import "sync/atomic"

// Tier classifies how often an observed input is expected to change.
type Tier uint8

const (
	// Low inputs are volatile within a single run: wall-clock time,
	// network fetches. Results observing them are never persisted.
	Low Tier = iota

	// Medium inputs are stable within one run but may change between
	// runs: ordinary file reads, environment variables.
	Medium

	// High inputs are content-addressed or immutable. Pure computations
	// that observe nothing are High.
	High
)

// NumTiers is the number of durability tiers.
const NumTiers = 3

var tierNames = [NumTiers]string{"low", "medium", "high"}

// String returns the tier's name.
func (t Tier) String() string {
	if int(t) < NumTiers {
		return tierNames[t]
	}
	return "unknown"
}

// Min returns the less durable of two tiers.
func Min(a, b Tier) Tier {
	if a < b {
		return a
	}
	return b
}

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

// Tracker maintains one version counter per tier. Observing an input bumps
// the input's own tier counter and every counter of equal-or-lower
// durability, so unrelated low-tier churn never invalidates a result that
// only touched high-tier inputs.
type Tracker struct {
	counters [NumTiers]atomic.Uint64
}

// NewTracker creates a tracker with all counters at zero.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records an observation of an input at tier t and returns the new
// value of t's counter.
func (tr *Tracker) Observe(t Tier) uint64 {
	for lower := Tier(0); lower < t; lower++ {
		tr.counters[lower].Add(1)
	}
	return tr.counters[t].Add(1)
}

// Counter returns the current version counter for tier t.
func (tr *Tracker) Counter(t Tier) uint64 {
	return tr.counters[t].Load()
}

// Valid reports whether a cache entry recorded at tier t with counter
// value recorded is still valid. High entries are immutable by definition
// and never expire; lower tiers are validated against the counter.
func (tr *Tracker) Valid(t Tier, recorded uint64) bool {
	if t == High {
		return true
	}
	return tr.counters[t].Load() == recorded
}
