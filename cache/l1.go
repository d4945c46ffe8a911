package cache

import (
	"container/list"
	"sync"
	"weak"

	"github.com/chazu/tarn/durability"
)

// Key identifies an L1 entry. All three components are allocation IDs
// from monotonic counters, so a key is unique for the lifetime of the
// process; the epoch component additionally guards against any scheme
// that might reuse identities across collection cycles.
type Key struct {
	Term  uint64
	Frame uint64
	Epoch uint64
}

// entry anchors its cached value to the frame it was computed under. If
// the frame is collected the entry is garbage: the key can never be
// asked for again, and holding the value would only delay reclamation.
type entry[A any, V any] struct {
	key     Key
	val     V
	tier    durability.Tier
	counter uint64

	anchor weak.Pointer[A]
	pinned bool // no anchor: entry lives until evicted

	elem      *list.Element
	protected bool
}

// IdentityCache is the first cache tier: an identity-keyed map with
// weak frame anchors and 2Q eviction. New entries enter a probationary
// FIFO; a hit promotes an entry to the protected LRU segment, so
// one-shot entries wash out of probation without disturbing the working
// set.
//
// Entries whose anchor has been collected are dropped lazily, on the
// lookup that finds them dead or on a sweep pass. No finalizers.
type IdentityCache[A any, V any] struct {
	mu         sync.Mutex
	entries    map[Key]*entry[A, V]
	probation  *list.List // of *entry, FIFO
	protected  *list.List // of *entry, LRU
	maxEntries int
	stats      *Stats
}

// protectedShare is the fraction of capacity reserved for the protected
// segment; the remainder is probation.
const protectedShare = 0.75

// NewIdentityCache creates an L1 cache holding at most maxEntries
// entries. maxEntries must be positive.
func NewIdentityCache[A any, V any](maxEntries int, stats *Stats) *IdentityCache[A, V] {
	if maxEntries <= 0 {
		panic("cache: identity cache capacity must be positive")
	}
	return &IdentityCache[A, V]{
		entries:    make(map[Key]*entry[A, V]),
		probation:  list.New(),
		protected:  list.New(),
		maxEntries: maxEntries,
		stats:      stats,
	}
}

// Get returns the cached value for k along with the durability tier and
// the tier counter observed when the entry was stored. The caller is
// responsible for checking the counter against the durability tracker.
func (c *IdentityCache[A, V]) Get(k Key) (V, durability.Tier, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[k]
	if !ok {
		c.stats.L1Misses.Add(1)
		return zero, 0, 0, false
	}
	if !e.pinned && e.anchor.Value() == nil {
		c.drop(e)
		c.stats.WeakClears.Add(1)
		c.stats.L1Misses.Add(1)
		return zero, 0, 0, false
	}
	c.touch(e)
	c.stats.L1Hits.Add(1)
	return e.val, e.tier, e.counter, true
}

// Put stores v under k. anchor is the frame the value was computed
// under; a nil anchor pins the entry (root-frame results have no frame
// to anchor to).
func (c *IdentityCache[A, V]) Put(k Key, v V, tier durability.Tier, counter uint64, anchor *A) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[k]; ok {
		e.val = v
		e.tier = tier
		e.counter = counter
		c.touch(e)
		return
	}
	e := &entry[A, V]{key: k, val: v, tier: tier, counter: counter}
	if anchor == nil {
		e.pinned = true
	} else {
		e.anchor = weak.Make(anchor)
	}
	e.elem = c.probation.PushBack(e)
	c.entries[k] = e
	c.evict()
}

// Remove deletes the entry for k if present.
func (c *IdentityCache[A, V]) Remove(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		c.drop(e)
	}
}

// Sweep drops every entry whose anchor has been collected and returns
// the number removed.
func (c *IdentityCache[A, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dead []*entry[A, V]
	for _, e := range c.entries {
		if !e.pinned && e.anchor.Value() == nil {
			dead = append(dead, e)
		}
	}
	for _, e := range dead {
		c.drop(e)
	}
	if n := len(dead); n > 0 {
		c.stats.WeakClears.Add(uint64(n))
		c.stats.Swept.Add(uint64(n))
	}
	return len(dead)
}

// Len returns the number of live entries.
func (c *IdentityCache[A, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge empties the cache.
func (c *IdentityCache[A, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry[A, V])
	c.probation.Init()
	c.protected.Init()
}

// touch records a hit: probationary entries are promoted, protected
// entries move to the LRU front.
func (c *IdentityCache[A, V]) touch(e *entry[A, V]) {
	if e.protected {
		c.protected.MoveToFront(e.elem)
		return
	}
	c.probation.Remove(e.elem)
	e.elem = c.protected.PushFront(e)
	e.protected = true
	c.shrinkProtected()
}

func (c *IdentityCache[A, V]) drop(e *entry[A, V]) {
	if e.protected {
		c.protected.Remove(e.elem)
	} else {
		c.probation.Remove(e.elem)
	}
	delete(c.entries, e.key)
}

// evict enforces the capacity bound, preferring probationary victims.
func (c *IdentityCache[A, V]) evict() {
	for len(c.entries) > c.maxEntries {
		var victim *list.Element
		if c.probation.Len() > 0 {
			victim = c.probation.Front()
		} else {
			victim = c.protected.Back()
		}
		c.drop(victim.Value.(*entry[A, V]))
		c.stats.Evictions.Add(1)
	}
}

// shrinkProtected demotes the coldest protected entries back to
// probation when the protected segment outgrows its share.
func (c *IdentityCache[A, V]) shrinkProtected() {
	limit := int(float64(c.maxEntries) * protectedShare)
	if limit < 1 {
		limit = 1
	}
	for c.protected.Len() > limit {
		el := c.protected.Back()
		e := el.Value.(*entry[A, V])
		c.protected.Remove(el)
		e.elem = c.probation.PushFront(e)
		e.protected = false
	}
}
