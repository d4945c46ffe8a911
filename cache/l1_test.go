package cache

import (
	"runtime"
	"testing"
	"time"

	"github.com/chazu/tarn/durability"
)

func TestL1PutGet(t *testing.T) {
	c := NewIdentityCache[int, string](8, NewStats())

	k := Key{Term: 1, Frame: 2, Epoch: 0}
	c.Put(k, "hello", durability.High, 0, nil)

	v, tier, _, ok := c.Get(k)
	if !ok || v != "hello" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	if tier != durability.High {
		t.Errorf("tier = %s", tier)
	}

	if _, _, _, ok := c.Get(Key{Term: 1, Frame: 2, Epoch: 1}); ok {
		t.Error("epoch must participate in the key")
	}
}

func TestL1PutOverwrites(t *testing.T) {
	c := NewIdentityCache[int, string](8, NewStats())
	k := Key{Term: 1}

	c.Put(k, "one", durability.Low, 3, nil)
	c.Put(k, "two", durability.Medium, 4, nil)

	v, tier, counter, ok := c.Get(k)
	if !ok || v != "two" || tier != durability.Medium || counter != 4 {
		t.Errorf("Get = %q %s %d %v", v, tier, counter, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d; want 1", c.Len())
	}
}

func TestL1EvictsProbationFirst(t *testing.T) {
	stats := NewStats()
	c := NewIdentityCache[int, string](4, stats)

	for i := uint64(0); i < 4; i++ {
		c.Put(Key{Term: i}, "v", durability.High, 0, nil)
	}
	// Promote 0 so it is protected; the next insert must evict from
	// probation, and 1 is the oldest probationary entry.
	c.Get(Key{Term: 0})
	c.Put(Key{Term: 9}, "v", durability.High, 0, nil)

	if _, _, _, ok := c.Get(Key{Term: 0}); !ok {
		t.Error("protected entry evicted while probation had victims")
	}
	if _, _, _, ok := c.Get(Key{Term: 1}); ok {
		t.Error("oldest probationary entry should have been evicted")
	}
	if stats.Evictions.Load() != 1 {
		t.Errorf("evictions = %d; want 1", stats.Evictions.Load())
	}
}

func TestL1ProtectedDemotion(t *testing.T) {
	c := NewIdentityCache[int, string](4, NewStats()) // protected limit 3

	for i := uint64(0); i < 4; i++ {
		c.Put(Key{Term: i}, "v", durability.High, 0, nil)
	}
	// Promote all four: the coldest must be demoted back to probation
	// rather than growing the protected segment without bound.
	for i := uint64(0); i < 4; i++ {
		c.Get(Key{Term: i})
	}
	if c.protected.Len() != 3 {
		t.Errorf("protected segment = %d entries; want 3", c.protected.Len())
	}
	if c.probation.Len() != 1 {
		t.Errorf("probation segment = %d entries; want 1", c.probation.Len())
	}
	if c.Len() != 4 {
		t.Errorf("Len = %d; want 4", c.Len())
	}
}

func TestL1Remove(t *testing.T) {
	c := NewIdentityCache[int, string](8, NewStats())
	k := Key{Term: 5}
	c.Put(k, "v", durability.High, 0, nil)
	c.Remove(k)
	if _, _, _, ok := c.Get(k); ok {
		t.Error("entry survived Remove")
	}
	c.Remove(k) // removing a missing key is a no-op
}

// anchorBlock stands in for a frame as the weak-anchor target. It must
// be larger than 16 bytes: smaller allocations land in the tiny
// allocator, where the block can be shared with a still-live object and
// never becomes collectable.
type anchorBlock struct {
	_ [4]uint64
}

func TestL1WeakAnchorCleared(t *testing.T) {
	stats := NewStats()
	c := NewIdentityCache[anchorBlock, string](8, stats)

	k := Key{Term: 1}
	func() {
		anchor := new(anchorBlock)
		c.Put(k, "anchored", durability.High, 0, anchor)
		runtime.KeepAlive(anchor)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		runtime.GC()
		if _, _, _, ok := c.Get(k); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("anchor never collected")
		}
	}
	if stats.WeakClears.Load() == 0 {
		t.Error("weak clear not counted")
	}
}

func TestL1PinnedSurvivesGC(t *testing.T) {
	c := NewIdentityCache[int, string](8, NewStats())
	k := Key{Term: 1}
	c.Put(k, "pinned", durability.High, 0, nil)

	runtime.GC()
	runtime.GC()

	if _, _, _, ok := c.Get(k); !ok {
		t.Error("pinned entry lost after GC")
	}
}

func TestL1Sweep(t *testing.T) {
	stats := NewStats()
	c := NewIdentityCache[anchorBlock, string](16, stats)

	c.Put(Key{Term: 100}, "pinned", durability.High, 0, nil)
	func() {
		anchor := new(anchorBlock)
		c.Put(Key{Term: 200}, "anchored", durability.High, 0, anchor)
		runtime.KeepAlive(anchor)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Sweep() == 0 {
		runtime.GC()
		if time.Now().After(deadline) {
			t.Fatal("sweep never reclaimed the dead entry")
		}
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d; want 1", c.Len())
	}
	if stats.Swept.Load() == 0 {
		t.Error("sweep not counted")
	}
}

func TestL1Purge(t *testing.T) {
	c := NewIdentityCache[int, string](8, NewStats())
	for i := uint64(0); i < 5; i++ {
		c.Put(Key{Term: i}, "v", durability.High, 0, nil)
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after Purge = %d", c.Len())
	}
}
