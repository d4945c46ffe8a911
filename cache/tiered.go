package cache

import (
	"errors"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/tarn/codec"
	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/eval"
	"github.com/chazu/tarn/hash"
	"github.com/chazu/tarn/sym"
)

// ---------------------------------------------------------------------------
// Tiered: the two-tier memoizer the evaluator consults on every demand
// ---------------------------------------------------------------------------

// Tiered combines the identity-keyed L1 with the content-addressed L2.
// L1 is consulted first: a hit costs one map lookup and a durability
// counter check, and never hashes anything. Only on an L1 miss is the
// thunk's structural digest computed for the L2 probe. Results flow the
// other way on a miss: computed values land in L1 unconditionally and in
// L2 when their durability floor permits.
type Tiered struct {
	symbols *sym.Table
	tracker *durability.Tracker
	hasher  *hash.Hasher
	l1      *IdentityCache[eval.Frame, *eval.Value]
	store   *ContentStore // nil when L2 is disabled
	stats   *Stats
	log     commonlog.Logger

	// ev is set after construction: the evaluator takes the memoizer as
	// an option, so the two are wired in two steps.
	ev *eval.Evaluator
}

// NewTiered creates the memoizer. store may be nil to run L1-only.
func NewTiered(symbols *sym.Table, tracker *durability.Tracker, hasher *hash.Hasher, l1 *IdentityCache[eval.Frame, *eval.Value], store *ContentStore, stats *Stats) *Tiered {
	return &Tiered{
		symbols: symbols,
		tracker: tracker,
		hasher:  hasher,
		l1:      l1,
		store:   store,
		stats:   stats,
		log:     commonlog.GetLogger("cache"),
	}
}

// SetEvaluator completes the wiring. Must be called before the first
// evaluation; the serializer's deep force needs the evaluator.
func (m *Tiered) SetEvaluator(ev *eval.Evaluator) {
	m.ev = ev
}

// L1 returns the identity cache tier.
func (m *Tiered) L1() *IdentityCache[eval.Frame, *eval.Value] { return m.l1 }

// Store returns the content store tier, or nil when disabled.
func (m *Tiered) Store() *ContentStore { return m.store }

// Stats returns the shared counters.
func (m *Tiered) Stats() *Stats { return m.stats }

// key derives the L1 identity key. Both components are interner or
// allocator IDs, never addresses. A term that was never interned has no
// stable identity and cannot be cached.
func (m *Tiered) key(th *eval.Thunk) (Key, bool) {
	if th.Term().ID() == 0 {
		return Key{}, false
	}
	k := Key{Term: th.Term().ID()}
	if f := th.Frame(); f != nil {
		k.Frame = f.ID()
		k.Epoch = f.Epoch()
	}
	return k, true
}

// LookupOrCompute implements eval.Memoizer.
func (m *Tiered) LookupOrCompute(th *eval.Thunk, o *eval.Obs, compute func() (*eval.Value, durability.Tier, error)) (*eval.Value, durability.Tier, error) {
	k, keyed := m.key(th)

	if m.l1 != nil && keyed {
		if v, tier, counter, ok := m.l1.Get(k); ok {
			if m.tracker.Valid(tier, counter) {
				return v, tier, nil
			}
			m.l1.Remove(k)
		}
	}

	var digest hash.Digest
	haveDigest := false
	if m.store != nil {
		start := time.Now()
		d, err := m.hasher.HashThunk(th)
		m.stats.RecordHashLatency(time.Since(start))
		if err != nil {
			// Unhashable (depth limit): fall through to compute,
			// L1-only.
			m.log.Debugf("hashing failed: %s", err.Error())
		} else {
			digest = d
			haveDigest = true
			if entry, err := m.store.Get(digest); err == nil {
				v, uerr := codec.Unmarshal(entry.Payload, m.symbols, entry.Tier)
				if uerr == nil {
					if keyed {
						m.storeL1(k, th, v, entry.Tier)
					}
					return v, entry.Tier, nil
				}
				m.log.Errorf("undecodable entry %s, deleting: %s", digest.Hex(), uerr.Error())
				if derr := m.store.Delete(digest); derr != nil {
					m.log.Errorf("deleting entry %s: %s", digest.Hex(), derr.Error())
				}
			} else if !errors.Is(err, ErrEntryNotFound) {
				m.log.Errorf("store lookup: %s", err.Error())
			}
		}
	}

	v, tier, err := compute()
	if err != nil {
		return nil, 0, err
	}

	if keyed {
		m.storeL1(k, th, v, tier)
	}

	if haveDigest && tier >= durability.Medium {
		m.persist(digest, th, v, tier, o)
	}
	return v, tier, nil
}

func (m *Tiered) storeL1(k Key, th *eval.Thunk, v *eval.Value, tier durability.Tier) {
	if m.l1 == nil {
		return
	}
	m.l1.Put(k, v, tier, m.tracker.Counter(tier), th.Frame())
}

// persist serializes the value and writes it to the content store. Deep
// forcing of container slots runs in a child scope of the demanding
// evaluation, so forcing a slot that cycles back into the computation
// fails cleanly instead of deadlocking. The persisted tier is the floor
// over the original computation and everything the deep force observed.
func (m *Tiered) persist(digest hash.Digest, th *eval.Thunk, v *eval.Value, tier durability.Tier, o *eval.Obs) {
	mo := o.Child()
	payload, err := codec.Marshal(v, m.symbols, func(slot *eval.Thunk) (*eval.Value, error) {
		return slot.ForceIn(m.ev, mo)
	})
	if err != nil {
		if errors.Is(err, codec.ErrNotCacheable) || errors.Is(err, eval.ErrInfiniteRecursion) {
			return
		}
		m.log.Errorf("serializing %s: %s", digest.Hex(), err.Error())
		return
	}

	deep := durability.Min(tier, mo.Tier())
	if deep < durability.Medium {
		return
	}
	if err := m.store.Put(digest, deep, payload); err != nil {
		m.log.Errorf("storing %s: %s", digest.Hex(), err.Error())
	}
}
