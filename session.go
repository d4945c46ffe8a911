package tarn

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/tarn/cache"
	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/eval"
	"github.com/chazu/tarn/hash"
	"github.com/chazu/tarn/sym"
	"github.com/chazu/tarn/term"
)

// Session owns one evaluation world: a symbol table, a term interner, a
// hasher, a durability tracker, both cache tiers and the evaluator wired
// to them. Sessions are independent; identities never cross between
// them.
type Session struct {
	cfg      cache.Config
	runID    string
	symbols  *sym.Table
	interner *term.Interner
	tracker  *durability.Tracker
	hasher   *hash.Hasher
	epoch    *cache.Epoch
	stats    *cache.Stats
	memo     *cache.Tiered
	store    *cache.ContentStore
	sweeper  *cache.Sweeper
	ev       *eval.Evaluator
	log      commonlog.Logger
}

// NewSession creates a session under the given configuration. Extra
// evaluator options (depth limit, immutable store root, ...) are passed
// through.
func NewSession(cfg cache.Config, opts ...eval.Option) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		runID:    uuid.NewString(),
		symbols:  sym.NewTable(),
		interner: term.NewInterner(),
		tracker:  durability.NewTracker(),
		stats:    cache.NewStats(),
		epoch:    cache.NewEpoch(),
		log:      commonlog.GetLogger("tarn"),
	}
	s.hasher = hash.NewHasher(s.symbols)

	var l1 *cache.IdentityCache[eval.Frame, *eval.Value]
	if cfg.L1.Enabled {
		l1 = cache.NewIdentityCache[eval.Frame, *eval.Value](cfg.L1.MaxEntries, s.stats)
	}

	if cfg.L2.Enabled {
		if dir := filepath.Dir(cfg.L2.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("tarn: creating store directory: %w", err)
			}
		}
		store, err := cache.OpenContentStore(cfg.L2.Path, s.runID, cfg.L2.Shared, s.stats)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	s.memo = cache.NewTiered(s.symbols, s.tracker, s.hasher, l1, s.store, s.stats)

	evOpts := append([]eval.Option{
		eval.WithMemoizer(s.memo),
		eval.WithEpochSource(s.epoch.Current),
	}, opts...)
	s.ev = eval.NewEvaluator(s.symbols, s.tracker, evOpts...)
	s.memo.SetEvaluator(s.ev)

	if l1 != nil {
		interval := time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
		s.sweeper = cache.NewSweeper(l1, interval)
		s.sweeper.Start()
	}

	s.log.Infof("session %s started", s.runID)
	return s, nil
}

// RunID returns the session's run identifier, recorded on every content
// store entry this session writes.
func (s *Session) RunID() string { return s.runID }

// Symbols returns the session's symbol table.
func (s *Session) Symbols() *sym.Table { return s.symbols }

// Interner returns the session's term interner.
func (s *Session) Interner() *term.Interner { return s.interner }

// Evaluator returns the session's evaluator.
func (s *Session) Evaluator() *eval.Evaluator { return s.ev }

// Hasher returns the session's hasher.
func (s *Session) Hasher() *hash.Hasher { return s.hasher }

// Tracker returns the session's durability tracker.
func (s *Session) Tracker() *durability.Tracker { return s.tracker }

// Memoizer returns the session's tiered cache.
func (s *Session) Memoizer() *cache.Tiered { return s.memo }

// Store returns the content store, or nil when L2 is disabled.
func (s *Session) Store() *cache.ContentStore { return s.store }

// Stats returns a snapshot of the cache counters.
func (s *Session) Stats() cache.Snapshot { return s.stats.Snapshot() }

// Builder returns a fresh term builder over the session's symbol table.
func (s *Session) Builder() *term.Builder {
	return term.NewBuilder(s.symbols)
}

// Run binds, interns and evaluates a term built with this session's
// builder.
func (s *Session) Run(t *term.Term) (*eval.Value, error) {
	bound, err := s.Builder().Bind(t)
	if err != nil {
		return nil, err
	}
	return s.ev.Eval(s.interner.Intern(bound))
}

// Invalidate bumps the durability counters at and below tier, retiring
// every cached result whose floor is at or below it.
func (s *Session) Invalidate(tier durability.Tier) {
	s.tracker.Observe(tier)
}

// Close tears the session down: the sweeper stops, the epoch counter
// freezes, the store is pruned to its size bound and closed, and the
// interner and hasher memos are dropped.
func (s *Session) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.epoch.Close()

	var err error
	if s.store != nil {
		if s.cfg.L2.MaxBytes > 0 {
			if _, perr := s.store.Prune(s.cfg.L2.MaxBytes); perr != nil {
				s.log.Errorf("pruning store: %s", perr.Error())
			}
		}
		err = s.store.Close()
	}

	s.hasher.Reset()
	s.interner.Reset()
	s.log.Infof("session %s closed", s.runID)
	return err
}
