package tarn

import (
	"path/filepath"
	"testing"

	"github.com/chazu/tarn/cache"
	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/eval"
	"github.com/chazu/tarn/term"
)

func testConfig(t *testing.T, l2 bool) cache.Config {
	t.Helper()
	cfg := cache.DefaultConfig()
	cfg.L2.Enabled = l2
	if l2 {
		cfg.L2.Path = filepath.Join(t.TempDir(), "store.db")
	}
	cfg.Sweep.IntervalSeconds = 3600
	return cfg
}

func newSession(t *testing.T, l2 bool, opts ...eval.Option) *Session {
	t.Helper()
	s, err := NewSession(testConfig(t, l2), opts...)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionEndToEnd(t *testing.T) {
	s := newSession(t, true)
	b := s.Builder()

	// with {x=1; y=2;}; x
	set := func() *term.Term {
		return b.Attrs(map[string]*term.Term{"x": b.Int(1), "y": b.Int(2)})
	}
	vx, err := s.Run(b.With(set(), b.Var("x")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if vx.Int() != 1 {
		t.Errorf("x = %d; want 1", vx.Int())
	}

	vy, err := s.Run(b.With(set(), b.Var("y")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if vy.Int() != 2 {
		t.Errorf("y = %d; want 2", vy.Int())
	}
}

func TestSessionMemoizes(t *testing.T) {
	s := newSession(t, false)
	b := s.Builder()

	tm := b.Apply(b.Lambda("x", b.Prim("mul", b.Var("x"), b.Var("x"))), b.Int(6))
	if _, err := s.Run(tm); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(tm); err != nil {
		t.Fatal(err)
	}

	if s.Stats().L1Hits == 0 {
		t.Error("repeated Run should hit the identity cache")
	}
}

func TestSessionInvalidate(t *testing.T) {
	s := newSession(t, false)

	before := s.Tracker().Counter(durability.Medium)
	s.Invalidate(durability.Medium)
	if s.Tracker().Counter(durability.Medium) != before+1 {
		t.Error("Invalidate should bump the tier counter")
	}
	if s.Tracker().Counter(durability.Low) != before+1 {
		t.Error("Invalidate should bump lower tiers too")
	}
	if s.Tracker().Counter(durability.High) != 0 {
		t.Error("Invalidate must not touch higher tiers")
	}
}

func TestSessionRunIDsDistinct(t *testing.T) {
	a := newSession(t, false)
	b := newSession(t, false)
	if a.RunID() == b.RunID() {
		t.Error("sessions share a run ID")
	}
	if a.RunID() == "" {
		t.Error("empty run ID")
	}
}

func TestSessionCloseIdempotentStore(t *testing.T) {
	cfg := testConfig(t, true)
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	b := s.Builder()
	if _, err := s.Run(b.Prim("add", b.Int(2), b.Int(2))); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// The store file survives the session and reopens cleanly.
	store, err := cache.OpenContentStore(cfg.L2.Path, "other", false, cache.NewStats())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if _, err := store.Count(); err != nil {
		t.Errorf("Count after reopen: %v", err)
	}
}
