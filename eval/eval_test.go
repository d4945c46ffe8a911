package eval

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/sym"
	"github.com/chazu/tarn/term"
)

type harness struct {
	symbols  *sym.Table
	builder  *term.Builder
	interner *term.Interner
	tracker  *durability.Tracker
	ev       *Evaluator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	symbols := sym.NewTable()
	tracker := durability.NewTracker()
	return &harness{
		symbols:  symbols,
		builder:  term.NewBuilder(symbols),
		interner: term.NewInterner(),
		tracker:  tracker,
		ev:       NewEvaluator(symbols, tracker, opts...),
	}
}

func (h *harness) eval(t *testing.T, tm *term.Term) *Value {
	t.Helper()
	v, err := h.run(tm)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return v
}

func (h *harness) run(tm *term.Term) (*Value, error) {
	bound, err := h.builder.Bind(tm)
	if err != nil {
		return nil, err
	}
	return h.ev.Eval(h.interner.Intern(bound))
}

func TestEvalLiterals(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	if got := h.eval(t, b.Int(42)); got.Int() != 42 {
		t.Errorf("int = %d", got.Int())
	}
	if got := h.eval(t, b.Float(2.5)); got.Float() != 2.5 {
		t.Errorf("float = %g", got.Float())
	}
	if got := h.eval(t, b.Bool(true)); !got.Bool() {
		t.Error("bool = false")
	}
	if got := h.eval(t, b.Null()); got.Kind() != ValNull {
		t.Errorf("null kind = %s", got.Kind())
	}
	if got := h.eval(t, b.Str("hi", "ctx")); got.Str() != "hi" || len(got.Context()) != 1 {
		t.Errorf("string = %q ctx %v", got.Str(), got.Context())
	}
}

func TestEvalApply(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// (\x -> add(x, 1)) 41
	got := h.eval(t, b.Apply(
		b.Lambda("x", b.Prim("add", b.Var("x"), b.Int(1))),
		b.Int(41)))
	if got.Int() != 42 {
		t.Errorf("apply = %d; want 42", got.Int())
	}
}

func TestEvalLetRecursiveBindings(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// let a = 1; c = add(a, a) in c
	got := h.eval(t, b.Let(map[string]*term.Term{
		"a": b.Int(1),
		"c": b.Prim("add", b.Var("a"), b.Var("a")),
	}, b.Var("c")))
	if got.Int() != 2 {
		t.Errorf("let = %d; want 2", got.Int())
	}
}

func TestEvalRecAttrsSelect(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// (rec { a = 1; b = add(a, 2); }).b
	got := h.eval(t, b.Select(b.RecAttrs(map[string]*term.Term{
		"a": b.Int(1),
		"b": b.Prim("add", b.Var("a"), b.Int(2)),
	}), "b"))
	if got.Int() != 3 {
		t.Errorf("select = %d; want 3", got.Int())
	}
}

func TestEvalAttrsAreLazy(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// Selecting a from { a = 1; boom = unknownPrim() } never evaluates boom.
	got := h.eval(t, b.Select(b.Attrs(map[string]*term.Term{
		"a":    b.Int(1),
		"boom": b.Prim("doesNotExist"),
	}), "a"))
	if got.Int() != 1 {
		t.Errorf("select = %d; want 1", got.Int())
	}
}

func TestEvalOverlayNearestWins(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// with {x=1;}; with {x=2;}; x — the inner overlay shadows the outer.
	got := h.eval(t, b.With(
		b.Attrs(map[string]*term.Term{"x": b.Int(1)}),
		b.With(
			b.Attrs(map[string]*term.Term{"x": b.Int(2)}),
			b.Var("x"))))
	if got.Int() != 2 {
		t.Errorf("overlay = %d; want 2", got.Int())
	}
}

func TestEvalOverlayFallsThrough(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// with {x=1; y=10;}; with {x=2;}; y — y misses the inner overlay.
	got := h.eval(t, b.With(
		b.Attrs(map[string]*term.Term{"x": b.Int(1), "y": b.Int(10)}),
		b.With(
			b.Attrs(map[string]*term.Term{"x": b.Int(2)}),
			b.Var("y"))))
	if got.Int() != 10 {
		t.Errorf("overlay fallthrough = %d; want 10", got.Int())
	}
}

func TestEvalLexicalBeatsOverlay(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// (\x -> with {x=99;}; x) 1
	got := h.eval(t, b.Apply(
		b.Lambda("x", b.With(b.Attrs(map[string]*term.Term{"x": b.Int(99)}), b.Var("x"))),
		b.Int(1)))
	if got.Int() != 1 {
		t.Errorf("lexical binding lost to overlay: %d", got.Int())
	}
}

func TestEvalOverlayMissingName(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	_, err := h.run(b.With(b.Attrs(map[string]*term.Term{"x": b.Int(1)}), b.Var("y")))
	if !errors.Is(err, term.ErrUndefinedVariable) {
		t.Errorf("err = %v; want ErrUndefinedVariable", err)
	}
}

func TestThunkForcedOnce(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	var calls atomic.Int64
	h.ev.RegisterPrim("counter", func(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
		calls.Add(1)
		return IntValue(7), nil
	})

	// let x = counter() in add(x, x) — the slot thunk forces once even
	// though x is demanded twice.
	got := h.eval(t, b.Let(map[string]*term.Term{
		"x": b.Prim("counter"),
	}, b.Prim("add", b.Var("x"), b.Var("x"))))
	if got.Int() != 14 {
		t.Errorf("result = %d; want 14", got.Int())
	}
	if calls.Load() != 1 {
		t.Errorf("counter ran %d times; want 1", calls.Load())
	}
}

func TestInfiniteRecursionDetected(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	// let x = x in x
	_, err := h.run(b.Let(map[string]*term.Term{"x": b.Var("x")}, b.Var("x")))
	if !errors.Is(err, ErrInfiniteRecursion) {
		t.Errorf("err = %v; want ErrInfiniteRecursion", err)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	var fail atomic.Bool
	fail.Store(true)
	h.ev.RegisterPrim("flaky", func(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
		if fail.Load() {
			return nil, errors.New("transient")
		}
		return IntValue(5), nil
	})

	bound, err := h.builder.Bind(b.Prim("flaky"))
	if err != nil {
		t.Fatal(err)
	}
	canon := h.interner.Intern(bound)

	f := h.ev.NewFrame(FrameLet, nil, 1)
	f.slots[0] = h.ev.NewThunk(canon, f)

	if _, _, err := f.slots[0].Force(h.ev); err == nil {
		t.Fatal("first force should fail")
	}
	fail.Store(false)
	v, _, err := f.slots[0].Force(h.ev)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if v.Int() != 5 {
		t.Errorf("retry = %d; want 5", v.Int())
	}
}

func TestDepthLimit(t *testing.T) {
	h := newHarness(t, WithMaxDepth(8))
	b := h.builder

	// Each application forces another layer of thunks within the same
	// evaluation, so nesting past the limit must trip it.
	id := b.Lambda("x", b.Var("x"))
	tm := b.Int(1)
	for i := 0; i < 32; i++ {
		tm = b.Apply(id, tm)
	}
	_, err := h.run(tm)
	if !errors.Is(err, ErrDepthLimit) {
		t.Fatalf("err = %v; want ErrDepthLimit", err)
	}
}

func TestDepthLimitCountsStructuralRecursion(t *testing.T) {
	h := newHarness(t, WithMaxDepth(8))
	b := h.builder

	// Select subjects evaluate without crossing a thunk boundary, so
	// the descent must count against the limit on its own.
	tm := b.Int(1)
	for i := 0; i < 32; i++ {
		tm = b.Attrs(map[string]*term.Term{"a": tm})
	}
	for i := 0; i < 32; i++ {
		tm = b.Select(tm, "a")
	}
	_, err := h.run(tm)
	if !errors.Is(err, ErrDepthLimit) {
		t.Fatalf("err = %v; want ErrDepthLimit", err)
	}
}

func TestConcurrentForceComputesOnce(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	var calls atomic.Int64
	h.ev.RegisterPrim("slowCounter", func(ev *Evaluator, o *Obs, args []*Value) (*Value, error) {
		calls.Add(1)
		return IntValue(9), nil
	})

	bound, err := h.builder.Bind(b.Prim("slowCounter"))
	if err != nil {
		t.Fatal(err)
	}
	canon := h.interner.Intern(bound)
	th := h.ev.NewThunk(canon, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := th.Force(h.ev)
			if err != nil {
				t.Errorf("Force: %v", err)
				return
			}
			if v.Int() != 9 {
				t.Errorf("Force = %d; want 9", v.Int())
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("computed %d times; want 1", calls.Load())
	}
}

func TestDurabilityFloor(t *testing.T) {
	h := newHarness(t)
	b := h.builder

	bind := func(tm *term.Term) *term.Term {
		bound, err := h.builder.Bind(tm)
		if err != nil {
			t.Fatal(err)
		}
		return h.interner.Intern(bound)
	}

	// Pure computation: High.
	th := h.ev.NewThunk(bind(b.Prim("add", b.Int(1), b.Int(2))), nil)
	_, tier, err := th.Force(h.ev)
	if err != nil {
		t.Fatal(err)
	}
	if tier != durability.High {
		t.Errorf("pure tier = %s; want high", tier)
	}

	// Clock observation: Low, and it poisons everything above it.
	th = h.ev.NewThunk(bind(b.Prim("add", b.Prim("now"), b.Int(0))), nil)
	_, tier, err = th.Force(h.ev)
	if err != nil {
		t.Fatal(err)
	}
	if tier != durability.Low {
		t.Errorf("clock tier = %s; want low", tier)
	}
}

func TestObserveInputHitsTracker(t *testing.T) {
	symbols := sym.NewTable()
	tracker := durability.NewTracker()
	ev := NewEvaluator(symbols, tracker)

	o := newRootObs()
	ev.ObserveInput(o, durability.Medium)

	if tracker.Counter(durability.Medium) != 1 {
		t.Errorf("Medium counter = %d; want 1", tracker.Counter(durability.Medium))
	}
	if o.Tier() != durability.Medium {
		t.Errorf("obs floor = %s; want medium", o.Tier())
	}
}

func TestClassifyPathImmutableRoot(t *testing.T) {
	h := newHarness(t, WithImmutableRoot("/store/"))

	if got := h.ev.classifyPath("/store/abc/file"); got != durability.High {
		t.Errorf("store path = %s; want high", got)
	}
	if got := h.ev.classifyPath("/home/me/file"); got != durability.Medium {
		t.Errorf("plain path = %s; want medium", got)
	}
}
