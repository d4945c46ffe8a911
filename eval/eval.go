package eval

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/sym"
	"github.com/chazu/tarn/term"
)

// ErrDepthLimit indicates evaluation exceeded the configured recursion
// depth.
var ErrDepthLimit = errors.New("evaluation depth limit exceeded")

// DefaultMaxDepth bounds evaluation (and therefore hashing) recursion.
const DefaultMaxDepth = 10000

// Obs tracks one in-progress computation: its durability floor (the
// minimum tier of every input observed so far) and its recursion depth.
// Each top-level evaluation has a distinct root; nested computations share
// the root, which is how a thunk detects being demanded from within its
// own evaluation.
type Obs struct {
	tier  durability.Tier
	depth int
	root  *Obs
}

func newRootObs() *Obs {
	o := &Obs{tier: durability.High}
	o.root = o
	return o
}

func (o *Obs) child() *Obs {
	return &Obs{tier: durability.High, depth: o.depth + 1, root: o.root}
}

// Child derives a fresh computation scope sharing o's root, for callers —
// such as the serializer's deep force — that need to track the durability
// floor of a sub-computation separately.
func (o *Obs) Child() *Obs { return o.child() }

// Note folds an observed tier into the computation's durability floor.
func (o *Obs) Note(t durability.Tier) {
	o.tier = durability.Min(o.tier, t)
}

// Tier returns the computation's current durability floor.
func (o *Obs) Tier() durability.Tier { return o.tier }

// Memoizer is the cache boundary. The evaluator consults it on every
// thunk demand; the memoizer never initiates evaluation itself, only
// wraps the supplied compute function.
type Memoizer interface {
	// LookupOrCompute returns a previously memoized result for the
	// thunk's (term, frame) key, or runs compute and records its result.
	// The returned tier is the result's durability floor. The observation
	// scope o belongs to the demanding evaluation; the memoizer may
	// derive children from it to force container slots without
	// deadlocking against the computation it is wrapping.
	LookupOrCompute(th *Thunk, o *Obs, compute func() (*Value, durability.Tier, error)) (*Value, durability.Tier, error)
}

// PrimOp implements a primitive operation. Arguments arrive forced.
type PrimOp func(ev *Evaluator, o *Obs, args []*Value) (*Value, error)

// Evaluator drives big-step evaluation of bound, interned terms.
// It is safe for concurrent use: concurrent demands of one thunk are
// serialized by the thunk's own claim, and all evaluator state is
// atomic or immutable after construction.
type Evaluator struct {
	symbols       *sym.Table
	tracker       *durability.Tracker
	memo          Memoizer      // nil disables memoization
	epochFn       func() uint64 // current allocation epoch; nil means epoch 0
	maxDepth      int
	immutableRoot string

	primMu  sync.RWMutex
	primops map[string]PrimOp

	frameID atomic.Uint64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMemoizer attaches the cache layer.
func WithMemoizer(m Memoizer) Option {
	return func(ev *Evaluator) { ev.memo = m }
}

// WithEpochSource supplies the allocation-epoch counter recorded on every
// new frame.
func WithEpochSource(fn func() uint64) Option {
	return func(ev *Evaluator) { ev.epochFn = fn }
}

// WithMaxDepth overrides the evaluation depth limit.
func WithMaxDepth(n int) Option {
	return func(ev *Evaluator) { ev.maxDepth = n }
}

// NewEvaluator creates an evaluator. The tracker receives every external
// observation made by primitive operations.
func NewEvaluator(symbols *sym.Table, tracker *durability.Tracker, opts ...Option) *Evaluator {
	ev := &Evaluator{
		symbols:  symbols,
		tracker:  tracker,
		maxDepth: DefaultMaxDepth,
		primops:  make(map[string]PrimOp),
	}
	for _, opt := range opts {
		opt(ev)
	}
	registerDefaultPrims(ev)
	return ev
}

// Symbols returns the evaluator's symbol table.
func (ev *Evaluator) Symbols() *sym.Table { return ev.symbols }

// Tracker returns the durability tracker.
func (ev *Evaluator) Tracker() *durability.Tracker { return ev.tracker }

// RegisterPrim registers (or replaces) a primitive operation.
func (ev *Evaluator) RegisterPrim(name string, op PrimOp) {
	ev.primMu.Lock()
	defer ev.primMu.Unlock()
	ev.primops[name] = op
}

func (ev *Evaluator) prim(name string) (PrimOp, bool) {
	ev.primMu.RLock()
	defer ev.primMu.RUnlock()
	op, ok := ev.primops[name]
	return op, ok
}

func (ev *Evaluator) epoch() uint64 {
	if ev.epochFn != nil {
		return ev.epochFn()
	}
	return 0
}

// NewThunk suspends term t over frame f.
func (ev *Evaluator) NewThunk(t *term.Term, f *Frame) *Thunk {
	return &Thunk{term: t, frame: f}
}

// NewFrame allocates a frame with nslots empty slots. Slots must be filled
// before the frame is used; the frame's shape is fixed at creation.
func (ev *Evaluator) NewFrame(kind FrameKind, parent *Frame, nslots int) *Frame {
	return &Frame{
		id:     ev.frameID.Add(1),
		epoch:  ev.epoch(),
		kind:   kind,
		parent: parent,
		slots:  make([]*Thunk, nslots),
	}
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// LookupOrCompute is the evaluator/cache boundary: demand the value of
// term t in frame f, reusing a memoized result when one exists.
func (ev *Evaluator) LookupOrCompute(t *term.Term, f *Frame) (*Value, error) {
	o := newRootObs()
	th := ev.NewThunk(t, f)
	return th.force(ev, o)
}

// Eval evaluates t in the empty environment.
func (ev *Evaluator) Eval(t *term.Term) (*Value, error) {
	return ev.LookupOrCompute(t, nil)
}

// demand runs one thunk's evaluation through the memoizer. Called only by
// the thunk's claim winner.
func (ev *Evaluator) demand(th *Thunk, o *Obs) (*Value, durability.Tier, error) {
	compute := func() (*Value, durability.Tier, error) {
		co := o.child()
		v, err := ev.eval(th.term, th.frame, co, 0)
		if err != nil {
			return nil, 0, err
		}
		return v, co.tier, nil
	}
	if ev.memo == nil {
		return compute()
	}
	return ev.memo.LookupOrCompute(th, o, compute)
}

// eval is the big-step evaluation of a single term in a frame. sd counts
// structural descent within the current thunk's computation (operator
// positions, select subjects, primitive arguments); it adds to the
// thunk-demand depth carried by o so deeply nested terms hit the limit
// even when no thunk boundary is crossed.
func (ev *Evaluator) eval(t *term.Term, f *Frame, o *Obs, sd int) (*Value, error) {
	if o.depth+sd > ev.maxDepth {
		return nil, fmt.Errorf("eval: %w", ErrDepthLimit)
	}

	switch t.Kind() {
	case term.KindInt:
		return IntValue(t.Int()), nil
	case term.KindFloat:
		return FloatValue(t.Float()), nil
	case term.KindBool:
		return BoolValue(t.Bool()), nil
	case term.KindNull:
		return NullValue(), nil
	case term.KindString:
		return StringValue(t.Str(), t.Context()), nil
	case term.KindPath:
		return PathValue(t.Path()), nil

	case term.KindVar:
		depth, slot := t.VarIndex()
		fr := f.At(depth)
		return fr.slots[slot].force(ev, o)

	case term.KindOverlayVar:
		return ev.resolveOverlay(t.Name(), f, o)

	case term.KindLambda:
		return ClosureValue(t, f), nil

	case term.KindApply:
		fnVal, err := ev.eval(t.Fn(), f, o, sd+1)
		if err != nil {
			return nil, err
		}
		if fnVal.Kind() != ValClosure {
			return nil, fmt.Errorf("eval: cannot apply %s value", fnVal.Kind())
		}
		clo := fnVal.Closure()
		nf := ev.NewFrame(FrameCall, clo.Env, 1)
		nf.slots[0] = ev.NewThunk(t.Arg(), f)
		return ev.NewThunk(clo.Fn.Body(), nf).force(ev, o)

	case term.KindLet:
		binds := t.LetBinds()
		nf := ev.NewFrame(FrameLet, f, len(binds))
		for i, b := range binds {
			nf.slots[i] = ev.NewThunk(b, nf)
		}
		return ev.NewThunk(t.LetBody(), nf).force(ev, o)

	case term.KindAttrs:
		names := t.AttrNames()
		values := t.AttrValues()
		slots := make([]*Thunk, len(values))
		if t.Rec() {
			nf := ev.NewFrame(FrameRec, f, len(values))
			for i, vt := range values {
				nf.slots[i] = ev.NewThunk(vt, nf)
			}
			copy(slots, nf.slots)
		} else {
			for i, vt := range values {
				slots[i] = ev.NewThunk(vt, f)
			}
		}
		return AttrsValue(names, slots), nil

	case term.KindList:
		elems := t.Elems()
		slots := make([]*Thunk, len(elems))
		for i, et := range elems {
			slots[i] = ev.NewThunk(et, f)
		}
		return ListValue(slots), nil

	case term.KindWith:
		nf := ev.NewFrame(FrameOverlay, f, 1)
		nf.slots[0] = ev.NewThunk(t.Set(), f)
		return ev.NewThunk(t.WithBody(), nf).force(ev, o)

	case term.KindSelect:
		subject, err := ev.eval(t.Subject(), f, o, sd+1)
		if err != nil {
			return nil, err
		}
		if subject.Kind() != ValAttrs {
			return nil, fmt.Errorf("eval: cannot select from %s value", subject.Kind())
		}
		slot := subject.Attrs().Lookup(t.Name())
		if slot == nil {
			return nil, fmt.Errorf("eval: attribute %q missing", ev.symbols.Name(t.Name()))
		}
		return slot.force(ev, o)

	case term.KindPrim:
		op, ok := ev.prim(t.Op())
		if !ok {
			return nil, fmt.Errorf("eval: unknown primitive %q", t.Op())
		}
		argTerms := t.PrimArgs()
		args := make([]*Value, len(argTerms))
		for i, at := range argTerms {
			v, err := ev.eval(at, f, o, sd+1)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return op(ev, o, args)
	}
	return nil, fmt.Errorf("eval: cannot evaluate %s node", t.Kind())
}

// resolveOverlay looks a name up through the chain of overlay frames,
// nearest first. Forcing an overlay's attribute set only happens when a
// variable actually resolves through it, and individual attributes stay
// lazy until selected.
func (ev *Evaluator) resolveOverlay(name sym.ID, f *Frame, o *Obs) (*Value, error) {
	for fr := f; fr != nil; fr = fr.parent {
		if fr.kind != FrameOverlay {
			continue
		}
		set, err := fr.slots[0].force(ev, o)
		if err != nil {
			return nil, err
		}
		if set.Kind() != ValAttrs {
			return nil, fmt.Errorf("eval: overlay expression is %s, not an attribute set", set.Kind())
		}
		if slot := set.Attrs().Lookup(name); slot != nil {
			return slot.force(ev, o)
		}
	}
	return nil, fmt.Errorf("eval: %w: %q", term.ErrUndefinedVariable, ev.symbols.Name(name))
}
