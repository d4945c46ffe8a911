package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/chazu/tarn/eval"
	"github.com/chazu/tarn/sym"
	"github.com/chazu/tarn/term"
)

// DefaultMaxDepth bounds hashing recursion. It matches the evaluator's
// depth limit: any structure the evaluator can build, the hasher can walk.
const DefaultMaxDepth = 10000

// Hasher computes structural digests. It never evaluates: digests are a
// pure function of already-available structure.
//
// Term digests are memoized per interned term ID and scope chain; runtime
// structures (thunks, frames, values) are walked fresh per call with
// cycle detection.
type Hasher struct {
	symbols  *sym.Table
	maxDepth int

	termMu   sync.RWMutex
	termMemo map[termMemoKey]Digest
}

type termMemoKey struct {
	id    uint64
	chain Digest
}

// NewHasher creates a hasher resolving symbol names through the given
// table.
func NewHasher(symbols *sym.Table) *Hasher {
	return &Hasher{
		symbols:  symbols,
		maxDepth: DefaultMaxDepth,
		termMemo: make(map[termMemoKey]Digest),
	}
}

// Reset drops the term digest memo. Call at session teardown.
func (h *Hasher) Reset() {
	h.termMu.Lock()
	defer h.termMu.Unlock()
	h.termMemo = make(map[termMemoKey]Digest)
}

// ---------------------------------------------------------------------------
// Preimage construction
// ---------------------------------------------------------------------------

type preimage struct {
	buf []byte
}

func newPreimage(tag byte) *preimage {
	p := &preimage{buf: make([]byte, 0, 128)}
	p.buf = append(p.buf, Version, tag)
	return p
}

func (p *preimage) byte(b byte) {
	p.buf = append(p.buf, b)
}

func (p *preimage) bool(v bool) {
	if v {
		p.buf = append(p.buf, 1)
	} else {
		p.buf = append(p.buf, 0)
	}
}

func (p *preimage) uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

func (p *preimage) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

func (p *preimage) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	p.buf = append(p.buf, b[:]...)
}

func (p *preimage) string(s string) {
	p.uint32(uint32(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *preimage) digest(d Digest) {
	p.buf = append(p.buf, d[:]...)
}

func (p *preimage) sum() Digest {
	return sha256.Sum256(p.buf)
}

// CanonicalFloatBits folds every NaN to one representative and negative
// zero to positive zero, so bit-level platform differences never break
// cross-machine digest reuse.
func CanonicalFloatBits(f float64) uint64 {
	if math.IsNaN(f) {
		return 0x7FF8000000000000
	}
	if f == 0 {
		return 0
	}
	return math.Float64bits(f)
}

// rootChain is the scope-chain digest outside any overlay.
var rootChain = func() Digest {
	return newPreimage(TagFrameRoot).sum()
}()

// RootChain returns the scope-chain digest of the empty overlay chain.
func RootChain() Digest { return rootChain }

// combineChain extends a scope-chain digest with one overlay's
// attribute-set digest. Chains are order-sensitive by construction: two
// overlay chains digest equally iff they are structurally and
// order-identical.
func combineChain(set, parent Digest) Digest {
	p := newPreimage(TagFrameOverlay)
	p.digest(set)
	p.digest(parent)
	return p.sum()
}

// ---------------------------------------------------------------------------
// Term hashing (acyclic, memoized)
// ---------------------------------------------------------------------------

// termDepthError is raised by hashTerm past the recursion limit and
// recovered into an ordinary error by the runtime entry points.
type termDepthError struct {
	limit int
}

func (e *termDepthError) Error() string {
	return fmt.Sprintf("hash: term depth exceeds %d", e.limit)
}

// rescueDepth converts a hashTerm depth panic into an error return.
func rescueDepth(err *error) {
	if r := recover(); r != nil {
		e, ok := r.(*termDepthError)
		if !ok {
			panic(r)
		}
		*err = e
	}
}

// HashTerm computes the structural digest of a bound term. The chain
// parameter threading is internal: overlay-resolved variables hash the
// name together with the digest of the lexically enclosing overlay chain,
// never a bare nesting depth. Terms nested past the recursion limit
// panic; the thunk/frame/value entry points recover that into an error.
func (h *Hasher) HashTerm(t *term.Term) Digest {
	return h.hashTerm(t, rootChain, 0)
}

func (h *Hasher) hashTerm(t *term.Term, chain Digest, depth int) Digest {
	if !t.Bound() {
		panic("hash: digest of unbound term")
	}
	if depth > h.maxDepth {
		panic(&termDepthError{limit: h.maxDepth})
	}
	var key termMemoKey
	memoizable := t.ID() != 0
	if memoizable {
		key = termMemoKey{id: t.ID(), chain: chain}
		h.termMu.RLock()
		d, ok := h.termMemo[key]
		h.termMu.RUnlock()
		if ok {
			return d
		}
	}

	var d Digest
	switch t.Kind() {
	case term.KindInt:
		p := newPreimage(TagTermInt)
		p.uint64(uint64(t.Int()))
		d = p.sum()
	case term.KindFloat:
		p := newPreimage(TagTermFloat)
		p.uint64(CanonicalFloatBits(t.Float()))
		d = p.sum()
	case term.KindBool:
		p := newPreimage(TagTermBool)
		p.bool(t.Bool())
		d = p.sum()
	case term.KindString:
		p := newPreimage(TagTermString)
		p.string(t.Str())
		ctx := t.Context()
		p.uint32(uint32(len(ctx)))
		for _, c := range ctx {
			p.string(c)
		}
		d = p.sum()
	case term.KindNull:
		d = newPreimage(TagTermNull).sum()
	case term.KindPath:
		p := newPreimage(TagTermPath)
		p.string(t.Path())
		d = p.sum()
	case term.KindVar:
		depth, slot := t.VarIndex()
		p := newPreimage(TagTermVar)
		p.uint16(depth)
		p.uint16(slot)
		d = p.sum()
	case term.KindOverlayVar:
		p := newPreimage(TagTermOverlayVar)
		p.string(h.symbols.Name(t.Name()))
		p.digest(chain)
		d = p.sum()
	case term.KindLambda:
		p := newPreimage(TagTermLambda)
		p.digest(h.hashTerm(t.Body(), chain, depth+1))
		d = p.sum()
	case term.KindApply:
		p := newPreimage(TagTermApply)
		p.digest(h.hashTerm(t.Fn(), chain, depth+1))
		p.digest(h.hashTerm(t.Arg(), chain, depth+1))
		d = p.sum()
	case term.KindLet:
		p := newPreimage(TagTermLet)
		binds := t.LetBinds()
		p.uint32(uint32(len(binds)))
		for _, b := range binds {
			p.digest(h.hashTerm(b, chain, depth+1))
		}
		p.digest(h.hashTerm(t.LetBody(), chain, depth+1))
		d = p.sum()
	case term.KindAttrs:
		p := newPreimage(TagTermAttrs)
		p.bool(t.Rec())
		names := t.AttrNames()
		values := t.AttrValues()
		p.uint32(uint32(len(names)))
		for i, n := range names {
			p.string(h.symbols.Name(n))
			p.digest(h.hashTerm(values[i], chain, depth+1))
		}
		d = p.sum()
	case term.KindList:
		p := newPreimage(TagTermList)
		elems := t.Elems()
		p.uint32(uint32(len(elems)))
		for _, e := range elems {
			p.digest(h.hashTerm(e, chain, depth+1))
		}
		d = p.sum()
	case term.KindWith:
		setD := h.hashTerm(t.Set(), chain, depth+1)
		bodyD := h.hashTerm(t.WithBody(), combineChain(setD, chain), depth+1)
		p := newPreimage(TagTermWith)
		p.digest(setD)
		p.digest(bodyD)
		d = p.sum()
	case term.KindSelect:
		p := newPreimage(TagTermSelect)
		p.digest(h.hashTerm(t.Subject(), chain, depth+1))
		p.string(h.symbols.Name(t.Name()))
		d = p.sum()
	case term.KindPrim:
		p := newPreimage(TagTermPrim)
		p.string(t.Op())
		args := t.PrimArgs()
		p.uint32(uint32(len(args)))
		for _, a := range args {
			p.digest(h.hashTerm(a, chain, depth+1))
		}
		d = p.sum()
	default:
		panic("hash: digest of " + t.Kind().String() + " term")
	}

	if memoizable {
		h.termMu.Lock()
		h.termMemo[key] = d
		h.termMu.Unlock()
	}
	return d
}

// ---------------------------------------------------------------------------
// Runtime hashing (cycle-aware)
// ---------------------------------------------------------------------------

// HashThunk computes the structural digest of a suspended computation
// without forcing it: the digest of its term combined with the digest of
// its captured frame. Pre-forced thunks digest their value's content.
func (h *Hasher) HashThunk(th *eval.Thunk) (d Digest, err error) {
	defer rescueDepth(&err)
	w := h.newWalker()
	d, _, err = w.thunk(th)
	return d, err
}

// HashFrame computes the digest of an environment frame. Unforced slots
// contribute their thunk's identity digest; forced slots contribute their
// value through the same thunk, so the digest is independent of forcing
// order.
func (h *Hasher) HashFrame(f *eval.Frame) (d Digest, err error) {
	defer rescueDepth(&err)
	w := h.newWalker()
	d, _, err = w.frame(f)
	return d, err
}

// HashValue computes the content digest of a forced value.
func (h *Hasher) HashValue(v *eval.Value) (d Digest, err error) {
	defer rescueDepth(&err)
	w := h.newWalker()
	d, _, err = w.value(v)
	return d, err
}

// ScopeChain returns the digest of the overlay chain visible from f:
// the Merkle fold of each overlay frame's attribute-set digest over its
// enclosing chain, outermost first.
func (h *Hasher) ScopeChain(f *eval.Frame) (d Digest, err error) {
	defer rescueDepth(&err)
	var overlays []*eval.Frame
	for fr := f; fr != nil; fr = fr.Parent() {
		if fr.Kind() == eval.FrameOverlay {
			overlays = append(overlays, fr)
		}
	}
	chain := rootChain
	w := h.newWalker()
	for i := len(overlays) - 1; i >= 0; i-- {
		setD, _, err := w.thunk(overlays[i].Slots()[0])
		if err != nil {
			return Digest{}, err
		}
		chain = combineChain(setD, chain)
	}
	return chain, nil
}

// noLink marks a subtree that contains no back-reference to an ancestor.
const noLink = int(^uint(0) >> 1)

// walker carries one hashing traversal: the ancestry stack of in-progress
// nodes for cycle detection, and a memo of completed digests for nodes
// whose cycles (if any) close within their own subtree.
type walker struct {
	h     *Hasher
	stack []any
	index map[any]int
	memo  map[any]Digest
}

func (h *Hasher) newWalker() *walker {
	return &walker{
		h:     h,
		index: make(map[any]int),
		memo:  make(map[any]Digest),
	}
}

// enter pushes a node, or returns a back-reference digest if the node is
// an in-progress ancestor. The back-reference is parameterized by the
// ancestor's distance on the stack, so structurally distinct cycles hash
// differently while isomorphic cycles hash identically.
func (w *walker) enter(node any) (backref Digest, lowlink int, done bool, err error) {
	if d, ok := w.memo[node]; ok {
		return d, noLink, true, nil
	}
	if idx, ok := w.index[node]; ok {
		p := newPreimage(TagBackref)
		p.uint32(uint32(len(w.stack) - idx))
		return p.sum(), idx, true, nil
	}
	if len(w.stack) >= w.h.maxDepth {
		return Digest{}, 0, false, fmt.Errorf("hash: structure depth exceeds %d", w.h.maxDepth)
	}
	w.index[node] = len(w.stack)
	w.stack = append(w.stack, node)
	return Digest{}, 0, false, nil
}

// leave pops a node, memoizing its digest when no back-reference escaped
// above it.
func (w *walker) leave(node any, d Digest, lowlink int) {
	idx := w.index[node]
	delete(w.index, node)
	w.stack = w.stack[:len(w.stack)-1]
	if lowlink >= idx {
		w.memo[node] = d
	}
}

func (w *walker) thunk(th *eval.Thunk) (Digest, int, error) {
	if th.Term() == nil {
		// Pre-forced thunk: no suspended computation, content digest only.
		v, _, ok := th.Forced()
		if !ok {
			panic("hash: thunk with neither term nor value")
		}
		return w.value(v)
	}

	d, lowlink, done, err := w.enter(th)
	if err != nil || done {
		return d, lowlink, err
	}

	termD := w.h.HashTerm(th.Term())
	frameD, flow, err := w.frame(th.Frame())
	if err != nil {
		return Digest{}, 0, err
	}

	p := newPreimage(TagThunk)
	p.digest(termD)
	p.digest(frameD)
	d = p.sum()
	w.leave(th, d, flow)
	return d, flow, nil
}

func (w *walker) frame(f *eval.Frame) (Digest, int, error) {
	if f == nil {
		return rootChain, noLink, nil
	}

	d, lowlink, done, err := w.enter(f)
	if err != nil || done {
		return d, lowlink, err
	}

	var tag byte
	switch f.Kind() {
	case eval.FrameCall:
		tag = TagFrameCall
	case eval.FrameLet:
		tag = TagFrameLet
	case eval.FrameRec:
		tag = TagFrameRec
	case eval.FrameOverlay:
		tag = TagFrameOverlay
	default:
		panic("hash: unknown frame kind")
	}

	low := noLink
	p := newPreimage(tag)
	slots := f.Slots()
	p.uint32(uint32(len(slots)))
	for _, s := range slots {
		sd, slow, err := w.thunk(s)
		if err != nil {
			return Digest{}, 0, err
		}
		p.digest(sd)
		low = min(low, slow)
	}
	pd, plow, err := w.frame(f.Parent())
	if err != nil {
		return Digest{}, 0, err
	}
	p.digest(pd)
	low = min(low, plow)

	d = p.sum()
	w.leave(f, d, low)
	return d, low, nil
}

func (w *walker) value(v *eval.Value) (Digest, int, error) {
	switch v.Kind() {
	case eval.ValInt:
		p := newPreimage(TagValInt)
		p.uint64(uint64(v.Int()))
		return p.sum(), noLink, nil
	case eval.ValFloat:
		p := newPreimage(TagValFloat)
		p.uint64(CanonicalFloatBits(v.Float()))
		return p.sum(), noLink, nil
	case eval.ValBool:
		p := newPreimage(TagValBool)
		p.bool(v.Bool())
		return p.sum(), noLink, nil
	case eval.ValNull:
		return newPreimage(TagValNull).sum(), noLink, nil
	case eval.ValString:
		p := newPreimage(TagValString)
		p.string(v.Str())
		ctx := v.Context()
		p.uint32(uint32(len(ctx)))
		for _, c := range ctx {
			p.string(c)
		}
		return p.sum(), noLink, nil
	case eval.ValPath:
		p := newPreimage(TagValPath)
		p.string(v.Path())
		return p.sum(), noLink, nil
	}

	d, lowlink, done, err := w.enter(v)
	if err != nil || done {
		return d, lowlink, err
	}

	low := noLink
	switch v.Kind() {
	case eval.ValAttrs:
		attrs := v.Attrs()
		p := newPreimage(TagValAttrs)
		p.uint32(uint32(attrs.Len()))
		for i, name := range attrs.Names() {
			p.string(w.h.symbols.Name(name))
			sd, slow, err := w.thunk(attrs.Slots()[i])
			if err != nil {
				return Digest{}, 0, err
			}
			p.digest(sd)
			low = min(low, slow)
		}
		d = p.sum()
	case eval.ValList:
		p := newPreimage(TagValList)
		elems := v.List()
		p.uint32(uint32(len(elems)))
		for _, e := range elems {
			ed, elow, err := w.thunk(e)
			if err != nil {
				return Digest{}, 0, err
			}
			p.digest(ed)
			low = min(low, elow)
		}
		d = p.sum()
	case eval.ValClosure:
		clo := v.Closure()
		p := newPreimage(TagValClosure)
		p.digest(w.h.HashTerm(clo.Fn))
		fd, flow, err := w.frame(clo.Env)
		if err != nil {
			return Digest{}, 0, err
		}
		p.digest(fd)
		low = min(low, flow)
		d = p.sum()
	default:
		panic("hash: digest of " + v.Kind().String() + " value")
	}

	w.leave(v, d, low)
	return d, low, nil
}
