package eval

import (
	"errors"
	"sync/atomic"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/term"
)

// ErrInfiniteRecursion indicates a computation that demands its own value:
// the forcing chain of one evaluation re-entered a thunk it is already
// evaluating.
var ErrInfiniteRecursion = errors.New("infinite recursion")

// result is the forced outcome of a thunk: the value plus the minimum
// durability tier observed while computing it.
type result struct {
	val  *Value
	tier durability.Tier
}

// forcing is the black-hole claim record for one in-flight evaluation of a
// thunk. The winner of the claim closes done; losers wait on it. Errors
// are delivered to the waiters of that forcing only and are never cached:
// the claim is released so a later demand retries.
type forcing struct {
	done  chan struct{}
	owner *Obs // root of the claiming evaluation, for self-reentry detection
	err   error
}

// Thunk is a suspended computation: an immutable (term, captured frame)
// pair. Its identity — and therefore its hash and cache key — depends only
// on that pair, never on whether it has since been forced. The pair is
// retained after forcing so structural digests stay stable across forcing.
type Thunk struct {
	term  *term.Term
	frame *Frame

	forced atomic.Pointer[result]
	claim  atomic.Pointer[forcing]
}

// NewForcedThunk wraps an already-computed value as a thunk, recording the
// durability tier of the computation that produced it. Used for literal
// slots and for values loaded from the content cache.
func NewForcedThunk(v *Value, tier durability.Tier) *Thunk {
	th := &Thunk{}
	th.forced.Store(&result{val: v, tier: tier})
	return th
}

// Term returns the suspended term, or nil for pre-forced thunks.
func (th *Thunk) Term() *term.Term { return th.term }

// Frame returns the captured environment frame, or nil for pre-forced
// thunks.
func (th *Thunk) Frame() *Frame { return th.frame }

// Forced returns the thunk's value and recorded durability tier if it has
// been forced.
func (th *Thunk) Forced() (*Value, durability.Tier, bool) {
	if r := th.forced.Load(); r != nil {
		return r.val, r.tier, true
	}
	return nil, 0, false
}

// force demands the thunk's value. The first demander wins an atomic claim
// and becomes the sole evaluator (black-holing); concurrent demanders
// block on the winner's completion. A demand from within the winning
// evaluation itself is infinite recursion and fails instead of
// deadlocking.
func (th *Thunk) force(ev *Evaluator, o *Obs) (*Value, error) {
	for {
		if r := th.forced.Load(); r != nil {
			o.Note(r.tier)
			return r.val, nil
		}

		f := &forcing{done: make(chan struct{}), owner: o.root}
		if th.claim.CompareAndSwap(nil, f) {
			v, tier, err := ev.demand(th, o)
			if err != nil {
				f.err = err
				th.claim.Store(nil)
				close(f.done)
				return nil, err
			}
			th.forced.Store(&result{val: v, tier: tier})
			th.claim.Store(nil)
			close(f.done)
			o.Note(tier)
			return v, nil
		}

		cur := th.claim.Load()
		if cur == nil {
			// Winner finished between our CAS and load; re-check forced.
			continue
		}
		if cur.owner == o.root {
			return nil, ErrInfiniteRecursion
		}
		<-cur.done
		if cur.err != nil {
			return nil, cur.err
		}
	}
}

// ForceIn demands the thunk's value within an existing evaluation scope.
// A demand that re-enters a thunk the scope's evaluation is already
// computing fails with ErrInfiniteRecursion rather than deadlocking.
func (th *Thunk) ForceIn(ev *Evaluator, o *Obs) (*Value, error) {
	return th.force(ev, o)
}

// Force demands the thunk's value from outside an evaluation, e.g. from
// tests or the serializer's deep force. Observations made during the
// forcing are still recorded in the evaluator's durability tracker; the
// returned tier is the computation's durability floor.
func (th *Thunk) Force(ev *Evaluator) (*Value, durability.Tier, error) {
	o := newRootObs()
	v, err := th.force(ev, o)
	if err != nil {
		return nil, 0, err
	}
	if r := th.forced.Load(); r != nil {
		return v, r.tier, nil
	}
	return v, o.tier, nil
}
