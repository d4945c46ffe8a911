package term

import (
	"encoding/binary"
	"math"
	"sync"
)

// ---------------------------------------------------------------------------
// Interner: hash-consing of bound terms
// ---------------------------------------------------------------------------

// Interner hash-conses bound terms. Structurally equal terms (by kind,
// children, and literal payload — source positions are not part of a term)
// return the identical instance, so sub-term sharing is free and identity
// comparison is pointer comparison.
//
// The table only grows within a session; Reset drops all strong references
// at session teardown.
type Interner struct {
	mu     sync.Mutex
	table  map[string]*Term
	nextID uint64
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{table: make(map[string]*Term)}
}

// Intern returns the canonical instance of t, interning it and all of its
// sub-terms if needed. Interning an unbound term is a programmer error and
// panics: binding mutates otherwise-immutable fields, so a partially bound
// node must never acquire a shared identity.
func (in *Interner) Intern(t *Term) *Term {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.intern(t)
}

// Len returns the number of canonical terms in the table.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.table)
}

// Reset drops every canonical term so the table can be reclaimed.
// Previously returned terms remain valid values but lose canonicity:
// re-interning an equal structure afterwards yields a fresh instance.
func (in *Interner) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.table = make(map[string]*Term)
}

func (in *Interner) intern(t *Term) *Term {
	if t == nil {
		panic("term: intern of nil term")
	}
	if !t.bound {
		panic("term: intern of unbound " + t.kind.String() + " term")
	}
	if t.id != 0 {
		// Already canonical.
		return t
	}

	// Canonicalize children first so the structural key can use their IDs.
	cp := *t
	if t.left != nil {
		cp.left = in.intern(t.left)
	}
	if t.right != nil {
		cp.right = in.intern(t.right)
	}
	if len(t.subs) > 0 {
		cp.subs = make([]*Term, len(t.subs))
		for i, s := range t.subs {
			cp.subs[i] = in.intern(s)
		}
	}

	key := structuralKey(&cp)
	if canon, ok := in.table[key]; ok {
		return canon
	}

	in.nextID++
	cp.id = in.nextID
	in.table[key] = &cp
	return &cp
}

// structuralKey builds a byte key uniquely describing a node given
// canonical children. Child identity is encoded via interner IDs, so the
// key is linear in node size, not subtree size.
func structuralKey(t *Term) string {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(t.kind))

	w64 := func(v uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		buf = append(buf, b[:]...)
	}
	w32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	wstr := func(s string) {
		w32(uint32(len(s)))
		buf = append(buf, s...)
	}

	switch t.kind {
	case KindInt:
		w64(uint64(t.intVal))
	case KindFloat:
		w64(math.Float64bits(t.floatVal))
	case KindBool:
		if t.boolVal {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindString:
		wstr(t.strVal)
		w32(uint32(len(t.ctx)))
		for _, c := range t.ctx {
			wstr(c)
		}
	case KindPath, KindPrim:
		wstr(t.strVal)
	case KindVar:
		w32(uint32(t.depth)<<16 | uint32(t.slot))
	case KindOverlayVar, KindSelect:
		w32(uint32(t.name))
	}

	if t.rec {
		buf = append(buf, 1)
	}
	if t.left != nil {
		w64(t.left.id)
	}
	if t.right != nil {
		w64(t.right.id)
	}
	w32(uint32(len(t.names)))
	for _, n := range t.names {
		w32(uint32(n))
	}
	w32(uint32(len(t.subs)))
	for _, s := range t.subs {
		w64(s.id)
	}
	return string(buf)
}
