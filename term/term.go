// Package term defines the immutable, interned syntax tree of the Tarn
// expression language.
//
// Terms are produced in two phases: a Builder constructs a mutable tree
// with free variable references, and Bind resolves every reference to a
// lexical index pair or an overlay marker, yielding an immutable tree.
// Only bound trees may be interned; after interning, structurally equal
// terms share one allocation and one identity.
package term

import (
	"github.com/chazu/tarn/sym"
)

// Kind identifies the node type of a Term.
type Kind uint8

// ---------------------------------------------------------------------------
// Frozen kind tags.
//
// IMPORTANT: Once assigned, kind values must NEVER change — they are part
// of the structural hashing format. Adding new kinds is fine; renumbering
// existing ones breaks all previously computed digests.
// ---------------------------------------------------------------------------

const (
	KindInvalid Kind = iota

	// Literals
	KindInt
	KindFloat
	KindBool
	KindString
	KindNull
	KindPath

	// Variable references
	KindFreeVar    // pre-bind only; never appears in a bound term
	KindVar        // lexical reference by (depth, slot) index pair
	KindOverlayVar // resolved through the nearest enclosing overlay, by name

	// Structure
	KindLambda
	KindApply
	KindLet
	KindAttrs
	KindList
	KindWith
	KindSelect
	KindPrim
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindInt:        "int",
	KindFloat:      "float",
	KindBool:       "bool",
	KindString:     "string",
	KindNull:       "null",
	KindPath:       "path",
	KindFreeVar:    "freevar",
	KindVar:        "var",
	KindOverlayVar: "overlayvar",
	KindLambda:     "lambda",
	KindApply:      "apply",
	KindLet:        "let",
	KindAttrs:      "attrs",
	KindList:       "list",
	KindWith:       "with",
	KindSelect:     "select",
	KindPrim:       "prim",
}

// String returns the kind's name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Term is a syntax node. Bound terms are immutable and, once interned,
// canonical: structurally equal terms are pointer-equal.
//
// Source positions are deliberately absent; they live in a SourceMap side
// table so they never affect interning or hashing.
type Term struct {
	id    uint64
	kind  Kind
	bound bool

	// Literal payloads
	intVal   int64
	floatVal float64
	boolVal  bool
	strVal   string   // string/path literal text, prim op name
	ctx      []string // string provenance context, sorted

	// Variable payloads
	name  sym.ID // free var, overlay var, select attribute, builder-phase lambda param
	depth uint16 // bound lexical reference: frames up
	slot  uint16 // bound lexical reference: slot within frame

	// Children
	left  *Term     // apply fn, with set, select subject, lambda body
	right *Term     // apply arg, with body, let body
	names []sym.ID  // attrs keys (sorted), let binding names (builder phase)
	subs  []*Term   // attrs values (parallel to names), list elems, let binds, prim args
	rec   bool      // recursive attribute set
}

// ID returns the term's unique identity within its interner's session.
// Zero for terms that have not been interned.
func (t *Term) ID() uint64 { return t.id }

// Kind returns the node kind.
func (t *Term) Kind() Kind { return t.kind }

// Bound reports whether static binding analysis has completed for this
// term. Only bound terms may be hashed or interned.
func (t *Term) Bound() bool { return t.bound }

// Rec reports whether an attribute set is recursive.
func (t *Term) Rec() bool { return t.rec }

// ---------------------------------------------------------------------------
// Payload accessors. Wrong-kind access is a programmer error and panics.
// ---------------------------------------------------------------------------

func (t *Term) check(k Kind, what string) {
	if t.kind != k {
		panic("term: " + what + " on " + t.kind.String() + " node")
	}
}

// Int returns an integer literal's value.
func (t *Term) Int() int64 {
	t.check(KindInt, "Int")
	return t.intVal
}

// Float returns a float literal's value.
func (t *Term) Float() float64 {
	t.check(KindFloat, "Float")
	return t.floatVal
}

// Bool returns a boolean literal's value.
func (t *Term) Bool() bool {
	t.check(KindBool, "Bool")
	return t.boolVal
}

// Str returns a string literal's text.
func (t *Term) Str() string {
	t.check(KindString, "Str")
	return t.strVal
}

// Context returns a string literal's provenance context, sorted.
// The returned slice must not be mutated.
func (t *Term) Context() []string {
	t.check(KindString, "Context")
	return t.ctx
}

// Path returns a path literal's text.
func (t *Term) Path() string {
	t.check(KindPath, "Path")
	return t.strVal
}

// VarIndex returns a bound lexical reference's (depth, slot) pair.
func (t *Term) VarIndex() (depth, slot uint16) {
	t.check(KindVar, "VarIndex")
	return t.depth, t.slot
}

// Name returns the symbol carried by a free variable, overlay variable,
// or select node.
func (t *Term) Name() sym.ID {
	switch t.kind {
	case KindFreeVar, KindOverlayVar, KindSelect:
		return t.name
	}
	panic("term: Name on " + t.kind.String() + " node")
}

// Body returns a lambda's body.
func (t *Term) Body() *Term {
	t.check(KindLambda, "Body")
	return t.left
}

// Fn and Arg return an application's operator and operand.
func (t *Term) Fn() *Term {
	t.check(KindApply, "Fn")
	return t.left
}

// Arg returns an application's operand.
func (t *Term) Arg() *Term {
	t.check(KindApply, "Arg")
	return t.right
}

// Set returns an overlay node's attribute-set sub-term.
func (t *Term) Set() *Term {
	t.check(KindWith, "Set")
	return t.left
}

// WithBody returns an overlay node's body.
func (t *Term) WithBody() *Term {
	t.check(KindWith, "WithBody")
	return t.right
}

// Subject returns a select node's subject expression.
func (t *Term) Subject() *Term {
	t.check(KindSelect, "Subject")
	return t.left
}

// LetBinds returns a let node's binding terms, in slot order.
func (t *Term) LetBinds() []*Term {
	t.check(KindLet, "LetBinds")
	return t.subs
}

// LetBody returns a let node's body.
func (t *Term) LetBody() *Term {
	t.check(KindLet, "LetBody")
	return t.right
}

// AttrNames returns an attribute set's keys, sorted by name.
// The returned slice must not be mutated.
func (t *Term) AttrNames() []sym.ID {
	t.check(KindAttrs, "AttrNames")
	return t.names
}

// AttrValues returns an attribute set's value terms, parallel to AttrNames.
func (t *Term) AttrValues() []*Term {
	t.check(KindAttrs, "AttrValues")
	return t.subs
}

// Elems returns a list's element terms.
func (t *Term) Elems() []*Term {
	t.check(KindList, "Elems")
	return t.subs
}

// Op returns a primitive application's operation name.
func (t *Term) Op() string {
	t.check(KindPrim, "Op")
	return t.strVal
}

// PrimArgs returns a primitive application's argument terms.
func (t *Term) PrimArgs() []*Term {
	t.check(KindPrim, "PrimArgs")
	return t.subs
}
