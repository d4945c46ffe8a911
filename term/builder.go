package term

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/tarn/sym"
)

// ErrUndefinedVariable indicates a free variable that is neither lexically
// bound nor inside any overlay scope.
var ErrUndefinedVariable = errors.New("undefined variable")

// ---------------------------------------------------------------------------
// Builder: phase one of two-phase term construction
// ---------------------------------------------------------------------------

// Builder constructs unbound terms. Variables are referenced by name;
// Bind resolves them to lexical index pairs or overlay markers and returns
// an immutable tree suitable for interning.
type Builder struct {
	symbols *sym.Table
}

// NewBuilder creates a Builder interning names into the given symbol table.
func NewBuilder(symbols *sym.Table) *Builder {
	return &Builder{symbols: symbols}
}

// Symbols returns the builder's symbol table.
func (b *Builder) Symbols() *sym.Table { return b.symbols }

// Int builds an integer literal.
func (b *Builder) Int(v int64) *Term {
	return &Term{kind: KindInt, intVal: v}
}

// Float builds a float literal.
func (b *Builder) Float(v float64) *Term {
	return &Term{kind: KindFloat, floatVal: v}
}

// Bool builds a boolean literal.
func (b *Builder) Bool(v bool) *Term {
	return &Term{kind: KindBool, boolVal: v}
}

// Null builds the null literal.
func (b *Builder) Null() *Term {
	return &Term{kind: KindNull}
}

// Str builds a string literal with optional provenance context elements.
// Context is stored sorted and deduplicated.
func (b *Builder) Str(s string, context ...string) *Term {
	return &Term{kind: KindString, strVal: s, ctx: sortContext(context)}
}

// Path builds a path literal.
func (b *Builder) Path(p string) *Term {
	return &Term{kind: KindPath, strVal: p}
}

// Var builds a free variable reference to be resolved by Bind.
func (b *Builder) Var(name string) *Term {
	return &Term{kind: KindFreeVar, name: b.symbols.Intern(name)}
}

// Lambda builds a single-parameter function.
func (b *Builder) Lambda(param string, body *Term) *Term {
	return &Term{kind: KindLambda, name: b.symbols.Intern(param), left: body}
}

// Apply builds a function application.
func (b *Builder) Apply(fn, arg *Term) *Term {
	return &Term{kind: KindApply, left: fn, right: arg}
}

// Let builds a recursive binding group. Bindings may refer to each other
// and to themselves.
func (b *Builder) Let(binds map[string]*Term, body *Term) *Term {
	names, subs := b.sortBindings(binds)
	return &Term{kind: KindLet, names: names, subs: subs, right: body}
}

// Attrs builds a non-recursive attribute set.
func (b *Builder) Attrs(attrs map[string]*Term) *Term {
	names, subs := b.sortBindings(attrs)
	return &Term{kind: KindAttrs, names: names, subs: subs}
}

// RecAttrs builds a recursive attribute set: values may refer to sibling
// attributes by name.
func (b *Builder) RecAttrs(attrs map[string]*Term) *Term {
	names, subs := b.sortBindings(attrs)
	return &Term{kind: KindAttrs, names: names, subs: subs, rec: true}
}

// List builds a list.
func (b *Builder) List(elems ...*Term) *Term {
	return &Term{kind: KindList, subs: elems}
}

// With builds an overlay node: set's attributes become visible to body
// unless shadowed lexically.
func (b *Builder) With(set, body *Term) *Term {
	return &Term{kind: KindWith, left: set, right: body}
}

// Select builds an attribute selection, subject.attr.
func (b *Builder) Select(subject *Term, attr string) *Term {
	return &Term{kind: KindSelect, left: subject, name: b.symbols.Intern(attr)}
}

// Prim builds a primitive operation application.
func (b *Builder) Prim(op string, args ...*Term) *Term {
	return &Term{kind: KindPrim, strVal: op, subs: args}
}

// sortBindings interns the names and orders bindings by name so slot
// assignment is deterministic.
func (b *Builder) sortBindings(m map[string]*Term) ([]sym.ID, []*Term) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := make([]sym.ID, len(keys))
	subs := make([]*Term, len(keys))
	for i, k := range keys {
		names[i] = b.symbols.Intern(k)
		subs[i] = m[k]
	}
	return names, subs
}

func sortContext(ctx []string) []string {
	if len(ctx) == 0 {
		return nil
	}
	cp := make([]string, len(ctx))
	copy(cp, ctx)
	sort.Strings(cp)
	// Deduplicate in place
	out := cp[:1]
	for _, c := range cp[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Bind: phase two — static binding analysis
// ---------------------------------------------------------------------------

// bindScope is one lexical frame during binding analysis. Overlay scopes
// introduce no names but still occupy a runtime frame, so they count
// toward reference depth.
type bindScope struct {
	parent  *bindScope
	names   []sym.ID
	overlay bool
}

// Bind resolves every free variable in t, returning a new immutable tree.
// The input tree is not modified. Binding fails if a variable is neither
// lexically reachable nor inside any overlay scope.
func (b *Builder) Bind(t *Term) (*Term, error) {
	return b.bind(t, nil)
}

func (b *Builder) bind(t *Term, scope *bindScope) (*Term, error) {
	switch t.kind {
	case KindInt, KindFloat, KindBool, KindString, KindNull, KindPath:
		cp := *t
		cp.bound = true
		return &cp, nil

	case KindFreeVar:
		return b.resolve(t.name, scope)

	case KindVar, KindOverlayVar:
		// Already bound; binding is idempotent on resolved references.
		cp := *t
		cp.bound = true
		return &cp, nil

	case KindLambda:
		inner := &bindScope{parent: scope, names: []sym.ID{t.name}}
		body, err := b.bind(t.left, inner)
		if err != nil {
			return nil, err
		}
		// The parameter name is dropped: the index representation makes
		// it irrelevant to structure, hashing, and evaluation.
		return &Term{kind: KindLambda, left: body, bound: true}, nil

	case KindApply:
		fn, err := b.bind(t.left, scope)
		if err != nil {
			return nil, err
		}
		arg, err := b.bind(t.right, scope)
		if err != nil {
			return nil, err
		}
		return &Term{kind: KindApply, left: fn, right: arg, bound: true}, nil

	case KindLet:
		inner := &bindScope{parent: scope, names: t.names}
		subs, err := b.bindAll(t.subs, inner)
		if err != nil {
			return nil, err
		}
		body, err := b.bind(t.right, inner)
		if err != nil {
			return nil, err
		}
		// Binding names are dropped; slot order is already fixed.
		return &Term{kind: KindLet, subs: subs, right: body, bound: true}, nil

	case KindAttrs:
		var inner *bindScope
		if t.rec {
			inner = &bindScope{parent: scope, names: t.names}
		} else {
			inner = scope
		}
		subs, err := b.bindAll(t.subs, inner)
		if err != nil {
			return nil, err
		}
		names := make([]sym.ID, len(t.names))
		copy(names, t.names)
		return &Term{kind: KindAttrs, names: names, subs: subs, rec: t.rec, bound: true}, nil

	case KindList:
		subs, err := b.bindAll(t.subs, scope)
		if err != nil {
			return nil, err
		}
		return &Term{kind: KindList, subs: subs, bound: true}, nil

	case KindWith:
		set, err := b.bind(t.left, scope)
		if err != nil {
			return nil, err
		}
		inner := &bindScope{parent: scope, overlay: true}
		body, err := b.bind(t.right, inner)
		if err != nil {
			return nil, err
		}
		return &Term{kind: KindWith, left: set, right: body, bound: true}, nil

	case KindSelect:
		subject, err := b.bind(t.left, scope)
		if err != nil {
			return nil, err
		}
		return &Term{kind: KindSelect, left: subject, name: t.name, bound: true}, nil

	case KindPrim:
		subs, err := b.bindAll(t.subs, scope)
		if err != nil {
			return nil, err
		}
		return &Term{kind: KindPrim, strVal: t.strVal, subs: subs, bound: true}, nil
	}
	return nil, fmt.Errorf("term: cannot bind %s node", t.kind)
}

func (b *Builder) bindAll(ts []*Term, scope *bindScope) ([]*Term, error) {
	out := make([]*Term, len(ts))
	for i, t := range ts {
		bt, err := b.bind(t, scope)
		if err != nil {
			return nil, err
		}
		out[i] = bt
	}
	return out, nil
}

// resolve finds a name in the lexical scope chain. Lexical bindings always
// win over overlays, regardless of nesting order; a name bound nowhere
// lexically but under at least one overlay resolves through the nearest
// enclosing overlay at evaluation time.
func (b *Builder) resolve(name sym.ID, scope *bindScope) (*Term, error) {
	sawOverlay := false
	depth := 0
	for s := scope; s != nil; s = s.parent {
		for i, n := range s.names {
			if n == name {
				if depth > math.MaxUint16 || i > math.MaxUint16 {
					return nil, fmt.Errorf("term: binding depth overflow for %q", b.symbols.Name(name))
				}
				return &Term{
					kind:  KindVar,
					depth: uint16(depth),
					slot:  uint16(i),
					bound: true,
				}, nil
			}
		}
		if s.overlay {
			sawOverlay = true
		}
		depth++
	}
	if sawOverlay {
		return &Term{kind: KindOverlayVar, name: name, bound: true}, nil
	}
	return nil, fmt.Errorf("term: %w: %q", ErrUndefinedVariable, b.symbols.Name(name))
}
