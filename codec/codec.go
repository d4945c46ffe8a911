// Package codec provides the canonical, deterministic encoding of
// cacheable result values for the content cache.
//
// The encoding is canonical CBOR over an explicit portable value shape:
// attribute sets encode with name-sorted members, floats are
// pre-canonicalized, and identifiers are written as plain text — never as
// process-local symbol IDs — and re-interned on load. Closures and cyclic
// values are rejected: they remain usable in the identity cache but are
// never persisted.
package codec

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/eval"
	"github.com/chazu/tarn/hash"
	"github.com/chazu/tarn/sym"
)

// FormatVersion is the payload format version recorded with every
// persisted entry. Records with any other version are treated as misses.
const FormatVersion = 1

// ErrNotCacheable marks a value that cannot be persisted. Use errors.Is;
// the wrapped message names the reason ("closure" or "cycle").
var ErrNotCacheable = errors.New("not cacheable")

func notCacheable(reason string) error {
	return fmt.Errorf("codec: %w: %s", ErrNotCacheable, reason)
}

// ForceFn demands a thunk's value. Serialization is deep: lazy container
// slots are forced on the way out, through the evaluator so observations
// are still tracked.
type ForceFn func(*eval.Thunk) (*eval.Value, error)

// cborEncMode is the canonical CBOR encoding mode for deterministic
// output.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Portable value shape
// ---------------------------------------------------------------------------

// Wire kind strings are part of the persisted format and frozen.
const (
	wireInt    = "int"
	wireFloat  = "float"
	wireBool   = "bool"
	wireString = "string"
	wireNull   = "null"
	wirePath   = "path"
	wireAttrs  = "attrs"
	wireList   = "list"
)

type wireValue struct {
	Kind    string       `cbor:"k"`
	Int     int64        `cbor:"i,omitempty"`
	Float   float64      `cbor:"f,omitempty"`
	Bool    bool         `cbor:"b,omitempty"`
	Str     string       `cbor:"s,omitempty"`
	Context []string     `cbor:"c,omitempty"`
	Attrs   []wireAttr   `cbor:"a,omitempty"`
	List    []*wireValue `cbor:"l,omitempty"`
}

type wireAttr struct {
	Name  string     `cbor:"n"`
	Value *wireValue `cbor:"v"`
}

// ---------------------------------------------------------------------------
// Marshal
// ---------------------------------------------------------------------------

// Marshal serializes a forced value to canonical bytes, deep-forcing lazy
// container slots via force. Returns ErrNotCacheable for closures and for
// cyclic values.
func Marshal(v *eval.Value, symbols *sym.Table, force ForceFn) ([]byte, error) {
	m := &marshaler{symbols: symbols, force: force, onPath: make(map[*eval.Value]struct{})}
	wv, err := m.convert(v)
	if err != nil {
		return nil, err
	}
	data, err := cborEncMode.Marshal(wv)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

type marshaler struct {
	symbols *sym.Table
	force   ForceFn
	onPath  map[*eval.Value]struct{}
}

func (m *marshaler) convert(v *eval.Value) (*wireValue, error) {
	switch v.Kind() {
	case eval.ValInt:
		return &wireValue{Kind: wireInt, Int: v.Int()}, nil
	case eval.ValFloat:
		return &wireValue{Kind: wireFloat, Float: math.Float64frombits(hash.CanonicalFloatBits(v.Float()))}, nil
	case eval.ValBool:
		return &wireValue{Kind: wireBool, Bool: v.Bool()}, nil
	case eval.ValNull:
		return &wireValue{Kind: wireNull}, nil
	case eval.ValString:
		return &wireValue{Kind: wireString, Str: v.Str(), Context: v.Context()}, nil
	case eval.ValPath:
		return &wireValue{Kind: wirePath, Str: v.Path()}, nil
	case eval.ValClosure:
		return nil, notCacheable("closure")
	}

	if _, ok := m.onPath[v]; ok {
		return nil, notCacheable("cycle")
	}
	m.onPath[v] = struct{}{}
	defer delete(m.onPath, v)

	switch v.Kind() {
	case eval.ValAttrs:
		attrs := v.Attrs()
		out := make([]wireAttr, attrs.Len())
		for i, name := range attrs.Names() {
			fv, err := m.slot(attrs.Slots()[i])
			if err != nil {
				return nil, err
			}
			out[i] = wireAttr{Name: m.symbols.Name(name), Value: fv}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return &wireValue{Kind: wireAttrs, Attrs: out}, nil
	case eval.ValList:
		elems := v.List()
		out := make([]*wireValue, len(elems))
		for i, e := range elems {
			fv, err := m.slot(e)
			if err != nil {
				return nil, err
			}
			out[i] = fv
		}
		return &wireValue{Kind: wireList, List: out}, nil
	}
	return nil, fmt.Errorf("codec: cannot marshal %s value", v.Kind())
}

func (m *marshaler) slot(th *eval.Thunk) (*wireValue, error) {
	fv, err := m.force(th)
	if err != nil {
		return nil, err
	}
	return m.convert(fv)
}

// ---------------------------------------------------------------------------
// Unmarshal
// ---------------------------------------------------------------------------

// Unmarshal decodes canonical bytes into a fully forced value, re-interning
// identifier text into the local symbol table. The tier records the
// durability the entry was persisted with; it is attached to every slot so
// promoted entries propagate it.
func Unmarshal(data []byte, symbols *sym.Table, tier durability.Tier) (*eval.Value, error) {
	var wv wireValue
	if err := cbor.Unmarshal(data, &wv); err != nil {
		return nil, fmt.Errorf("codec: unmarshal: %w", err)
	}
	return rebuild(&wv, symbols, tier)
}

func rebuild(wv *wireValue, symbols *sym.Table, tier durability.Tier) (*eval.Value, error) {
	switch wv.Kind {
	case wireInt:
		return eval.IntValue(wv.Int), nil
	case wireFloat:
		return eval.FloatValue(wv.Float), nil
	case wireBool:
		return eval.BoolValue(wv.Bool), nil
	case wireNull:
		return eval.NullValue(), nil
	case wireString:
		return eval.StringValue(wv.Str, wv.Context), nil
	case wirePath:
		return eval.PathValue(wv.Str), nil
	case wireAttrs:
		attrs := make([]wireAttr, len(wv.Attrs))
		copy(attrs, wv.Attrs)
		sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
		names := make([]sym.ID, len(attrs))
		slots := make([]*eval.Thunk, len(attrs))
		for i, a := range attrs {
			names[i] = symbols.Intern(a.Name)
			av, err := rebuild(a.Value, symbols, tier)
			if err != nil {
				return nil, err
			}
			slots[i] = eval.NewForcedThunk(av, tier)
		}
		return eval.AttrsValue(names, slots), nil
	case wireList:
		slots := make([]*eval.Thunk, len(wv.List))
		for i, e := range wv.List {
			ev, err := rebuild(e, symbols, tier)
			if err != nil {
				return nil, err
			}
			slots[i] = eval.NewForcedThunk(ev, tier)
		}
		return eval.ListValue(slots), nil
	}
	return nil, fmt.Errorf("codec: unknown wire kind %q", wv.Kind)
}
