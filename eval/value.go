// Package eval implements the lazy evaluator core of Tarn: forced values,
// environment frames, suspended computations (thunks) with atomic
// black-holing, and the evaluation driver that consults the memoization
// layer before computing.
package eval

import (
	"github.com/chazu/tarn/sym"
	"github.com/chazu/tarn/term"
)

// ValueKind identifies the type of a forced value.
type ValueKind uint8

const (
	ValInvalid ValueKind = iota
	ValInt
	ValFloat
	ValBool
	ValString
	ValNull
	ValPath
	ValAttrs
	ValList
	ValClosure
)

var valueKindNames = [...]string{
	ValInvalid: "invalid",
	ValInt:     "int",
	ValFloat:   "float",
	ValBool:    "bool",
	ValString:  "string",
	ValNull:    "null",
	ValPath:    "path",
	ValAttrs:   "attrs",
	ValList:    "list",
	ValClosure: "closure",
}

// String returns the kind's name.
func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return "unknown"
}

// Value is a forced evaluation result. Composite values (attribute sets,
// lists) hold their elements lazily, as thunks.
type Value struct {
	kind     ValueKind
	intVal   int64
	floatVal float64
	boolVal  bool
	strVal   string   // string text or path
	ctx      []string // string provenance context, sorted
	attrs    *AttrSet
	list     []*Thunk
	clo      *Closure
}

// Closure is a lambda term paired with its captured environment.
// Closures capture process-local context and are never persisted.
type Closure struct {
	Fn  *term.Term // KindLambda term
	Env *Frame
}

// AttrSet is an attribute set value: names sorted by symbol text, slots
// parallel. Slots are thunks so attribute values stay lazy until selected.
type AttrSet struct {
	names []sym.ID
	slots []*Thunk
}

// Names returns the attribute names in sorted order.
// The returned slice must not be mutated.
func (a *AttrSet) Names() []sym.ID { return a.names }

// Slots returns the attribute slots, parallel to Names.
func (a *AttrSet) Slots() []*Thunk { return a.slots }

// Lookup returns the slot for name, or nil.
func (a *AttrSet) Lookup(name sym.ID) *Thunk {
	for i, n := range a.names {
		if n == name {
			return a.slots[i]
		}
	}
	return nil
}

// Len returns the number of attributes.
func (a *AttrSet) Len() int { return len(a.names) }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

var nullValue = &Value{kind: ValNull}

// IntValue creates an integer value.
func IntValue(v int64) *Value { return &Value{kind: ValInt, intVal: v} }

// FloatValue creates a float value.
func FloatValue(v float64) *Value { return &Value{kind: ValFloat, floatVal: v} }

// BoolValue creates a boolean value.
func BoolValue(v bool) *Value { return &Value{kind: ValBool, boolVal: v} }

// NullValue returns the null value.
func NullValue() *Value { return nullValue }

// StringValue creates a string value. Context must already be sorted;
// use term.Builder or codec paths that guarantee it.
func StringValue(s string, ctx []string) *Value {
	return &Value{kind: ValString, strVal: s, ctx: ctx}
}

// PathValue creates a path value.
func PathValue(p string) *Value { return &Value{kind: ValPath, strVal: p} }

// AttrsValue creates an attribute set value. Names must be sorted by
// symbol text and parallel to slots.
func AttrsValue(names []sym.ID, slots []*Thunk) *Value {
	return &Value{kind: ValAttrs, attrs: &AttrSet{names: names, slots: slots}}
}

// ListValue creates a list value.
func ListValue(elems []*Thunk) *Value {
	return &Value{kind: ValList, list: elems}
}

// ClosureValue creates a closure value.
func ClosureValue(fn *term.Term, env *Frame) *Value {
	return &Value{kind: ValClosure, clo: &Closure{Fn: fn, Env: env}}
}

// ---------------------------------------------------------------------------
// Accessors. Wrong-kind access is a programmer error and panics.
// ---------------------------------------------------------------------------

// Kind returns the value's kind.
func (v *Value) Kind() ValueKind { return v.kind }

func (v *Value) check(k ValueKind, what string) {
	if v.kind != k {
		panic("eval: " + what + " on " + v.kind.String() + " value")
	}
}

// Int returns an integer value.
func (v *Value) Int() int64 {
	v.check(ValInt, "Int")
	return v.intVal
}

// Float returns a float value.
func (v *Value) Float() float64 {
	v.check(ValFloat, "Float")
	return v.floatVal
}

// Bool returns a boolean value.
func (v *Value) Bool() bool {
	v.check(ValBool, "Bool")
	return v.boolVal
}

// Str returns a string value's text.
func (v *Value) Str() string {
	v.check(ValString, "Str")
	return v.strVal
}

// Context returns a string value's provenance context, sorted.
func (v *Value) Context() []string {
	v.check(ValString, "Context")
	return v.ctx
}

// Path returns a path value's text.
func (v *Value) Path() string {
	v.check(ValPath, "Path")
	return v.strVal
}

// Attrs returns an attribute set value's contents.
func (v *Value) Attrs() *AttrSet {
	v.check(ValAttrs, "Attrs")
	return v.attrs
}

// List returns a list value's element thunks.
func (v *Value) List() []*Thunk {
	v.check(ValList, "List")
	return v.list
}

// Closure returns a closure value's contents.
func (v *Value) Closure() *Closure {
	v.check(ValClosure, "Closure")
	return v.clo
}
