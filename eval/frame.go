package eval

// FrameKind identifies why a frame was created.
type FrameKind uint8

const (
	// FrameCall holds a function application's single argument slot.
	FrameCall FrameKind = iota

	// FrameLet holds a recursive binding group's slots.
	FrameLet

	// FrameRec holds a recursive attribute set's slots.
	FrameRec

	// FrameOverlay holds one slot: the overlay's attribute-set thunk.
	// Overlay frames participate in name resolution for overlay-resolved
	// variables and contribute the scope-chain digest during hashing.
	FrameOverlay
)

// Frame is an environment frame: a parent reference plus ordered slots.
// A frame's shape never changes after creation; each slot's thunk
// transitions from suspended to forced at most once, in place.
//
// Frames carry a unique ID and the allocation epoch current at creation.
// Both are part of the L1 identity-cache key, so a reclaimed frame can
// never be confused with a new allocation.
type Frame struct {
	id     uint64
	epoch  uint64
	kind   FrameKind
	parent *Frame
	slots  []*Thunk
}

// ID returns the frame's unique identity within its evaluator's session.
func (f *Frame) ID() uint64 { return f.id }

// Epoch returns the allocation epoch recorded at frame creation.
func (f *Frame) Epoch() uint64 { return f.epoch }

// Kind returns why the frame was created.
func (f *Frame) Kind() FrameKind { return f.kind }

// Parent returns the enclosing frame, or nil at the root.
func (f *Frame) Parent() *Frame { return f.parent }

// Slots returns the frame's slots. The returned slice must not be mutated.
func (f *Frame) Slots() []*Thunk { return f.slots }

// At returns the frame reached by walking depth parents up from f.
// Panics if the chain is shorter than depth; binding analysis guarantees
// it never is for well-formed terms.
func (f *Frame) At(depth uint16) *Frame {
	fr := f
	for i := uint16(0); i < depth; i++ {
		if fr == nil {
			panic("eval: frame chain shorter than bound reference depth")
		}
		fr = fr.parent
	}
	if fr == nil {
		panic("eval: frame chain shorter than bound reference depth")
	}
	return fr
}
