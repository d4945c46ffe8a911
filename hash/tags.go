// Package hash computes structural digests of suspended computations
// without forcing them. A thunk's digest derives solely from the digest of
// its term and its captured environment frame; forced and unforced slots
// contribute identically, so digests are stable regardless of evaluation
// order. Cyclic structures hash via distance-parameterized back-references.
package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the digest preimage format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously computed digests and invalidates every content cache.
// ---------------------------------------------------------------------------

// Version is the digest format version. Every node preimage starts with
// it; bumping it invalidates all existing digests.
const Version byte = 1

const (
	// Term nodes. Values track term.Kind numbering but are independently
	// frozen: term kinds may be reordered internally, these may not.
	TagTermInt        byte = 0x01
	TagTermFloat      byte = 0x02
	TagTermBool       byte = 0x03
	TagTermString     byte = 0x04
	TagTermNull       byte = 0x05
	TagTermPath       byte = 0x06
	TagTermVar        byte = 0x07
	TagTermOverlayVar byte = 0x08
	TagTermLambda     byte = 0x09
	TagTermApply      byte = 0x0A
	TagTermLet        byte = 0x0B
	TagTermAttrs      byte = 0x0C
	TagTermList       byte = 0x0D
	TagTermWith       byte = 0x0E
	TagTermSelect     byte = 0x0F
	TagTermPrim       byte = 0x10

	// Runtime structure
	TagThunk        byte = 0x20
	TagFrameRoot    byte = 0x21
	TagFrameCall    byte = 0x22
	TagFrameLet     byte = 0x23
	TagFrameRec     byte = 0x24
	TagFrameOverlay byte = 0x25

	// Forced values
	TagValInt     byte = 0x30
	TagValFloat   byte = 0x31
	TagValBool    byte = 0x32
	TagValString  byte = 0x33
	TagValNull    byte = 0x34
	TagValPath    byte = 0x35
	TagValAttrs   byte = 0x36
	TagValList    byte = 0x37
	TagValClosure byte = 0x38

	// Cycle back-reference, parameterized by ancestry distance
	TagBackref byte = 0x40
)
