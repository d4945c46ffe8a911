package term

import "sync"

// Pos is a source location.
type Pos struct {
	File string
	Line int
	Col  int
}

// SourceMap carries source positions out-of-band, keyed by (term, origin).
// Because interned terms are shared across every occurrence in a program,
// one term can have many positions; the origin string (typically the
// enclosing file or unit) disambiguates them. Positions never participate
// in interning or hashing.
type SourceMap struct {
	mu  sync.RWMutex
	pos map[srcKey]Pos
}

type srcKey struct {
	term   *Term
	origin string
}

// NewSourceMap creates an empty source map.
func NewSourceMap() *SourceMap {
	return &SourceMap{pos: make(map[srcKey]Pos)}
}

// Set records the position of t as seen from origin.
func (m *SourceMap) Set(t *Term, origin string, p Pos) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[srcKey{t, origin}] = p
}

// Get returns the position of t as seen from origin.
func (m *SourceMap) Get(t *Term, origin string) (Pos, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pos[srcKey{t, origin}]
	return p, ok
}

// Len returns the number of recorded positions.
func (m *SourceMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pos)
}

// Reset drops all recorded positions.
func (m *SourceMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = make(map[srcKey]Pos)
}
