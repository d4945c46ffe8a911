// Package sym interns identifier strings to compact per-session IDs.
//
// Symbol IDs are process-local: they are never written to disk or sent
// across a process boundary. Anything persisted round-trips through the
// symbol's text and is re-interned on load.
package sym

import "sync"

// ID identifies an interned symbol within one session.
type ID uint32

// Table interns symbol strings to unique IDs.
// Symbols are immutable, unique strings used for attribute and variable names.
type Table struct {
	mu     sync.RWMutex
	byName map[string]ID // name -> ID
	byID   []string      // ID -> name
}

// NewTable creates a new empty symbol table.
func NewTable() *Table {
	return &Table{
		byName: make(map[string]ID),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the ID for a symbol, creating a new one if needed.
func (t *Table) Intern(name string) ID {
	// Fast path: read-only lookup
	t.mu.RLock()
	if id, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	// Slow path: need to add new symbol
	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := t.byName[name]; ok {
		return id
	}

	id := ID(len(t.byID))
	t.byName[name] = id
	t.byID = append(t.byID, name)
	return id
}

// Lookup returns the ID for a symbol, or 0 and false if not interned.
func (t *Table) Lookup(name string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byName[name]
	return id, ok
}

// Name returns the symbol name for an ID, or "" if invalid.
func (t *Table) Name(id ID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(id) >= len(t.byID) {
		return ""
	}
	return t.byID[id]
}

// Len returns the number of interned symbols.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Less reports whether symbol a sorts before symbol b by name.
// Used wherever a deterministic symbol ordering is required (canonical
// hashing and serialization of attribute sets).
func (t *Table) Less(a, b ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[a] < t.byID[b]
}

// Reset drops every interned symbol so the table's backing storage can be
// reclaimed. All previously returned IDs become invalid.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byName = make(map[string]ID)
	t.byID = t.byID[:0]
}
