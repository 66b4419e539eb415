package vport

import "os"

// Table is the ordered sequence of port entries. Slot 0 is reserved as
// a sentinel whose file descriptor is the CAN bus socket itself, so a
// single polling primitive can service both the bus and all PTYs
// uniformly. Slots >= 1 hold real ports.
//
// Invariants the caller (the gateway, which owns the mutex serializing
// all access) must preserve:
//  1. Slot 0 is never a real port.
//  2. At most one entry per PortNumber.
//  3. WatchHandle and CANID are pairwise distinct across entries.
//
// Table is not safe for concurrent use by itself; the gateway's single
// coarse mutex guards every call.
type Table struct {
	entries []*Entry
}

// New creates a table whose slot 0 reports busFD as its pollable
// descriptor.
func New(busFD *os.File) *Table {
	t := &Table{entries: make([]*Entry, 1, 4)}
	t.entries[0] = &Entry{Kind: KindBus, MasterFD: busFD}
	return t
}

// Len returns the number of slots, including slot 0.
func (t *Table) Len() int { return len(t.entries) }

// Bus returns the slot-0 sentinel.
func (t *Table) Bus() *Entry { return t.entries[0] }

// At returns the entry at slot i (i may be 0).
func (t *Table) At(i int) *Entry { return t.entries[i] }

// Ports returns the real port entries (slots 1..n), skipping slot 0.
func (t *Table) Ports() []*Entry { return t.entries[1:] }

// FindByPortNumber returns the slot index and entry for the given port
// number, scanning only real slots.
func (t *Table) FindByPortNumber(pn uint16) (int, *Entry, bool) {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].PortNumber == pn {
			return i, t.entries[i], true
		}
	}
	return 0, nil, false
}

// FindByCANID returns the slot index and entry whose CANID matches,
// scanning only real slots.
func (t *Table) FindByCANID(id uint32) (int, *Entry, bool) {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].CANID == id {
			return i, t.entries[i], true
		}
	}
	return 0, nil, false
}

// FindByWatchHandle returns the slot index and entry whose WatchHandle
// matches, scanning only real slots.
func (t *Table) FindByWatchHandle(h int32) (int, *Entry, bool) {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].WatchHandle == h {
			return i, t.entries[i], true
		}
	}
	return 0, nil, false
}

// Append adds a new real port entry, growing the backing storage by
// doubling if full, and returns its slot index.
func (t *Table) Append(e *Entry) int {
	t.ensureCapacity()
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// ensureCapacity doubles the backing array when it is full, rather than
// relying on append's growth heuristic, so the "table grows by
// doubling" invariant is directly testable.
func (t *Table) ensureCapacity() {
	if len(t.entries) < cap(t.entries) {
		return
	}
	newCap := cap(t.entries) * 2
	if newCap == 0 {
		newCap = 4
	}
	grown := make([]*Entry, len(t.entries), newCap)
	copy(grown, t.entries)
	t.entries = grown
}

// RemoveAt deletes the entry at slot i (i >= 1) by shifting every later
// entry left by one position, preserving its relative order. This is
// the "remove-and-shift" scheme; see DESIGN.md for why a prior revision
// of this gateway implemented neither remove-and-shift nor
// swap-with-last correctly.
func (t *Table) RemoveAt(i int) {
	copy(t.entries[i:], t.entries[i+1:])
	t.entries[len(t.entries)-1] = nil
	t.entries = t.entries[:len(t.entries)-1]
}
