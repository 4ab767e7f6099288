// Package slotmap provides a generation-checked arena, the Go-native
// replacement for the C core's raw pointer-plus-generation connection and
// timer identifiers (see SPEC_FULL.md §9 Design Notes). A Handle is a stable,
// forgeable-safe reference: dereferencing a stale handle (one whose slot was
// freed and reused) returns ErrGone instead of touching unrelated data or
// crashing, which is what a reused file descriptor would do if connections
// were keyed directly by fd.
package slotmap

import "errors"

// ErrGone is returned when a Handle's generation no longer matches the live
// occupant of its slot — the entity it named has been freed.
var ErrGone = errors.New("slotmap: handle refers to a freed entry")

// Handle is a stable identifier: a slot index plus the generation that was
// current when the handle was issued.
type Handle struct {
	Slot       uint32
	Generation uint32
}

// Zero reports whether this is the unset handle value.
func (h Handle) Zero() bool { return h.Slot == 0 && h.Generation == 0 }

type entry[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Map is a generational arena of T, indexed by Handle.
type Map[T any] struct {
	entries []entry[T]
	free    []uint32 // free slot indices, LIFO reuse
}

// New creates an empty arena.
func New[T any]() *Map[T] {
	// slot 0 is reserved so the zero Handle is never valid.
	m := &Map[T]{entries: make([]entry[T], 1)}
	return m
}

// Insert stores v in a fresh or recycled slot and returns its Handle.
func (m *Map[T]) Insert(v T) Handle {
	var slot uint32
	if n := len(m.free); n > 0 {
		slot = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		m.entries = append(m.entries, entry[T]{})
		slot = uint32(len(m.entries) - 1)
	}
	e := &m.entries[slot]
	e.value = v
	e.occupied = true
	return Handle{Slot: slot, Generation: e.generation}
}

// Get returns the value at h, or ErrGone if h is stale or never-occupied.
func (m *Map[T]) Get(h Handle) (T, error) {
	var zero T
	if h.Slot == 0 || int(h.Slot) >= len(m.entries) {
		return zero, ErrGone
	}
	e := &m.entries[h.Slot]
	if !e.occupied || e.generation != h.Generation {
		return zero, ErrGone
	}
	return e.value, nil
}

// Set overwrites the value at h in place. Returns ErrGone if stale.
func (m *Map[T]) Set(h Handle, v T) error {
	if h.Slot == 0 || int(h.Slot) >= len(m.entries) {
		return ErrGone
	}
	e := &m.entries[h.Slot]
	if !e.occupied || e.generation != h.Generation {
		return ErrGone
	}
	e.value = v
	return nil
}

// Remove frees the slot at h, bumping its generation so any outstanding
// handle referencing it becomes stale. A no-op (returns ErrGone) if h was
// already stale, so double-free is safe.
func (m *Map[T]) Remove(h Handle) error {
	if h.Slot == 0 || int(h.Slot) >= len(m.entries) {
		return ErrGone
	}
	e := &m.entries[h.Slot]
	if !e.occupied || e.generation != h.Generation {
		return ErrGone
	}
	var zero T
	e.value = zero
	e.occupied = false
	e.generation++
	m.free = append(m.free, h.Slot)
	return nil
}

// Len returns the number of live (occupied) entries.
func (m *Map[T]) Len() int {
	n := 0
	for i := range m.entries {
		if m.entries[i].occupied {
			n++
		}
	}
	return n
}

// Each calls fn for every live entry. fn must not Insert/Remove.
func (m *Map[T]) Each(fn func(Handle, T)) {
	for i := range m.entries {
		if m.entries[i].occupied {
			fn(Handle{Slot: uint32(i), Generation: m.entries[i].generation}, m.entries[i].value)
		}
	}
}
