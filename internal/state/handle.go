package state

import (
	"fmt"
	"sync"
)

// Handle addresses an entry in a Registry. Handles outlive their entries: once the slot is
// reused the generation differs and lookups through the stale handle fail softly.
type Handle struct {
	Slot uint32 `json:"slot" msgpack:"slot"`
	Gen  uint32 `json:"gen" msgpack:"gen"`
}

// NilHandle never resolves.
var NilHandle = Handle{}

// Valid reports whether the handle was issued by a registry.
func (h Handle) Valid() bool { return h.Gen != 0 }

// String renders the handle as a stable identifier.
func (h Handle) String() string {
	if !h.Valid() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", h.Slot, h.Gen)
}

type registryEntry[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Registry stores values under generational handles.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []registryEntry[T]
	free    []uint32
	live    int
}

// NewRegistry constructs an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Insert stores value and returns its handle.
func (r *Registry[T]) Insert(value T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- Reuse a freed slot when one exists so handles stay compact.
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		entry := &r.entries[slot]
		entry.gen++
		entry.value = value
		entry.live = true
		r.live++
		return Handle{Slot: slot, Gen: entry.gen}
	}
	r.entries = append(r.entries, registryEntry[T]{value: value, gen: 1, live: true})
	r.live++
	return Handle{Slot: uint32(len(r.entries) - 1), Gen: 1}
}

// Get resolves a handle. Stale or foreign handles report false.
func (r *Registry[T]) Get(h Handle) (T, bool) {
	var zero T
	if r == nil || !h.Valid() {
		return zero, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(h.Slot) >= len(r.entries) {
		return zero, false
	}
	entry := r.entries[h.Slot]
	if !entry.live || entry.gen != h.Gen {
		return zero, false
	}
	return entry.value, true
}

// Remove drops the entry behind h. It reports false for stale handles.
func (r *Registry[T]) Remove(h Handle) bool {
	if r == nil || !h.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(h.Slot) >= len(r.entries) {
		return false
	}
	entry := &r.entries[h.Slot]
	if !entry.live || entry.gen != h.Gen {
		return false
	}
	var zero T
	entry.value = zero
	entry.live = false
	r.free = append(r.free, h.Slot)
	r.live--
	return true
}

// Len reports the number of live entries.
func (r *Registry[T]) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

// Handles lists live handles in slot order.
func (r *Registry[T]) Handles() []Handle {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]Handle, 0, r.live)
	for slot, entry := range r.entries {
		if entry.live {
			handles = append(handles, Handle{Slot: uint32(slot), Gen: entry.gen})
		}
	}
	return handles
}
