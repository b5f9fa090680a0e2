// Package tensorring implements the TensorRingBuffer (spec.md §3/§5): a
// bounded, indexed ring of tensor snapshots that decouples client-facing
// input/output tensors from the backend's internally-owned buffers, so
// every in-flight Job gets a stable handle it can carry through the
// request → worker → finished pipeline.
package tensorring

import (
	"fmt"
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// Snapshot is one tensor's worth of raw bytes plus the view metadata
// describing how to interpret them.
type Snapshot struct {
	Data []byte
	View domain.TensorView
}

type slot struct {
	snap       Snapshot
	generation int64
	occupied   bool
}

// Ring is a bounded ring buffer of tensor snapshots. Alloc assigns a
// handle under a short lock; Set, Get and Release take the same single
// mutex, so reads and writes of one handle do contend with allocation and
// with access to every other handle.
type Ring struct {
	mu      sync.Mutex
	slots   []slot
	nextIdx int
	gen     int64
}

// New returns a Ring with room for capacity in-flight tensor handles.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{slots: make([]slot, capacity)}
}

// Alloc reserves the next slot and returns its handle.
func (r *Ring) Alloc() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.nextIdx % len(r.slots)
	r.nextIdx++
	r.gen++
	r.slots[idx] = slot{generation: r.gen, occupied: true}
	return idx
}

// Set writes a snapshot into an already-allocated handle.
func (r *Ring) Set(handle int, snap Snapshot) error {
	if handle < 0 || handle >= len(r.slots) {
		return fmt.Errorf("tensorring: handle %d out of range: %w", handle, domain.ErrStaleHandle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.slots[handle].occupied {
		return fmt.Errorf("tensorring: handle %d not allocated: %w", handle, domain.ErrStaleHandle)
	}
	r.slots[handle].snap = snap
	return nil
}

// Get returns the snapshot currently stored at handle.
func (r *Ring) Get(handle int) (Snapshot, error) {
	if handle < 0 || handle >= len(r.slots) {
		return Snapshot{}, fmt.Errorf("tensorring: handle %d out of range: %w", handle, domain.ErrStaleHandle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slots[handle]
	if !s.occupied {
		return Snapshot{}, fmt.Errorf("tensorring: handle %d not allocated: %w", handle, domain.ErrStaleHandle)
	}
	return s.snap, nil
}

// Release marks a handle free. Safe to call even if a later Alloc has
// already recycled the slot (it only clears occupancy, it never rewinds
// nextIdx), matching the documented overwrite policy: callers that need
// a snapshot past its producer's lifetime must copy it out first.
func (r *Ring) Release(handle int) {
	if handle < 0 || handle >= len(r.slots) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[handle].occupied = false
}

// Cap returns the ring's capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}
