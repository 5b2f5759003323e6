// Package storage owns the shared instance buffer and the authoritative
// mapping from field identity to the slots it occupies.
//
// The slot domain is [0, Capacity). Every slot is in exactly one of: some
// identity's allocation, the free set (never written), or the stale set
// (written by an identity that has since disappeared). Every mutation keeps
// that partition intact; Check verifies it.
package storage

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/interval"
)

// Slots is the set type used for buffer positions.
type Slots = interval.Set[uint64]

// ErrInvariant is wrapped by every error returned from Check.
var ErrInvariant = errors.New("storage: invariant violated")

// BufferState is a snapshot of the buffer layout, detached from the
// Manager. Sets are immutable values, so a snapshot never aliases live state.
type BufferState struct {
	Capacity   uint64
	Free       Slots
	Stale      Slots
	Generation uint64
}

// Used returns the number of slots owned by live identities.
func (s BufferState) Used() uint64 {
	return s.Capacity - s.Free.Len() - s.Stale.Len()
}

// Releaser destroys buffers the Manager no longer references. hal.Device
// satisfies it; the executor supplies one that waits for in-flight work.
type Releaser interface {
	DestroyBuffer(buf hal.Buffer)
}

// Manager is the single source of truth for buffer layout. It is not safe
// for concurrent use; the frame loop is single-threaded.
type Manager struct {
	releaser Releaser

	capacity    uint64
	free        Slots
	stale       Slots
	allocations map[field.Identity]Slots

	generation uint64
	buffer     hal.Buffer

	indirect           hal.Buffer
	indirectGeneration uint64
	indirectValid      bool
}

// New returns an empty manager. r releases buffers that the manager
// replaces or tears down; it may be nil when no buffers are ever attached.
func New(r Releaser) *Manager {
	return &Manager{
		releaser:    r,
		allocations: make(map[field.Identity]Slots),
	}
}

// State returns a snapshot of capacity, free, stale and generation.
func (m *Manager) State() BufferState {
	return BufferState{
		Capacity:   m.capacity,
		Free:       m.free,
		Stale:      m.stale,
		Generation: m.generation,
	}
}

// Capacity returns the slot count of the domain.
func (m *Manager) Capacity() uint64 { return m.capacity }

// Generation returns the number of times the backing buffer was replaced.
func (m *Manager) Generation() uint64 { return m.generation }

// Buffer returns the current backing buffer, or nil when none exists.
// Callers must not keep the handle across frames; compare Generation instead.
func (m *Manager) Buffer() hal.Buffer { return m.buffer }

// Free returns the free set.
func (m *Manager) Free() Slots { return m.free }

// Stale returns the stale set.
func (m *Manager) Stale() Slots { return m.stale }

// Ranges returns the slots owned by id.
func (m *Manager) Ranges(id field.Identity) (Slots, bool) {
	s, ok := m.allocations[id]
	return s, ok
}

// Has reports whether id owns any slots.
func (m *Manager) Has(id field.Identity) bool {
	_, ok := m.allocations[id]
	return ok
}

// Allocations returns a copy of the allocation map.
func (m *Manager) Allocations() map[field.Identity]Slots {
	return maps.Clone(m.allocations)
}

// Identities returns the live identities in ascending order.
func (m *Manager) Identities() []field.Identity {
	return slices.Sorted(maps.Keys(m.allocations))
}

// RangeCounts returns how many disjoint ranges each live identity owns.
func (m *Manager) RangeCounts() map[field.Identity]int {
	out := make(map[field.Identity]int, len(m.allocations))
	for id, s := range m.allocations {
		out[id] = s.RangeCount()
	}
	return out
}

// InstanceCount returns the number of slots the renderer has to cover,
// which is the full capacity: culling relies on each record's enabled flag.
func (m *Manager) InstanceCount() uint64 { return m.capacity }

// Used returns the number of allocated slots.
func (m *Manager) Used() uint64 {
	return m.capacity - m.free.Len() - m.stale.Len()
}

// Alloc assigns slots to id, taking them from free and stale. Slots that
// are neither free nor stale indicate a planning bug and cause a panic.
func (m *Manager) Alloc(id field.Identity, slots Slots) {
	if slots.IsEmpty() {
		return
	}
	if !m.free.Union(m.stale).ContainsSet(slots) {
		panic(fmt.Sprintf("storage: alloc %v for %v overlaps slots that are neither free nor stale (free %v, stale %v)",
			slots, id, m.free, m.stale))
	}
	m.free = m.free.Difference(slots)
	m.stale = m.stale.Difference(slots)
	m.allocations[id] = m.allocations[id].Union(slots)
}

// MarkStale moves every slot of id into the stale set and forgets id.
// It returns the slots that became stale.
func (m *Manager) MarkStale(id field.Identity) Slots {
	s, ok := m.allocations[id]
	if !ok {
		return Slots{}
	}
	delete(m.allocations, id)
	m.stale = m.stale.Union(s)
	return s
}

// Expand grows the domain by n slots and adds the new tail to free.
// The backing buffer is not touched; see SwapBackingBuffer.
func (m *Manager) Expand(n uint64) {
	if n == 0 {
		return
	}
	m.free = m.free.Union(interval.FromRange(m.capacity, m.capacity+n))
	m.capacity += n
}

// Shrink cuts the domain down to newCapacity. The removed tail must be
// entirely free, which is the case right after a defragmentation commit.
func (m *Manager) Shrink(newCapacity uint64) {
	if newCapacity >= m.capacity {
		return
	}
	tail := interval.FromRange(newCapacity, m.capacity)
	if !m.free.ContainsSet(tail) {
		panic(fmt.Sprintf("storage: shrink to %d would drop non-free slots (free %v)", newCapacity, m.free))
	}
	m.free = m.free.Difference(tail)
	m.capacity = newCapacity
}

// SwapBackingBuffer replaces the buffer handle, releases the previous one
// and bumps the generation. The indirect-draw metadata becomes invalid until
// SetIndirect is called for the new generation.
func (m *Manager) SwapBackingBuffer(buf hal.Buffer, capacity uint64) {
	if capacity != m.capacity {
		panic(fmt.Sprintf("storage: swapped buffer capacity %d does not match domain capacity %d", capacity, m.capacity))
	}
	if m.buffer != nil && m.buffer != buf {
		m.release(m.buffer)
	}
	m.buffer = buf
	m.generation++
	m.indirectValid = false
}

// DefragCommit replaces the whole layout at once. The three sets must
// partition [0, Capacity) exactly.
func (m *Manager) DefragCommit(allocations map[field.Identity]Slots, stale, free Slots) {
	m.allocations = make(map[field.Identity]Slots, len(allocations))
	maps.Copy(m.allocations, allocations)
	m.stale = stale
	m.free = free
	if err := m.Check(); err != nil {
		panic(fmt.Sprintf("storage: defrag commit: %v", err))
	}
}

// SetIndirect attaches the indirect-draw metadata buffer for the current
// generation. Ownership passes to the manager.
func (m *Manager) SetIndirect(buf hal.Buffer) {
	if m.indirect != nil && m.indirect != buf {
		m.release(m.indirect)
	}
	m.indirect = buf
	m.indirectGeneration = m.generation
	m.indirectValid = buf != nil
}

// Indirect returns the indirect-draw buffer and whether it matches the
// current generation.
func (m *Manager) Indirect() (hal.Buffer, bool) {
	return m.indirect, m.indirectValid && m.indirectGeneration == m.generation
}

// ReadyToRender reports whether both the data buffer and the indirect-draw
// metadata are valid for the current generation.
func (m *Manager) ReadyToRender() bool {
	_, ok := m.Indirect()
	return m.buffer != nil && m.capacity > 0 && ok
}

// IsEmpty reports whether nothing is allocated and nothing is stale.
func (m *Manager) IsEmpty() bool {
	return len(m.allocations) == 0 && m.stale.IsEmpty()
}

// Cleanup tears everything down when nothing remains to render: no live
// allocations and no stale slots. It reports whether a teardown happened.
func (m *Manager) Cleanup() bool {
	if !m.IsEmpty() || (m.capacity == 0 && m.buffer == nil && m.indirect == nil) {
		return false
	}
	m.Close()
	m.generation++
	return true
}

// Close releases all GPU resources and resets the layout. The generation is
// left untouched.
func (m *Manager) Close() {
	if m.buffer != nil {
		m.release(m.buffer)
		m.buffer = nil
	}
	if m.indirect != nil {
		m.release(m.indirect)
		m.indirect = nil
	}
	m.indirectValid = false
	m.capacity = 0
	m.free = Slots{}
	m.stale = Slots{}
	clear(m.allocations)
}

func (m *Manager) release(buf hal.Buffer) {
	if m.releaser != nil {
		m.releaser.DestroyBuffer(buf)
	}
}

// Check verifies that allocations are pairwise disjoint and that
// allocations, free and stale partition [0, Capacity) exactly.
func (m *Manager) Check() error {
	return CheckLayout(m.capacity, m.allocations, m.free, m.stale)
}

// CheckLayout verifies the partition invariant for an arbitrary layout.
func CheckLayout(capacity uint64, allocations map[field.Identity]Slots, free, stale Slots) error {
	var covered Slots
	for _, id := range slices.Sorted(maps.Keys(allocations)) {
		s := allocations[id]
		if covered.Overlaps(s) {
			return fmt.Errorf("%w: allocation of %v overlaps another allocation: %v",
				ErrInvariant, id, covered.Intersection(s))
		}
		covered = covered.Union(s)
	}
	if covered.Overlaps(free) {
		return fmt.Errorf("%w: free overlaps allocations: %v", ErrInvariant, covered.Intersection(free))
	}
	covered = covered.Union(free)
	if covered.Overlaps(stale) {
		return fmt.Errorf("%w: stale overlaps allocations or free: %v", ErrInvariant, covered.Intersection(stale))
	}
	covered = covered.Union(stale)
	if want := interval.FromRange(0, capacity); !covered.Equal(want) {
		return fmt.Errorf("%w: layout covers %v, want %v", ErrInvariant, covered, want)
	}
	return nil
}
