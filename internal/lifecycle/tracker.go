// Package lifecycle tracks the per-identity state of every field the
// allocator has seen.
//
// State machine:
//
//	Unloaded --(slot reserved)--> Loading --(ready)--> Loaded
//	Loading/Loaded --(absent this frame)--> Stale --(range reclaimed)--> removed
//	Stale --(present again before reclaim)--> Loaded
//
// An Unloaded identity is known but has no storage yet; it is only requested
// for allocation once its readiness predicate holds. An Unloaded identity
// that disappears simply vanishes, as it owns nothing.
package lifecycle

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/cornfield/field"
)

// State is the lifecycle state of one identity.
type State int

const (
	// Unloaded means known but without a storage slot.
	Unloaded State = iota
	// Loading means a slot is reserved and initialization was dispatched.
	Loading
	// Loaded means the data is resident and the producer reports ready.
	Loaded
	// Stale means the identity disappeared; its range awaits reclaim.
	Stale
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Loading:
		return "Loading"
	case Loaded:
		return "Loaded"
	case Stale:
		return "Stale"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HasStorage reports whether an identity in this state owns a range.
func (s State) HasStorage() bool {
	return s == Loading || s == Loaded || s == Stale
}

type entry struct {
	state     State
	firstSeen uint64
	lastSeen  uint64
}

// Tracker is driven once per frame: Begin, Observe for every present
// identity, End. It is not safe for concurrent use.
type Tracker struct {
	entries map[field.Identity]*entry
	frame   uint64
	open    bool
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[field.Identity]*entry)}
}

// Frame returns the number of the current (or last) frame.
func (t *Tracker) Frame() uint64 {
	return t.frame
}

// Begin starts a new frame.
func (t *Tracker) Begin() {
	if t.open {
		panic("lifecycle: Begin called twice without End")
	}
	t.frame++
	t.open = true
}

// Observe records that id is present this frame and whether its producer is
// ready. It returns true when the identity should be requested for
// allocation: it is ready and owns no storage yet.
func (t *Tracker) Observe(id field.Identity, ready bool) bool {
	if !t.open {
		panic("lifecycle: Observe outside Begin/End")
	}
	e, ok := t.entries[id]
	if !ok {
		e = &entry{state: Unloaded, firstSeen: t.frame}
		t.entries[id] = e
	}
	if e.lastSeen == t.frame && ok {
		return false
	}
	e.lastSeen = t.frame

	switch e.state {
	case Unloaded:
		return ready
	case Loading:
		if ready {
			e.state = Loaded
		}
	case Stale:
		// Not reclaimed yet, so the data was never flagged and is intact.
		e.state = Loaded
	}
	return false
}

// End closes the frame. Identities that owned storage and were not observed
// become Stale; Unloaded identities that were not observed are forgotten.
// It returns every identity currently Stale (including ones left over from
// frames whose plan was not committed), sorted for determinism.
func (t *Tracker) End() []field.Identity {
	if !t.open {
		panic("lifecycle: End without Begin")
	}
	t.open = false

	var stale []field.Identity
	for id, e := range t.entries {
		if e.lastSeen != t.frame {
			switch e.state {
			case Unloaded:
				delete(t.entries, id)
				continue
			case Loading, Loaded:
				e.state = Stale
			}
		}
		if e.state == Stale {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)
	return stale
}

// MarkLoading records that a slot was reserved for id.
func (t *Tracker) MarkLoading(id field.Identity) {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{firstSeen: t.frame, lastSeen: t.frame}
		t.entries[id] = e
	}
	e.state = Loading
}

// Remove forgets id after its storage was reclaimed.
func (t *Tracker) Remove(id field.Identity) {
	delete(t.entries, id)
}

// Reset returns every identity that owns storage to Unloaded. It is used
// when the backing storage is torn down and all data is lost.
func (t *Tracker) Reset() {
	for id, e := range t.entries {
		if e.state == Stale {
			delete(t.entries, id)
			continue
		}
		e.state = Unloaded
	}
}

// State returns the state of id.
func (t *Tracker) State(id field.Identity) (State, bool) {
	e, ok := t.entries[id]
	if !ok {
		return Unloaded, false
	}
	return e.state, true
}

// Age returns how many frames id has been known.
func (t *Tracker) Age(id field.Identity) uint64 {
	e, ok := t.entries[id]
	if !ok {
		return 0
	}
	return t.frame - e.firstSeen
}

// Len returns the number of tracked identities.
func (t *Tracker) Len() int {
	return len(t.entries)
}

// Count returns how many identities are in state s.
func (t *Tracker) Count(s State) int {
	n := 0
	for _, e := range t.entries {
		if e.state == s {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the state of every tracked identity.
func (t *Tracker) Snapshot() map[field.Identity]State {
	out := make(map[field.Identity]State, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.state
	}
	return out
}

// Identities returns the tracked identities in ascending order.
func (t *Tracker) Identities() []field.Identity {
	return slices.Sorted(maps.Keys(t.entries))
}
