// Package plan decides, once per frame, what has to happen to the instance
// buffer: which slots each newly ready field receives, how far the buffer
// grows, whether it shrinks or is compacted, and which slots must be flagged
// stale.
//
// Build is a pure function of its Input. The resulting OperationPlan is a
// disposable value; nothing is mutated until the executor commits it.
package plan

import (
	"fmt"
	"strings"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/storage"
)

// Slots is the set type used for buffer positions.
type Slots = storage.Slots

// Request asks for storage for one newly ready field.
type Request struct {
	ID         field.Identity
	Kind       field.Kind
	Length     uint64
	Contiguous bool
}

// Allocation is a planned assignment of slots to a field.
type Allocation struct {
	ID     field.Identity
	Kind   field.Kind
	Ranges Slots
}

// DefragMove relocates every slot of one field into a single dense range.
type DefragMove struct {
	ID   field.Identity
	From Slots
	To   Slots
}

// OperationPlan describes all work for one frame.
//
// Defrag is exclusive: when it is set, Allocations, Expired and Expansion are
// empty. When Shrink is non-zero, Defrag is always set.
type OperationPlan struct {
	OldCapacity uint64
	NewCapacity uint64

	Allocations []Allocation
	// Rejected holds requests that can never be satisfied, such as a
	// contiguous block longer than one dispatch can initialize or a field
	// whose init kernel failed to build.
	Rejected []Request

	Expansion uint64
	Shrink    uint64

	// Expired lists the identities whose slots become stale at commit, and
	// NewStale the union of those slots, which the flag-stale kernel clears.
	Expired  []field.Identity
	NewStale Slots

	Defrag bool
	Moves  []DefragMove
	// DefragFree is the free set right after compaction, before any shrink:
	// [used, OldCapacity). Only set when Defrag is.
	DefragFree Slots

	Readback bool
}

// IsNoop reports whether the plan leaves storage untouched.
func (p *OperationPlan) IsNoop() bool {
	return len(p.Allocations) == 0 && len(p.Expired) == 0 &&
		p.Expansion == 0 && p.Shrink == 0 && !p.Defrag
}

// Structural reports whether the plan changes the buffer contents or layout.
func (p *OperationPlan) Structural() bool {
	return !p.IsNoop()
}

// Allocated returns the total number of slots assigned by the plan.
func (p *OperationPlan) Allocated() uint64 {
	var n uint64
	for _, a := range p.Allocations {
		n += a.Ranges.Len()
	}
	return n
}

// Kinds returns the distinct kinds of the planned allocations, in first-use
// order. Empty allocations need no kernel and are skipped.
func (p *OperationPlan) Kinds() []field.Kind {
	var out []field.Kind
	seen := make(map[field.Kind]bool)
	for _, a := range p.Allocations {
		if a.Ranges.IsEmpty() || seen[a.Kind] {
			continue
		}
		seen[a.Kind] = true
		out = append(out, a.Kind)
	}
	return out
}

// String summarizes the plan for logs.
func (p *OperationPlan) String() string {
	if p.IsNoop() {
		return fmt.Sprintf("plan{noop cap=%d}", p.OldCapacity)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "plan{cap=%d->%d", p.OldCapacity, p.NewCapacity)
	if len(p.Allocations) > 0 {
		fmt.Fprintf(&b, " alloc=%d(%d slots)", len(p.Allocations), p.Allocated())
	}
	if p.Expansion > 0 {
		fmt.Fprintf(&b, " expand=%d", p.Expansion)
	}
	if len(p.Expired) > 0 {
		fmt.Fprintf(&b, " expired=%d stale=%v", len(p.Expired), p.NewStale)
	}
	if p.Defrag {
		fmt.Fprintf(&b, " defrag=%d", len(p.Moves))
	}
	if p.Shrink > 0 {
		fmt.Fprintf(&b, " shrink=%d", p.Shrink)
	}
	if len(p.Rejected) > 0 {
		fmt.Fprintf(&b, " rejected=%d", len(p.Rejected))
	}
	if p.Readback {
		b.WriteString(" readback")
	}
	b.WriteByte('}')
	return b.String()
}

// ApplyLayout writes the plan's slot bookkeeping into m. Buffer handles are
// not touched; the executor swaps them in once the GPU work was submitted.
func (p *OperationPlan) ApplyLayout(m *storage.Manager) {
	if p.Defrag {
		m.DefragCommit(p.DefragAllocations(), Slots{}, p.DefragFree)
		m.Shrink(p.NewCapacity)
		return
	}
	for _, id := range p.Expired {
		m.MarkStale(id)
	}
	m.Expand(p.Expansion)
	for _, a := range p.Allocations {
		m.Alloc(a.ID, a.Ranges)
	}
}
