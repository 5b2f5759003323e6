package plan

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/interval"
	"github.com/gogpu/cornfield/internal/storage"
)

// Default tuning values.
const (
	DefaultShrinkRatio          = 1.75
	DefaultGrowthFactor         = 1.25
	DefaultDefragRangesPerField = 2.0

	// DefaultMaxContiguous is the largest block one init dispatch can cover:
	// 65535 workgroups of 256 invocations.
	DefaultMaxContiguous uint64 = 65535 * 256
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("plan: invalid config")

// Config holds the planner heuristics.
type Config struct {
	// ShrinkRatio triggers a shrink when capacity/used reaches it.
	ShrinkRatio float64
	// GrowthFactor sizes the shrink target as used*GrowthFactor.
	GrowthFactor float64
	// DefragRangesPerField triggers compaction when the average number of
	// ranges per live field exceeds it.
	DefragRangesPerField float64
	// MaxContiguous rejects longer contiguous requests.
	MaxContiguous uint64
	// Readback requests a debug copy of the buffer after structural changes.
	Readback bool
}

// DefaultConfig returns the default heuristics.
func DefaultConfig() Config {
	return Config{
		ShrinkRatio:          DefaultShrinkRatio,
		GrowthFactor:         DefaultGrowthFactor,
		DefragRangesPerField: DefaultDefragRangesPerField,
		MaxContiguous:        DefaultMaxContiguous,
	}
}

// Validate checks that the heuristics cannot oscillate.
func (c Config) Validate() error {
	switch {
	case c.GrowthFactor < 1:
		return fmt.Errorf("%w: growth factor %.2f < 1", ErrInvalidConfig, c.GrowthFactor)
	case c.ShrinkRatio <= c.GrowthFactor:
		return fmt.Errorf("%w: shrink ratio %.2f must exceed growth factor %.2f",
			ErrInvalidConfig, c.ShrinkRatio, c.GrowthFactor)
	case c.DefragRangesPerField < 1:
		return fmt.Errorf("%w: defrag threshold %.2f < 1", ErrInvalidConfig, c.DefragRangesPerField)
	case c.MaxContiguous == 0:
		return fmt.Errorf("%w: max contiguous is zero", ErrInvalidConfig)
	}
	return nil
}

// Input is everything the planner reads.
type Input struct {
	State       storage.BufferState
	Allocations map[field.Identity]Slots
	Requests    []Request
	// Expired are identities that disappeared and still own slots.
	Expired []field.Identity
}

// Build computes the plan for one frame.
func Build(in Input, cfg Config) *OperationPlan {
	p := &OperationPlan{
		OldCapacity: in.State.Capacity,
	}
	w := working{
		capacity: in.State.Capacity,
		free:     in.State.Free,
		stale:    in.State.Stale,
	}

	// Slots of expired fields join the stale pool first, so this frame's
	// requests can reuse them. Flag-stale runs before any init dispatch.
	for _, id := range slices.Compact(slices.Sorted(slices.Values(in.Expired))) {
		s, ok := in.Allocations[id]
		if !ok {
			continue
		}
		p.Expired = append(p.Expired, id)
		p.NewStale = p.NewStale.Union(s)
	}
	w.stale = w.stale.Union(p.NewStale)

	for _, r := range sortRequests(in.Requests, in.Allocations) {
		if r.Contiguous && r.Length > cfg.MaxContiguous {
			p.Rejected = append(p.Rejected, r)
			continue
		}
		var got Slots
		if r.Contiguous {
			got = w.allocContiguous(r.Length)
		} else {
			got = w.allocScattered(r.Length)
		}
		p.Allocations = append(p.Allocations, Allocation{ID: r.ID, Kind: r.Kind, Ranges: got})
	}
	p.Expansion = w.capacity - in.State.Capacity
	p.NewCapacity = w.capacity

	if len(p.Allocations) == 0 && len(p.Expired) == 0 {
		compact(p, in, cfg)
	}

	p.Readback = cfg.Readback && p.Structural()
	return p
}

// sortRequests drops duplicates and identities that already own slots,
// then orders contiguous requests first, longer before shorter, ties by
// identity.
func sortRequests(reqs []Request, live map[field.Identity]Slots) []Request {
	out := make([]Request, 0, len(reqs))
	seen := make(map[field.Identity]bool, len(reqs))
	for _, r := range reqs {
		if _, ok := live[r.ID]; ok || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Request) int {
		if a.Contiguous != b.Contiguous {
			if a.Contiguous {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Length, a.Length); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

type working struct {
	capacity uint64
	free     Slots
	stale    Slots
}

func (w *working) expand(n uint64) {
	w.free = w.free.Union(interval.FromRange(w.capacity, w.capacity+n))
	w.capacity += n
}

func (w *working) claim(s Slots) {
	w.free = w.free.Difference(s)
	w.stale = w.stale.Difference(s)
}

// allocContiguous carves one block of n slots out of free ∪ stale. When no
// block fits, the buffer grows just enough: by n minus the size of a block
// that already touches the tail, or by n otherwise.
func (w *working) allocContiguous(n uint64) Slots {
	if n == 0 {
		return Slots{}
	}
	avail := w.free.Union(w.stale)
	start := w.capacity
	if r, ok := avail.GetContinuous(n); ok {
		start = r.Start
	} else {
		if !avail.IsEmpty() && avail.Max() == w.capacity {
			last := avail.RangeSlice()[avail.RangeCount()-1]
			start = last.Start
		}
		w.expand(start + n - w.capacity)
	}
	got := interval.FromRange(start, start+n)
	w.claim(got)
	return got
}

// allocScattered drains stale slots, then free slots, then grows the buffer
// by whatever is still missing.
func (w *working) allocScattered(n uint64) Slots {
	fromStale, stale, short := w.stale.Take(n)
	w.stale = stale
	fromFree, free, short := w.free.Take(short)
	w.free = free
	got := fromStale.Union(fromFree)
	if short > 0 {
		tail := interval.FromRange(w.capacity, w.capacity+short)
		w.capacity += short
		got = got.Union(tail)
	}
	return got
}

// compact decides between shrink, defrag and nothing for a frame without
// any other work.
func compact(p *OperationPlan, in Input, cfg Config) {
	st := in.State
	used := st.Used()
	if st.Capacity == 0 {
		return
	}

	var target uint64
	switch {
	case used == 0:
		// Only stale slots remain; drop the whole buffer.
		target = 0
	case float64(st.Capacity)/float64(used) >= cfg.ShrinkRatio:
		target = uint64(math.Ceil(float64(used) * cfg.GrowthFactor))
		target = min(max(target, used), st.Capacity)
	default:
		if averageRanges(in.Allocations) <= cfg.DefragRangesPerField {
			return
		}
		target = st.Capacity
	}

	p.Defrag = true
	p.Shrink = st.Capacity - target
	p.NewCapacity = target
	p.Moves = layout(in.Allocations)
	p.DefragFree = interval.FromRange(used, st.Capacity)
}

// averageRanges is 0 when there are no live fields.
func averageRanges(live map[field.Identity]Slots) float64 {
	if len(live) == 0 {
		return 0
	}
	total := 0
	for _, s := range live {
		total += s.RangeCount()
	}
	return float64(total) / float64(len(live))
}

// layout packs every live field into one dense range, keeping fields in the
// order of their current lowest slot.
func layout(live map[field.Identity]Slots) []DefragMove {
	moves := make([]DefragMove, 0, len(live))
	for id, s := range live {
		if s.IsEmpty() {
			continue
		}
		moves = append(moves, DefragMove{ID: id, From: s})
	}
	slices.SortFunc(moves, func(a, b DefragMove) int {
		am, _ := a.From.Min()
		bm, _ := b.From.Min()
		if c := cmp.Compare(am, bm); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	var off uint64
	for i := range moves {
		n := moves[i].From.Len()
		moves[i].To = interval.FromRange(off, off+n)
		off += n
	}
	return moves
}

// DefragAllocations returns the allocation map a defrag commit installs.
func (p *OperationPlan) DefragAllocations() map[field.Identity]Slots {
	out := make(map[field.Identity]Slots, len(p.Moves))
	for _, m := range p.Moves {
		out[m.ID] = m.To
	}
	return out
}
