// Package interval implements canonical sets of non-negative integers stored
// as sorted half-open ranges.
//
// A Set keeps its endpoints in a flat slice [s0, e0, s1, e1, ...] with
// s0 < e0 < s1 < e1 < ... Adjacent ranges are always merged, so two sets
// holding the same integers have identical endpoint slices.
//
// Binary operations run a single sweep over both endpoint sequences while
// tracking a signed depth counter:
//
//	union:        emit where depth crosses 0 <-> 1
//	intersection: emit where depth crosses 1 <-> 2
//	difference:   the right operand counts negatively, emit at 0 <-> 1
//
// Every operation is linear in the number of endpoints involved and
// allocates only its output.
package interval

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// Integer is the element type a Set can hold.
type Integer interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Set is an immutable value; every operation returns a new Set.
// The zero value is the empty set.
type Set[T Integer] struct {
	ends []T
}

// Empty returns the empty set.
func Empty[T Integer]() Set[T] {
	return Set[T]{}
}

// FromRange returns the set [lo, hi). It is empty when lo >= hi.
func FromRange[T Integer](lo, hi T) Set[T] {
	if lo >= hi {
		return Set[T]{}
	}
	return Set[T]{ends: []T{lo, hi}}
}

// Range is a half-open interval [Start, End).
type Range[T Integer] struct {
	Start T
	End   T
}

// Len returns End - Start, or 0 for an inverted range.
func (r Range[T]) Len() T {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// FromRanges builds a canonical set from arbitrary, possibly overlapping
// or unordered ranges. Empty and inverted ranges are ignored.
func FromRanges[T Integer](ranges ...Range[T]) Set[T] {
	rs := make([]Range[T], 0, len(ranges))
	for _, r := range ranges {
		if r.Start < r.End {
			rs = append(rs, r)
		}
	}
	slices.SortFunc(rs, func(a, b Range[T]) int { return cmp.Compare(a.Start, b.Start) })

	ends := make([]T, 0, 2*len(rs))
	for _, r := range rs {
		n := len(ends)
		if n > 0 && r.Start <= ends[n-1] {
			if r.End > ends[n-1] {
				ends[n-1] = r.End
			}
			continue
		}
		ends = append(ends, r.Start, r.End)
	}
	return Set[T]{ends: ends}
}

// FromEndpoints validates and adopts a flat endpoint slice.
// It returns an error if the slice is not strictly increasing with an even
// length, which is the canonical form.
func FromEndpoints[T Integer](ends []T) (Set[T], error) {
	if len(ends)%2 != 0 {
		return Set[T]{}, fmt.Errorf("interval: odd endpoint count %d", len(ends))
	}
	for i := 1; i < len(ends); i++ {
		if ends[i] <= ends[i-1] {
			return Set[T]{}, fmt.Errorf("interval: endpoints not strictly increasing at %d", i)
		}
	}
	return Set[T]{ends: slices.Clone(ends)}, nil
}

// Endpoints returns a copy of the flat endpoint slice.
func (s Set[T]) Endpoints() []T {
	return slices.Clone(s.ends)
}

// IsEmpty reports whether the set holds no integers.
func (s Set[T]) IsEmpty() bool {
	return len(s.ends) == 0
}

// Len returns the number of integers in the set.
func (s Set[T]) Len() T {
	var n T
	for i := 0; i < len(s.ends); i += 2 {
		n += s.ends[i+1] - s.ends[i]
	}
	return n
}

// RangeCount returns the number of disjoint ranges.
func (s Set[T]) RangeCount() int {
	return len(s.ends) / 2
}

// Min returns the smallest element. ok is false for the empty set.
func (s Set[T]) Min() (v T, ok bool) {
	if len(s.ends) == 0 {
		return 0, false
	}
	return s.ends[0], true
}

// Max returns the end of the last range (one past the largest element).
// It is 0 for the empty set.
func (s Set[T]) Max() T {
	if len(s.ends) == 0 {
		return 0
	}
	return s.ends[len(s.ends)-1]
}

// Ranges iterates the ranges in ascending order as (start, end) pairs.
func (s Set[T]) Ranges() iter.Seq2[T, T] {
	return func(yield func(T, T) bool) {
		for i := 0; i < len(s.ends); i += 2 {
			if !yield(s.ends[i], s.ends[i+1]) {
				return
			}
		}
	}
}

// RangeSlice returns the ranges as a slice.
func (s Set[T]) RangeSlice() []Range[T] {
	out := make([]Range[T], 0, len(s.ends)/2)
	for lo, hi := range s.Ranges() {
		out = append(out, Range[T]{Start: lo, End: hi})
	}
	return out
}

// Contains reports whether x is in the set.
func (s Set[T]) Contains(x T) bool {
	// Index of the first endpoint strictly greater than x; x is inside
	// a range exactly when that index is odd.
	i, found := slices.BinarySearch(s.ends, x)
	if found {
		return i%2 == 0
	}
	return i%2 == 1
}

// ContainsSet reports whether every element of o is in s.
func (s Set[T]) ContainsSet(o Set[T]) bool {
	return o.Difference(s).IsEmpty()
}

// Overlaps reports whether s and o share at least one element.
func (s Set[T]) Overlaps(o Set[T]) bool {
	return !s.Intersection(o).IsEmpty()
}

// Equal reports whether both sets hold the same integers.
func (s Set[T]) Equal(o Set[T]) bool {
	return slices.Equal(s.ends, o.ends)
}

// Union returns s ∪ o.
func (s Set[T]) Union(o Set[T]) Set[T] {
	return Set[T]{ends: sweep(s.ends, o.ends, 1, 1)}
}

// Intersection returns s ∩ o.
func (s Set[T]) Intersection(o Set[T]) Set[T] {
	return Set[T]{ends: sweep(s.ends, o.ends, 1, 2)}
}

// Difference returns s \ o.
func (s Set[T]) Difference(o Set[T]) Set[T] {
	return Set[T]{ends: sweep(s.ends, o.ends, -1, 1)}
}

// Complement returns [lo, hi) \ s.
func (s Set[T]) Complement(lo, hi T) Set[T] {
	return FromRange(lo, hi).Difference(s)
}

// UnionAll folds Union over sets.
func UnionAll[T Integer](sets ...Set[T]) Set[T] {
	var out Set[T]
	for _, s := range sets {
		out = out.Union(s)
	}
	return out
}

// Take removes up to n elements from the low end of s.
//
// taken holds the removed elements, rest what remains, and short is the
// part of n that could not be satisfied (n - s.Len() when s is too small).
// The last consumed range is split when it is longer than the remaining need.
func (s Set[T]) Take(n T) (taken, rest Set[T], short T) {
	need := n
	i := 0
	var takenEnds []T
	for ; i < len(s.ends) && need > 0; i += 2 {
		lo, hi := s.ends[i], s.ends[i+1]
		size := hi - lo
		if size <= need {
			takenEnds = append(takenEnds, lo, hi)
			need -= size
			continue
		}
		split := lo + need
		takenEnds = append(takenEnds, lo, split)
		need = 0
		restEnds := make([]T, 0, len(s.ends)-i)
		restEnds = append(restEnds, split, hi)
		restEnds = append(restEnds, s.ends[i+2:]...)
		return Set[T]{ends: takenEnds}, Set[T]{ends: restEnds}, 0
	}
	return Set[T]{ends: takenEnds}, Set[T]{ends: slices.Clone(s.ends[i:])}, need
}

// GetContinuous returns the smallest range of s whose length is at least n
// (best fit). Among equally sized candidates the lowest one wins.
// ok is false when no range is long enough or n is zero.
func (s Set[T]) GetContinuous(n T) (r Range[T], ok bool) {
	if n == 0 {
		return Range[T]{}, false
	}
	for i := 0; i < len(s.ends); i += 2 {
		size := s.ends[i+1] - s.ends[i]
		if size < n {
			continue
		}
		if !ok || size < r.Len() {
			r = Range[T]{Start: s.ends[i], End: s.ends[i+1]}
			ok = true
			if size == n {
				break
			}
		}
	}
	return r, ok
}

// String formats the set as {[a,b) [c,d)}.
func (s Set[T]) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < len(s.ends); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "[%d,%d)", s.ends[i], s.ends[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

// sweep merges the endpoint sequences a and b. Starts of a add 1 to the
// depth and ends subtract 1; b contributes with weight wb. An output endpoint
// is emitted whenever the depth, after all events at one coordinate have
// been applied, crosses the threshold k. Aggregating per coordinate is what
// keeps adjacent ranges merged and suppresses empty ranges.
func sweep[T Integer](a, b []T, wb, k int) []T {
	out := make([]T, 0, len(a)+len(b))
	i, j := 0, 0
	depth := 0
	for i < len(a) || j < len(b) {
		var x T
		if j >= len(b) || (i < len(a) && a[i] <= b[j]) {
			x = a[i]
		} else {
			x = b[j]
		}

		before := depth
		if i < len(a) && a[i] == x {
			if i%2 == 0 {
				depth++
			} else {
				depth--
			}
			i++
		}
		if j < len(b) && b[j] == x {
			if j%2 == 0 {
				depth += wb
			} else {
				depth -= wb
			}
			j++
		}

		if (before >= k) != (depth >= k) {
			out = append(out, x)
		}
	}
	return out
}
