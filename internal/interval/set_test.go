package interval

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func r64(lo, hi uint64) Range[uint64] { return Range[uint64]{Start: lo, End: hi} }

// requireCanonical checks the endpoint invariant directly.
func requireCanonical(t *testing.T, s Set[uint64]) {
	t.Helper()
	ends := s.Endpoints()
	require.Zero(t, len(ends)%2, "odd endpoint count in %v", s)
	for i := 1; i < len(ends); i++ {
		require.Less(t, ends[i-1], ends[i], "endpoints not strictly increasing in %v", s)
	}
}

func randomSet(rng *rand.Rand, domain uint64) Set[uint64] {
	n := rng.IntN(6)
	rs := make([]Range[uint64], 0, n)
	for range n {
		lo := rng.Uint64N(domain)
		hi := lo + rng.Uint64N(domain-lo) + 1
		rs = append(rs, r64(lo, hi))
	}
	return FromRanges(rs...)
}

func TestFromRanges(t *testing.T) {
	tests := []struct {
		name string
		in   []Range[uint64]
		want []uint64
	}{
		{"empty", nil, nil},
		{"single", []Range[uint64]{r64(2, 5)}, []uint64{2, 5}},
		{"inverted ignored", []Range[uint64]{r64(5, 2), r64(3, 3)}, nil},
		{"adjacent merged", []Range[uint64]{r64(0, 5), r64(5, 10)}, []uint64{0, 10}},
		{"overlap merged", []Range[uint64]{r64(4, 9), r64(0, 5)}, []uint64{0, 9}},
		{"disjoint sorted", []Range[uint64]{r64(10, 12), r64(0, 2)}, []uint64{0, 2, 10, 12}},
		{"contained", []Range[uint64]{r64(0, 10), r64(2, 3)}, []uint64{0, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromRanges(tt.in...)
			requireCanonical(t, s)
			if len(tt.want) == 0 {
				assert.True(t, s.IsEmpty())
				return
			}
			assert.Equal(t, tt.want, s.Endpoints())
		})
	}
}

func TestFromEndpoints(t *testing.T) {
	_, err := FromEndpoints([]uint64{1, 2, 3})
	assert.Error(t, err)
	_, err = FromEndpoints([]uint64{1, 2, 2, 3})
	assert.Error(t, err)
	s, err := FromEndpoints([]uint64{1, 2, 4, 9})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), s.Len())
	assert.Equal(t, 2, s.RangeCount())
}

func TestBinaryOperations(t *testing.T) {
	a := FromRanges(r64(0, 10), r64(20, 30))
	b := FromRanges(r64(5, 25))

	assert.Equal(t, []uint64{0, 30}, a.Union(b).Endpoints())
	assert.Equal(t, []uint64{5, 10, 20, 25}, a.Intersection(b).Endpoints())
	assert.Equal(t, []uint64{0, 5, 25, 30}, a.Difference(b).Endpoints())
	assert.Equal(t, []uint64{10, 20}, b.Difference(a).Endpoints())
	assert.Equal(t, []uint64{10, 20, 30, 40}, a.Complement(0, 40).Endpoints())
}

func TestAdjacentIntersectionIsEmpty(t *testing.T) {
	a := FromRange[uint64](0, 5)
	b := FromRange[uint64](5, 10)
	assert.True(t, a.Intersection(b).IsEmpty())
	assert.Equal(t, []uint64{0, 10}, a.Union(b).Endpoints())
	assert.False(t, a.Overlaps(b))
}

func TestContains(t *testing.T) {
	s := FromRanges(r64(2, 5), r64(8, 9))
	for x, want := range map[uint64]bool{0: false, 2: true, 4: true, 5: false, 7: false, 8: true, 9: false, 100: false} {
		assert.Equal(t, want, s.Contains(x), "Contains(%d)", x)
	}
	assert.True(t, s.ContainsSet(FromRange[uint64](3, 5)))
	assert.False(t, s.ContainsSet(FromRange[uint64](4, 6)))
}

func TestTake(t *testing.T) {
	s := FromRanges(r64(0, 3), r64(10, 20))

	taken, rest, short := s.Take(5)
	assert.Equal(t, []uint64{0, 3, 10, 12}, taken.Endpoints())
	assert.Equal(t, []uint64{12, 20}, rest.Endpoints())
	assert.Zero(t, short)

	taken, rest, short = s.Take(3)
	assert.Equal(t, []uint64{0, 3}, taken.Endpoints())
	assert.Equal(t, []uint64{10, 20}, rest.Endpoints())
	assert.Zero(t, short)

	taken, rest, short = s.Take(20)
	assert.Equal(t, s.Endpoints(), taken.Endpoints())
	assert.True(t, rest.IsEmpty())
	assert.Equal(t, uint64(7), short)

	taken, rest, short = Empty[uint64]().Take(4)
	assert.True(t, taken.IsEmpty())
	assert.True(t, rest.IsEmpty())
	assert.Equal(t, uint64(4), short)
}

func TestGetContinuousBestFit(t *testing.T) {
	// First fit would return [0,100); best fit must return [200,250).
	s := FromRanges(r64(0, 100), r64(120, 130), r64(200, 250), r64(300, 350))

	r, ok := s.GetContinuous(40)
	require.True(t, ok)
	assert.Equal(t, r64(200, 250), r)

	r, ok = s.GetContinuous(10)
	require.True(t, ok)
	assert.Equal(t, r64(120, 130), r)

	r, ok = s.GetContinuous(60)
	require.True(t, ok)
	assert.Equal(t, r64(0, 100), r)

	_, ok = s.GetContinuous(101)
	assert.False(t, ok)
	_, ok = s.GetContinuous(0)
	assert.False(t, ok)
}

func TestString(t *testing.T) {
	assert.Equal(t, "{}", Empty[uint64]().String())
	assert.Equal(t, "{[0,3) [5,6)}", FromRanges(r64(0, 3), r64(5, 6)).String())
}

func TestRangeSlice(t *testing.T) {
	s := FromRanges(r64(1, 2), r64(4, 8))
	assert.Equal(t, []Range[uint64]{r64(1, 2), r64(4, 8)}, s.RangeSlice())
	assert.Equal(t, uint64(4), r64(4, 8).Len())
	assert.Zero(t, r64(8, 4).Len())
}

// TestAlgebraProperties checks De Morgan, difference and double complement
// over randomly generated sets in [0, N).
func TestAlgebraProperties(t *testing.T) {
	const n = 64
	rng := rand.New(rand.NewPCG(7, 11))
	for i := range 2000 {
		a := randomSet(rng, n)
		b := randomSet(rng, n)

		union := a.Union(b)
		deMorgan := a.Complement(0, n).Intersection(b.Complement(0, n)).Complement(0, n)
		require.True(t, union.Equal(deMorgan), "iteration %d: De Morgan: %v vs %v", i, union, deMorgan)

		diff := a.Difference(b)
		viaComplement := a.Intersection(b.Complement(0, n))
		require.True(t, diff.Equal(viaComplement), "iteration %d: difference: %v vs %v", i, diff, viaComplement)

		require.True(t, a.Complement(0, n).Complement(0, n).Equal(a), "iteration %d: double complement of %v", i, a)

		for _, s := range []Set[uint64]{union, diff, a.Intersection(b)} {
			requireCanonical(t, s)
		}

		// Cross-check membership element by element.
		for x := uint64(0); x < n; x++ {
			inA, inB := a.Contains(x), b.Contains(x)
			require.Equal(t, inA || inB, union.Contains(x))
			require.Equal(t, inA && !inB, diff.Contains(x))
		}
	}
}

func TestTakeProperty(t *testing.T) {
	const n = 128
	rng := rand.New(rand.NewPCG(3, 5))
	for i := range 2000 {
		a := randomSet(rng, n)
		want := uint64(0)
		if a.Len() > 0 {
			want = rng.Uint64N(a.Len() + 1)
		}
		taken, rest, short := a.Take(want)
		require.Zero(t, short, "iteration %d", i)
		require.Equal(t, want, taken.Len(), "iteration %d", i)
		require.True(t, taken.Union(rest).Equal(a), "iteration %d", i)
		require.False(t, taken.Overlaps(rest), "iteration %d", i)
		if !taken.IsEmpty() && !rest.IsEmpty() {
			lo, _ := rest.Min()
			require.LessOrEqual(t, taken.Max(), lo, "taken must come from the low end")
		}
	}
}

func TestUnionAll(t *testing.T) {
	s := UnionAll(FromRange[uint64](0, 2), FromRange[uint64](4, 6), FromRange[uint64](2, 4))
	assert.Equal(t, []uint64{0, 6}, s.Endpoints())
	assert.True(t, UnionAll[uint64]().IsEmpty())
}

func TestUint32Sets(t *testing.T) {
	a := FromRange[uint32](0, 10)
	b := FromRange[uint32](3, 4)
	assert.Equal(t, []uint32{0, 3, 4, 10}, a.Difference(b).Endpoints())
	assert.Equal(t, uint32(9), a.Difference(b).Len())
}
