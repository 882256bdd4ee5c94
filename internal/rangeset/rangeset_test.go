package rangeset

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeInvariants(t *testing.T) {
	s := NewSet()
	s.Merge(Range{0, 10})
	s.Merge(Range{20, 30})
	s.Merge(Range{10, 20}) // adjacent on both sides, should fuse into one
	require.Equal(t, []Range{{0, 30}}, s.Ranges())
}

func TestMergeOverlap(t *testing.T) {
	s := NewSet()
	s.Merge(Range{0, 10})
	s.Merge(Range{5, 15})
	require.Equal(t, []Range{{0, 15}}, s.Ranges())
}

func TestMergeDisjoint(t *testing.T) {
	s := NewSet()
	s.Merge(Range{0, 5})
	s.Merge(Range{10, 15})
	require.Equal(t, []Range{{0, 5}, {10, 15}}, s.Ranges())
}

func TestMergeSortedNonOverlappingNonAdjacent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := NewSet()
	for i := 0; i < 500; i++ {
		start := int64(rng.Intn(1000))
		end := start + int64(rng.Intn(50)+1)
		s.Merge(Range{start, end})
	}
	rs := s.Ranges()
	for i := 0; i+1 < len(rs); i++ {
		assert.Less(t, rs[i].End, rs[i+1].Start, "ranges must not overlap or touch")
	}
	for i := 0; i < len(rs); i++ {
		assert.Less(t, rs[i].Start, rs[i].End)
	}
}

func TestTotalMatchesUnion(t *testing.T) {
	s := NewSet()
	inputs := []Range{{0, 10}, {5, 15}, {100, 110}, {109, 120}}
	for _, r := range inputs {
		s.Merge(r)
	}
	// union: [0,15) + [100,120) = 15 + 20 = 35
	require.Equal(t, int64(35), s.Total())
}

func TestInvertCoversWhole(t *testing.T) {
	s := NewSet(Range{0, 4_000_000}, Range{6_000_000, 10_485_760})
	inv := s.Invert(10_485_760, 65_536)
	require.Equal(t, []Range{{4_000_000, 6_000_000}}, inv)

	merged := NewSet(s.Ranges()...)
	for _, r := range inv {
		merged.Merge(r)
	}
	require.Equal(t, int64(10_485_760), merged.Total())
}

func TestInvertRespectsMinChunk(t *testing.T) {
	s := NewSet()
	inv := s.Invert(1_000_000, 100_000)
	require.NotEmpty(t, inv)
	for i, r := range inv {
		if i == len(inv)-1 {
			continue
		}
		assert.GreaterOrEqual(t, r.Width(), int64(100_000))
	}
}

func TestInvertEmptySetIsWholeFile(t *testing.T) {
	s := NewSet()
	inv := s.Invert(100, 10)
	total := int64(0)
	for _, r := range inv {
		total += r.Width()
	}
	require.Equal(t, int64(100), total)
}

func TestContainsZeroStart(t *testing.T) {
	s := NewSet()
	assert.False(t, s.ContainsZeroStart())
	s.Merge(Range{5, 10})
	assert.False(t, s.ContainsZeroStart())
	s.Merge(Range{0, 5})
	assert.True(t, s.ContainsZeroStart())
}
