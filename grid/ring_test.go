package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_Empty(t *testing.T) {
	r := NewRing(10)

	_, err := r.Owner(0)
	assert.Error(t, err)
	assert.Nil(t, r.Candidates(0))
	assert.Equal(t, 0, r.Count())
}

func TestRing_CandidatesStartWithOwner(t *testing.T) {
	r := NewRing(50)
	for _, id := range []uint64{1, 2, 3} {
		r.Add(id)
	}
	r.Add(2)
	assert.Equal(t, 3, r.Count())

	for p := 0; p < 64; p++ {
		owner, err := r.Owner(p)
		require.NoError(t, err)

		candidates := r.Candidates(p)
		require.Len(t, candidates, 3)
		assert.Equal(t, owner, candidates[0])
		assert.ElementsMatch(t, []uint64{1, 2, 3}, candidates)
	}
}

func TestRing_StableAcrossInstances(t *testing.T) {
	a, b := NewRing(50), NewRing(50)
	for _, id := range []uint64{7, 3, 5} {
		a.Add(id)
	}
	for _, id := range []uint64{5, 7, 3} {
		b.Add(id)
	}

	for p := 0; p < 128; p++ {
		oa, _ := a.Owner(p)
		ob, _ := b.Owner(p)
		assert.Equal(t, oa, ob, "partition %d", p)
	}
}

func TestRing_RemoveMovesOnlyItsPartitions(t *testing.T) {
	r := NewRing(100)
	for _, id := range []uint64{1, 2, 3} {
		r.Add(id)
	}

	before := make(map[int]uint64)
	for p := 0; p < 257; p++ {
		before[p], _ = r.Owner(p)
	}

	r.Remove(3)
	r.Remove(3)
	assert.Equal(t, []uint64{1, 2}, r.Members())

	for p := 0; p < 257; p++ {
		after, err := r.Owner(p)
		require.NoError(t, err)
		assert.NotEqual(t, uint64(3), after)
		if before[p] != 3 {
			assert.Equal(t, before[p], after, "partition %d moved", p)
		}
	}
}

func TestRing_Distribution(t *testing.T) {
	r := NewRing(150)
	for _, id := range []uint64{1, 2, 3} {
		r.Add(id)
	}

	stats := r.Distribution(257)
	total := 0
	for id, n := range stats {
		assert.Greater(t, n, 0, "member %d owns nothing", id)
		total += n
	}
	assert.Equal(t, 257, total)
}
