package hlc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenClock(nodeID uint64, wall *int64) *Clock {
	return newClockWithSource(nodeID, func() int64 { return *wall })
}

func TestClock_NowMonotonic(t *testing.T) {
	clock := NewClock(1)

	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		next := clock.Now()
		require.True(t, Less(prev, next), "timestamp %d went backwards", i)
		prev = next
	}
}

func TestClock_NowSameWallIncrementsLogical(t *testing.T) {
	wall := int64(1000)
	clock := frozenClock(1, &wall)

	a := clock.Now()
	b := clock.Now()

	assert.Equal(t, a.WallTime, b.WallTime)
	assert.Equal(t, a.Logical+1, b.Logical)

	wall = 2000
	c := clock.Now()
	assert.Equal(t, int64(2000), c.WallTime)
	assert.Equal(t, int32(0), c.Logical)
}

func TestClock_UpdateFromAheadRemote(t *testing.T) {
	wall := int64(1000)
	clock := frozenClock(1, &wall)

	remote := Timestamp{WallTime: 5000, Logical: 3, NodeID: 2}
	got := clock.Update(remote)

	assert.Equal(t, int64(5000), got.WallTime)
	assert.Equal(t, int32(4), got.Logical)
	assert.True(t, Less(remote, got))
	assert.True(t, Less(got, clock.Now()))
}

func TestClock_UpdateFromBehindRemote(t *testing.T) {
	wall := int64(9000)
	clock := frozenClock(1, &wall)
	local := clock.Now()

	got := clock.Update(Timestamp{WallTime: 10, Logical: 50, NodeID: 2})
	assert.True(t, Less(local, got))
	assert.Equal(t, local.WallTime, got.WallTime)
}

func TestClock_UpdateEqualWall(t *testing.T) {
	wall := int64(1000)
	clock := frozenClock(1, &wall)
	clock.Now()

	got := clock.Update(Timestamp{WallTime: 1000, Logical: 7, NodeID: 2})
	assert.Equal(t, int32(8), got.Logical)
}

func TestCompare_TieBreaksOnNode(t *testing.T) {
	a := Timestamp{WallTime: 1, Logical: 1, NodeID: 1}
	b := Timestamp{WallTime: 1, Logical: 1, NodeID: 2}

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, 0, Compare(a, a))
	assert.True(t, Timestamp{}.IsZero())
}

func TestClock_ConcurrentUnique(t *testing.T) {
	clock := NewClock(1)
	var mu sync.Mutex
	seen := make(map[Timestamp]bool)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}
