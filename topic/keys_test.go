package topic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementsLiveWithTheirPage(t *testing.T) {
	for ch := 0; ch < 5; ch++ {
		for page := int64(0); page < 50; page++ {
			want := PageKey{Channel: ch, Page: page}.PartitionKey(testPartitions)
			for offset := 0; offset < 4; offset++ {
				pos := Position{Channel: ch, Page: page, Offset: offset}
				assert.Equal(t, want, pos.PartitionKey(testPartitions))
			}
		}
	}
}

func TestConsecutivePagesSpread(t *testing.T) {
	seen := make(map[int]bool)
	for page := int64(0); page < testPartitions; page++ {
		seen[PageKey{Channel: 3, Page: page}.PartitionKey(testPartitions)] = true
	}
	assert.Len(t, seen, testPartitions)
}

func TestGroupScopedKeysStayInTheirPartition(t *testing.T) {
	assert.Equal(t, 7, HeadKey{Partition: 7, Channel: 1, Group: "g"}.PartitionKey(testPartitions))
	assert.Equal(t, 7, SubscriptionKey{Partition: 7, Channel: 1, Group: "g"}.PartitionKey(testPartitions))
	assert.Equal(t, 7, UsageKey{Partition: 7, Channel: 1}.PartitionKey(testPartitions))
	assert.Equal(t, 7, groupKey{Partition: 7, Group: "g"}.PartitionKey(testPartitions))
}

func TestKeyEncodingsAreDistinct(t *testing.T) {
	keys := [][]byte{
		PageKey{Channel: 1, Page: 2}.Encode(),
		UsageKey{Partition: 1, Channel: 2}.Encode(),
		HeadKey{Partition: 1, Channel: 2, Group: "g"}.Encode(),
		SubscriptionKey{Partition: 1, Channel: 2, Group: "g"}.Encode(),
		groupKey{Partition: 1, Group: "g"}.Encode(),
	}
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			assert.False(t, bytes.Equal(keys[i], keys[j]), "keys %d and %d collide", i, j)
		}
	}

	assert.NotEqual(t,
		HeadKey{Partition: 1, Channel: 2, Group: "a"}.Encode(),
		HeadKey{Partition: 1, Channel: 2, Group: "b"}.Encode())
}

func TestPositionOrdering(t *testing.T) {
	a := Position{Channel: 0, Page: 1, Offset: 5}
	b := Position{Channel: 0, Page: 2, Offset: 0}
	c := Position{Channel: 0, Page: 2, Offset: 1}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, "0:2:1", c.String())
}

func TestSyncPartitionIsStable(t *testing.T) {
	assert.Equal(t, syncPartition("orders", 2, testPartitions), syncPartition("orders", 2, testPartitions))
	assert.Equal(t, "orders/2", signalName("orders", 2))
}
