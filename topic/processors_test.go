package topic

import (
	"context"
	"testing"

	"github.com/maxpert/gridtopic/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offer(t *testing.T, c *Caches, channel int, page int64, capacity int, values ...string) OfferResult {
	t.Helper()
	raw := make([][]byte, len(values))
	for i, v := range values {
		raw[i] = []byte(v)
	}
	result, err := grid.Call[OfferResult](context.Background(), c.pages, PageKey{Channel: channel, Page: page}, &OfferProcessor{
		Topic:           c.Name(),
		Channel:         channel,
		Page:            page,
		Values:          raw,
		PageCapacity:    capacity,
		MaxElementBytes: c.Options().MaxElementBytes,
	})
	require.NoError(t, err)
	return result
}

func TestOfferProcessor_PartialAcceptSealsPage(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())

	result := offer(t, c, 0, 0, 2, "a", "b", "c")
	assert.Equal(t, OfferSuccess, result.Status)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 1, result.Tail)
	assert.True(t, result.Sealed)
	assert.Equal(t, 2, result.Capacity, "a sealed page reports a whole page of capacity")

	var page Page
	found, err := c.pages.Get(context.Background(), PageKey{Channel: 0, Page: 0}, &page)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, page.Sealed)
	assert.Equal(t, 2, page.Size())
	assert.Equal(t, 2, page.ByteSize)

	again := offer(t, c, 0, 0, 2, "c")
	assert.Equal(t, OfferPageSealed, again.Status)
	assert.Equal(t, 0, again.Accepted)
	assert.Equal(t, 1, again.Tail)
}

func TestOfferProcessor_AppendsInOrder(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())

	first := offer(t, c, 1, 0, 4, "a")
	assert.Equal(t, 0, first.Tail)
	assert.Equal(t, 3, first.Capacity)
	assert.False(t, first.Sealed)

	second := offer(t, c, 1, 0, 4, "b", "c")
	assert.Equal(t, 2, second.Tail)
	assert.Equal(t, 1, second.Capacity)

	for offset, want := range []string{"a", "b", "c"} {
		var e Element
		found, err := c.data.Get(context.Background(), Position{Channel: 1, Page: 0, Offset: offset}, &e)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, string(e.Value))
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestOfferProcessor_OversizedValues(t *testing.T) {
	opts := testOptions()
	opts.MaxElementBytes = 3
	c := newTestTopic(t, "orders", opts)

	result := offer(t, c, 0, 0, 4, "ok", "too-long", "ok2")
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, 2, result.Appended())
	assert.Equal(t, 1, result.Tail)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[1], "exceeds")
	assert.Equal(t, 2, result.Capacity)
}

func TestOfferProcessor_RemovedPageIsSealed(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())

	// pages 9 and 40 share a partition
	require.Equal(t,
		pagePartition(0, 9, testPartitions),
		pagePartition(0, 40, testPartitions))

	offer(t, c, 0, 40, 4, "a")
	result := offer(t, c, 0, 9, 4, "b")
	assert.Equal(t, OfferPageSealed, result.Status)
	assert.Equal(t, 0, result.Accepted)
}

func TestTailProcessors(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()
	key := UsageKey{Partition: c.SyncPartition(2), Channel: 2}

	tail, err := grid.Call[int64](ctx, c.pages, key, &EnsureTailProcessor{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), tail)

	tail, err = grid.Call[int64](ctx, c.pages, key, &TailAdvanceProcessor{Page: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tail)

	tail, err = grid.Call[int64](ctx, c.pages, key, &TailAdvanceProcessor{Page: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tail, "advancing off an old page keeps the tail")

	tail, err = grid.Call[int64](ctx, c.pages, key, &EnsureTailProcessor{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tail)

	tails, err := c.ChannelTails(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -1, 1}, tails)
}

func TestPollProcessor(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()

	poll := func(page int64, max int) PollResult {
		t.Helper()
		r, err := grid.Call[PollResult](ctx, c.pages, PageKey{Channel: 0, Page: page}, &PollProcessor{
			Topic: c.Name(), Channel: 0, Page: page, Group: "g", Max: max,
		})
		require.NoError(t, err)
		return r
	}

	empty := poll(0, 10)
	assert.Empty(t, empty.Elements)
	assert.False(t, empty.Exhausted)

	offer(t, c, 0, 0, 3, "a", "b")

	r := poll(0, 1)
	require.Len(t, r.Elements, 1)
	assert.Equal(t, 0, r.FirstOffset)
	assert.Equal(t, "a", string(r.Elements[0].Value))
	assert.False(t, r.Exhausted)

	r = poll(0, 10)
	require.Len(t, r.Elements, 1)
	assert.Equal(t, 1, r.FirstOffset)
	assert.False(t, r.Exhausted, "the page is not sealed yet")

	offer(t, c, 0, 0, 3, "c", "d")

	r = poll(0, 10)
	require.Len(t, r.Elements, 1)
	assert.Equal(t, "c", string(r.Elements[0].Value))
	assert.True(t, r.Exhausted)

	var pos SubscriptionPosition
	found, err := c.subscriptions.Get(ctx, SubscriptionKey{
		Partition: pagePartition(0, 0, testPartitions), Channel: 0, Group: "g",
	}, &pos)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, pos.Offset)
}

func TestHeadAdvanceProcessor(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()
	key := HeadKey{Partition: c.SyncPartition(0), Channel: 0, Group: "g"}

	_, err := grid.Call[int64](ctx, c.subscriptions, key, &HeadAdvanceProcessor{Expected: 0, Next: 1})
	assert.ErrorIs(t, err, ErrSubscriptionMissing)

	head, err := grid.Call[int64](ctx, c.subscriptions, key, &EnsureSubscriptionProcessor{Topic: c.Name(), Channel: 0, Group: "g"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)

	head, err = grid.Call[int64](ctx, c.subscriptions, key, &HeadAdvanceProcessor{Expected: 0, Next: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	head, err = grid.Call[int64](ctx, c.subscriptions, key, &HeadAdvanceProcessor{Expected: 0, Next: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), head, "a stale expectation leaves the head alone")
}

func TestRewindProcessors(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()
	headKey := HeadKey{Partition: c.SyncPartition(0), Channel: 0, Group: "g"}
	posKey := SubscriptionKey{Partition: PageKey{Channel: 0, Page: 2}.PartitionKey(testPartitions), Channel: 0, Group: "g"}

	_, err := grid.Call[int64](ctx, c.subscriptions, headKey, &HeadRewindProcessor{Page: 0})
	assert.ErrorIs(t, err, ErrSubscriptionMissing)

	_, err = grid.Call[int64](ctx, c.subscriptions, headKey, &EnsureSubscriptionProcessor{Topic: c.Name(), Channel: 0, Group: "g"})
	require.NoError(t, err)
	_, err = grid.Call[int64](ctx, c.subscriptions, headKey, &HeadAdvanceProcessor{Expected: 0, Next: 3})
	require.NoError(t, err)

	head, err := grid.Call[int64](ctx, c.subscriptions, headKey, &HeadRewindProcessor{Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)
	head, err = grid.Call[int64](ctx, c.subscriptions, headKey, &HeadRewindProcessor{Page: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), head, "a head behind the target stays")

	rewind := func(page int64, offset int) bool {
		moved, err := grid.Call[bool](ctx, c.subscriptions, posKey, &PositionRewindProcessor{Group: "g", Channel: 0, Page: page, Offset: offset})
		require.NoError(t, err)
		return moved
	}
	position := func() SubscriptionPosition {
		var pos SubscriptionPosition
		found, err := c.subscriptions.Get(ctx, posKey, &pos)
		require.NoError(t, err)
		require.True(t, found)
		return pos
	}

	assert.True(t, rewind(2, 3), "a missing position is created")
	assert.Equal(t, SubscriptionPosition{Group: "g", Channel: 0, Page: 2, Offset: 3}, position())

	assert.False(t, rewind(2, 3))
	assert.False(t, rewind(2, 4))
	assert.True(t, rewind(2, 1))
	assert.Equal(t, 1, position().Offset)
}

func TestEnsureSubscriptionFromTail(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()

	usage := UsageKey{Partition: c.SyncPartition(1), Channel: 1}
	_, err := grid.Call[int64](ctx, c.pages, usage, &TailAdvanceProcessor{Page: 4})
	require.NoError(t, err)

	key := HeadKey{Partition: c.SyncPartition(1), Channel: 1, Group: "late"}
	head, err := grid.Call[int64](ctx, c.subscriptions, key, &EnsureSubscriptionProcessor{
		Topic: c.Name(), Channel: 1, Group: "late", FromTail: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), head)

	head, err = grid.Call[int64](ctx, c.subscriptions, key, &EnsureSubscriptionProcessor{Topic: c.Name(), Channel: 1, Group: "late"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), head, "an existing head is kept")
}

func TestRemoveSubscriptionProcessor(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	ctx := context.Background()

	for ch := 0; ch < c.ChannelCount(); ch++ {
		_, err := grid.Call[int64](ctx, c.subscriptions, HeadKey{Partition: c.SyncPartition(ch), Channel: ch, Group: "g"},
			&EnsureSubscriptionProcessor{Topic: c.Name(), Channel: ch, Group: "g"})
		require.NoError(t, err)
	}

	keys := make([]grid.Key, testPartitions)
	for p := range keys {
		keys[p] = groupKey{Partition: p, Group: "g"}
	}
	removed, err := grid.InvokeAll[int](ctx, c.subscriptions, keys, &RemoveSubscriptionProcessor{Group: "g", Channels: []int{0, 1, 2}})
	require.NoError(t, err)

	total := 0
	for _, n := range removed {
		total += n
	}
	assert.Equal(t, 3, total)

	var head SubscriptionHead
	found, err := c.subscriptions.Get(ctx, HeadKey{Partition: c.SyncPartition(0), Channel: 0, Group: "g"}, &head)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEnsureTopicProcessor_FirstWriterWins(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)

	first := newTestTopicOn(t, svc, "orders", testOptions())

	other := testOptions()
	other.ChannelCount = 9
	other.PageCapacity = 100
	second := newTestTopicOn(t, svc, "orders", other)

	assert.Equal(t, first.ChannelCount(), second.ChannelCount())
	assert.Equal(t, 3, second.ChannelCount())
	assert.Equal(t, 4, second.PageCapacity())
	assert.False(t, second.Info().CreatedAt.IsZero())
}
