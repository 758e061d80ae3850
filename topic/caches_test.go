package topic

import (
	"context"
	"sync"
	"testing"

	"github.com/maxpert/gridtopic/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCaches_EnsuresMaps(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)
	c := newTestTopicOn(t, svc, "orders", testOptions())

	assert.ElementsMatch(t,
		[]string{"orders-pages", "orders-data", "orders-subscriptions", "orders-metadata"},
		svc.Maps())

	active, err := c.IsActive(context.Background())
	require.NoError(t, err)
	assert.True(t, active)

	assert.Equal(t, "orders", c.Name())
	assert.Equal(t, 3, c.ChannelCount())
	assert.Equal(t, 4, c.PageCapacity())
	assert.NotNil(t, c.Serializer())
	assert.NotNil(t, c.Hub())
	assert.Equal(t, grid.Invoker(svc), c.CacheService())
}

func TestCaches_InvalidName(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)
	for _, name := range []string{"", "a/b", "nul\x00"} {
		_, err := NewCaches(context.Background(), name, svc, testOptions())
		assert.Error(t, err, "%q", name)
	}
}

func TestCaches_EqualByName(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)
	a := newTestTopicOn(t, svc, "orders", testOptions())
	b := newTestTopicOn(t, svc, "orders", testOptions())
	other := newTestTopicOn(t, svc, "payments", testOptions())

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(other))
	assert.False(t, a.Equal(nil))
}

func TestCaches_CloseKeepsData(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)
	c := newTestTopicOn(t, svc, "orders", testOptions())
	p := newTestPublisher[int](t, c)
	publishAll(t, p, 1, 2, 3)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	active, err := c.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	reopened := newTestTopicOn(t, svc, "orders", testOptions())
	s := newTestSubscriber(t, reopened)
	assert.Equal(t, []int{1, 2, 3}, values(drain(t, s)))
}

func TestCaches_CloseReleasesEveryMap(t *testing.T) {
	ctx := context.Background()
	c := newTestTopic(t, "orders", testOptions())
	s := newTestSubscriber(t, c)

	require.NoError(t, c.Close())
	for _, m := range c.maps() {
		assert.True(t, m.IsClosed(), m.Name())
	}
	_, err := c.ChannelTails(ctx)
	assert.ErrorIs(t, err, grid.ErrMapClosed)
	_, err = s.Poll(ctx, 10)
	assert.ErrorIs(t, err, grid.ErrMapClosed)
}

func TestCaches_CloseAggregatesMapErrors(t *testing.T) {
	c := newTestTopic(t, "orders", testOptions())
	require.NoError(t, c.pages.Close())
	require.NoError(t, c.data.Close())

	err := c.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, grid.ErrMapClosed)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "close orders-pages")
	assert.Contains(t, err.Error(), "close orders-data")
	assert.True(t, c.subscriptions.IsClosed())
	assert.True(t, c.IsClosed())
}

func TestCaches_Destroy(t *testing.T) {
	svc := grid.NewMemoryService(testPartitions)
	c := newTestTopicOn(t, svc, "orders", testOptions())

	destroyed := 0
	c.onDestroy(func() { destroyed++ })
	unregister := c.onDestroy(func() { destroyed += 100 })
	unregister()

	require.NoError(t, c.Destroy(context.Background()))
	assert.Equal(t, 1, destroyed)
	assert.Empty(t, svc.Maps())

	active, err := c.IsActive(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSession_SharesHandles(t *testing.T) {
	s := NewSession(grid.NewMemoryService(testPartitions), testOptions())
	t.Cleanup(func() { s.Close() })

	opened := make(chan string, 4)
	s.OnOpen(func(c *Caches) { opened <- c.Name() })

	var wg sync.WaitGroup
	handles := make([]*Caches, 8)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Topic(context.Background(), "orders")
			assert.NoError(t, err)
			handles[i] = c
		}()
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, "orders", <-opened)
	assert.Len(t, opened, 0, "a topic is opened once")

	_, err := s.Topic(context.Background(), "payments")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "payments"}, s.Topics())
	assert.Len(t, s.OpenTopics(), 2)

	c, ok := s.Lookup("orders")
	require.True(t, ok)
	assert.Same(t, handles[0], c)

	_, ok = s.Lookup("missing")
	assert.False(t, ok)
}

func TestSession_DestroyAndReopen(t *testing.T) {
	s := NewSession(grid.NewMemoryService(testPartitions), testOptions())
	t.Cleanup(func() { s.Close() })

	first, err := s.Topic(context.Background(), "orders")
	require.NoError(t, err)

	require.NoError(t, s.Destroy(context.Background(), "orders"))
	assert.True(t, first.IsClosed())
	assert.Empty(t, s.Topics())

	second, err := s.Topic(context.Background(), "orders")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, s.Close())
	assert.True(t, second.IsClosed())
	assert.Empty(t, s.Topics())
}
