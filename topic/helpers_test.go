package topic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxpert/gridtopic/grid"
	"github.com/stretchr/testify/require"
)

const testPartitions = 31

func testOptions() Options {
	return Options{
		ChannelCount:   3,
		PageCapacity:   4,
		MaxBatchSize:   8,
		CloseTimeout:   2 * time.Second,
		SubscriberWait: 50 * time.Millisecond,
	}
}

func newTestTopic(t *testing.T, name string, opts Options) *Caches {
	t.Helper()
	return newTestTopicOn(t, grid.NewMemoryService(testPartitions), name, opts)
}

func newTestTopicOn(t *testing.T, service grid.Invoker, name string, opts Options) *Caches {
	t.Helper()
	c, err := NewCaches(context.Background(), name, service, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestPublisher[V any](t *testing.T, c *Caches, opts ...PublisherOption) *Publisher[V] {
	t.Helper()
	p, err := NewPublisher[V](c, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func await(t *testing.T, op *PublishFuture) (Status, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return op.Wait(ctx)
}

// blockingInvoker never answers offers until the caller gives up
type blockingInvoker struct {
	*grid.Service
}

func (b blockingInvoker) Invoke(ctx context.Context, mapName string, partition int, key []byte, p grid.Processor) ([]byte, error) {
	if p.Kind() == grid.KindOffer {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.Service.Invoke(ctx, mapName, partition, key, p)
}

var errOfferFailed = errors.New("offer failed")

// failingInvoker fails every offer
type failingInvoker struct {
	*grid.Service
}

func (f failingInvoker) Invoke(ctx context.Context, mapName string, partition int, key []byte, p grid.Processor) ([]byte, error) {
	if p.Kind() == grid.KindOffer {
		return nil, errOfferFailed
	}
	return f.Service.Invoke(ctx, mapName, partition, key, p)
}
