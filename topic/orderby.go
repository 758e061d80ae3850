package topic

import (
	"context"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// OrderBy picks the channel a value is published to. Values sent to one channel are stored in
// the order they were published; there is no ordering across channels.
type OrderBy[V any] interface {
	Channel(producer string, value V, count int) int
}

type producerKey struct{}

// WithProducer tags ctx with a producer identity. Under OrderByThread every value published with
// the same producer lands on the same channel.
func WithProducer(ctx context.Context, producer string) context.Context {
	return context.WithValue(ctx, producerKey{}, producer)
}

// ProducerFrom returns the producer set by WithProducer
func ProducerFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(producerKey{}).(string)
	return p, ok && p != ""
}

type orderByThread[V any] struct{}

// OrderByThread keeps the values of each producer in order. Producers without an explicit
// identity use the publisher id, which orders every value of the publisher.
func OrderByThread[V any]() OrderBy[V] {
	return orderByThread[V]{}
}

func (orderByThread[V]) Channel(producer string, _ V, count int) int {
	return int(xxhash.Sum64String(producer) % uint64(count))
}

type orderByNone[V any] struct {
	next atomic.Uint64
}

// OrderByNone spreads values over all channels with no ordering guarantee
func OrderByNone[V any]() OrderBy[V] {
	return &orderByNone[V]{}
}

func (o *orderByNone[V]) Channel(_ string, _ V, count int) int {
	return int((o.next.Add(1) - 1) % uint64(count))
}

type orderByID[V any] struct {
	channel int
}

// OrderByID sends every value to one channel
func OrderByID[V any](channel int) OrderBy[V] {
	return orderByID[V]{channel: channel}
}

func (o orderByID[V]) Channel(_ string, _ V, count int) int {
	return floorMod(o.channel, count)
}

type orderByValue[V any] struct {
	fn func(V) int
}

// OrderByValue orders values sharing the key returned by fn
func OrderByValue[V any](fn func(V) int) OrderBy[V] {
	return orderByValue[V]{fn: fn}
}

func (o orderByValue[V]) Channel(_ string, value V, count int) int {
	return floorMod(o.fn(value), count)
}

func floorMod(n, count int) int {
	return ((n % count) + count) % count
}
