package grid

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/gridtopic/encoding"
	"golang.org/x/sync/errgroup"
)

// Invoker is the partitioned store as seen by its clients. A local Service and a cluster Router
// both implement it.
type Invoker interface {
	PartitionCount() int
	Invoke(ctx context.Context, mapName string, partition int, key []byte, p Processor) ([]byte, error)
	Get(ctx context.Context, mapName string, partition int, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, mapName string, partition int, key, value []byte) error
	Remove(ctx context.Context, mapName string, partition int, key []byte) error
	EnsureMap(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) (bool, error)
	Destroy(ctx context.Context, name string) error
}

// Key is a partition-aware map key. Keys that must be updated together by one processor return
// the same partition.
type Key interface {
	PartitionKey(count int) int
	Encode() []byte
}

// StringKey is a key placed by the hash of its text
type StringKey string

func (k StringKey) PartitionKey(count int) int {
	return int(xxhash.Sum64String(string(k)) % uint64(count))
}

func (k StringKey) Encode() []byte {
	return []byte(k)
}

// Map is a named map of an Invoker. Closing the handle leaves the map and its data in place.
type Map struct {
	name    string
	invoker Invoker
	closed  atomic.Bool
}

// NewMap returns a handle for the named map. It does not ensure the map.
func NewMap(invoker Invoker, name string) *Map {
	return &Map{name: name, invoker: invoker}
}

// Name returns the map name
func (m *Map) Name() string { return m.name }

// Invoker returns the store the map lives in
func (m *Map) Invoker() Invoker { return m.invoker }

// PartitionOf returns the partition owning k
func (m *Map) PartitionOf(k Key) int {
	return k.PartitionKey(m.invoker.PartitionCount())
}

// Close releases the handle. Later calls through it fail with ErrMapClosed, and so does a
// second Close.
func (m *Map) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", m.name, ErrMapClosed)
	}
	return nil
}

// IsClosed reports whether Close was called
func (m *Map) IsClosed() bool { return m.closed.Load() }

func (m *Map) check() error {
	if m.closed.Load() {
		return fmt.Errorf("%s: %w", m.name, ErrMapClosed)
	}
	return nil
}

// Ensure activates the map
func (m *Map) Ensure(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.invoker.EnsureMap(ctx, m.name)
}

// IsActive reports whether the map is active. A closed handle is never active.
func (m *Map) IsActive(ctx context.Context) (bool, error) {
	if m.closed.Load() {
		return false, nil
	}
	return m.invoker.IsActive(ctx, m.name)
}

// Destroy drops the map and its data. It works on a closed handle.
func (m *Map) Destroy(ctx context.Context) error {
	return m.invoker.Destroy(ctx, m.name)
}

// Get decodes the value stored under k into v and reports whether it was present
func (m *Map) Get(ctx context.Context, k Key, v any) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}
	data, found, err := m.invoker.Get(ctx, m.name, m.PartitionOf(k), k.Encode())
	if err != nil || !found {
		return false, err
	}
	return true, encoding.Unmarshal(data, v)
}

// Put encodes v and stores it under k
func (m *Map) Put(ctx context.Context, k Key, v any) error {
	if err := m.check(); err != nil {
		return err
	}
	data, err := encoding.Marshal(v)
	if err != nil {
		return err
	}
	return m.invoker.Put(ctx, m.name, m.PartitionOf(k), k.Encode(), data)
}

// Remove deletes k
func (m *Map) Remove(ctx context.Context, k Key) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.invoker.Remove(ctx, m.name, m.PartitionOf(k), k.Encode())
}

// Call runs p against k on the owning member and decodes the result into R
func Call[R any](ctx context.Context, m *Map, k Key, p Processor) (R, error) {
	var result R
	if err := m.check(); err != nil {
		return result, err
	}
	data, err := m.invoker.Invoke(ctx, m.name, m.PartitionOf(k), k.Encode(), p)
	if err != nil {
		return result, err
	}
	if err := encoding.Unmarshal(data, &result); err != nil {
		return result, err
	}
	return result, nil
}

// Invoke is the asynchronous form of Call
func Invoke[R any](ctx context.Context, m *Map, k Key, p Processor) *future.Future[R] {
	promise := future.NewPromise[R]()
	go func() {
		promise.Set(Call[R](ctx, m, k, p))
	}()
	return promise.Future()
}

// InvokeAll runs p against every key in parallel. Results are positional; the first error
// cancels the remaining calls.
func InvokeAll[R any](ctx context.Context, m *Map, keys []Key, p Processor) ([]R, error) {
	results := make([]R, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		g.Go(func() error {
			r, err := Call[R](gctx, m, k, p)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
