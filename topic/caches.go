package topic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/notify"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Caches is the handle of one topic: the four grid maps holding its pages, elements,
// subscriptions and metadata. One handle is shared by every publisher and subscriber created
// from it. Two handles are equal when they name the same topic.
type Caches struct {
	name          string
	service       grid.Invoker
	options       Options
	info          TopicInfo
	pages         *grid.Map
	data          *grid.Map
	subscriptions *grid.Map
	metadata      *grid.Map
	hub           *notify.Hub

	mu        sync.Mutex
	listeners map[uint64]func()
	nextID    uint64
	closed    atomic.Bool
}

// NewCaches ensures the maps of topic name and stores its settings unless another member already
// created the topic, in which case the stored channel count and page capacity win.
func NewCaches(ctx context.Context, name string, service grid.Invoker, opts Options) (*Caches, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return nil, fmt.Errorf("invalid topic name %q", name)
	}
	opts = opts.withDefaults()

	c := &Caches{
		name:          name,
		service:       service,
		pages:         grid.NewMap(service, pagesMapName(name)),
		data:          grid.NewMap(service, dataMapName(name)),
		subscriptions: grid.NewMap(service, subscriptionsMapName(name)),
		metadata:      grid.NewMap(service, metadataMapName(name)),
		listeners:     make(map[uint64]func()),
	}
	if h, ok := service.(interface{ Hub() *notify.Hub }); ok {
		c.hub = h.Hub()
	}

	for _, m := range c.maps() {
		if err := m.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("ensure %s: %w", m.Name(), err)
		}
	}

	info, err := grid.Call[TopicInfo](ctx, c.metadata, grid.StringKey(name), &EnsureTopicProcessor{Info: TopicInfo{
		Name:            name,
		ChannelCount:    opts.ChannelCount,
		PageCapacity:    opts.PageCapacity,
		MaxElementBytes: opts.MaxElementBytes,
	}})
	if err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", name, err)
	}

	opts.ChannelCount = info.ChannelCount
	opts.PageCapacity = info.PageCapacity
	opts.MaxElementBytes = info.MaxElementBytes
	c.options = opts
	c.info = info

	telemetry.TopicsOpen.Inc()
	log.Debug().
		Str("topic", name).
		Int("channels", info.ChannelCount).
		Int("page_capacity", info.PageCapacity).
		Msg("Topic opened")
	return c, nil
}

func (c *Caches) maps() []*grid.Map {
	return []*grid.Map{c.pages, c.data, c.subscriptions, c.metadata}
}

// Name returns the topic name
func (c *Caches) Name() string { return c.name }

// Info returns the stored topic settings
func (c *Caches) Info() TopicInfo { return c.info }

// Options returns the effective options of the handle
func (c *Caches) Options() Options { return c.options }

// ChannelCount returns the number of channels
func (c *Caches) ChannelCount() int { return c.options.ChannelCount }

// PageCapacity returns the element slots per page
func (c *Caches) PageCapacity() int { return c.options.PageCapacity }

// CacheService returns the grid the topic lives in
func (c *Caches) CacheService() grid.Invoker { return c.service }

// Serializer returns the value serializer
func (c *Caches) Serializer() encoding.Serializer { return c.options.Serializer }

// Hub returns the local insertion notifier, nil when the grid has none
func (c *Caches) Hub() *notify.Hub { return c.hub }

// Equal reports whether both handles name the same topic
func (c *Caches) Equal(other *Caches) bool {
	return other != nil && c.name == other.name
}

// SyncPartition returns the partition holding the publication tail and group heads of channel
func (c *Caches) SyncPartition(channel int) int {
	return syncPartition(c.name, channel, c.service.PartitionCount())
}

// IsActive reports whether the handle is open and every map is active
func (c *Caches) IsActive(ctx context.Context) (bool, error) {
	if c.closed.Load() {
		return false, nil
	}
	for _, m := range c.maps() {
		active, err := m.IsActive(ctx)
		if err != nil || !active {
			return false, err
		}
	}
	return true, nil
}

// IsClosed reports whether Close or Destroy was called on this handle
func (c *Caches) IsClosed() bool {
	return c.closed.Load()
}

// ChannelTails returns the publication tail page of every channel, -1 for channels never
// published to
func (c *Caches) ChannelTails(ctx context.Context) ([]int64, error) {
	tails := make([]int64, c.ChannelCount())
	for ch := range tails {
		usage := newUsage()
		if _, err := c.pages.Get(ctx, UsageKey{Partition: c.SyncPartition(ch), Channel: ch}, &usage); err != nil {
			return nil, err
		}
		tails[ch] = usage.PublicationTail
	}
	return tails, nil
}

// onDestroy registers fn to run when the topic is destroyed through this handle. The returned
// function unregisters it.
func (c *Caches) onDestroy(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close releases the handle of every map. Data stays in the grid. Publishers and subscribers
// created from the handle fail with grid.ErrMapClosed afterwards.
func (c *Caches) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	for _, m := range c.maps() {
		if e := m.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", m.Name(), e))
		}
	}
	telemetry.TopicsOpen.Dec()
	log.Debug().Str("topic", c.name).Err(err).Msg("Topic closed")
	return err
}

// Destroy drops every map of the topic and fails the outstanding values of publishers created
// from this handle.
func (c *Caches) Destroy(ctx context.Context) error {
	var err error
	for _, m := range c.maps() {
		if e := m.Destroy(ctx); e != nil && !errors.Is(e, grid.ErrMapNotActive) {
			err = multierr.Append(err, fmt.Errorf("destroy %s: %w", m.Name(), e))
		}
	}

	c.mu.Lock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	clear(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	if c.closed.CompareAndSwap(false, true) {
		telemetry.TopicsOpen.Dec()
	}
	log.Info().Str("topic", c.name).Err(err).Msg("Topic destroyed")
	return err
}
