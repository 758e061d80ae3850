package topic

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/id"
	"github.com/maxpert/gridtopic/notify"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/rs/zerolog/log"
)

var (
	subscriberIDs = id.NewUUIDGenerator("subscriber")
	anonymousIDs  = id.NewUUIDGenerator("anonymous")
)

var strides = []int{1, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31}

// Subscriber reads a topic as a member of a subscriber group. Every element is delivered once
// per group; members of a group share the elements between them.
type Subscriber[V any] struct {
	id        string
	group     string
	anonymous bool
	caches    *Caches
	channels  []int
	wait      time.Duration

	mu    sync.Mutex
	heads map[int]int64

	signals     <-chan notify.Signal
	unsubscribe func()
	closed      atomic.Bool
}

// NewSubscriber joins the subscriber group given by InGroup, or a new anonymous group, and
// creates the group heads of its channels.
func NewSubscriber[V any](ctx context.Context, caches *Caches, opts ...SubscriberOption) (*Subscriber[V], error) {
	if caches.IsClosed() {
		return nil, ErrTopicClosed
	}

	c := subscriberConfig{wait: caches.Options().SubscriberWait}
	for _, opt := range opts {
		opt(&c)
	}
	if c.wait <= 0 {
		c.wait = caches.Options().SubscriberWait
	}

	s := &Subscriber[V]{
		id:     subscriberIDs.NextID(),
		group:  c.group,
		caches: caches,
		wait:   c.wait,
		heads:  make(map[int]int64),
	}
	if s.group == "" {
		s.group = anonymousIDs.NextID()
		s.anonymous = true
	}

	if len(c.channels) == 0 {
		for ch := 0; ch < caches.ChannelCount(); ch++ {
			s.channels = append(s.channels, ch)
		}
	} else {
		for _, ch := range c.channels {
			if ch < 0 || ch >= caches.ChannelCount() {
				return nil, fmt.Errorf("%w: %d of %d", ErrInvalidChannel, ch, caches.ChannelCount())
			}
		}
		s.channels = c.channels
	}

	for _, ch := range s.channels {
		head, err := grid.Call[int64](ctx, caches.subscriptions, s.headKey(ch), &EnsureSubscriptionProcessor{
			Topic:    caches.Name(),
			Channel:  ch,
			Group:    s.group,
			FromTail: c.fromTail,
		})
		if err != nil {
			return nil, fmt.Errorf("ensure subscription on channel %d: %w", ch, err)
		}
		s.heads[ch] = head
	}

	if hub := caches.Hub(); hub != nil {
		names := make([]string, len(s.channels))
		for i, ch := range s.channels {
			names[i] = signalName(caches.Name(), ch)
		}
		s.signals, s.unsubscribe = hub.Subscribe(notify.Filter{Names: names})
	}

	telemetry.ActiveSubscribers.Inc()
	log.Debug().
		Str("topic", caches.Name()).
		Str("subscriber", s.id).
		Str("group", s.group).
		Ints("channels", s.channels).
		Msg("Subscriber created")
	return s, nil
}

func (s *Subscriber[V]) headKey(ch int) HeadKey {
	return HeadKey{Partition: s.caches.SyncPartition(ch), Channel: ch, Group: s.group}
}

// ID returns the subscriber id
func (s *Subscriber[V]) ID() string { return s.id }

// Group returns the subscriber group
func (s *Subscriber[V]) Group() string { return s.group }

// IsAnonymous reports whether the group is removed on close
func (s *Subscriber[V]) IsAnonymous() bool { return s.anonymous }

// Channels returns the channels the subscriber reads
func (s *Subscriber[V]) Channels() []int {
	return append([]int(nil), s.channels...)
}

// Heads returns the page each channel is read from next, as last seen by this subscriber
func (s *Subscriber[V]) Heads() map[int]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	heads := make(map[int]int64, len(s.heads))
	for ch, h := range s.heads {
		heads[ch] = h
	}
	return heads
}

// Poll returns up to max elements without waiting. Channels are visited from a random start so
// no channel is starved; a channel with nothing unread contributes nothing.
func (s *Subscriber[V]) Poll(ctx context.Context, max int) ([]Received[V], error) {
	if s.closed.Load() {
		return nil, ErrSubscriberClosed
	}
	if max <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.channels)
	start, step := rand.IntN(n), stride(n)

	var out []Received[V]
	for i := 0; i < n && len(out) < max; i++ {
		ch := s.channels[(start+i*step)%n]
		received, err := s.pollChannel(ctx, ch, max-len(out))
		if err != nil {
			return out, err
		}
		out = append(out, received...)
	}

	result := "empty"
	if len(out) > 0 {
		result = "hit"
		telemetry.SubscriberElementsTotal.With(s.caches.Name()).Add(float64(len(out)))
	}
	telemetry.SubscriberPollsTotal.With(s.caches.Name(), result).Inc()
	return out, nil
}

// pollChannel reads from the head page of ch, moving the group head over exhausted pages
func (s *Subscriber[V]) pollChannel(ctx context.Context, ch int, max int) ([]Received[V], error) {
	var out []Received[V]
	for len(out) < max {
		head := s.heads[ch]
		res, err := grid.Call[PollResult](ctx, s.caches.pages, PageKey{Channel: ch, Page: head}, &PollProcessor{
			Topic:   s.caches.Name(),
			Channel: ch,
			Page:    head,
			Group:   s.group,
			Max:     max - len(out),
		})
		if err != nil {
			return out, err
		}

		for i, element := range res.Elements {
			var v V
			if err := s.caches.Serializer().Deserialize(element.Value, &v); err != nil {
				return out, fmt.Errorf("deserialize element %d:%d:%d: %w", ch, res.Page, res.FirstOffset+i, err)
			}
			out = append(out, Received[V]{
				Value:     v,
				Channel:   ch,
				Position:  Position{Channel: ch, Page: res.Page, Offset: res.FirstOffset + i},
				Timestamp: element.Timestamp,
			})
		}

		if !res.Exhausted {
			break
		}

		next, err := grid.Call[int64](ctx, s.caches.subscriptions, s.headKey(ch), &HeadAdvanceProcessor{
			Expected: head,
			Next:     head + 1,
		})
		if err != nil {
			return out, err
		}
		s.heads[ch] = next
	}
	return out, nil
}

// Release hands received elements that were not processed back to the group. For every channel the
// group position moves back to the earliest released element, so the next read of the group
// returns them again. Elements read after them by other members of the group may repeat.
func (s *Subscriber[V]) Release(ctx context.Context, items []Received[V]) error {
	if s.closed.Load() {
		return ErrSubscriberClosed
	}
	if len(items) == 0 {
		return nil
	}

	type pageRef struct {
		channel int
		page    int64
	}
	offsets := make(map[pageRef]int)
	heads := make(map[int]int64)
	for _, item := range items {
		ref := pageRef{channel: item.Position.Channel, page: item.Position.Page}
		if off, ok := offsets[ref]; !ok || item.Position.Offset < off {
			offsets[ref] = item.Position.Offset
		}
		if h, ok := heads[ref.channel]; !ok || ref.page < h {
			heads[ref.channel] = ref.page
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.caches.CacheService().PartitionCount()
	for ref, offset := range offsets {
		key := SubscriptionKey{
			Partition: PageKey{Channel: ref.channel, Page: ref.page}.PartitionKey(count),
			Channel:   ref.channel,
			Group:     s.group,
		}
		_, err := grid.Call[bool](ctx, s.caches.subscriptions, key, &PositionRewindProcessor{
			Group:   s.group,
			Channel: ref.channel,
			Page:    ref.page,
			Offset:  offset,
		})
		if err != nil {
			return fmt.Errorf("release %s: %w", Position{Channel: ref.channel, Page: ref.page, Offset: offset}, err)
		}
	}

	for ch, page := range heads {
		head, err := grid.Call[int64](ctx, s.caches.subscriptions, s.headKey(ch), &HeadRewindProcessor{Page: page})
		if err != nil {
			return fmt.Errorf("rewind head of channel %d: %w", ch, err)
		}
		s.heads[ch] = head
	}

	log.Debug().
		Str("topic", s.caches.Name()).
		Str("group", s.group).
		Int("elements", len(items)).
		Msg("Elements released to group")
	return nil
}

// Receive blocks until an element is available or ctx is done. Local insertions wake it
// immediately; otherwise it polls with exponential backoff capped at the subscriber wait.
func (s *Subscriber[V]) Receive(ctx context.Context) (Received[V], error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = s.wait
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		items, err := s.Poll(ctx, 1)
		if err != nil {
			return Received[V]{}, err
		}
		if len(items) > 0 {
			return items[0], nil
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return Received[V]{}, ctx.Err()
		case <-s.signals:
			b.Reset()
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Close leaves the group. An anonymous group is removed from every partition.
func (s *Subscriber[V]) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	telemetry.ActiveSubscribers.Dec()

	if !s.anonymous {
		return nil
	}

	count := s.caches.CacheService().PartitionCount()
	keys := make([]grid.Key, count)
	for p := range keys {
		keys[p] = groupKey{Partition: p, Group: s.group}
	}
	removed, err := grid.InvokeAll[int](ctx, s.caches.subscriptions, keys, &RemoveSubscriptionProcessor{
		Group:    s.group,
		Channels: s.channels,
	})
	if err != nil {
		return fmt.Errorf("remove group %s: %w", s.group, err)
	}

	total := 0
	for _, n := range removed {
		total += n
	}
	log.Debug().
		Str("topic", s.caches.Name()).
		Str("group", s.group).
		Int("entries", total).
		Msg("Anonymous group removed")
	return nil
}

// stride returns a step coprime with n so every channel is visited once
func stride(n int) int {
	candidates := make([]int, 0, len(strides))
	for _, p := range strides {
		if p == 1 || n%p != 0 {
			candidates = append(candidates, p)
		}
	}
	return candidates[rand.IntN(len(candidates))]
}
