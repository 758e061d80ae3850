package topic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/gridtopic/batching"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/id"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var publisherIDs = id.NewUUIDGenerator("publisher")

// PublishFuture acknowledges one published value with its Status
type PublishFuture = batching.Op[[]byte, Status]

// PublisherStats counts what a publisher did so far
type PublisherStats struct {
	Offers    int64
	Accepted  int64
	Misses    int64
	Rotations int64
	Failures  int64
	Pending   int
}

type publisherChannel struct {
	id    int
	queue *batching.Queue[[]byte, Status]
	tail  atomic.Int64
	usage UsageKey
}

// updateTail raises the known publication tail and returns the resulting value
func (c *publisherChannel) updateTail(tail int64) int64 {
	for {
		current := c.tail.Load()
		if current >= tail {
			return current
		}
		if c.tail.CompareAndSwap(current, tail) {
			return tail
		}
	}
}

// Publisher appends values to a topic. Values are queued per channel and sent to the page at the
// channel's publication tail in batches; Publish never blocks on the grid.
type Publisher[V any] struct {
	id           string
	caches       *Caches
	orderBy      OrderBy[V]
	onFailure    OnFailure
	closeTimeout time.Duration
	batchSize    int
	channels     []*publisherChannel
	flights      singleflight.Group

	ctx        context.Context
	cancel     context.CancelFunc
	active     atomic.Bool
	closeOnce  sync.Once
	finishOnce sync.Once
	closed     *future.Promise[struct{}]
	unregister func()

	mu       sync.Mutex
	onClose  []func()
	finished bool

	offers    atomic.Int64
	accepted  atomic.Int64
	misses    atomic.Int64
	rotations atomic.Int64
	failures  atomic.Int64
}

// NewPublisher creates a publisher of V values on the topic of caches
func NewPublisher[V any](caches *Caches, opts ...PublisherOption) (*Publisher[V], error) {
	if caches.IsClosed() {
		return nil, ErrTopicClosed
	}

	o := caches.Options()
	c := publisherConfig{}
	for _, opt := range opts {
		opt(&c)
	}

	orderBy := OrderByThread[V]()
	if c.orderBy != nil {
		ob, ok := c.orderBy.(OrderBy[V])
		if !ok {
			var zero V
			return nil, fmt.Errorf("order by %T cannot order %T values", c.orderBy, zero)
		}
		orderBy = ob
	}

	p := &Publisher[V]{
		id:           c.id,
		caches:       caches,
		orderBy:      orderBy,
		onFailure:    o.OnFailure,
		closeTimeout: o.CloseTimeout,
		batchSize:    o.MaxBatchSize,
		closed:       future.NewPromise[struct{}](),
	}
	if p.id == "" {
		p.id = publisherIDs.NextID()
	}
	if c.onFailure != nil {
		p.onFailure = *c.onFailure
	}
	if c.closeTimeout > 0 {
		p.closeTimeout = c.closeTimeout
	}
	if c.batchSize > 0 {
		p.batchSize = c.batchSize
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.channels = make([]*publisherChannel, caches.ChannelCount())
	for i := range p.channels {
		ch := &publisherChannel{
			id:    i,
			usage: UsageKey{Partition: caches.SyncPartition(i), Channel: i},
		}
		ch.tail.Store(-1)
		ch.queue = batching.New[[]byte, Status](func(n int) {
			go p.addQueuedElements(ch, n)
		}, p.batchSize)
		p.channels[i] = ch
	}

	p.active.Store(true)
	p.unregister = caches.onDestroy(p.onTopicDestroyed)
	telemetry.ActivePublishers.Inc()

	log.Debug().
		Str("topic", caches.Name()).
		Str("publisher", p.id).
		Str("on_failure", p.onFailure.String()).
		Msg("Publisher created")
	return p, nil
}

// ID returns the publisher id
func (p *Publisher[V]) ID() string { return p.id }

// Topic returns the topic handle
func (p *Publisher[V]) Topic() *Caches { return p.caches }

// ChannelCount returns the number of channels values are spread over
func (p *Publisher[V]) ChannelCount() int { return len(p.channels) }

// IsActive reports whether Publish accepts values
func (p *Publisher[V]) IsActive() bool { return p.active.Load() }

// Publish queues value and returns its acknowledgment. Failures to serialize or queue the value
// are reported through the returned future.
func (p *Publisher[V]) Publish(ctx context.Context, value V) *PublishFuture {
	if !p.active.Load() {
		return batching.Failed[[]byte, Status](nil, ErrPublisherClosed)
	}
	if err := ctx.Err(); err != nil {
		return batching.Failed[[]byte, Status](nil, err)
	}

	data, err := p.caches.Serializer().Serialize(value)
	if err != nil {
		p.failures.Add(1)
		telemetry.PublishFailuresTotal.With(p.caches.Name(), "serialize").Inc()
		return batching.Failed[[]byte, Status](nil, fmt.Errorf("serialize value: %w", err))
	}

	producer, ok := ProducerFrom(ctx)
	if !ok {
		producer = p.id
	}
	ch := p.channels[floorMod(p.orderBy.Channel(producer, value, len(p.channels)), len(p.channels))]

	op, err := ch.queue.Add(data)
	if err != nil {
		return batching.Failed[[]byte, Status](data, fmt.Errorf("%w: %w", ErrPublisherClosed, err))
	}
	return op
}

// addQueuedElements is the drain loop of a channel. It runs until the queue is idle; a new Add
// then starts another one. Leftovers of a partially accepted batch are resent before more values
// are taken from the queue.
func (p *Publisher[V]) addQueuedElements(ch *publisherChannel, n int) {
	for {
		if ch.queue.IsBatchComplete() && !ch.queue.FillCurrentBatch(max(min(n, p.batchSize), 1)) {
			return
		}

		page, err := p.ensurePageID(ch)
		if err != nil {
			p.handleError(err)
			return
		}

		values := ch.queue.GetCurrentBatchValues()
		if len(values) == 0 {
			continue
		}

		telemetry.OfferBatchSize.Observe(float64(len(values)))
		result, err := grid.Call[OfferResult](p.ctx, p.caches.pages, PageKey{Channel: ch.id, Page: page}, &OfferProcessor{
			Topic:           p.caches.Name(),
			Channel:         ch.id,
			Page:            page,
			Values:          values,
			PageCapacity:    p.caches.PageCapacity(),
			MaxElementBytes: p.caches.Options().MaxElementBytes,
		})
		if err != nil {
			p.handleError(err)
			return
		}

		next, ok := p.handleOfferCompletion(ch, page, &result)
		if !ok {
			return
		}
		n = next
	}
}

// handleOfferCompletion resolves the consumed values and rotates off a sealed page. It returns
// how many values to send next and false when the channel stopped.
func (p *Publisher[V]) handleOfferCompletion(ch *publisherChannel, page int64, result *OfferResult) (int, bool) {
	topic := p.caches.Name()
	p.offers.Add(1)
	p.accepted.Add(int64(result.Accepted))
	telemetry.PublishOffersTotal.With(topic).Inc()
	telemetry.PublishAcceptedTotal.With(topic).Add(float64(result.Accepted))
	if result.Accepted == 0 {
		p.misses.Add(1)
		telemetry.PublishMissesTotal.With(topic).Inc()
	}

	var errs map[int]error
	var first error
	if len(result.Errors) > 0 {
		indexes := make([]int, 0, len(result.Errors))
		for i := range result.Errors {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)

		errs = make(map[int]error, len(indexes))
		for _, i := range indexes {
			errs[i] = &PublishError{Channel: ch.id, Index: i, Reason: result.Errors[i]}
		}
		first = errs[indexes[0]]
	}

	statuses := make([]Status, result.Accepted)
	offset := result.Tail - result.Appended() + 1
	for i := range statuses {
		if errs[i] != nil {
			continue
		}
		statuses[i] = Status{Channel: ch.id, Position: Position{Channel: ch.id, Page: page, Offset: offset}}
		offset++
	}
	// stop taking values before the failures become visible to callers
	if first != nil {
		p.failures.Add(int64(len(errs)))
		telemetry.PublishFailuresTotal.With(topic, "rejected").Add(float64(len(errs)))
		if p.onFailure == OnFailureContinue {
			ch.queue.Close()
		} else {
			p.active.Store(false)
		}
	}

	ch.queue.CompleteElements(result.Accepted, errs, func(i int) Status { return statuses[i] })

	if first != nil {
		p.handleIndividualErrors(ch, first)
		return 0, false
	}

	if result.Status == OfferPageSealed || result.Sealed {
		if _, err := p.moveToNextPage(ch, page); err != nil {
			p.handleError(err)
			return 0, false
		}
	}
	return result.Capacity, true
}

func (p *Publisher[V]) handleIndividualErrors(ch *publisherChannel, err error) {
	if p.onFailure == OnFailureContinue {
		log.Warn().
			Err(err).
			Str("topic", p.caches.Name()).
			Int("channel", ch.id).
			Msg("Values rejected, closing channel")
		ch.queue.HandleError(err, batching.Cancel)
		return
	}
	p.handleError(err)
}

// handleError fails every outstanding value of every channel and closes the publisher
func (p *Publisher[V]) handleError(err error) {
	event := log.Error()
	if p.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		event = log.Debug()
	}
	event.
		Err(err).
		Str("topic", p.caches.Name()).
		Str("publisher", p.id).
		Msg("Publisher failed, cancelling outstanding values")
	telemetry.PublishFailuresTotal.With(p.caches.Name(), "remote").Inc()

	for _, ch := range p.channels {
		ch.queue.HandleError(err, batching.Cancel)
	}
	p.closeInternal()
}

// ensurePageID returns the page the channel appends to, reading it once from the grid
func (p *Publisher[V]) ensurePageID(ch *publisherChannel) (int64, error) {
	if tail := ch.tail.Load(); tail >= 0 {
		return tail, nil
	}

	v, err, _ := p.flights.Do("tail/"+strconv.Itoa(ch.id), func() (any, error) {
		if tail := ch.tail.Load(); tail >= 0 {
			return tail, nil
		}
		tail, err := grid.Call[int64](p.ctx, p.caches.pages, ch.usage, &EnsureTailProcessor{})
		if err != nil {
			return nil, err
		}
		return ch.updateTail(tail), nil
	})
	if err != nil {
		return -1, err
	}
	return v.(int64), nil
}

// moveToNextPage advances the channel past page. Only one advance per page is in flight; when
// the tail already moved on the known value is returned.
func (p *Publisher[V]) moveToNextPage(ch *publisherChannel, page int64) (int64, error) {
	if tail := ch.tail.Load(); tail > page {
		return tail, nil
	}

	key := "move/" + strconv.Itoa(ch.id) + "/" + strconv.FormatInt(page, 10)
	v, err, _ := p.flights.Do(key, func() (any, error) {
		if tail := ch.tail.Load(); tail > page {
			return tail, nil
		}
		tail, err := grid.Call[int64](p.ctx, p.caches.pages, ch.usage, &TailAdvanceProcessor{Page: page})
		if err != nil {
			return nil, err
		}

		p.rotations.Add(1)
		telemetry.PageRotationsTotal.With(p.caches.Name()).Inc()
		log.Debug().
			Str("topic", p.caches.Name()).
			Int("channel", ch.id).
			Int64("page", tail).
			Msg("Moved to next page")
		return ch.updateTail(tail), nil
	})
	if err != nil {
		return -1, err
	}
	return v.(int64), nil
}

// Flush returns a future resolved once every value published so far has been acknowledged or
// failed
func (p *Publisher[V]) Flush() *future.Future[struct{}] {
	flushes := make([]*future.Future[struct{}], len(p.channels))
	for i, ch := range p.channels {
		flushes[i] = ch.queue.Flush()
	}

	promise := future.NewPromise[struct{}]()
	go func() {
		for _, f := range flushes {
			_, _ = f.Get()
		}
		promise.Set(struct{}{}, nil)
	}()
	return promise.Future()
}

// Close stops accepting values and flushes the outstanding ones. Values still outstanding after
// the close timeout fail with ErrForceClosed. The returned future resolves once the publisher is
// closed.
func (p *Publisher[V]) Close() *future.Future[struct{}] {
	p.closeOnce.Do(func() {
		p.active.Store(false)
		go p.drainAndClose()
	})
	return p.closed.Future()
}

func (p *Publisher[V]) drainAndClose() {
	flushed := make(chan struct{})
	go func() {
		_, _ = p.Flush().Get()
		close(flushed)
	}()

	timer := time.NewTimer(p.closeTimeout)
	defer timer.Stop()

	select {
	case <-flushed:
	case <-timer.C:
		log.Warn().
			Str("topic", p.caches.Name()).
			Str("publisher", p.id).
			Dur("timeout", p.closeTimeout).
			Msg("Close timed out, failing outstanding values")
		for _, ch := range p.channels {
			ch.queue.HandleError(ErrForceClosed, batching.CompleteWithException)
		}
	}
	p.closeInternal()
}

func (p *Publisher[V]) onTopicDestroyed() {
	for _, ch := range p.channels {
		ch.queue.HandleError(ErrTopicDestroyed, batching.CompleteWithException)
	}
	p.closeInternal()
}

func (p *Publisher[V]) closeInternal() {
	p.finishOnce.Do(func() {
		p.active.Store(false)
		for _, ch := range p.channels {
			ch.queue.Close()
		}
		p.cancel()
		p.unregister()
		telemetry.ActivePublishers.Dec()

		p.mu.Lock()
		p.finished = true
		actions := p.onClose
		p.onClose = nil
		p.mu.Unlock()

		for _, fn := range actions {
			fn()
		}
		p.closed.Set(struct{}{}, nil)

		log.Debug().
			Str("topic", p.caches.Name()).
			Str("publisher", p.id).
			Msg("Publisher closed")
	})
}

// OnClose registers fn to run once the publisher is closed. fn runs immediately when it already is.
func (p *Publisher[V]) OnClose(fn func()) {
	p.mu.Lock()
	if !p.finished {
		p.onClose = append(p.onClose, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn()
}

// Stats returns a snapshot of the publisher counters
func (p *Publisher[V]) Stats() PublisherStats {
	s := PublisherStats{
		Offers:    p.offers.Load(),
		Accepted:  p.accepted.Load(),
		Misses:    p.misses.Load(),
		Rotations: p.rotations.Load(),
		Failures:  p.failures.Load(),
	}
	for _, ch := range p.channels {
		s.Pending += len(ch.queue.Pending())
	}
	return s
}
