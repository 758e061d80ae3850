package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/maxpert/gridtopic/topic"
	"github.com/rs/zerolog/log"
)

const (
	// Default elements read per poll cycle
	DefaultBatchSize = 100
	// Default interval between empty poll cycles
	DefaultPollInterval = 100 * time.Millisecond
	// Default initial retry delay for failed sink publishes
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum attempts per element before the worker gives up
	DefaultMaxRetries = 100

	releaseTimeout = 10 * time.Second
)

// WorkerConfig configures one bridge worker for one topic
type WorkerConfig struct {
	Bridge          string        // Bridge name, also names the subscriber group
	Topic           *topic.Caches // Topic to read
	Sink            Sink          // Destination sink
	TargetPrefix    string        // Subject prefix (e.g., "grid.topics")
	BatchSize       int           // Elements per poll cycle
	PollInterval    time.Duration // Sleep when the topic is drained
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Attempts per element
}

// Worker drains a durable subscriber group into a sink. Elements that do not reach the sink, because
// the worker stops or gives up, are released back to the group.
type Worker struct {
	config    WorkerConfig
	forwarded atomic.Int64
	running   atomic.Bool

	cancel      context.CancelFunc
	doneCh      chan struct{}
	lifecycleMu sync.Mutex
}

// NewWorker validates the config and fills defaults
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Bridge == "" {
		return nil, fmt.Errorf("bridge name is required")
	}
	if config.Topic == nil {
		return nil, fmt.Errorf("topic is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{config: config}, nil
}

// Group returns the subscriber group the worker reads as
func (w *Worker) Group() string {
	return "bridge-" + w.config.Bridge
}

// Subject returns the sink subject elements are published to
func (w *Worker) Subject() string {
	if w.config.TargetPrefix == "" {
		return w.config.Topic.Name()
	}
	return w.config.TargetPrefix + "." + w.config.Topic.Name()
}

// Forwarded returns the number of elements published to the sink
func (w *Worker) Forwarded() int64 {
	return w.forwarded.Load()
}

// IsRunning reports whether the poll loop is alive
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.running.Store(true)

	log.Info().
		Str("bridge", w.config.Bridge).
		Str("topic", w.config.Topic.Name()).
		Str("subject", w.Subject()).
		Msg("Starting bridge worker")

	go w.pollLoop(ctx)
}

// Stop stops the worker and waits for the poll loop to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.doneCh
	w.cancel = nil

	log.Info().
		Str("bridge", w.config.Bridge).
		Str("topic", w.config.Topic.Name()).
		Int64("forwarded", w.forwarded.Load()).
		Msg("Bridge worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.doneCh)
	defer w.running.Store(false)

	sub, err := w.subscribe(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("bridge", w.config.Bridge).Str("topic", w.config.Topic.Name()).Msg("Failed to join topic")
		}
		return
	}
	defer sub.Close(context.Background())

	for ctx.Err() == nil {
		items, err := sub.Poll(ctx, w.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil || w.config.Topic.IsClosed() {
				return
			}
			log.Error().
				Err(err).
				Str("bridge", w.config.Bridge).
				Str("topic", w.config.Topic.Name()).
				Msg("Failed to poll topic")
			w.sleep(ctx, w.config.PollInterval)
			continue
		}

		if len(items) == 0 {
			if w.config.Topic.IsClosed() {
				return
			}
			w.sleep(ctx, w.config.PollInterval)
			continue
		}

		for i, item := range items {
			if err := w.publishWithRetry(ctx, item); err != nil {
				w.release(sub, items[i:])
				if ctx.Err() == nil {
					log.Error().
						Err(err).
						Str("bridge", w.config.Bridge).
						Str("topic", w.config.Topic.Name()).
						Str("position", item.Position.String()).
						Msg("Giving up on sink, worker stopping")
				}
				return
			}
		}
	}
}

// release returns elements that did not reach the sink to the bridge group, so the next worker
// reading the group forwards them
func (w *Worker) release(sub *topic.Subscriber[encoding.Raw], items []topic.Received[encoding.Raw]) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if err := sub.Release(ctx, items); err != nil {
		log.Error().
			Err(err).
			Str("bridge", w.config.Bridge).
			Str("topic", w.config.Topic.Name()).
			Int("elements", len(items)).
			Msg("Failed to release unforwarded elements")
		return
	}
	log.Info().
		Str("bridge", w.config.Bridge).
		Str("topic", w.config.Topic.Name()).
		Int("elements", len(items)).
		Msg("Released unforwarded elements to group")
}

// subscribe joins the bridge group, retrying while the grid is unavailable
func (w *Worker) subscribe(ctx context.Context) (*topic.Subscriber[encoding.Raw], error) {
	b := w.newBackOff(ctx)
	return backoff.RetryNotifyWithData(func() (*topic.Subscriber[encoding.Raw], error) {
		sub, err := topic.NewSubscriber[encoding.Raw](ctx, w.config.Topic, topic.InGroup(w.Group()))
		if errors.Is(err, topic.ErrTopicClosed) {
			return nil, backoff.Permanent(err)
		}
		return sub, err
	}, b, func(err error, d time.Duration) {
		log.Warn().Err(err).Str("bridge", w.config.Bridge).Dur("retry_delay", d).Msg("Failed to join topic, retrying")
	})
}

// publishWithRetry publishes one element with exponential backoff
func (w *Worker) publishWithRetry(ctx context.Context, item topic.Received[encoding.Raw]) error {
	subject := w.Subject()
	key := strconv.Itoa(item.Channel)
	attempts := 0

	err := backoff.RetryNotify(func() error {
		attempts++
		return w.config.Sink.Publish(subject, key, item.Value)
	}, w.newBackOff(ctx), func(err error, d time.Duration) {
		telemetry.BridgeRetriesTotal.With(w.config.Bridge).Inc()
		log.Warn().
			Err(err).
			Str("bridge", w.config.Bridge).
			Str("subject", subject).
			Int("attempt", attempts).
			Dur("retry_delay", d).
			Msg("Failed to publish element, retrying")
	})
	if err != nil {
		return fmt.Errorf("publish to %s after %d attempts: %w", subject, attempts, err)
	}

	w.forwarded.Add(1)
	telemetry.BridgeForwardedTotal.With(w.config.Bridge).Inc()
	return nil
}

func (w *Worker) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.RetryInitial
	b.MaxInterval = w.config.RetryMax
	b.Multiplier = w.config.RetryMultiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.config.MaxRetries)), ctx)
}

// sleep returns false if the worker was stopped first
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
