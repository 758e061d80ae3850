package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ChannelTails reports the publication tail page of every channel of a topic
type ChannelTails interface {
	Name() string
	ChannelTails(ctx context.Context) ([]int64, error)
}

// TopicLister lists topics open on this node
type TopicLister interface {
	OpenTopics() []ChannelTails
}

const collectParallelism = 4

// MetricsCollector samples channel tails of open topics into TopicChannelTail.
// Series of topics that are no longer open are removed.
type MetricsCollector struct {
	topics   TopicLister
	interval time.Duration
	channels map[string]int // topic -> channels exported last round

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMetricsCollector(topics TopicLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		topics:   topics,
		interval: interval,
		channels: make(map[string]int),
	}
}

// Start samples once and then every interval until Stop
func (mc *MetricsCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	mc.cancel = cancel
	mc.done = make(chan struct{})

	go func() {
		defer close(mc.done)

		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()

		for {
			mc.collect(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (mc *MetricsCollector) Stop() {
	if mc.cancel == nil {
		return
	}
	mc.cancel()
	<-mc.done
}

func (mc *MetricsCollector) collect(ctx context.Context) {
	if mc.topics == nil {
		return
	}

	topics := mc.topics.OpenTopics()
	tails := make([][]int64, len(topics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectParallelism)
	for i, t := range topics {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, mc.interval)
			defer cancel()

			var err error
			tails[i], err = t.ChannelTails(callCtx)
			if err != nil {
				log.Debug().Err(err).Str("topic", t.Name()).Msg("Failed to sample channel tails")
				tails[i] = nil
			}
			return nil
		})
	}
	_ = g.Wait()

	current := make(map[string]int, len(topics))
	for i, t := range topics {
		if tails[i] == nil {
			continue
		}
		for ch, tail := range tails[i] {
			TopicChannelTail.With(t.Name(), strconv.Itoa(ch)).Set(float64(tail))
		}
		current[t.Name()] = len(tails[i])
	}

	for name, n := range mc.channels {
		if _, ok := current[name]; ok {
			continue
		}
		for ch := 0; ch < n; ch++ {
			TopicChannelTail.Delete(name, strconv.Itoa(ch))
		}
	}
	mc.channels = current
}
