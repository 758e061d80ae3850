package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const payloadAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// budget hands out a fixed number of messages to concurrent workers; a zero total is unlimited.
type budget struct {
	total     int64
	allocated atomic.Int64
}

func (b *budget) take(n int) int {
	if b.total == 0 {
		return n
	}
	end := b.allocated.Add(int64(n))
	if end <= b.total {
		return n
	}
	if over := end - b.total; over < int64(n) {
		return n - int(over)
	}
	return 0
}

func payload(r *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = payloadAlphabet[r.IntN(len(payloadAlphabet))]
	}
	return string(buf)
}

// runPublishers publishes until the message budget is spent or ctx ends.
func runPublishers(ctx context.Context, cfg *Config, pool *Pool, stats *Stats) error {
	b := &budget{total: int64(cfg.Messages)}
	g, ctx := errgroup.WithContext(ctx)

	for t := 0; t < cfg.Threads; t++ {
		producer := fmt.Sprintf("pika-%d", t%max(cfg.Producers, 1))
		r := rand.New(rand.NewPCG(uint64(t), uint64(time.Now().UnixNano())))

		g.Go(func() error {
			for ctx.Err() == nil {
				n := b.take(cfg.BatchSize)
				if n == 0 {
					return nil
				}

				values := make([]any, n)
				for i := range values {
					values[i] = payload(r, cfg.ValueBytes)
				}

				start := time.Now()
				results, err := pool.Publish(ctx, cfg.Topic, producer, values)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.RecordPublishError(n)
					continue
				}

				stored := 0
				for _, res := range results {
					if res.Error == "" {
						stored++
					}
				}
				stats.RecordPublish(stored, time.Since(start))
				if stored < n {
					stats.RecordPublishError(n - stored)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runConsumers polls as members of one group until the message budget is read or ctx ends.
func runConsumers(ctx context.Context, cfg *Config, pool *Pool, stats *Stats) error {
	var consumed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)

	for t := 0; t < cfg.Threads; t++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				if cfg.Messages > 0 && consumed.Load() >= int64(cfg.Messages) {
					return nil
				}

				start := time.Now()
				items, err := pool.Poll(ctx, cfg.Topic, cfg.Group, cfg.Limit, cfg.WaitMS)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.RecordPollError()
					continue
				}
				stats.RecordPoll(len(items), time.Since(start))
				consumed.Add(int64(len(items)))
			}
			return nil
		})
	}
	return g.Wait()
}
