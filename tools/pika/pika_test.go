package main

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Hosts:     " 127.0.0.1:7574 ,127.0.0.1:7575",
		Topic:     "pika",
		Threads:   2,
		BatchSize: 4,
		Limit:     10,
	}
}

func TestConfigValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"127.0.0.1:7574", "127.0.0.1:7575"}, c.hostList)

	tests := map[string]func(*Config){
		"no hosts":   func(c *Config) { c.Hosts = "" },
		"empty host": func(c *Config) { c.Hosts = "a:1,," },
		"no topic":   func(c *Config) { c.Topic = "" },
		"threads":    func(c *Config) { c.Threads = 0 },
		"batch":      func(c *Config) { c.BatchSize = 0 },
		"limit":      func(c *Config) { c.Limit = 5000 },
		"messages":   func(c *Config) { c.Messages = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestBudgetHandsOutExactTotal(t *testing.T) {
	b := &budget{total: 103}

	var mu sync.Mutex
	taken := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := b.take(10)
				if n == 0 {
					return
				}
				mu.Lock()
				taken += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 103, taken)
}

func TestBudgetUnlimited(t *testing.T) {
	b := &budget{}
	assert.Equal(t, 7, b.take(7))
	assert.Equal(t, 7, b.take(7))
}

func TestPayload(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	p := payload(r, 32)
	assert.Len(t, p, 32)
	assert.Empty(t, payload(r, 0))
}

func TestStats(t *testing.T) {
	s := NewStats()
	s.RecordPublish(10, 100*time.Microsecond)
	s.RecordPublish(5, 300*time.Microsecond)
	s.RecordPoll(8, 200*time.Microsecond)
	s.RecordPublishError(2)
	s.RecordPollError()

	snap := s.GetSnapshot()
	assert.Equal(t, Snapshot{Published: 15, Consumed: 8, Requests: 3, Errors: 3}, snap)

	min, max, avg := s.GetLatencyStats()
	assert.Equal(t, int64(100), min)
	assert.Equal(t, int64(300), max)
	assert.Equal(t, int64(200), avg)

	p50, _, _, p99 := s.GetLatencyPercentiles()
	assert.Equal(t, int64(200), p50)
	assert.Equal(t, int64(300), p99)
}
