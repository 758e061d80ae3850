package bridge

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	key     string
	value   []byte
}

// recordingSink fails the first failures publishes, then records
type recordingSink struct {
	mu       sync.Mutex
	failures int
	attempts int
	messages []message
	closed   bool
}

func (s *recordingSink) Publish(subject, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("sink unavailable")
	}
	s.messages = append(s.messages, message{subject: subject, key: key, value: append([]byte(nil), value...)})
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) received() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message(nil), s.messages...)
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func testOptions() topic.Options {
	return topic.Options{
		ChannelCount:   3,
		PageCapacity:   4,
		MaxBatchSize:   8,
		CloseTimeout:   2 * time.Second,
		SubscriberWait: 20 * time.Millisecond,
	}
}

func newTestSession(t *testing.T) *topic.Session {
	t.Helper()
	s := topic.NewSession(grid.NewMemoryService(31), testOptions())
	t.Cleanup(func() { s.Close() })
	return s
}

func openTopic(t *testing.T, s *topic.Session, name string) *topic.Caches {
	t.Helper()
	c, err := s.Topic(context.Background(), name)
	require.NoError(t, err)
	return c
}

func publish(t *testing.T, c *topic.Caches, values ...string) {
	t.Helper()
	p, err := topic.NewPublisher[string](c)
	require.NoError(t, err)
	for _, v := range values {
		_, err := p.Publish(context.Background(), v).Get()
		require.NoError(t, err)
	}
	_, err = p.Close().Get()
	require.NoError(t, err)
}

func decoded(t *testing.T, messages []message) []string {
	t.Helper()
	out := make([]string, len(messages))
	for i, m := range messages {
		require.NoError(t, encoding.Unmarshal(m.value, &out[i]))
	}
	sort.Strings(out)
	return out
}

func fastWorker(t *testing.T, c *topic.Caches, snk Sink) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Bridge:       "test",
		Topic:        c,
		Sink:         snk,
		TargetPrefix: "grid",
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w
}

func TestNewWorkerValidation(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")

	_, err := NewWorker(WorkerConfig{Topic: c, Sink: &recordingSink{}})
	assert.Error(t, err, "missing bridge name")
	_, err = NewWorker(WorkerConfig{Bridge: "b", Sink: &recordingSink{}})
	assert.Error(t, err, "missing topic")
	_, err = NewWorker(WorkerConfig{Bridge: "b", Topic: c})
	assert.Error(t, err, "missing sink")

	w, err := NewWorker(WorkerConfig{Bridge: "b", Topic: c, Sink: &recordingSink{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, w.config.BatchSize)
	assert.Equal(t, DefaultPollInterval, w.config.PollInterval)
	assert.Equal(t, DefaultRetryInitial, w.config.RetryInitial)
	assert.Equal(t, DefaultRetryMax, w.config.RetryMax)
	assert.Equal(t, DefaultRetryMultiplier, w.config.RetryMultiplier)
	assert.Equal(t, DefaultMaxRetries, w.config.MaxRetries)
	assert.Equal(t, "bridge-b", w.Group())
	assert.Equal(t, "orders", w.Subject())
}

func TestWorkerForwardsElements(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{}
	w := fastWorker(t, c, snk)

	publish(t, c, "a", "b", "c", "d", "e")
	w.Start()
	w.Start()

	require.Eventually(t, func() bool { return len(snk.received()) == 5 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, decoded(t, snk.received()))
	for _, m := range snk.received() {
		assert.Equal(t, "grid.orders", m.subject)
		assert.Contains(t, []string{"0", "1", "2"}, m.key)
	}
	assert.Equal(t, int64(5), w.Forwarded())

	publish(t, c, "f")
	require.Eventually(t, func() bool { return len(snk.received()) == 6 }, 5*time.Second, 5*time.Millisecond)

	w.Stop()
	assert.False(t, w.IsRunning())
	w.Stop()
}

func TestWorkerResumesFromGroup(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{}

	first := fastWorker(t, c, snk)
	publish(t, c, "a", "b")
	first.Start()
	require.Eventually(t, func() bool { return len(snk.received()) == 2 }, 5*time.Second, 5*time.Millisecond)
	first.Stop()

	publish(t, c, "c")
	second := fastWorker(t, c, snk)
	second.Start()
	require.Eventually(t, func() bool { return len(snk.received()) == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, decoded(t, snk.received()))
}

func TestWorkerRetriesSink(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{failures: 3}
	w := fastWorker(t, c, snk)

	publish(t, c, "a")
	w.Start()

	require.Eventually(t, func() bool { return len(snk.received()) == 1 }, 5*time.Second, 5*time.Millisecond)
	snk.mu.Lock()
	assert.Equal(t, 4, snk.attempts)
	snk.mu.Unlock()
}

func TestWorkerGivesUpAfterMaxRetries(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{failures: -1}
	w, err := NewWorker(WorkerConfig{
		Bridge:       "test",
		Topic:        c,
		Sink:         snk,
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     time.Millisecond,
		MaxRetries:   2,
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	publish(t, c, "a")
	w.Start()

	require.Eventually(t, func() bool { return !w.IsRunning() }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, snk.received())
	assert.Equal(t, int64(0), w.Forwarded())
}

func (s *recordingSink) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

func (s *recordingSink) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func TestWorkerStopReleasesUnforwarded(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{failures: -1}

	first := fastWorker(t, c, snk)
	publish(t, c, "a", "b", "c")
	first.Start()
	require.Eventually(t, func() bool { return snk.attemptCount() > 0 }, 5*time.Second, 5*time.Millisecond)
	first.Stop()
	assert.Equal(t, int64(0), first.Forwarded())

	snk.heal()
	second := fastWorker(t, c, snk)
	second.Start()

	require.Eventually(t, func() bool { return len(snk.received()) == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, decoded(t, snk.received()))
}

func TestWorkerGivingUpReleasesUnforwarded(t *testing.T) {
	c := openTopic(t, newTestSession(t), "orders")
	snk := &recordingSink{failures: -1}
	w, err := NewWorker(WorkerConfig{
		Bridge:       "test",
		Topic:        c,
		Sink:         snk,
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     time.Millisecond,
		MaxRetries:   1,
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	publish(t, c, "a", "b")
	w.Start()
	require.Eventually(t, func() bool { return !w.IsRunning() }, 5*time.Second, 5*time.Millisecond)

	snk.heal()
	again := fastWorker(t, c, snk)
	again.Start()

	require.Eventually(t, func() bool { return len(snk.received()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, decoded(t, snk.received()))
}

func TestWorkerExitsWhenTopicDestroyed(t *testing.T) {
	s := newTestSession(t)
	c := openTopic(t, s, "orders")
	w := fastWorker(t, c, &recordingSink{})
	w.Start()

	require.NoError(t, s.Destroy(context.Background(), "orders"))
	require.Eventually(t, func() bool { return !w.IsRunning() }, 5*time.Second, 5*time.Millisecond)
}

func (s *recordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.attempts = 0
	s.closed = false
}
