package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type fakeTopic struct {
	name  string
	tails []int64
	err   error
}

func (f fakeTopic) Name() string { return f.name }

func (f fakeTopic) ChannelTails(context.Context) ([]int64, error) { return f.tails, f.err }

type fakeLister []ChannelTails

func (f fakeLister) OpenTopics() []ChannelTails { return f }

func withRegistry(t *testing.T) {
	t.Helper()
	previous := registry
	registry = prometheus.NewRegistry()
	InitMetrics()
	t.Cleanup(func() { registry = previous })
}

func TestNoopWhenDisabled(t *testing.T) {
	previous := registry
	registry = nil
	t.Cleanup(func() { registry = previous })

	assert.Equal(t, NoopStat{}, NewCounter("c", "help"))
	assert.Equal(t, NoopStat{}, NewHistogram("h", "help"))
	assert.Equal(t, NoopStat{}, NewCounterVec("cv", "help", []string{"l"}).With("x"))
	assert.Nil(t, GetMetricsHandler())
}

func TestMetricsAreServed(t *testing.T) {
	withRegistry(t)

	PublishAcceptedTotal.With("orders").Add(3)
	OfferBatchSize.Observe(4)
	ActivePublishers.Inc()

	body := scrape(t)
	assert.Contains(t, body, `gridtopic_node_publish_accepted_total{node_id=`)
	assert.Contains(t, body, `topic="orders"} 3`)
	assert.Contains(t, body, `gridtopic_node_offer_batch_size_bucket`)
	assert.Contains(t, body, `gridtopic_node_active_publishers`)
}

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestCollectorRecordsTails(t *testing.T) {
	withRegistry(t)

	lister := fakeLister{
		fakeTopic{name: "orders", tails: []int64{4, -1}},
		fakeTopic{name: "broken", err: errors.New("unreachable")},
	}
	mc := NewMetricsCollector(lister, time.Hour)
	mc.Start()
	mc.Stop()

	body := scrape(t)
	assert.Regexp(t, `topic_channel_tail_page\{channel="0",node_id="\d+",topic="orders"\} 4`, body)
	assert.Regexp(t, `topic_channel_tail_page\{channel="1",node_id="\d+",topic="orders"\} -1`, body)
	assert.NotContains(t, body, `topic="broken"`)
}

func TestCollectorForgetsClosedTopics(t *testing.T) {
	withRegistry(t)

	mc := NewMetricsCollector(fakeLister{
		fakeTopic{name: "orders", tails: []int64{1}},
		fakeTopic{name: "payments", tails: []int64{2, 3}},
	}, time.Hour)
	mc.collect(context.Background())
	assert.Contains(t, scrape(t), `topic="payments"`)

	mc.topics = fakeLister{fakeTopic{name: "orders", tails: []int64{5}}}
	mc.collect(context.Background())

	body := scrape(t)
	assert.NotContains(t, body, `topic="payments"`)
	assert.Regexp(t, `topic_channel_tail_page\{channel="0",node_id="\d+",topic="orders"\} 5`, body)
}

func TestCollectorStopWithoutStart(t *testing.T) {
	NewMetricsCollector(nil, time.Second).Stop()
}
