package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// GridCallBuckets for partition invocations (local or one network hop)
	GridCallBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// BatchSizeBuckets for the number of values carried by one offer
	BatchSizeBuckets = []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024}
)

// Publisher Metrics
var (
	// PublishOffersTotal counts offer invocations by topic
	PublishOffersTotal CounterVec = noopCounterVec{}

	// PublishAcceptedTotal counts values accepted into pages by topic
	PublishAcceptedTotal CounterVec = noopCounterVec{}

	// PublishMissesTotal counts offers that accepted nothing by topic
	PublishMissesTotal CounterVec = noopCounterVec{}

	// PublishFailuresTotal counts values completed with an error by topic and reason
	PublishFailuresTotal CounterVec = noopCounterVec{}

	// PageRotationsTotal counts tail advances requested by publishers
	PageRotationsTotal CounterVec = noopCounterVec{}

	// OfferBatchSize measures values per offer
	OfferBatchSize Histogram = NoopStat{}

	// ActivePublishers tracks open publishers
	ActivePublishers Gauge = NoopStat{}
)

// Subscriber Metrics
var (
	// SubscriberPollsTotal counts poll invocations by topic and result (hit, empty, exhausted)
	SubscriberPollsTotal CounterVec = noopCounterVec{}

	// SubscriberElementsTotal counts elements delivered by topic
	SubscriberElementsTotal CounterVec = noopCounterVec{}

	// ActiveSubscribers tracks open subscribers
	ActiveSubscribers Gauge = NoopStat{}
)

// Grid Metrics
var (
	// GridInvocationsTotal counts processor invocations by kind and result
	GridInvocationsTotal CounterVec = noopCounterVec{}

	// GridInvocationSeconds measures invocation latency by locality (local, remote)
	GridInvocationSeconds HistogramVec = noopHistogramVec{}

	// GridMemberRetriesTotal counts reselections after an unavailable member
	GridMemberRetriesTotal Counter = NoopStat{}

	// GridMembers tracks members in the partition ring
	GridMembers Gauge = NoopStat{}
)

// Topic Metrics
var (
	// TopicsOpen tracks topics with live caches on this node
	TopicsOpen Gauge = NoopStat{}

	// TopicChannelTail tracks the publication tail page per topic and channel
	TopicChannelTail GaugeVec = noopGaugeVec{}
)

// Bridge Metrics
var (
	// BridgeForwardedTotal counts elements forwarded by bridge
	BridgeForwardedTotal CounterVec = noopCounterVec{}

	// BridgeRetriesTotal counts sink publish retries by bridge
	BridgeRetriesTotal CounterVec = noopCounterVec{}
)

// InitMetrics registers every metric. Called once the registry exists.
func InitMetrics() {
	PublishOffersTotal = NewCounterVec(
		"publish_offers_total",
		"Offer invocations issued by publishers",
		[]string{"topic"},
	)
	PublishAcceptedTotal = NewCounterVec(
		"publish_accepted_total",
		"Values accepted into topic pages",
		[]string{"topic"},
	)
	PublishMissesTotal = NewCounterVec(
		"publish_misses_total",
		"Offers that accepted no values",
		[]string{"topic"},
	)
	PublishFailuresTotal = NewCounterVec(
		"publish_failures_total",
		"Values completed with an error",
		[]string{"topic", "reason"},
	)
	PageRotationsTotal = NewCounterVec(
		"page_rotations_total",
		"Tail page advances requested by publishers",
		[]string{"topic"},
	)
	OfferBatchSize = NewHistogram(
		"offer_batch_size",
		"Values carried by a single offer",
		BatchSizeBuckets...,
	)
	ActivePublishers = NewGauge(
		"active_publishers",
		"Open publishers on this node",
	)

	SubscriberPollsTotal = NewCounterVec(
		"subscriber_polls_total",
		"Poll invocations by result",
		[]string{"topic", "result"},
	)
	SubscriberElementsTotal = NewCounterVec(
		"subscriber_elements_total",
		"Elements delivered to subscribers",
		[]string{"topic"},
	)
	ActiveSubscribers = NewGauge(
		"active_subscribers",
		"Open subscribers on this node",
	)

	GridInvocationsTotal = NewCounterVec(
		"grid_invocations_total",
		"Entry processor invocations by kind and result",
		[]string{"kind", "result"},
	)
	GridInvocationSeconds = NewHistogramVec(
		"grid_invocation_seconds",
		"Entry processor latency",
		[]string{"locality"},
		GridCallBuckets,
	)
	GridMemberRetriesTotal = NewCounter(
		"grid_member_retries_total",
		"Calls retried against another member",
	)
	GridMembers = NewGauge(
		"grid_members",
		"Members in the partition ring",
	)

	TopicsOpen = NewGauge(
		"topics_open",
		"Topics with live caches on this node",
	)
	TopicChannelTail = NewGaugeVec(
		"topic_channel_tail_page",
		"Publication tail page per channel",
		[]string{"topic", "channel"},
	)

	BridgeForwardedTotal = NewCounterVec(
		"bridge_forwarded_total",
		"Elements forwarded to external sinks",
		[]string{"bridge"},
	)
	BridgeRetriesTotal = NewCounterVec(
		"bridge_retries_total",
		"Sink publish retries",
		[]string{"bridge"},
	)
}
