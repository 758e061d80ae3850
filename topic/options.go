package topic

import (
	"fmt"
	"time"

	"github.com/maxpert/gridtopic/cfg"
	"github.com/maxpert/gridtopic/encoding"
)

// OnFailure decides what a publisher does when the store rejects individual values
type OnFailure uint8

const (
	// OnFailureStop fails every outstanding value and closes the publisher
	OnFailureStop OnFailure = iota
	// OnFailureContinue closes only the channel that saw the failure
	OnFailureContinue
)

func (f OnFailure) String() string {
	if f == OnFailureContinue {
		return "continue"
	}
	return "stop"
}

// ParseOnFailure reads the configuration spelling of a policy
func ParseOnFailure(s string) (OnFailure, error) {
	switch s {
	case "", "stop":
		return OnFailureStop, nil
	case "continue":
		return OnFailureContinue, nil
	default:
		return OnFailureStop, fmt.Errorf("invalid on_failure policy: %s", s)
	}
}

// Options are the settings of a topic handle and the defaults of its publishers and subscribers
type Options struct {
	ChannelCount    int
	PageCapacity    int
	MaxBatchSize    int
	MaxElementBytes int
	CloseTimeout    time.Duration
	OnFailure       OnFailure
	SubscriberWait  time.Duration
	Serializer      encoding.Serializer
}

// OptionsFromConfig converts the topics section of the configuration
func OptionsFromConfig(c cfg.TopicConfiguration) Options {
	onFailure, err := ParseOnFailure(c.OnFailure)
	if err != nil {
		onFailure = OnFailureStop
	}
	return Options{
		ChannelCount:    c.ChannelCount,
		PageCapacity:    c.PageCapacity,
		MaxBatchSize:    c.MaxBatchSize,
		MaxElementBytes: c.MaxElementBytes,
		CloseTimeout:    c.CloseTimeout(),
		OnFailure:       onFailure,
		SubscriberWait:  time.Duration(c.SubscriberWaitMS) * time.Millisecond,
		Serializer:      encoding.MsgpackSerializer{},
	}
}

// DefaultOptions returns the options of the loaded configuration
func DefaultOptions() Options {
	return OptionsFromConfig(cfg.Config.Topics)
}

func (o Options) withDefaults() Options {
	d := OptionsFromConfig(cfg.Default().Topics)
	if o.ChannelCount <= 0 {
		o.ChannelCount = d.ChannelCount
	}
	if o.PageCapacity <= 0 {
		o.PageCapacity = d.PageCapacity
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = d.MaxBatchSize
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = d.CloseTimeout
	}
	if o.SubscriberWait <= 0 {
		o.SubscriberWait = d.SubscriberWait
	}
	if o.Serializer == nil {
		o.Serializer = d.Serializer
	}
	return o
}

// PublisherOption customises one publisher
type PublisherOption func(*publisherConfig)

type publisherConfig struct {
	id           string
	orderBy      any
	onFailure    *OnFailure
	closeTimeout time.Duration
	batchSize    int
}

// WithOrderBy sets the channel selection policy. The default is OrderByThread.
func WithOrderBy[V any](o OrderBy[V]) PublisherOption {
	return func(c *publisherConfig) { c.orderBy = o }
}

// WithOnFailure overrides the topic's failure policy
func WithOnFailure(f OnFailure) PublisherOption {
	return func(c *publisherConfig) { c.onFailure = &f }
}

// WithCloseTimeout bounds how long Close waits for outstanding values
func WithCloseTimeout(d time.Duration) PublisherOption {
	return func(c *publisherConfig) { c.closeTimeout = d }
}

// WithBatchSize caps the number of values sent per offer
func WithBatchSize(n int) PublisherOption {
	return func(c *publisherConfig) { c.batchSize = n }
}

// WithPublisherID names the publisher instead of generating an id
func WithPublisherID(id string) PublisherOption {
	return func(c *publisherConfig) { c.id = id }
}

// SubscriberOption customises one subscriber
type SubscriberOption func(*subscriberConfig)

type subscriberConfig struct {
	group    string
	channels []int
	fromTail bool
	wait     time.Duration
}

// InGroup joins a durable subscriber group. Subscribers of one group share the elements; each
// element is delivered to one of them. Without a group the subscriber gets an anonymous group
// removed on close.
func InGroup(name string) SubscriberOption {
	return func(c *subscriberConfig) { c.group = name }
}

// WithChannels restricts the subscriber to the given channels
func WithChannels(channels ...int) SubscriberOption {
	return func(c *subscriberConfig) { c.channels = append([]int(nil), channels...) }
}

// FromTail starts a new group at the current publication tail instead of the first page
func FromTail() SubscriberOption {
	return func(c *subscriberConfig) { c.fromTail = true }
}

// WithWait bounds how long Receive sleeps between polls when nothing signals an insertion
func WithWait(d time.Duration) SubscriberOption {
	return func(c *subscriberConfig) { c.wait = d }
}
