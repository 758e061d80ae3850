package topic

import (
	"errors"
	"fmt"
)

var (
	// ErrPublisherClosed fails publishes on a closed publisher
	ErrPublisherClosed = errors.New("publisher closed")
	// ErrForceClosed fails values still outstanding when the close timeout expires
	ErrForceClosed = errors.New("publisher force closed before values were flushed")
	// ErrTopicDestroyed fails outstanding values of publishers whose topic was destroyed
	ErrTopicDestroyed = errors.New("topic destroyed")
	// ErrTopicClosed is returned by operations on a closed topic handle
	ErrTopicClosed = errors.New("topic closed")
	// ErrSubscriberClosed is returned by a closed subscriber
	ErrSubscriberClosed = errors.New("subscriber closed")
	// ErrSubscriptionMissing means a group head was removed while a subscriber still used it
	ErrSubscriptionMissing = errors.New("subscription missing")
	// ErrInvalidChannel rejects channel numbers outside the topic
	ErrInvalidChannel = errors.New("invalid channel")
)

// PublishError fails a single value the store refused
type PublishError struct {
	Channel int
	Index   int
	Reason  string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("channel %d: value %d rejected: %s", e.Channel, e.Index, e.Reason)
}
