package topic

import (
	"time"

	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/hlc"
)

// Page is a bounded, append-only run of elements of one channel. Tail is the offset of the last
// element, -1 while the page is empty. A sealed page accepts nothing more.
type Page struct {
	Channel   int           `msgpack:"c"`
	ID        int64         `msgpack:"id"`
	Tail      int           `msgpack:"t"`
	ByteSize  int           `msgpack:"b"`
	Capacity  int           `msgpack:"cap"`
	Sealed    bool          `msgpack:"s"`
	CreatedAt hlc.Timestamp `msgpack:"ts"`
}

func newPage(channel int, id int64, capacity int, now hlc.Timestamp) *Page {
	return &Page{
		Channel:   channel,
		ID:        id,
		Tail:      -1,
		Capacity:  capacity,
		CreatedAt: now,
	}
}

// Size returns the number of elements on the page
func (p *Page) Size() int {
	return p.Tail + 1
}

// Remaining returns the free slots
func (p *Page) Remaining() int {
	return max(p.Capacity-p.Size(), 0)
}

// Usage is kept per (partition, channel). The channel's sync partition also carries the
// publication tail: the page publishers currently append to.
type Usage struct {
	PublicationTail int64 `msgpack:"pt"`
	PartitionHead   int64 `msgpack:"ph"`
	PartitionTail   int64 `msgpack:"ptl"`
	PartitionMax    int64 `msgpack:"pm"`
}

func newUsage() Usage {
	return Usage{PublicationTail: -1, PartitionHead: -1, PartitionTail: -1, PartitionMax: -1}
}

func loadUsage(e *grid.Entry) (Usage, error) {
	u := newUsage()
	if _, err := e.Decode(&u); err != nil {
		return u, err
	}
	return u, nil
}

// Element is one stored value
type Element struct {
	Value     []byte        `msgpack:"v"`
	Timestamp hlc.Timestamp `msgpack:"ts"`
}

// SubscriptionHead is the page a group reads next on a channel
type SubscriptionHead struct {
	Group   string `msgpack:"g"`
	Channel int    `msgpack:"c"`
	Head    int64  `msgpack:"h"`
}

// SubscriptionPosition is how far a group has read the pages of a channel in one partition
type SubscriptionPosition struct {
	Group   string `msgpack:"g"`
	Channel int    `msgpack:"c"`
	Page    int64  `msgpack:"p"`
	Offset  int    `msgpack:"o"`
}

// Status acknowledges a published value with where it was stored
type Status struct {
	Channel  int      `msgpack:"c"`
	Position Position `msgpack:"p"`
}

// TopicInfo is stored once per topic in the metadata map; the first creator's settings win
type TopicInfo struct {
	Name            string        `msgpack:"n"`
	ChannelCount    int           `msgpack:"cc"`
	PageCapacity    int           `msgpack:"pc"`
	MaxElementBytes int           `msgpack:"mb"`
	CreatedAt       hlc.Timestamp `msgpack:"ts"`
}

// Received is an element handed to a subscriber
type Received[V any] struct {
	Value     V
	Channel   int
	Position  Position
	Timestamp hlc.Timestamp
}

// Time returns the wall clock time the element was stored
func (r Received[V]) Time() time.Time {
	return r.Timestamp.PhysicalTime()
}
