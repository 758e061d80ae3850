package topic

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/gridtopic/grid"
)

// Map name suffixes of a topic
const (
	pagesSuffix         = "-pages"
	dataSuffix          = "-data"
	subscriptionsSuffix = "-subscriptions"
	metadataSuffix      = "-metadata"
)

// Key prefixes inside the pages and subscriptions maps
const (
	prefixPage         byte = 'P'
	prefixUsage        byte = 'U'
	prefixHead         byte = 'H'
	prefixSubscription byte = 'S'
	prefixGroup        byte = 'G'
)

func pagesMapName(topic string) string         { return topic + pagesSuffix }
func dataMapName(topic string) string          { return topic + dataSuffix }
func subscriptionsMapName(topic string) string { return topic + subscriptionsSuffix }
func metadataMapName(topic string) string      { return topic + metadataSuffix }

// signalName is the insertion notification name of a channel
func signalName(topic string, channel int) string {
	return topic + "/" + strconv.Itoa(channel)
}

func channelHash(channel int) uint64 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(channel))
	return xxhash.Sum64(b[:])
}

// pagePartition spreads consecutive pages of a channel over consecutive partitions
func pagePartition(channel int, page int64, count int) int {
	return int((channelHash(channel) + uint64(page)) % uint64(count))
}

// syncPartition holds the publication tail and the group heads of a channel
func syncPartition(topic string, channel int, count int) int {
	return int(xxhash.Sum64String(topic+"/"+strconv.Itoa(channel)) % uint64(count))
}

// PageKey addresses a page in the pages map
type PageKey struct {
	Channel int
	Page    int64
}

func (k PageKey) PartitionKey(count int) int {
	return pagePartition(k.Channel, k.Page, count)
}

func (k PageKey) Encode() []byte {
	b := make([]byte, 13)
	b[0] = prefixPage
	binary.BigEndian.PutUint32(b[1:], uint32(k.Channel))
	binary.BigEndian.PutUint64(b[5:], uint64(k.Page))
	return b
}

// Position addresses one element. Elements live in the data map in the partition of their page.
type Position struct {
	Channel int   `msgpack:"c"`
	Page    int64 `msgpack:"p"`
	Offset  int   `msgpack:"o"`
}

func (p Position) PartitionKey(count int) int {
	return pagePartition(p.Channel, p.Page, count)
}

func (p Position) Encode() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b, uint32(p.Channel))
	binary.BigEndian.PutUint64(b[4:], uint64(p.Page))
	binary.BigEndian.PutUint32(b[12:], uint32(p.Offset))
	return b
}

// Less orders positions of the same channel
func (p Position) Less(o Position) bool {
	if p.Page != o.Page {
		return p.Page < o.Page
	}
	return p.Offset < o.Offset
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Channel, p.Page, p.Offset)
}

// UsageKey addresses the usage record of a channel within one partition
type UsageKey struct {
	Partition int
	Channel   int
}

func (k UsageKey) PartitionKey(count int) int {
	return k.Partition % count
}

func (k UsageKey) Encode() []byte {
	b := make([]byte, 9)
	b[0] = prefixUsage
	binary.BigEndian.PutUint32(b[1:], uint32(k.Partition))
	binary.BigEndian.PutUint32(b[5:], uint32(k.Channel))
	return b
}

// HeadKey addresses the head page of a subscriber group on a channel
type HeadKey struct {
	Partition int
	Channel   int
	Group     string
}

func (k HeadKey) PartitionKey(count int) int {
	return k.Partition % count
}

func (k HeadKey) Encode() []byte {
	return groupScopedKey(prefixHead, k.Partition, k.Channel, k.Group)
}

// SubscriptionKey addresses the read position of a group on the pages of a channel held by one
// partition
type SubscriptionKey struct {
	Partition int
	Channel   int
	Group     string
}

func (k SubscriptionKey) PartitionKey(count int) int {
	return k.Partition % count
}

func (k SubscriptionKey) Encode() []byte {
	return groupScopedKey(prefixSubscription, k.Partition, k.Channel, k.Group)
}

// groupKey anchors per-partition group operations
type groupKey struct {
	Partition int
	Group     string
}

func (k groupKey) PartitionKey(count int) int {
	return k.Partition % count
}

func (k groupKey) Encode() []byte {
	b := make([]byte, 5+len(k.Group))
	b[0] = prefixGroup
	binary.BigEndian.PutUint32(b[1:], uint32(k.Partition))
	copy(b[5:], k.Group)
	return b
}

func groupScopedKey(prefix byte, partition, channel int, group string) []byte {
	b := make([]byte, 9+len(group))
	b[0] = prefix
	binary.BigEndian.PutUint32(b[1:], uint32(partition))
	binary.BigEndian.PutUint32(b[5:], uint32(channel))
	copy(b[9:], group)
	return b
}

var (
	_ grid.Key = PageKey{}
	_ grid.Key = Position{}
	_ grid.Key = UsageKey{}
	_ grid.Key = HeadKey{}
	_ grid.Key = SubscriptionKey{}
	_ grid.Key = groupKey{}
)
