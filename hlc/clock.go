package hlc

import (
	"sync"
	"time"
)

// Clock is a Hybrid Logical Clock. Element timestamps come from the clock of the member that
// appends them, and remote responses are folded back in with Update so a caller never observes
// time running backwards across members.
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	now      func() int64
	mu       sync.Mutex
}

// Timestamp represents a point in time across the grid
type Timestamp struct {
	WallTime int64  `msgpack:"w"`
	Logical  int32  `msgpack:"l"`
	NodeID   uint64 `msgpack:"n"`
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return newClockWithSource(nodeID, func() int64 { return time.Now().UnixNano() })
}

func newClockWithSource(nodeID uint64, now func() int64) *Clock {
	return &Clock{
		nodeID:   nodeID,
		wallTime: now(),
		now:      now,
	}
}

// Now generates a new timestamp for a local event
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.now()
	if physical > c.wallTime {
		c.wallTime = physical
		c.logical = 0
	} else {
		c.logical++
	}

	return c.stamp()
}

// Update merges a timestamp received from another member and returns the new local time
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.now()

	switch {
	case physical > c.wallTime && physical > remote.WallTime:
		c.wallTime = physical
		c.logical = 0
	case remote.WallTime > c.wallTime:
		c.wallTime = remote.WallTime
		c.logical = remote.Logical + 1
	case remote.WallTime == c.wallTime:
		c.logical = max(c.logical, remote.Logical) + 1
	default:
		c.logical++
	}

	return c.stamp()
}

func (c *Clock) stamp() Timestamp {
	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime != b.WallTime:
		return cmp(a.WallTime < b.WallTime)
	case a.Logical != b.Logical:
		return cmp(a.Logical < b.Logical)
	case a.NodeID != b.NodeID:
		return cmp(a.NodeID < b.NodeID)
	}
	return 0
}

func cmp(less bool) int {
	if less {
		return -1
	}
	return 1
}

// Less returns true if a happened before b
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// IsZero reports whether the timestamp was never set
func (t Timestamp) IsZero() bool {
	return t.WallTime == 0 && t.Logical == 0
}

// PhysicalTime returns the physical time component as time.Time
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}
