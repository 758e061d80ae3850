package grid

import (
	"bytes"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/hlc"
)

// Processor is an operation executed atomically against one entry on the member owning its
// partition. Implementations are plain structs with exported msgpack fields so they can be shipped
// to other members, and must be registered with RegisterProcessor.
//
// Process may read and write any entry of the same partition through Entry.Context. All writes
// are buffered and committed together when Process returns without error; on error nothing is
// written.
type Processor interface {
	Kind() Kind
	Process(e *Entry) (any, error)
}

// Write is one buffered mutation
type Write struct {
	Map    string
	Key    []byte
	Value  []byte
	Delete bool
}

// PartitionContext is the view a processor has of its partition for the duration of one
// invocation. Reads observe the processor's own earlier writes.
type PartitionContext struct {
	partition int
	backing   Backing
	clock     *hlc.Clock
	entries   map[string]*Entry
	order     []*Entry
	signals   []string
}

func newPartitionContext(partition int, backing Backing, clock *hlc.Clock) *PartitionContext {
	return &PartitionContext{
		partition: partition,
		backing:   backing,
		clock:     clock,
		entries:   make(map[string]*Entry),
	}
}

// Partition returns the partition index
func (c *PartitionContext) Partition() int {
	return c.partition
}

// Now returns a timestamp from the executing member's clock
func (c *PartitionContext) Now() hlc.Timestamp {
	return c.clock.Now()
}

// Entry returns the entry for key in mapName. The key must belong to this partition.
func (c *PartitionContext) Entry(mapName string, key []byte) (*Entry, error) {
	id := entryID(mapName, key)
	if e, ok := c.entries[id]; ok {
		return e, nil
	}

	value, found, err := c.backing.Get(c.partition, mapName, key)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ctx:     c,
		mapName: mapName,
		key:     bytes.Clone(key),
		value:   value,
		present: found,
	}
	c.entries[id] = e
	return e, nil
}

// Signal queues a notification that is published once the invocation commits
func (c *PartitionContext) Signal(name string) {
	for _, s := range c.signals {
		if s == name {
			return
		}
	}
	c.signals = append(c.signals, name)
}

func (c *PartitionContext) writes() []Write {
	var out []Write
	for _, e := range c.order {
		if !e.dirty {
			continue
		}
		out = append(out, Write{
			Map:    e.mapName,
			Key:    e.key,
			Value:  e.value,
			Delete: !e.present,
		})
	}
	return out
}

func (c *PartitionContext) markDirty(e *Entry) {
	if !e.dirty {
		e.dirty = true
		c.order = append(c.order, e)
	}
}

func entryID(mapName string, key []byte) string {
	return mapName + "\x00" + string(key)
}

// Entry is a single key of a map as seen by a processor
type Entry struct {
	ctx     *PartitionContext
	mapName string
	key     []byte
	value   []byte
	present bool
	dirty   bool
}

// Map returns the map name
func (e *Entry) Map() string { return e.mapName }

// Key returns the encoded key
func (e *Entry) Key() []byte { return e.key }

// Partition returns the partition the entry lives in
func (e *Entry) Partition() int { return e.ctx.partition }

// Context returns the partition context of the invocation
func (e *Entry) Context() *PartitionContext { return e.ctx }

// Present reports whether the entry has a value
func (e *Entry) Present() bool { return e.present }

// Value returns the raw encoded value, nil when absent
func (e *Entry) Value() []byte { return e.value }

// Decode unmarshals the value into v. It returns false when the entry is absent.
func (e *Entry) Decode(v any) (bool, error) {
	if !e.present {
		return false, nil
	}
	return true, encoding.Unmarshal(e.value, v)
}

// Set encodes v as the new value
func (e *Entry) Set(v any) error {
	data, err := encoding.Marshal(v)
	if err != nil {
		return err
	}
	e.SetRaw(data)
	return nil
}

// SetRaw stores an already encoded value
func (e *Entry) SetRaw(value []byte) {
	e.value = value
	e.present = true
	e.ctx.markDirty(e)
}

// Remove deletes the entry
func (e *Entry) Remove() {
	if !e.present && !e.dirty {
		return
	}
	e.value = nil
	e.present = false
	e.ctx.markDirty(e)
}
