package grid

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Backing stores the entries of every partition owned by a member.
// Apply must make all writes of one call visible together; the Service serializes calls per
// partition, so implementations only need to be safe across partitions.
type Backing interface {
	Get(partition int, mapName string, key []byte) ([]byte, bool, error)
	Apply(partition int, writes []Write) error
	DropMap(mapName string) error
	Close() error
}

// MemoryBacking keeps partitions in lock-free concurrent maps
type MemoryBacking struct {
	partitions []*xsync.MapOf[string, []byte]
}

// Ensure MemoryBacking implements Backing
var _ Backing = (*MemoryBacking)(nil)

// NewMemoryBacking creates an empty in-memory backing for count partitions
func NewMemoryBacking(count int) *MemoryBacking {
	b := &MemoryBacking{
		partitions: make([]*xsync.MapOf[string, []byte], count),
	}
	for i := range b.partitions {
		b.partitions[i] = xsync.NewMapOf[string, []byte]()
	}
	return b
}

func (b *MemoryBacking) Get(partition int, mapName string, key []byte) ([]byte, bool, error) {
	v, ok := b.partitions[partition].Load(entryID(mapName, key))
	return v, ok, nil
}

func (b *MemoryBacking) Apply(partition int, writes []Write) error {
	p := b.partitions[partition]
	for _, w := range writes {
		id := entryID(w.Map, w.Key)
		if w.Delete {
			p.Delete(id)
			continue
		}
		p.Store(id, w.Value)
	}
	return nil
}

func (b *MemoryBacking) DropMap(mapName string) error {
	prefix := mapName + "\x00"
	for _, p := range b.partitions {
		p.Range(func(id string, _ []byte) bool {
			if strings.HasPrefix(id, prefix) {
				p.Delete(id)
			}
			return true
		})
	}
	return nil
}

// Size returns the number of entries across partitions
func (b *MemoryBacking) Size() int {
	n := 0
	for _, p := range b.partitions {
		n += p.Size()
	}
	return n
}

func (b *MemoryBacking) Close() error {
	return nil
}
