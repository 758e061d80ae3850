package grid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Key layout: {partition:4 BE}{map name}{0x00}{key}. Partitions and maps are contiguous ranges,
// so dropping a map is one range delete per partition.

// PebbleBackingOptions configures Pebble
type PebbleBackingOptions struct {
	CacheSizeMB    int64 // Block cache size (default: 32MB)
	MemTableSizeMB int64 // Write buffer size (default: 16MB)
	DisableWAL     bool  // Only for testing!
	Sync           bool  // fsync every Apply
	LRUSize        int   // Decoded entries kept in front of pebble, 0 disables
}

// DefaultPebbleBackingOptions returns the options used by the node
func DefaultPebbleBackingOptions(cacheEntries int) PebbleBackingOptions {
	return PebbleBackingOptions{
		CacheSizeMB:    32,
		MemTableSizeMB: 16,
		Sync:           false,
		LRUSize:        cacheEntries,
	}
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// PebbleBacking persists partitions in a single Pebble database
type PebbleBacking struct {
	db         *pebble.DB
	path       string
	partitions int
	writeOpts  *pebble.WriteOptions
	cache      *lru.Cache[string, []byte]
	closed     atomic.Bool
}

// Ensure PebbleBacking implements Backing
var _ Backing = (*PebbleBacking)(nil)

// NewPebbleBacking opens (or creates) the database at path
func NewPebbleBacking(path string, partitions int, opts PebbleBackingOptions) (*PebbleBacking, error) {
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = 32
	}
	if opts.MemTableSizeMB <= 0 {
		opts.MemTableSizeMB = 16
	}

	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref() // DB will hold reference

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: uint64(opts.MemTableSizeMB << 20),
		DisableWAL:   opts.DisableWAL,
		Logger:       &pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	b := &PebbleBacking{
		db:         db,
		path:       path,
		partitions: partitions,
		writeOpts:  pebble.NoSync,
	}
	if opts.Sync {
		b.writeOpts = pebble.Sync
	}

	if opts.LRUSize > 0 {
		b.cache, err = lru.New[string, []byte](opts.LRUSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create entry cache: %w", err)
		}
	}

	log.Info().
		Str("path", path).
		Int("partitions", partitions).
		Int("lru_size", opts.LRUSize).
		Msg("Opened pebble partition backing")

	return b, nil
}

func pebbleMapPrefix(partition int, mapName string) []byte {
	prefix := make([]byte, 4, 4+len(mapName)+1)
	binary.BigEndian.PutUint32(prefix, uint32(partition))
	prefix = append(prefix, mapName...)
	return append(prefix, 0)
}

func pebbleKey(partition int, mapName string, key []byte) []byte {
	return append(pebbleMapPrefix(partition, mapName), key...)
}

// prefixUpperBound returns the smallest key greater than every key starting with prefix
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

func (b *PebbleBacking) Get(partition int, mapName string, key []byte) ([]byte, bool, error) {
	k := pebbleKey(partition, mapName, key)

	if b.cache != nil {
		if v, ok := b.cache.Get(string(k)); ok {
			return v, true, nil
		}
	}

	val, closer, err := b.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)

	if b.cache != nil {
		b.cache.Add(string(k), out)
	}
	return out, true, nil
}

func (b *PebbleBacking) Apply(partition int, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	keys := make([][]byte, len(writes))
	for i, w := range writes {
		keys[i] = pebbleKey(partition, w.Map, w.Key)
		var err error
		if w.Delete {
			err = batch.Delete(keys[i], nil)
		} else {
			err = batch.Set(keys[i], w.Value, nil)
		}
		if err != nil {
			return err
		}
	}

	if err := batch.Commit(b.writeOpts); err != nil {
		return err
	}

	if b.cache != nil {
		for i, w := range writes {
			if w.Delete {
				b.cache.Remove(string(keys[i]))
			} else {
				b.cache.Add(string(keys[i]), w.Value)
			}
		}
	}
	return nil
}

func (b *PebbleBacking) DropMap(mapName string) error {
	batch := b.db.NewBatch()
	defer batch.Close()

	for p := 0; p < b.partitions; p++ {
		prefix := pebbleMapPrefix(p, mapName)
		if err := batch.DeleteRange(prefix, prefixUpperBound(prefix), nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(b.writeOpts); err != nil {
		return err
	}

	if b.cache != nil {
		b.cache.Purge()
	}
	return nil
}

func (b *PebbleBacking) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Info().Str("path", b.path).Msg("Closing pebble partition backing")
	return b.db.Close()
}
