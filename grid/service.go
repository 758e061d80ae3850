package grid

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/gridtopic/encoding"
	"github.com/maxpert/gridtopic/hlc"
	"github.com/maxpert/gridtopic/notify"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Service executes processors and plain map operations against the partitions held by this
// member. Calls against the same partition are serialized; different partitions run in parallel.
type Service struct {
	partitions int
	backing    Backing
	clock      *hlc.Clock
	hub        *notify.Hub
	locks      []sync.Mutex
	maps       *xsync.MapOf[string, struct{}]
	closed     atomic.Bool
}

// Ensure Service implements Invoker
var _ Invoker = (*Service)(nil)

// NewService creates a service over count partitions
func NewService(count int, backing Backing, clock *hlc.Clock, hub *notify.Hub) *Service {
	if hub == nil {
		hub = notify.NewHub()
	}
	return &Service{
		partitions: count,
		backing:    backing,
		clock:      clock,
		hub:        hub,
		locks:      make([]sync.Mutex, count),
		maps:       xsync.NewMapOf[string, struct{}](),
	}
}

// NewMemoryService is a single member service over an in-memory backing
func NewMemoryService(count int) *Service {
	return NewService(count, NewMemoryBacking(count), hlc.NewClock(1), nil)
}

func (s *Service) PartitionCount() int {
	return s.partitions
}

// Hub returns the notifier signalled after commits
func (s *Service) Hub() *notify.Hub {
	return s.hub
}

// Clock returns the member clock
func (s *Service) Clock() *hlc.Clock {
	return s.clock
}

func (s *Service) check(mapName string, partition int) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if partition < 0 || partition >= s.partitions {
		return &PartitionError{Partition: partition, Count: s.partitions}
	}
	if _, ok := s.maps.Load(mapName); !ok {
		return fmt.Errorf("%w: %s", ErrMapNotActive, mapName)
	}
	return nil
}

// Execute runs p against key and returns its unencoded result
func (s *Service) Execute(mapName string, partition int, key []byte, p Processor) (any, error) {
	if err := s.check(mapName, partition); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.execute(mapName, partition, key, p)
	telemetry.GridInvocationSeconds.With("local").Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	telemetry.GridInvocationsTotal.With(p.Kind().String(), outcome).Inc()
	return result, err
}

func (s *Service) execute(mapName string, partition int, key []byte, p Processor) (any, error) {
	s.locks[partition].Lock()

	ctx := newPartitionContext(partition, s.backing, s.clock)
	entry, err := ctx.Entry(mapName, key)
	if err != nil {
		s.locks[partition].Unlock()
		return nil, err
	}

	result, err := p.Process(entry)
	if err != nil {
		s.locks[partition].Unlock()
		return nil, err
	}

	if err := s.backing.Apply(partition, ctx.writes()); err != nil {
		s.locks[partition].Unlock()
		log.Error().
			Err(err).
			Str("map", mapName).
			Int("partition", partition).
			Str("kind", p.Kind().String()).
			Msg("Failed to commit processor writes")
		return nil, err
	}
	s.locks[partition].Unlock()

	for _, name := range ctx.signals {
		s.hub.Signal(name)
	}
	return result, nil
}

// Invoke runs p and returns its msgpack encoded result
func (s *Service) Invoke(_ context.Context, mapName string, partition int, key []byte, p Processor) ([]byte, error) {
	result, err := s.Execute(mapName, partition, key, p)
	if err != nil {
		return nil, err
	}
	return encoding.Marshal(result)
}

func (s *Service) Get(_ context.Context, mapName string, partition int, key []byte) ([]byte, bool, error) {
	if err := s.check(mapName, partition); err != nil {
		return nil, false, err
	}

	s.locks[partition].Lock()
	defer s.locks[partition].Unlock()
	return s.backing.Get(partition, mapName, key)
}

func (s *Service) Put(_ context.Context, mapName string, partition int, key, value []byte) error {
	if err := s.check(mapName, partition); err != nil {
		return err
	}

	s.locks[partition].Lock()
	defer s.locks[partition].Unlock()
	return s.backing.Apply(partition, []Write{{Map: mapName, Key: key, Value: value}})
}

func (s *Service) Remove(_ context.Context, mapName string, partition int, key []byte) error {
	if err := s.check(mapName, partition); err != nil {
		return err
	}

	s.locks[partition].Lock()
	defer s.locks[partition].Unlock()
	return s.backing.Apply(partition, []Write{{Map: mapName, Key: key, Delete: true}})
}

// EnsureMap activates a map. It is idempotent.
func (s *Service) EnsureMap(_ context.Context, name string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if err := validateMapName(name); err != nil {
		return err
	}
	if _, loaded := s.maps.LoadOrStore(name, struct{}{}); !loaded {
		log.Debug().Str("map", name).Msg("Map activated")
	}
	return nil
}

func (s *Service) IsActive(_ context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, nil
	}
	_, ok := s.maps.Load(name)
	return ok, nil
}

// Destroy deactivates a map and drops its data from every partition
func (s *Service) Destroy(_ context.Context, name string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if _, ok := s.maps.LoadAndDelete(name); !ok {
		return nil
	}

	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()

	if err := s.backing.DropMap(name); err != nil {
		return fmt.Errorf("failed to drop map %s: %w", name, err)
	}
	log.Info().Str("map", name).Msg("Map destroyed")
	return nil
}

// Maps lists the active maps
func (s *Service) Maps() []string {
	var names []string
	s.maps.Range(func(name string, _ struct{}) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Close stops accepting calls and closes the backing
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backing.Close()
}

func validateMapName(name string) error {
	if name == "" {
		return fmt.Errorf("map name is required")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return fmt.Errorf("map name %q contains a NUL byte", name)
		}
	}
	return nil
}
