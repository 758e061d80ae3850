package topic

import (
	"context"
	"sort"
	"sync"

	"github.com/maxpert/gridtopic/grid"
	"github.com/maxpert/gridtopic/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// Session hands out one Caches per topic name on this node
type Session struct {
	service  grid.Invoker
	defaults Options
	topics   *xsync.MapOf[string, *Caches]
	flights  singleflight.Group

	mu     sync.Mutex
	onOpen []func(*Caches)
}

// Ensure Session can feed the metrics collector
var _ telemetry.TopicLister = (*Session)(nil)

// NewSession creates a session over the grid. Topics are created with defaults unless they
// already exist.
func NewSession(service grid.Invoker, defaults Options) *Session {
	return &Session{
		service:  service,
		defaults: defaults.withDefaults(),
		topics:   xsync.NewMapOf[string, *Caches](),
	}
}

// Service returns the grid the session opens topics in
func (s *Session) Service() grid.Invoker {
	return s.service
}

// Topic returns the open handle of name, creating it on first use. Concurrent callers share one
// creation.
func (s *Session) Topic(ctx context.Context, name string) (*Caches, error) {
	if c, ok := s.topics.Load(name); ok && !c.IsClosed() {
		return c, nil
	}

	v, err, _ := s.flights.Do(name, func() (any, error) {
		if c, ok := s.topics.Load(name); ok && !c.IsClosed() {
			return c, nil
		}
		c, err := NewCaches(ctx, name, s.service, s.defaults)
		if err != nil {
			return nil, err
		}
		s.topics.Store(name, c)

		s.mu.Lock()
		listeners := append([]func(*Caches){}, s.onOpen...)
		s.mu.Unlock()
		for _, fn := range listeners {
			fn(c)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Caches), nil
}

// Lookup returns the open handle of name without creating it
func (s *Session) Lookup(name string) (*Caches, bool) {
	c, ok := s.topics.Load(name)
	if !ok || c.IsClosed() {
		return nil, false
	}
	return c, true
}

// OnOpen registers fn to run for every topic opened after the call
func (s *Session) OnOpen(fn func(*Caches)) {
	s.mu.Lock()
	s.onOpen = append(s.onOpen, fn)
	s.mu.Unlock()
}

// Topics returns the names of open topics in order
func (s *Session) Topics() []string {
	var names []string
	s.topics.Range(func(name string, c *Caches) bool {
		if !c.IsClosed() {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

// OpenTopics lists open topics for the metrics collector
func (s *Session) OpenTopics() []telemetry.ChannelTails {
	var out []telemetry.ChannelTails
	for _, name := range s.Topics() {
		if c, ok := s.Lookup(name); ok {
			out = append(out, c)
		}
	}
	return out
}

// Destroy drops the topic and forgets its handle
func (s *Session) Destroy(ctx context.Context, name string) error {
	c, err := s.Topic(ctx, name)
	if err != nil {
		return err
	}
	s.topics.Delete(name)
	return c.Destroy(ctx)
}

// Close releases every handle
func (s *Session) Close() error {
	var err error
	s.topics.Range(func(name string, c *Caches) bool {
		err = multierr.Append(err, c.Close())
		s.topics.Delete(name)
		return true
	})
	return err
}
