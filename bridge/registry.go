package bridge

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/gridtopic/cfg"
	"github.com/maxpert/gridtopic/topic"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// SinkFactory creates a Sink from a bridge configuration
type SinkFactory func(cfg.BridgeConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.BridgeConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

type bridge struct {
	config cfg.BridgeConfiguration
	sink   Sink
	filter Filter
}

// WorkerStatus describes one bridge worker
type WorkerStatus struct {
	Bridge    string `json:"bridge"`
	Topic     string `json:"topic"`
	Subject   string `json:"subject"`
	Forwarded int64  `json:"forwarded"`
	Running   bool   `json:"running"`
}

// Registry runs a worker for every pair of bridge and matching open topic
type Registry struct {
	session *topic.Session
	bridges []*bridge
	workers map[string]*Worker
	running atomic.Bool
	hooked  bool
	mu      sync.Mutex
}

// NewRegistry creates the sinks of every bridge configuration
func NewRegistry(session *topic.Session, configs []cfg.BridgeConfiguration) (*Registry, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}

	r := &Registry{
		session: session,
		bridges: make([]*bridge, 0, len(configs)),
		workers: make(map[string]*Worker),
	}

	for _, config := range configs {
		if err := r.addBridge(config); err != nil {
			for _, b := range r.bridges {
				b.sink.Close()
			}
			return nil, fmt.Errorf("failed to add bridge %q: %w", config.Name, err)
		}
	}

	log.Info().Int("bridges", len(r.bridges)).Msg("Bridge registry initialized")
	return r, nil
}

func (r *Registry) addBridge(config cfg.BridgeConfiguration) error {
	filter, err := NewGlobFilter(config.Topics)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	r.bridges = append(r.bridges, &bridge{config: config, sink: snk, filter: filter})

	log.Info().
		Str("bridge", config.Name).
		Str("type", config.Type).
		Strs("topics", config.Topics).
		Msg("Added bridge")
	return nil
}

// Start attaches to every open topic and to topics opened later
func (r *Registry) Start() error {
	r.mu.Lock()
	if r.running.Load() {
		r.mu.Unlock()
		return fmt.Errorf("registry already running")
	}
	r.running.Store(true)
	if !r.hooked {
		r.hooked = true
		r.session.OnOpen(r.attach)
	}
	r.mu.Unlock()

	for _, name := range r.session.Topics() {
		if c, ok := r.session.Lookup(name); ok {
			r.attach(c)
		}
	}

	log.Info().Int("bridges", len(r.bridges)).Msg("Bridge registry started")
	return nil
}

// attach starts the workers of every bridge following c. A worker left over from a destroyed
// handle of the same name is replaced.
func (r *Registry) attach(c *topic.Caches) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Load() {
		return
	}

	for _, b := range r.bridges {
		if !b.filter.Match(c.Name()) {
			continue
		}

		key := b.config.Name + "/" + c.Name()
		if old, ok := r.workers[key]; ok {
			if old.config.Topic == c && old.IsRunning() {
				continue
			}
			old.Stop()
		}

		w, err := NewWorker(WorkerConfig{
			Bridge:          b.config.Name,
			Topic:           c,
			Sink:            b.sink,
			TargetPrefix:    b.config.TargetPrefix,
			BatchSize:       b.config.BatchSize,
			PollInterval:    time.Duration(b.config.PollIntervalMS) * time.Millisecond,
			RetryInitial:    time.Duration(b.config.RetryInitialMS) * time.Millisecond,
			RetryMax:        time.Duration(b.config.RetryMaxMS) * time.Millisecond,
			RetryMultiplier: b.config.RetryMultiplier,
		})
		if err != nil {
			log.Error().Err(err).Str("bridge", b.config.Name).Str("topic", c.Name()).Msg("Failed to create bridge worker")
			continue
		}
		r.workers[key] = w
		w.Start()
	}
}

// Status lists the workers ordered by bridge and topic
func (r *Registry) Status() []WorkerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]WorkerStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, WorkerStatus{
			Bridge:    w.config.Bridge,
			Topic:     w.config.Topic.Name(),
			Subject:   w.Subject(),
			Forwarded: w.Forwarded(),
			Running:   w.IsRunning(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bridge != out[j].Bridge {
			return out[i].Bridge < out[j].Bridge
		}
		return out[i].Topic < out[j].Topic
	})
	return out
}

// Stop stops every worker and closes the sinks
func (r *Registry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return nil
	}

	log.Info().Int("workers", len(r.workers)).Msg("Stopping bridge registry")

	for key, w := range r.workers {
		w.Stop()
		delete(r.workers, key)
	}

	var err error
	for _, b := range r.bridges {
		if cerr := b.sink.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close sink %s: %w", b.config.Name, cerr))
		}
	}

	log.Info().Msg("Bridge registry stopped")
	return err
}
