// Package notify wakes local subscribers when elements are appended to a topic channel.
package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for signal channels.
// A subscriber only needs to know that something changed, so dropped signals are harmless.
const defaultSignalBufferSize = 16

// Signal announces an insertion into the named stream (for topics: "<topic>/<channel>").
type Signal struct {
	Name string
	Seq  uint64
}

// Filter selects the names a subscription receives. Empty means every name.
type Filter struct {
	Names []string
}

type subscription struct {
	id     uint64
	names  []string
	ch     chan Signal
	closed atomic.Bool
}

func (s *subscription) deliver(signal Signal) {
	select {
	case s.ch <- signal:
	default:
	}
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe fan-out of insertion signals.
// Subscriptions are indexed by name so a signal only visits interested subscribers.
type Hub struct {
	mu     sync.RWMutex
	all    map[uint64]*subscription            // empty filter
	byName map[string]map[uint64]*subscription // name -> subscribers
	count  int
	nextID atomic.Uint64
	seq    atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		all:    make(map[uint64]*subscription),
		byName: make(map[string]map[uint64]*subscription),
	}
}

// Signal sends a signal to all matching subscribers without blocking.
func (h *Hub) Signal(name string) {
	signal := Signal{Name: name, Seq: h.seq.Add(1)}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.byName[name] {
		sub.deliver(signal)
	}
	for _, sub := range h.all {
		sub.deliver(signal)
	}
}

// Subscribe creates a new subscription and returns the signal channel and an idempotent cancel
// function. Cancel closes the channel.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:    h.nextID.Add(1),
		names: dedupe(filter.Names),
		ch:    make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	if len(sub.names) == 0 {
		h.all[sub.id] = sub
	}
	for _, n := range sub.names {
		subs, ok := h.byName[n]
		if !ok {
			subs = make(map[uint64]*subscription)
			h.byName[n] = subs
		}
		subs[sub.id] = sub
	}
	h.count++
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub) }
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Names returns the number of names with at least one subscriber
func (h *Hub) Names() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byName)
}

func (h *Hub) unsubscribe(sub *subscription) {
	if sub.closed.Load() {
		return
	}

	h.mu.Lock()
	removed := false
	if len(sub.names) == 0 {
		if _, ok := h.all[sub.id]; ok {
			delete(h.all, sub.id)
			removed = true
		}
	}
	for _, n := range sub.names {
		subs := h.byName[n]
		if _, ok := subs[sub.id]; !ok {
			continue
		}
		removed = true
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.byName, n)
		}
	}
	if removed {
		h.count--
	}
	h.mu.Unlock()

	if removed {
		sub.close()
	}
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
