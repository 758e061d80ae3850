package grid

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Ring assigns partitions to members by consistent hashing with virtual nodes. Walking the ring
// clockwise from a partition's hash gives the order in which members are tried for it.
type Ring struct {
	vnodes  int
	ring    []uint64          // Sorted hash ring
	ringMap map[uint64]uint64 // hash -> member ID
	members map[uint64]bool
	mu      sync.RWMutex
}

// NewRing creates an empty ring
func NewRing(vnodes int) *Ring {
	if vnodes < 1 {
		vnodes = 1
	}
	return &Ring{
		vnodes:  vnodes,
		ringMap: make(map[uint64]uint64),
		members: make(map[uint64]bool),
	}
}

// Add places a member on the ring
func (r *Ring) Add(memberID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[memberID] {
		return
	}
	r.members[memberID] = true

	for i := 0; i < r.vnodes; i++ {
		vnode := hashVNode(memberID, i)
		r.ring = append(r.ring, vnode)
		r.ringMap[vnode] = memberID
	}

	sort.Slice(r.ring, func(i, j int) bool {
		return r.ring[i] < r.ring[j]
	})
}

// Remove takes a member off the ring
func (r *Ring) Remove(memberID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.members[memberID] {
		return
	}
	delete(r.members, memberID)

	kept := r.ring[:0]
	for _, vnode := range r.ring {
		if r.ringMap[vnode] != memberID {
			kept = append(kept, vnode)
		} else {
			delete(r.ringMap, vnode)
		}
	}
	r.ring = kept
}

// Owner returns the primary member for a partition
func (r *Ring) Owner(partition int) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ring) == 0 {
		return 0, fmt.Errorf("no members in ring")
	}
	return r.ringMap[r.ring[r.search(partition)]], nil
}

// Candidates returns every member in the order they should be tried for a partition
func (r *Ring) Candidates(partition int) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.ring) == 0 {
		return nil
	}

	out := make([]uint64, 0, len(r.members))
	seen := make(map[uint64]bool, len(r.members))
	idx := r.search(partition)
	for i := 0; i < len(r.ring) && len(out) < len(r.members); i++ {
		memberID := r.ringMap[r.ring[(idx+i)%len(r.ring)]]
		if !seen[memberID] {
			seen[memberID] = true
			out = append(out, memberID)
		}
	}
	return out
}

func (r *Ring) search(partition int) int {
	hash := hashPartition(partition)
	idx := sort.Search(len(r.ring), func(i int) bool {
		return r.ring[i] >= hash
	})
	if idx >= len(r.ring) {
		idx = 0
	}
	return idx
}

// Members returns the member IDs on the ring
func (r *Ring) Members() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint64, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of members
func (r *Ring) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Distribution returns how many of count partitions each member owns
func (r *Ring) Distribution(count int) map[uint64]int {
	stats := make(map[uint64]int)
	for p := 0; p < count; p++ {
		if owner, err := r.Owner(p); err == nil {
			stats[owner]++
		}
	}
	return stats
}

func hashPartition(partition int) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(partition))
	return xxhash.Sum64(buf[:])
}

func hashVNode(memberID uint64, vnode int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%d:%d", memberID, vnode))
}
