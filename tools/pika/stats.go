package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks benchmark statistics using atomic operations.
type Stats struct {
	published uint64
	consumed  uint64
	requests  uint64

	publishErrors uint64
	pollErrors    uint64

	// Request latency (microseconds)
	mu        sync.Mutex
	latencies []int64
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordPublish records one publish request and the values it stored.
func (s *Stats) RecordPublish(values int, latency time.Duration) {
	atomic.AddUint64(&s.published, uint64(values))
	s.recordRequest(latency)
}

// RecordPoll records one poll request and the elements it returned.
func (s *Stats) RecordPoll(elements int, latency time.Duration) {
	atomic.AddUint64(&s.consumed, uint64(elements))
	s.recordRequest(latency)
}

func (s *Stats) recordRequest(latency time.Duration) {
	atomic.AddUint64(&s.requests, 1)
	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordPublishError records values that failed to publish.
func (s *Stats) RecordPublishError(values int) {
	atomic.AddUint64(&s.publishErrors, uint64(values))
}

// RecordPollError records a failed poll.
func (s *Stats) RecordPollError() {
	atomic.AddUint64(&s.pollErrors, 1)
}

// GetLatencyPercentiles returns p50, p90, p95, p99 in microseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p90, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*95/100], sorted[n*99/100]
}

// GetLatencyStats returns min, max, avg in microseconds.
func (s *Stats) GetLatencyStats() (min, max, avg int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0
	}

	min = s.latencies[0]
	max = s.latencies[0]
	var sum int64
	for _, l := range s.latencies {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
		sum += l
	}
	return min, max, sum / int64(len(s.latencies))
}

// Snapshot is a copy of the counters.
type Snapshot struct {
	Published uint64
	Consumed  uint64
	Requests  uint64
	Errors    uint64
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Published: atomic.LoadUint64(&s.published),
		Consumed:  atomic.LoadUint64(&s.consumed),
		Requests:  atomic.LoadUint64(&s.requests),
		Errors:    atomic.LoadUint64(&s.publishErrors) + atomic.LoadUint64(&s.pollErrors),
	}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Published:     %d (%.2f msg/sec)\n", snap.Published, float64(snap.Published)/elapsed.Seconds())
	fmt.Printf("Consumed:      %d (%.2f msg/sec)\n", snap.Consumed, float64(snap.Consumed)/elapsed.Seconds())
	fmt.Printf("Requests:      %d\n", snap.Requests)
	fmt.Println()

	if snap.Errors > 0 {
		fmt.Println("Errors:")
		fmt.Printf("  Publish: %d\n", atomic.LoadUint64(&s.publishErrors))
		fmt.Printf("  Poll:    %d\n", atomic.LoadUint64(&s.pollErrors))
		fmt.Println()
	}

	min, max, avg := s.GetLatencyStats()
	p50, p90, p95, p99 := s.GetLatencyPercentiles()

	fmt.Println("Request latency (microseconds):")
	fmt.Printf("  Min:   %d\n", min)
	fmt.Printf("  Avg:   %d\n", avg)
	fmt.Printf("  Max:   %d\n", max)
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P95:   %d\n", p95)
	fmt.Printf("  P99:   %d\n", p99)
}
