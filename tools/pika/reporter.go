package main

import (
	"context"
	"fmt"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var last Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Printf("[%5.0fs] published/sec: %6d | consumed/sec: %6d | published: %8d | consumed: %8d | errors: %4d\n",
				elapsed.Seconds(),
				snap.Published-last.Published,
				snap.Consumed-last.Consumed,
				snap.Published,
				snap.Consumed,
				snap.Errors,
			)
			last = snap
		}
	}
}
