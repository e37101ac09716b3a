// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package latency implements the optional ring-latency histogram,
// concretized from original_source's ringlatencystats.c: a timestamp
// is stamped on enqueue into a tracked ring, and the elapsed time is
// bucketed into a power-of-two histogram on dequeue.
package latency

import (
	"math/bits"
	"sync/atomic"
	"time"
)

// NumBuckets covers elapsed times from <1us (bucket 0) up to >=2^19us,
// about 524ms (bucket NumBuckets-1), doubling per bucket, matching
// ringlatencystats.c's log2-scaled bucket layout.
const NumBuckets = 21

// Stats accumulates per-bucket counts for one monitored ring. All
// counters are updated with atomic adds so Record can be called from
// the enqueue/dequeue fast paths without locking.
type Stats struct {
	buckets [NumBuckets]uint64
	count   uint64
	sumNs   uint64
}

// NewStats returns a zeroed histogram.
func NewStats() *Stats {
	return &Stats{}
}

// Record buckets one elapsed duration between enqueue and dequeue.
func (s *Stats) Record(d time.Duration) {
	ns := d.Nanoseconds()
	if ns < 0 {
		ns = 0
	}
	us := ns / 1000
	b := bucketFor(us)
	atomic.AddUint64(&s.buckets[b], 1)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sumNs, uint64(ns))
}

// bucketFor maps a microsecond count to a log2 bucket index in
// [0, NumBuckets).
func bucketFor(us int64) int {
	if us <= 0 {
		return 0
	}
	b := bits.Len64(uint64(us))
	if b >= NumBuckets {
		return NumBuckets - 1
	}
	return b
}

// Snapshot is the JSON-friendly rendering of a Stats, additive under
// the status response's "latency" key.
type Snapshot struct {
	Count   uint64   `json:"count"`
	AvgNs   uint64   `json:"avg_ns"`
	Buckets []uint64 `json:"buckets"`
}

// Snapshot reads out the current counts without resetting them.
func (s *Stats) Snapshot() Snapshot {
	out := Snapshot{Buckets: make([]uint64, NumBuckets)}
	for i := range s.buckets {
		out.Buckets[i] = atomic.LoadUint64(&s.buckets[i])
	}
	out.Count = atomic.LoadUint64(&s.count)
	sum := atomic.LoadUint64(&s.sumNs)
	if out.Count > 0 {
		out.AvgNs = sum / out.Count
	}
	return out
}

// Reset clears all counters, mirroring ringlatencystats.c's
// clear-on-read option used between successive "status" polls.
func (s *Stats) Reset() {
	for i := range s.buckets {
		atomic.StoreUint64(&s.buckets[i], 0)
	}
	atomic.StoreUint64(&s.count, 0)
	atomic.StoreUint64(&s.sumNs, 0)
}

// Tracker pairs a ring name with its Stats, so a worker can expose a
// set of tracked rings by name in the status response.
type Tracker struct {
	Name  string
	Stats *Stats
}
