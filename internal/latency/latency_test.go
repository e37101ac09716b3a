// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package latency

import (
	"testing"
	"time"
)

func TestRecordIncrementsCountAndBucket(t *testing.T) {
	s := NewStats()
	s.Record(500 * time.Microsecond)
	s.Record(2 * time.Millisecond)

	snap := s.Snapshot()
	if snap.Count != 2 {
		t.Fatalf("expected count 2, got %d", snap.Count)
	}
	if snap.AvgNs == 0 {
		t.Fatal("expected a nonzero average")
	}

	var total uint64
	for _, b := range snap.Buckets {
		total += b
	}
	if total != 2 {
		t.Fatalf("expected bucket counts to sum to 2, got %d", total)
	}
}

func TestBucketForIsMonotonic(t *testing.T) {
	prev := bucketFor(0)
	for _, us := range []int64{1, 2, 4, 8, 100, 10000, 2000000} {
		b := bucketFor(us)
		if b < prev {
			t.Fatalf("bucketFor(%d)=%d should not decrease from previous bucket %d", us, b, prev)
		}
		if b < 0 || b >= NumBuckets {
			t.Fatalf("bucketFor(%d)=%d out of range", us, b)
		}
		prev = b
	}
}

func TestBucketForClampsAtTop(t *testing.T) {
	if b := bucketFor(1 << 40); b != NumBuckets-1 {
		t.Fatalf("expected huge values clamped to the last bucket, got %d", b)
	}
}

func TestResetClearsCounters(t *testing.T) {
	s := NewStats()
	s.Record(time.Millisecond)
	s.Reset()

	snap := s.Snapshot()
	if snap.Count != 0 || snap.AvgNs != 0 {
		t.Fatalf("expected zeroed snapshot after Reset, got %+v", snap)
	}
	for _, b := range snap.Buckets {
		if b != 0 {
			t.Fatalf("expected all buckets zeroed after Reset, got %+v", snap.Buckets)
		}
	}
}
