// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

import (
	"time"

	"github.com/spp-project/spp-worker/internal/latency"
	"github.com/spp-project/spp-worker/internal/mbuf"
)

// RingCapacity is the bounded capture ring's depth.
const RingCapacity = 8192

// Ring is the SPSC ring between the receiver and writer lcores. It is
// implemented as a buffered channel: the receiver is the sole sender,
// the writer the sole receiver, which is exactly SPSC usage.
//
// Stats is the optional latency collector: when non-nil, EnqueueBulk
// stamps each mbuf's Timestamp and DequeueBulk records the elapsed
// ring residency into the histogram.
type Ring struct {
	ch    chan *mbuf.Mbuf
	Stats *latency.Stats
}

// NewRing creates an empty ring of RingCapacity with latency tracking
// disabled.
func NewRing() *Ring {
	return &Ring{ch: make(chan *mbuf.Mbuf, RingCapacity)}
}

// EnableLatency turns on the optional ring-latency histogram for this
// ring.
func (r *Ring) EnableLatency() *latency.Stats {
	r.Stats = latency.NewStats()
	return r.Stats
}

// EnqueueBulk enqueues a whole batch with a single bulk operation,
// dropping (and freeing) any that don't fit. Returns the number
// enqueued.
func (r *Ring) EnqueueBulk(pkts []*mbuf.Mbuf) int {
	n := 0
	for _, m := range pkts {
		if r.Stats != nil && !m.TimestampValid {
			m.Timestamp = time.Now()
			m.TimestampValid = true
		}
		select {
		case r.ch <- m:
			n++
		default:
			return n // ring full: remaining mbufs are dropped/freed by caller
		}
	}
	return n
}

// DequeueBulk dequeues up to max mbufs without blocking.
func (r *Ring) DequeueBulk(max int) []*mbuf.Mbuf {
	out := make([]*mbuf.Mbuf, 0, max)
	for i := 0; i < max; i++ {
		select {
		case m := <-r.ch:
			if r.Stats != nil && m.TimestampValid {
				r.Stats.Record(time.Since(m.Timestamp))
			}
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}
