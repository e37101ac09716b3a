// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package pcappipe implements the PCAP capture pipeline: a receive
// lcore feeding a bounded SPSC ring, drained by a writer lcore that
// streams LZ4-framed pcap files.
package pcappipe

import "sync/atomic"

// CaptureStatus is the Idle/Running state shared between the start/stop
// commands, the receiver, and the writer.
type CaptureStatus int32

const (
	Idle CaptureStatus = iota
	Running
)

// Control is the shared (capture_request, capture_status) word pair.
// Commands toggle Request; the receiver observes it and publishes
// Status only once it has actually transitioned.
type Control struct {
	request int32
	status  int32
}

func (c *Control) SetRequest(s CaptureStatus) { atomic.StoreInt32(&c.request, int32(s)) }
func (c *Control) Request() CaptureStatus     { return CaptureStatus(atomic.LoadInt32(&c.request)) }
func (c *Control) setStatus(s CaptureStatus)  { atomic.StoreInt32(&c.status, int32(s)) }
func (c *Control) Status() CaptureStatus      { return CaptureStatus(atomic.LoadInt32(&c.status)) }
