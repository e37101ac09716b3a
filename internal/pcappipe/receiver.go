// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/splog"
)

// DateLayout formats the file-date embedded in pcap file names.
const DateLayout = "20060102150405"

// Receiver is the thread_no==0 role: RX-burst from the capture port and
// bulk-enqueue into the shared Ring.
type Receiver struct {
	Ring    *Ring
	Control *Control

	// port holds the capture-side ethdev.Port; it is rewired by the
	// flush path while the fast path keeps running, so access goes
	// through an atomic.Value rather than a plain field. The value is
	// boxed so backends of different concrete types can be swapped.
	port atomic.Value // portBox

	// FileDate is recorded once per capture run, on the Idle->Running
	// transition, and read by the writer when naming files.
	FileDate string

	nDropped uint64
	dropLog  *rate.Limiter
}

type portBox struct{ p ethdev.Port }

// NewReceiver builds a receiver bound to port/ring/control.
func NewReceiver(port ethdev.Port, ring *Ring, ctl *Control) *Receiver {
	r := &Receiver{Ring: ring, Control: ctl, dropLog: rate.NewLimiter(rate.Every(time.Second), 1)}
	if port != nil {
		r.port.Store(portBox{port})
	}
	return r
}

// SetPort rewires the capture port. Called by the flush path; safe
// against a concurrently running RunOnce.
func (r *Receiver) SetPort(p ethdev.Port) {
	if p != nil {
		r.port.Store(portBox{p})
	}
}

// Port returns the current capture port, or nil if none is wired yet.
func (r *Receiver) Port() ethdev.Port {
	box, _ := r.port.Load().(portBox)
	return box.p
}

// RunOnce implements lcore.Runnable: react to start/stop requests, and
// while running, burst from the capture port into the ring.
func (r *Receiver) RunOnce() {
	switch {
	case r.Control.Request() == Running && r.Control.Status() == Idle:
		r.FileDate = time.Now().Format(DateLayout)
		r.Control.setStatus(Running)
		splog.Info("pcap receiver: capture started, file date %s", r.FileDate)
	case r.Control.Request() == Idle && r.Control.Status() == Running:
		r.Control.setStatus(Idle)
		splog.Info("pcap receiver: capture stopped")
	}

	p := r.Port()
	if r.Control.Status() != Running || p == nil {
		return
	}

	pkts := p.RxBurst(ethdev.MaxPktBurst)
	if len(pkts) == 0 {
		return
	}

	n := r.Ring.EnqueueBulk(pkts)
	if n < len(pkts) {
		r.nDropped += uint64(len(pkts) - n)
		if r.dropLog.Allow() {
			splog.Info("pcap receiver: ring full, dropped %d packets so far", r.nDropped)
		}
	}
}
