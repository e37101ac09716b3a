// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

import (
	"testing"

	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
)

func TestReceiverTransitionsIdleToRunningOnce(t *testing.T) {
	port := ethdev.NewMemPort(16)
	ring := NewRing()
	ctl := &Control{}
	r := NewReceiver(port, ring, ctl)

	if r.Control.Status() != Idle {
		t.Fatal("expected initial status Idle")
	}

	ctl.SetRequest(Running)
	r.RunOnce()

	if r.Control.Status() != Running {
		t.Fatal("expected status Running after one RunOnce with a Running request")
	}
	if r.FileDate == "" {
		t.Fatal("expected FileDate to be stamped on the Idle->Running transition")
	}
	firstDate := r.FileDate

	r.RunOnce() // already running: must not re-stamp FileDate
	if r.FileDate != firstDate {
		t.Fatal("FileDate must only be set on the transition, not every RunOnce")
	}
}

func TestReceiverTransitionsRunningToIdle(t *testing.T) {
	port := ethdev.NewMemPort(16)
	ring := NewRing()
	ctl := &Control{}
	r := NewReceiver(port, ring, ctl)

	ctl.SetRequest(Running)
	r.RunOnce()

	ctl.SetRequest(Idle)
	r.RunOnce()

	if r.Control.Status() != Idle {
		t.Fatal("expected status Idle after request flips back to Idle")
	}
}

func TestReceiverEnqueuesWhileRunning(t *testing.T) {
	port := ethdev.NewMemPort(16)
	ring := NewRing()
	ctl := &Control{}
	r := NewReceiver(port, ring, ctl)

	ctl.SetRequest(Running)
	r.RunOnce()

	port.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1}), mbuf.New([]byte{2})})
	r.RunOnce()

	out := ring.DequeueBulk(8)
	if len(out) != 2 {
		t.Fatalf("expected 2 packets enqueued while running, got %d", len(out))
	}
}

func TestReceiverDropsPacketsWhileIdle(t *testing.T) {
	port := ethdev.NewMemPort(16)
	ring := NewRing()
	ctl := &Control{}
	r := NewReceiver(port, ring, ctl)

	port.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1})})
	r.RunOnce()

	if out := ring.DequeueBulk(8); len(out) != 0 {
		t.Fatalf("expected no packets enqueued while idle, got %d", len(out))
	}
}
