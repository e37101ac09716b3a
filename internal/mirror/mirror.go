// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package mirror implements the mirror component: one rx fed to up to
// two tx ports, with a shallow or deep mbuf copy fanned out to the
// second tx.
package mirror

import (
	"time"

	"github.com/spp-project/spp-worker/internal/dbuf"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/internal/splog"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// CopyMode selects how the mirrored copy is produced.
type CopyMode int

const (
	ShallowCopy CopyMode = iota
	DeepCopy
)

// Plan is the staged/active mirror wiring: one rx, up to two tx.
type Plan struct {
	RxID   portid.ID
	RxPort ethdev.Port

	Tx0ID   portid.ID
	Tx0Port ethdev.Port // original traffic
	Tx1ID   portid.ID
	Tx1Port ethdev.Port // mirrored copy

	Mode CopyMode
}

// Clone deep-copies a Plan (see dbuf.Cloner). Plan holds no mutable
// reference fields beyond what this struct copy already duplicates.
func (p Plan) Clone() Plan { return p }

// Component is the mirror's runnable state.
type Component struct {
	cell *dbuf.Cell[Plan]

	nDrops uint64
}

// New creates an empty mirror component.
func New() *Component {
	return &Component{cell: dbuf.NewCell[Plan]()}
}

func (c *Component) Stage() *Plan   { return c.cell.Stage() }
func (c *Component) Publish()       { c.cell.Publish() }
func (c *Component) Observe() bool  { return c.cell.Observe() }
func (c *Component) Sync()          { c.cell.Sync() }
func (c *Component) Snapshot() Plan { return c.cell.Snapshot() }

// WaitApplied blocks until the fast path has observed the most recent
// Publish, or timeout elapses.
func (c *Component) WaitApplied(timeout, pollInterval time.Duration) bool {
	return c.cell.WaitApplied(timeout, pollInterval)
}

// RunOnce implements lcore.Runnable: receive, transmit the originals on
// the first tx, copy each packet and transmit the copies on the second
// tx. No port ability plans are applied.
func (c *Component) RunOnce() {
	c.cell.Observe()
	plan := c.cell.Read()

	if plan.RxPort == nil {
		return
	}

	pkts := plan.RxPort.RxBurst(ethdev.MaxPktBurst)
	if len(pkts) == 0 {
		return
	}

	nTxOrig := 0
	if plan.Tx0Port != nil {
		nTxOrig = plan.Tx0Port.TxBurst(pkts)
	}

	copies := make([]*mbuf.Mbuf, 0, len(pkts))
	for _, m := range pkts {
		var cp *mbuf.Mbuf
		if plan.Mode == DeepCopy {
			cp = m.DeepCopy()
		} else {
			cp = m.ShallowClone()
		}
		if cp != nil {
			copies = append(copies, cp)
		}
	}

	nTxMirror := 0
	if plan.Tx1Port != nil {
		nTxMirror = plan.Tx1Port.TxBurst(copies)
	}

	c.nDrops += uint64(len(pkts) - nTxOrig + len(copies) - nTxMirror)
	if nTxOrig != nTxMirror {
		splog.Info("mirror: original/mirror tx count mismatch: orig=%d mirror=%d", nTxOrig, nTxMirror)
	}
}

// Drops returns how many packets (originals and copies combined) could
// not be delivered so far.
func (c *Component) Drops() uint64 { return c.nDrops }
