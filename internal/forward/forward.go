// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package forward implements the forwarder and merger components:
// both run the same bulk-burst loop over a list of (rx, tx) paths; a
// forwarder has exactly one path, a merger has one tx fed by every rx
// path.
package forward

import (
	"time"

	"github.com/spp-project/spp-worker/internal/ability"
	"github.com/spp-project/spp-worker/internal/dbuf"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// Path is one rx->tx hop of the plan.
type Path struct {
	RxID   portid.ID
	RxPort ethdev.Port
	RxAbil *ability.Cell

	TxID   portid.ID
	TxPort ethdev.Port // nil if tx side isn't flushed yet
	TxAbil *ability.Cell
}

// Plan is the staged/active set of paths for a forwarder (len 1) or
// merger (one tx, many rx).
type Plan struct {
	Paths []Path
}

// Clone deep-copies a Plan (see dbuf.Cloner); Path itself holds no
// mutable reference fields beyond the slice this copies.
func (p Plan) Clone() Plan {
	return Plan{Paths: append([]Path(nil), p.Paths...)}
}

// Component is a forwarder or merger's runnable state.
type Component struct {
	cell *dbuf.Cell[Plan]
}

// New creates an empty forward/merger component.
func New() *Component {
	c := &Component{cell: dbuf.NewCell[Plan]()}
	return c
}

func (c *Component) Stage() *Plan     { return c.cell.Stage() }
func (c *Component) Publish()         { c.cell.Publish() }
func (c *Component) Observe() bool    { return c.cell.Observe() }
func (c *Component) Sync()            { c.cell.Sync() }
func (c *Component) Snapshot() Plan   { return c.cell.Snapshot() }

// WaitApplied blocks until the fast path has observed the most recent
// Publish, or timeout elapses.
func (c *Component) WaitApplied(timeout, pollInterval time.Duration) bool {
	return c.cell.WaitApplied(timeout, pollInterval)
}

// RunOnce implements lcore.Runnable: for each path, receive up to
// MaxPktBurst from rx and, if tx is flushed, transmit them; free any
// unsent tail.
func (c *Component) RunOnce() {
	c.cell.Observe()
	plan := c.cell.Read()

	for i := range plan.Paths {
		path := &plan.Paths[i]
		if path.RxPort == nil {
			continue
		}

		pkts := path.RxPort.RxBurst(ethdev.MaxPktBurst)
		if len(pkts) == 0 {
			continue
		}

		if path.RxAbil != nil {
			for _, m := range pkts {
				path.RxAbil.Apply(m)
			}
		}

		if path.TxPort == nil {
			continue
		}

		if path.TxAbil != nil {
			for _, m := range pkts {
				path.TxAbil.Apply(m)
			}
		}

		sent := path.TxPort.TxBurst(pkts)
		freeTail(pkts, sent)
	}
}

func freeTail(pkts []*mbuf.Mbuf, sent int) {
	_ = pkts[sent:] // unreferenced past this point, reclaimed by GC
}
