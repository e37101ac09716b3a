// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package dbuf implements the double-buffered "ref/upd" publication cell
// used by every reconfigurable plan in the dataplane (lcore plans, port
// abilities, classifier tables, forwarder/merger/mirror paths).
//
// Two slots hold a value of type T. The fast-path reader always looks at
// slot[refIndex]. The editor (the single master-lcore goroutine) fills
// the other slot, slot[refIndex^1], then publishes by setting updIndex
// to that slot; the reader sees updIndex != refIndex on its next
// iteration and sets refIndex = updIndex. The editor can then busy-wait
// for that switch before considering the publish complete.
package dbuf

import (
	"sync/atomic"
	"time"
)

// Cloner is implemented by plan types so the cell can deep-copy a slot
// instead of aliasing reference fields (maps, slices) across the two
// slots when the editor re-syncs after a publish.
type Cloner[T any] interface {
	Clone() T
}

// Cell is a lock-free double-buffered value of type T.
type Cell[T Cloner[T]] struct {
	slot [2]T

	// refIndex is only ever written by the reader (the fast-path
	// goroutine); updIndex is only ever written by the editor.
	refIndex uint32
	updIndex uint32
}

// NewCell creates a cell with both slots initialized to the zero value.
func NewCell[T Cloner[T]]() *Cell[T] {
	return &Cell[T]{}
}

// Init sets both slots from newVal(), calling it once per slot so types
// with reference fields (maps, slices) don't end up aliased across
// slots. Only safe before the reader goroutine has started consuming
// from the cell (e.g. during component construction).
func (c *Cell[T]) Init(newVal func() T) {
	c.slot[0] = newVal()
	c.slot[1] = newVal()
}

// Read returns the slot currently visible to the fast path. Only the
// reader goroutine should call this.
func (c *Cell[T]) Read() *T {
	return &c.slot[atomic.LoadUint32(&c.refIndex)]
}

// Observe is called once per fast-path loop iteration. If the editor has
// published a new update (upd != ref), the reader flips its ref index to
// the editor's slot and returns true.
func (c *Cell[T]) Observe() bool {
	ref := atomic.LoadUint32(&c.refIndex)
	upd := atomic.LoadUint32(&c.updIndex)
	if ref == upd {
		return false
	}
	atomic.StoreUint32(&c.refIndex, upd)
	return true
}

// Stage returns a pointer to the editor's working slot: whichever slot
// is NOT currently visible to the reader. This is keyed off refIndex,
// not updIndex — once the reader has observed a prior publish,
// updIndex == refIndex, and an editor that naively staged into
// slot[updIndex] would be handed the live slot out from under the
// reader. Only the editor may call this.
func (c *Cell[T]) Stage() *T {
	ref := atomic.LoadUint32(&c.refIndex)
	return &c.slot[ref^1]
}

// Publish makes the editor's staged slot (slot[ref^1]) visible to the
// reader. It does not wait for the reader to observe the flip; call
// WaitApplied for that.
func (c *Cell[T]) Publish() {
	ref := atomic.LoadUint32(&c.refIndex)
	atomic.StoreUint32(&c.updIndex, ref^1)
}

// WaitApplied busy-waits (with the given per-iteration delay) until the
// reader has observed the most recent Publish, or the timeout elapses.
func (c *Cell[T]) WaitApplied(timeout, pollInterval time.Duration) bool {
	upd := atomic.LoadUint32(&c.updIndex)
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadUint32(&c.refIndex) == upd {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// Sync deep-copies the current ref slot into the now-idle other slot
// (via Clone), so the next Stage() call starts from the state currently
// visible to the reader rather than from a generation-old copy. Call
// after WaitApplied returns true, so both slots hold equivalent state
// before the next edit begins.
func (c *Cell[T]) Sync() {
	ref := atomic.LoadUint32(&c.refIndex)
	c.slot[ref^1] = c.slot[ref].Clone()
}

// Snapshot returns a deep copy of the slot currently visible to the
// reader, usable by a status/backup path that must not share mutable
// state with live config.
func (c *Cell[T]) Snapshot() T {
	return c.slot[atomic.LoadUint32(&c.refIndex)].Clone()
}
