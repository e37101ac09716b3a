// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package port

import (
	"testing"

	"github.com/spp-project/spp-worker/internal/ability"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/pkg/portid"
)

func newTestRegistry() *Registry {
	return NewRegistry(ethdev.NewMemFactory(), "/tmp", false)
}

func TestAddPortIdempotent(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 0}

	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("idempotent re-add should succeed, got %v", err)
	}

	if got := r.AttachedTo(id, DirRx); got != "fwd0" {
		t.Fatalf("expected fwd0 attached, got %q", got)
	}
}

func TestAddPortBusyAcrossComponents(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 0}

	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.AddPort(id, DirRx, "fwd1", Attrs{}); err == nil {
		t.Fatal("expected ErrPortBusy when a second component attaches the same direction")
	}
}

func TestDelPortOfAbsentEntryIsNotAnError(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 5}

	if err := r.DelPort(id, DirRx); err != nil {
		t.Fatalf("deleting a never-added port should be a no-op, got %v", err)
	}
}

func TestAbilityFullAtFifthOp(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 0}

	if err := r.AddPort(id, DirTx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < ability.Max; i++ {
		if err := r.AddAbility(id, DirTx, ability.Op{Kind: ability.AddVlanTag, Vid: uint16(i)}); err != nil {
			t.Fatalf("ability %d should have fit, got %v", i, err)
		}
	}

	if err := r.AddAbility(id, DirTx, ability.Op{Kind: ability.AddVlanTag, Vid: 99}); err != ErrAbilityFull {
		t.Fatalf("expected ErrAbilityFull on the 5th ability, got %v", err)
	}
}

func TestFlushCreatesPMDAndMarksFlushed(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Ring, No: 3}

	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	dirty, err := r.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !dirty["fwd0"] {
		t.Fatalf("expected fwd0 to be marked dirty after flush, got %v", dirty)
	}

	info, ok := r.Lookup(id)
	if !ok || !info.Flushed() {
		t.Fatal("port should be flushed (ethdev_port_id >= 0) after Flush")
	}

	list := r.List(portid.Ring)
	if len(list) != 1 || list[0] != 3 {
		t.Fatalf("expected List(ring) == [3], got %v", list)
	}
}

func TestListOnlyReturnsFlushedPorts(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 1}
	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if list := r.List(portid.Phy); len(list) != 0 {
		t.Fatalf("unflushed port must not appear in List, got %v", list)
	}
}

func TestDetachComponentClearsBothDirections(t *testing.T) {
	r := newTestRegistry()
	rx := portid.ID{Kind: portid.Phy, No: 0}
	tx := portid.ID{Kind: portid.Phy, No: 1}

	if err := r.AddPort(rx, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add rx: %v", err)
	}
	if err := r.AddPort(tx, DirTx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add tx: %v", err)
	}

	r.DetachComponent("fwd0")

	if got := r.AttachedTo(rx, DirRx); got != "" {
		t.Fatalf("expected rx detached, got %q", got)
	}
	if got := r.AttachedTo(tx, DirTx); got != "" {
		t.Fatalf("expected tx detached, got %q", got)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := newTestRegistry()
	id := portid.ID{Kind: portid.Phy, No: 0}
	if err := r.AddPort(id, DirRx, "fwd0", Attrs{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	snap := r.Snapshot()

	if err := r.DelPort(id, DirRx); err != nil {
		t.Fatalf("del: %v", err)
	}
	if got := r.AttachedTo(id, DirRx); got != "" {
		t.Fatalf("expected detached after del, got %q", got)
	}

	r.Restore(snap)

	if got := r.AttachedTo(id, DirRx); got != "fwd0" {
		t.Fatalf("expected restore to bring back fwd0, got %q", got)
	}
}
