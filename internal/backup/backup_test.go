// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package backup

import (
	"testing"

	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/lcore"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/pkg/portid"
)

func TestRestoreWithNothingSavedIsNoop(t *testing.T) {
	m := NewManager()
	ports := port.NewRegistry(ethdev.NewMemFactory(), "/tmp", false)
	comps := component.NewTable()
	sched := lcore.NewScheduler(1, 0)

	if m.Restore(ports, comps, sched) {
		t.Fatal("Restore should report false when nothing has been saved yet")
	}
}

func TestSaveThenRestoreRollsBackAllThreeRegistries(t *testing.T) {
	m := NewManager()
	ports := port.NewRegistry(ethdev.NewMemFactory(), "/tmp", false)
	comps := component.NewTable()
	sched := lcore.NewScheduler(2, 0)

	id := portid.ID{Kind: portid.Phy, No: 0}
	if err := ports.AddPort(id, port.DirRx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("add port: %v", err)
	}
	if _, err := comps.Start("fwd0", component.Forwarder, 1); err != nil {
		t.Fatalf("start component: %v", err)
	}

	m.Save(ports, comps, sched)

	// Mutate all three after the snapshot.
	if err := ports.DelPort(id, port.DirRx); err != nil {
		t.Fatalf("del port: %v", err)
	}
	if _, err := comps.Stop("fwd0"); err != nil {
		t.Fatalf("stop component: %v", err)
	}

	if !m.Restore(ports, comps, sched) {
		t.Fatal("Restore should report true once a snapshot exists")
	}

	if got := ports.AttachedTo(id, port.DirRx); got != "fwd0" {
		t.Fatalf("expected port attachment restored, got %q", got)
	}
	if _, ok := comps.Lookup("fwd0"); !ok {
		t.Fatal("expected component table entry restored")
	}
}

func TestSaveCapturesCoreInfo(t *testing.T) {
	m := NewManager()
	ports := port.NewRegistry(ethdev.NewMemFactory(), "/tmp", false)
	comps := component.NewTable()
	sched := lcore.NewScheduler(2, 0)

	staged := sched.Lcore(1).Core().Stage()
	staged.CompIDs = append(staged.CompIDs, 5)
	sched.Lcore(1).Core().Publish()
	sched.Lcore(1).Core().Observe()
	sched.Lcore(1).Core().Sync()

	m.Save(ports, comps, sched)

	staged2 := sched.Lcore(1).Core().Stage()
	staged2.CompIDs = append(staged2.CompIDs, 6)
	sched.Lcore(1).Core().Publish()
	sched.Lcore(1).Core().Observe()
	sched.Lcore(1).Core().Sync()

	if !m.Restore(ports, comps, sched) {
		t.Fatal("expected Restore to report true")
	}
	sched.Lcore(1).Core().Observe()

	got := sched.Lcore(1).Core().Read().CompIDs
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("expected restored core info [5], got %v", got)
	}
}
