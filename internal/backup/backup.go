// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package backup implements the cancel/backup layer: a snapshot of
// (port registry, component table, lcore core info) taken before the
// first successful flush of a session, and restored wholesale if any
// later flush step fails.
package backup

import (
	"sync"

	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/lcore"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// Snapshot is a point-in-time copy of every piece of editable state a
// flush can mutate.
type Snapshot struct {
	Ports      map[portid.ID]port.Info
	Components map[string]component.Info
	Cores      map[int]lcore.CoreInfo
}

// Manager owns the single "last known good" snapshot used to roll back
// a failed flush: restore wholesale on any flush failure, clear dirty
// bits.
type Manager struct {
	mu   sync.Mutex
	have bool
	snap Snapshot
}

// NewManager creates an empty backup manager.
func NewManager() *Manager {
	return &Manager{}
}

// Save records a fresh snapshot of the three registries, overwriting
// whatever was saved before. Called after a flush succeeds.
func (m *Manager) Save(ports *port.Registry, comps *component.Table, sched *lcore.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap = Snapshot{
		Ports:      ports.Snapshot(),
		Components: comps.Snapshot(),
		Cores:      coreSnapshot(sched),
	}
	m.have = true
}

// Restore reinstates the last saved snapshot into the three registries.
// It is a no-op (and returns false) if nothing has ever been saved,
// matching the "first flush of a session has nothing to roll back to"
// edge case.
func (m *Manager) Restore(ports *port.Registry, comps *component.Table, sched *lcore.Scheduler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.have {
		return false
	}

	ports.Restore(m.snap.Ports)
	comps.Restore(m.snap.Components)
	restoreCores(sched, m.snap.Cores)

	return true
}

// coreSnapshot reads every lcore's currently-applied CoreInfo. Only the
// ref-side state is captured: any not-yet-published staged edit is
// deliberately dropped, since it is exactly the edit the caller may be
// about to roll back.
func coreSnapshot(sched *lcore.Scheduler) map[int]lcore.CoreInfo {
	out := make(map[int]lcore.CoreInfo)
	for _, id := range sched.IDs() {
		out[id] = sched.Lcore(id).Core().Snapshot()
	}
	return out
}

// restoreCores re-stages and republishes every lcore's CoreInfo from a
// snapshot taken by coreSnapshot.
func restoreCores(sched *lcore.Scheduler, snap map[int]lcore.CoreInfo) {
	for id, info := range snap {
		l := sched.Lcore(id)
		if l == nil {
			continue
		}
		staged := l.Core().Stage()
		*staged = info.Clone()
		l.Core().Publish()
	}
}
