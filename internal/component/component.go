// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package component implements the component table: named workers of a
// given kind, pinned to lcores, keyed by a stable comp_id.
package component

import (
	"fmt"
	"sync"

	"github.com/spp-project/spp-worker/pkg/portid"
)

// Kind identifies what a component does.
type Kind int

const (
	ClassifierMac Kind = iota
	Forwarder
	Merger
	Mirror
	PcapReceiver
	PcapWriter
)

func (k Kind) String() string {
	switch k {
	case ClassifierMac:
		return "classifier_mac"
	case Forwarder:
		return "forward"
	case Merger:
		return "merge"
	case Mirror:
		return "mirror"
	case PcapReceiver:
		return "receive"
	case PcapWriter:
		return "write"
	default:
		return "unknown"
	}
}

// ParseKind parses the CLI/wire kind name used by `component start`.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "classifier_mac":
		return ClassifierMac, nil
	case "forward":
		return Forwarder, nil
	case "merge":
		return Merger, nil
	case "mirror":
		return Mirror, nil
	case "receive":
		return PcapReceiver, nil
	case "write":
		return PcapWriter, nil
	}
	return 0, fmt.Errorf("unknown component kind %q", s)
}

// MaxRx/MaxTx enforce the per-kind port-count constraints at add-port
// time.
func (k Kind) MaxRx() int {
	switch k {
	case Forwarder, ClassifierMac, Mirror:
		return 1
	case Merger:
		return MaxEthports
	case PcapReceiver:
		return 1
	default:
		return 0
	}
}

func (k Kind) MaxTx() int {
	switch k {
	case Forwarder, Merger:
		return 1
	case ClassifierMac:
		return MaxEthports
	case Mirror:
		return 2
	default:
		return 0
	}
}

// MaxEthports mirrors the bound declared in package port to avoid an
// import cycle (component must not depend on port).
const MaxEthports = 8

// MaxLcore bounds the number of lcores and, transitively, the size of
// the component table: comp_id is an index into a fixed table sized
// MaxLcore.
const MaxLcore = 128

// Info is one component's identity and port wiring.
type Info struct {
	Name    string
	Kind    Kind
	CompID  int
	LcoreID int

	RxPorts []portid.ID
	TxPorts []portid.ID

	dirty bool
}

var (
	ErrNameInUse    = fmt.Errorf("component name already in use")
	ErrNameNotFound = fmt.Errorf("no such component")
	ErrTableFull    = fmt.Errorf("component table full")
	ErrRxFull       = fmt.Errorf("component cannot take another rx port")
	ErrTxFull       = fmt.Errorf("component cannot take another tx port")
)

// Table is the master-lcore-owned registry of live components.
type Table struct {
	mu       sync.Mutex
	byName   map[string]*Info
	byCompID map[int]*Info
}

// NewTable creates an empty component table.
func NewTable() *Table {
	return &Table{
		byName:   make(map[string]*Info),
		byCompID: make(map[int]*Info),
	}
}

// Start allocates a new component named name of the given kind. Lcore
// assignment/status validation is the caller's responsibility (the
// lcore scheduler owns Status).
func (t *Table) Start(name string, kind Kind, lcoreID int) (*Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byName[name]; ok {
		return nil, ErrNameInUse
	}

	if len(t.byCompID) >= MaxLcore {
		return nil, ErrTableFull
	}

	id := t.lowestFreeCompID()

	info := &Info{Name: name, Kind: kind, CompID: id, LcoreID: lcoreID, dirty: true}
	t.byName[name] = info
	t.byCompID[id] = info

	return info, nil
}

func (t *Table) lowestFreeCompID() int {
	for i := 0; i < MaxLcore; i++ {
		if _, ok := t.byCompID[i]; !ok {
			return i
		}
	}
	return MaxLcore // unreachable given ErrTableFull check above
}

// Stop removes a component by name.
func (t *Table) Stop(name string) (*Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byName[name]
	if !ok {
		return nil, ErrNameNotFound
	}

	delete(t.byName, name)
	delete(t.byCompID, info.CompID)

	return info, nil
}

// Lookup returns a component by name.
func (t *Table) Lookup(name string) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byName[name]
	return info, ok
}

// ByCompID returns a component by its allocated comp_id.
func (t *Table) ByCompID(id int) (*Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byCompID[id]
	return info, ok
}

// AddRxPort appends a port to a component's staged rx-port list,
// enforcing the per-kind MaxRx constraint.
func (t *Table) AddRxPort(name string, id portid.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byName[name]
	if !ok {
		return ErrNameNotFound
	}

	for _, existing := range info.RxPorts {
		if existing == id {
			return nil // idempotent
		}
	}

	if len(info.RxPorts) >= info.Kind.MaxRx() {
		return ErrRxFull
	}

	info.RxPorts = append(info.RxPorts, id)
	info.dirty = true
	return nil
}

// AddTxPort appends a port to a component's staged tx-port list,
// enforcing the per-kind MaxTx constraint.
func (t *Table) AddTxPort(name string, id portid.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byName[name]
	if !ok {
		return ErrNameNotFound
	}

	for _, existing := range info.TxPorts {
		if existing == id {
			return nil
		}
	}

	if len(info.TxPorts) >= info.Kind.MaxTx() {
		return ErrTxFull
	}

	info.TxPorts = append(info.TxPorts, id)
	info.dirty = true
	return nil
}

// DelPort removes a port from a component's rx or tx list, if present.
func (t *Table) DelPort(name string, id portid.ID, isRx bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.byName[name]
	if !ok {
		return
	}

	list := &info.RxPorts
	if !isRx {
		list = &info.TxPorts
	}

	for i, existing := range *list {
		if existing == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			info.dirty = true
			return
		}
	}
}

// Dirty returns every component with staged (unpublished) edits.
func (t *Table) Dirty() []*Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Info
	for _, info := range t.byCompID {
		if info.dirty {
			out = append(out, info)
		}
	}
	return out
}

// ClearDirty marks info as published.
func (t *Table) ClearDirty(info *Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info.dirty = false
}

// All returns every live component, for status/backup snapshotting.
func (t *Table) All() []*Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Info, 0, len(t.byCompID))
	for _, info := range t.byCompID {
		out = append(out, info)
	}
	return out
}

// Snapshot deep-copies the component table for the cancel/backup layer.
func (t *Table) Snapshot() map[string]Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Info, len(t.byName))
	for name, info := range t.byName {
		cp := *info
		cp.RxPorts = append([]portid.ID(nil), info.RxPorts...)
		cp.TxPorts = append([]portid.ID(nil), info.TxPorts...)
		out[name] = cp
	}
	return out
}

// Restore reinstates a prior Snapshot wholesale.
func (t *Table) Restore(snap map[string]Info) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.byName = make(map[string]*Info, len(snap))
	t.byCompID = make(map[int]*Info, len(snap))
	for name, info := range snap {
		cp := info
		t.byName[name] = &cp
		t.byCompID[cp.CompID] = &cp
	}
}
