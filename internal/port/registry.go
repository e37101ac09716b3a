// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package port implements the port registry: a typed, stable identity
// space mapping (kind, index) to ethdev port IDs, with deferred PMD
// creation on flush.
package port

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spp-project/spp-worker/internal/ability"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/splog"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// MaxEthports bounds the number of rx/tx ports a single component may
// reference.
const MaxEthports = 8

// Direction is a bitmask: a port may be attached as an rx source and a
// tx target by different components at once.
type Direction int

const (
	DirRx Direction = 1 << iota
	DirTx
)

// Info is the registry's record for one port identity.
type Info struct {
	ID portid.ID

	// EthdevPortID is -1 until the port has been flushed.
	EthdevPortID int32

	Port ethdev.Port

	MacU64  uint64
	MacStr  string
	VlanVid int

	// attachedRx/attachedTx name the component currently using this port
	// in that direction, or "" if unattached.
	attachedRx string
	attachedTx string

	// RefCount counts live direction attachments.
	RefCount int

	rxAbility *ability.Cell
	txAbility *ability.Cell

	dirty bool
}

// Ability returns the ability cell for the given direction, creating it
// lazily.
func (i *Info) Ability(dir Direction) *ability.Cell {
	if dir == DirRx {
		if i.rxAbility == nil {
			i.rxAbility = ability.NewCell()
		}
		return i.rxAbility
	}
	if i.txAbility == nil {
		i.txAbility = ability.NewCell()
	}
	return i.txAbility
}

// Flushed reports whether this port's PMD has been created.
func (i *Info) Flushed() bool { return i.EthdevPortID >= 0 }

// Registry is the master-lcore-owned store of all known ports. Only the
// master (controller/command-runner) goroutine mutates it; slave lcores
// read ethdev.Port values handed to them at flush time through their own
// component plans, never through the registry directly.
type Registry struct {
	mu      sync.Mutex
	ports   map[portid.ID]*Info
	factory ethdev.Factory

	sockDir     string
	vhostClient bool
}

// NewRegistry creates an empty registry using factory for deferred PMD
// creation.
func NewRegistry(factory ethdev.Factory, sockDir string, vhostClient bool) *Registry {
	if factory == nil {
		factory = ethdev.NewMemFactory()
	}
	return &Registry{
		ports:       make(map[portid.ID]*Info),
		factory:     factory,
		sockDir:     sockDir,
		vhostClient: vhostClient,
	}
}

var (
	ErrPortBusy    = fmt.Errorf("port already attached in that direction")
	ErrPortFull    = fmt.Errorf("exceeds MAX_ETHPORTS")
	ErrPortUnknown = fmt.Errorf("no such port")
)

// Attrs carries optional per-add_port attributes: a VLAN push op, a
// VLAN pop op, or neither.
type Attrs struct {
	AddVlan   bool
	AddVid    uint16
	AddPcp    uint8
	DelVlan   bool
	MacU64    uint64
	MacStr    string
	VlanVid   int
	HasVlan   bool // whether VlanVid is meaningful (classifier attrs)
}

// AddPort stages id into the registry, attached to component in the
// given direction.
func (r *Registry) AddPort(id portid.ID, dir Direction, component string, attrs Attrs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.ports[id]
	if !ok {
		info = &Info{ID: id, EthdevPortID: -1}
		r.ports[id] = info
	}

	attached := info.attachedRx
	if dir == DirTx {
		attached = info.attachedTx
	}

	if attached != "" && attached != component {
		return fmt.Errorf("%w: %v rx=%v tx=%v wanted by %v", ErrPortBusy, id, info.attachedRx, info.attachedTx, component)
	}

	if attached == component {
		// idempotent re-add
		applyAttrs(info, dir, attrs)
		return nil
	}

	if r.countAttached() >= MaxEthports {
		return fmt.Errorf("%w", ErrPortFull)
	}

	if dir == DirRx {
		info.attachedRx = component
	} else {
		info.attachedTx = component
	}
	info.RefCount++
	info.dirty = true

	applyAttrs(info, dir, attrs)

	return nil
}

func applyAttrs(info *Info, dir Direction, attrs Attrs) {
	if attrs.HasVlan {
		info.VlanVid = attrs.VlanVid
	}
	if attrs.MacU64 != 0 {
		info.MacU64 = attrs.MacU64
		info.MacStr = attrs.MacStr
	}

	if attrs.AddVlan || attrs.DelVlan {
		op := ability.Op{Kind: ability.DelVlanTag}
		if attrs.AddVlan {
			op = ability.Op{Kind: ability.AddVlanTag, Vid: attrs.AddVid, Pcp: attrs.AddPcp}
		}

		cell := info.Ability(dir)
		plan := cell.Stage()
		// a re-add of the same attachment carries the same ability op;
		// appending it again would stack duplicates.
		for _, existing := range plan.Ops {
			if existing.Kind == op.Kind && existing.Vid == op.Vid && existing.Pcp == op.Pcp {
				return
			}
		}
		if len(plan.Ops) >= ability.Max {
			return
		}
		plan.Ops = append(plan.Ops, op)
		cell.Publish()
	}
}

// AddAbility appends an ability op directly, returning ErrAbilityFull if
// the direction already holds ABILITY_MAX ops.
func (r *Registry) AddAbility(id portid.ID, dir Direction, op ability.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.ports[id]
	if !ok {
		return ErrPortUnknown
	}

	cell := info.Ability(dir)
	plan := cell.Stage()
	if len(plan.Ops) >= ability.Max {
		return ErrAbilityFull
	}
	plan.Ops = append(plan.Ops, op)
	cell.Publish()
	info.dirty = true
	return nil
}

// ErrAbilityFull is returned when a port direction already holds
// ABILITY_MAX ability records.
var ErrAbilityFull = fmt.Errorf("port ability list full")

func (r *Registry) countAttached() int {
	n := 0
	for _, info := range r.ports {
		if info.attachedRx != "" {
			n++
		}
		if info.attachedTx != "" {
			n++
		}
	}
	return n
}

// DelPort detaches id from its current component in the given direction
// and clears any direction-scoped abilities. Deleting an already-absent
// attachment is not an error.
func (r *Registry) DelPort(id portid.ID, dir Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.ports[id]
	if !ok {
		return nil
	}

	if dir == DirRx && info.attachedRx != "" {
		info.attachedRx = ""
		info.rxAbility = nil
		info.RefCount--
		info.dirty = true
	} else if dir == DirTx && info.attachedTx != "" {
		info.attachedTx = ""
		info.txAbility = nil
		info.RefCount--
		info.dirty = true
	}

	return nil
}

// DetachComponent implicitly detaches every direction a component held
// on exit.
func (r *Registry) DetachComponent(component string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range r.ports {
		if info.attachedRx == component {
			info.attachedRx = ""
			info.rxAbility = nil
			info.RefCount--
			info.dirty = true
		}
		if info.attachedTx == component {
			info.attachedTx = ""
			info.txAbility = nil
			info.RefCount--
			info.dirty = true
		}
	}
}

// Lookup returns the registry entry for id, if any.
func (r *Registry) Lookup(id portid.ID) (*Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.ports[id]
	return info, ok
}

// AttachedTo returns the component name attached to id in dir, or "".
func (r *Registry) AttachedTo(id portid.ID, dir Direction) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.ports[id]
	if !ok {
		return ""
	}
	if dir == DirRx {
		return info.attachedRx
	}
	return info.attachedTx
}

// List returns the sorted indices of all flushed ports of the given
// kind.
func (r *Registry) List(kind portid.Kind) []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []uint16
	for id, info := range r.ports {
		if id.Kind == kind && info.Flushed() {
			out = append(out, id.No)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Flush creates PMDs for every unflushed port. Any single creation
// failure aborts the flush and returns the error with none of the
// remaining ports created; the cancel/backup layer is responsible for
// restoring staged edits in that case.
func (r *Registry) Flush() (dirtyComponents map[string]bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dirtyComponents = make(map[string]bool)

	// Deterministic order so repeated flushes with the same staged edits
	// create ports in the same sequence (useful for tests and logs).
	var ids []portid.ID
	for id := range r.ports {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Kind != ids[j].Kind {
			return ids[i].Kind < ids[j].Kind
		}
		return ids[i].No < ids[j].No
	})

	nextEthdevID := int32(0)
	for _, info := range r.ports {
		if info.EthdevPortID >= nextEthdevID {
			nextEthdevID = info.EthdevPortID + 1
		}
	}

	for _, id := range ids {
		info := r.ports[id]
		if info.Flushed() {
			continue
		}

		p, cerr := r.createPMD(id)
		if cerr != nil {
			return dirtyComponents, fmt.Errorf("flush: creating %v: %w", id, cerr)
		}

		info.Port = p
		info.EthdevPortID = nextEthdevID
		nextEthdevID++

		if info.attachedRx != "" {
			dirtyComponents[info.attachedRx] = true
		}
		if info.attachedTx != "" {
			dirtyComponents[info.attachedTx] = true
		}

		splog.Info("flush: created %v as ethdev %d", id, info.EthdevPortID)
	}

	return dirtyComponents, nil
}

func (r *Registry) createPMD(id portid.ID) (ethdev.Port, error) {
	switch id.Kind {
	case portid.Ring:
		return r.factory.CreateRing(id.No)
	case portid.Vhost:
		return r.factory.CreateVhost(id.No, r.sockDir, r.vhostClient)
	case portid.Pcap:
		return r.factory.CreatePcap(id.No)
	case portid.Null:
		return r.factory.CreateNull(id.No)
	case portid.Phy:
		return r.factory.CreatePhy(id.No, id.String())
	default:
		return nil, fmt.Errorf("unknown port kind %v", id.Kind)
	}
}

// All returns every registered port, for status/backup snapshotting.
func (r *Registry) All() []*Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Info, 0, len(r.ports))
	for _, info := range r.ports {
		out = append(out, info)
	}
	return out
}

// Snapshot deep-copies the registry's attachment state (not the live
// ethdev.Port handles) for the cancel/backup layer.
func (r *Registry) Snapshot() map[portid.ID]Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[portid.ID]Info, len(r.ports))
	for id, info := range r.ports {
		out[id] = *info
	}
	return out
}

// Restore reinstates a prior Snapshot wholesale, used when a flush step
// fails and the cancel/backup layer rolls back.
func (r *Registry) Restore(snap map[portid.ID]Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ports = make(map[portid.ID]*Info, len(snap))
	for id, info := range snap {
		cp := info
		r.ports[id] = &cp
	}
}
