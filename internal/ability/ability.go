// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package ability implements the per-port, per-direction VLAN
// push/pop plan: a short list of ability records attached to a port
// in a given direction, double buffered so the fast path can apply
// them without locking while the controller edits the staged list.
package ability

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/spp-project/spp-worker/internal/dbuf"
	"github.com/spp-project/spp-worker/internal/mbuf"
)

// Max bounds the number of ability records per port per direction.
const Max = 4

// vlanTPID is the 802.1Q TPID as a raw uint16, for byte-level tests.
const vlanTPID = uint16(layers.EthernetTypeDot1Q)

// Op is a tagged-union ability operation.
type Op struct {
	Kind OpKind
	Vid  uint16 // AddVlanTag only, 0..4094
	Pcp  uint8  // AddVlanTag only, 0..7

	// tci is precomputed at publish time: big-endian
	// ((pcp&7)<<13) | (vid&0xfff).
	tci uint16
}

type OpKind int

const (
	None OpKind = iota
	AddVlanTag
	DelVlanTag
)

// Plan is the staged/active list of ability ops for one port direction.
type Plan struct {
	Ops []Op
}

// Clone deep-copies a Plan so the double buffer's two slots never alias
// the same backing slice (see dbuf.Cloner).
func (p Plan) Clone() Plan {
	return Plan{Ops: append([]Op(nil), p.Ops...)}
}

// Direction identifies which side of a port an ability list applies to.
type Direction int

const (
	Rx Direction = iota
	Tx
)

// Cell double-buffers a Plan for one (port, direction) pair.
type Cell struct {
	buf *dbuf.Cell[Plan]
}

// NewCell creates an empty ability cell.
func NewCell() *Cell {
	return &Cell{buf: dbuf.NewCell[Plan]()}
}

// Stage returns the editor's working plan so the controller can append
// or clear ops before publishing.
func (c *Cell) Stage() *Plan { return c.buf.Stage() }

// Publish makes the staged plan visible to the fast path, precomputing
// each AddVlanTag's TCI.
func (c *Cell) Publish() {
	plan := c.buf.Stage()
	for i := range plan.Ops {
		if plan.Ops[i].Kind == AddVlanTag {
			plan.Ops[i].tci = ((uint16(plan.Ops[i].Pcp) & 7) << 13) | (plan.Ops[i].Vid & 0xfff)
		}
	}
	c.buf.Publish()
}

// Observe and Sync expose the underlying double buffer's lifecycle to
// the flush step, matching every other double-buffered plan.
func (c *Cell) Observe() bool { return c.buf.Observe() }
func (c *Cell) Sync()         { c.buf.Sync() }

// Snapshot returns the plan currently visible to the fast path.
func (c *Cell) Snapshot() Plan { return c.buf.Snapshot() }

// Apply runs the active ability plan against a single mbuf, mutating
// its Ethernet framing in place. It is called from the fast path (no
// locking), reading only c.buf.Read().
func (c *Cell) Apply(m *mbuf.Mbuf) {
	plan := c.buf.Read()
	for _, op := range plan.Ops {
		switch op.Kind {
		case AddVlanTag:
			addVlanTag(m, op.tci)
		case DelVlanTag:
			delVlanTag(m)
		}
	}
}

// serializeOpts: no length fixing or checksum work. layers.Ethernet
// still pads a short frame to the 60-byte minimum on serialize;
// addVlanTag/delVlanTag trim that padding back off so the rewritten
// frame is exactly 4 bytes longer or shorter. FCS is not modeled: mbufs in this abstraction never
// carry a trailing frame check sequence, matching DPDK's usual
// hardware-offloaded FCS handling.
var serializeOpts = gopacket.SerializeOptions{}

// addVlanTag overwrites the TCI if a tag is already present, otherwise
// inserts an 802.1Q tag and shifts the Ethertype, rebuilding the frame
// through layers.Ethernet/layers.Dot1Q.
func addVlanTag(m *mbuf.Mbuf, tci uint16) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(m.Data, gopacket.NilDecodeFeedback); err != nil {
		return
	}

	tag := layers.Dot1Q{
		Priority:       uint8(tci >> 13),
		DropEligible:   tci&0x1000 != 0,
		VLANIdentifier: tci & 0xfff,
		Type:           eth.EthernetType,
	}
	payload := eth.Payload
	if eth.EthernetType == layers.EthernetTypeDot1Q {
		var old layers.Dot1Q
		if err := old.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
			return
		}
		tag.Type = old.Type
		payload = old.Payload
	}
	eth.EthernetType = layers.EthernetTypeDot1Q

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &eth, &tag, gopacket.Payload(payload)); err != nil {
		return
	}

	m.Data = buf.Bytes()[:18+len(payload)]
	m.PktLen = len(m.Data)
	m.VlanTCI = tci
}

// delVlanTag strips the 802.1Q tag, if present, restoring the
// encapsulated Ethertype.
func delVlanTag(m *mbuf.Mbuf) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(m.Data, gopacket.NilDecodeFeedback); err != nil {
		return
	}
	if eth.EthernetType != layers.EthernetTypeDot1Q {
		return
	}

	var tag layers.Dot1Q
	if err := tag.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return
	}
	eth.EthernetType = tag.Type

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &eth, gopacket.Payload(tag.Payload)); err != nil {
		return
	}

	m.Data = buf.Bytes()[:14+len(tag.Payload)]
	m.PktLen = len(m.Data)
	m.VlanTCI = 0
}
