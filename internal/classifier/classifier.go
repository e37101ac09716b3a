// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package classifier implements the MAC/VLAN classifier: a hash-keyed
// demux from one rx port to many tx ports.
package classifier

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/spp-project/spp-worker/internal/dbuf"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// NoVlan is the sentinel VLAN id used for the MAC-only classification
// group.
const NoVlan = -1

// DefaultMAC is the sentinel MAC value "default" decodes to.
const DefaultMAC uint64 = 0x000000000001

// Target is one tx side of the classifier: a port plus its own
// per-target burst accumulator.
type Target struct {
	ID   portid.ID
	Port ethdev.Port

	burst []*mbuf.Mbuf
}

type group struct {
	byMAC      map[uint64]int // mac -> index into Plan.Targets
	defaultIdx int            // -1 if unset
}

// Plan is the classifier's staged/active configuration: the rx port,
// the per-VLAN (and MAC-only) hash tables, and the list of attached tx
// targets. The rx port rides in the plan so a flush can rewire it
// through the same publication path as the tables.
type Plan struct {
	RxPort  ethdev.Port
	Targets []*Target

	groups map[int]*group // keyed by vlan id, NoVlan for the MAC-only group
}

func newPlan() *Plan {
	return &Plan{groups: make(map[int]*group)}
}

// Clone deep-copies a Plan so the double buffer's two slots never alias
// the same groups map, target list, or per-target burst slices (see
// dbuf.Cloner). Burst accumulators are reset rather than copied: they
// are fast-path-only scratch space, never meaningful across a publish.
func (p Plan) Clone() Plan {
	out := Plan{
		RxPort:  p.RxPort,
		Targets: make([]*Target, len(p.Targets)),
		groups:  make(map[int]*group, len(p.groups)),
	}
	for i, t := range p.Targets {
		out.Targets[i] = &Target{ID: t.ID, Port: t.Port}
	}
	for vid, g := range p.groups {
		ng := &group{byMAC: make(map[uint64]int, len(g.byMAC)), defaultIdx: g.defaultIdx}
		for mac, idx := range g.byMAC {
			ng.byMAC[mac] = idx
		}
		out.groups[vid] = ng
	}
	return out
}

func (p *Plan) group(vid int) *group {
	g, ok := p.groups[vid]
	if !ok {
		g = &group{byMAC: make(map[uint64]int), defaultIdx: -1}
		p.groups[vid] = g
	}
	return g
}

// Classifier is one classifier component's runnable state: a
// double-buffered Plan and per-lcore dispatch stats.
//
// eth/dot1q/decoded back the gopacket.DecodingLayerParser used by
// readDstMACAndVlan; a classifier is dispatched from exactly one lcore
// goroutine, so reusing one parser across calls is safe without
// locking.
type Classifier struct {
	cell *dbuf.Cell[Plan]

	Dropped uint64

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// New creates an empty classifier bound to rxPort.
func New(rxPort ethdev.Port) *Classifier {
	c := &Classifier{cell: dbuf.NewCell[Plan]()}
	c.cell.Init(func() Plan {
		p := *newPlan()
		p.RxPort = rxPort
		return p
	})
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &c.eth, &c.dot1q)
	c.parser.IgnoreUnsupported = true
	return c
}

// Stage returns the editor's working plan.
func (c *Classifier) Stage() *Plan { return c.cell.Stage() }

// Publish makes the staged plan visible to the fast path.
func (c *Classifier) Publish() { c.cell.Publish() }
func (c *Classifier) Observe() bool { return c.cell.Observe() }
func (c *Classifier) Sync()         { c.cell.Sync() }

// WaitApplied blocks until the fast path has observed the most recent
// Publish, or timeout elapses.
func (c *Classifier) WaitApplied(timeout, pollInterval time.Duration) bool {
	return c.cell.WaitApplied(timeout, pollInterval)
}

// AddEntry stages a (vid, mac) -> target mapping. vid == NoVlan means a
// MAC-only entry. mac == DefaultMAC means "this is the group's default".
func (p *Plan) AddEntry(vid int, mac uint64, target portid.ID, port ethdev.Port) {
	idx := -1
	for i, t := range p.Targets {
		if t.ID == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		p.Targets = append(p.Targets, &Target{ID: target, Port: port})
		idx = len(p.Targets) - 1
	}

	g := p.group(vid)
	if mac == DefaultMAC {
		g.defaultIdx = idx
	} else {
		g.byMAC[mac] = idx
	}
}

// DelEntry removes a (vid, mac) mapping, if present.
func (p *Plan) DelEntry(vid int, mac uint64) {
	g, ok := p.groups[vid]
	if !ok {
		return
	}
	if mac == DefaultMAC {
		g.defaultIdx = -1
	} else {
		delete(g.byMAC, mac)
	}
}

// Entries iterates every populated (vid, mac) -> target mapping, for the
// status response builder.
type Entry struct {
	HasVlan bool
	Vid     int
	Mac     uint64
	Target  portid.ID
}

func (p *Plan) Entries() []Entry {
	var out []Entry
	for vid, g := range p.groups {
		for mac, idx := range g.byMAC {
			out = append(out, Entry{HasVlan: vid != NoVlan, Vid: vid, Mac: mac, Target: p.Targets[idx].ID})
		}
		if g.defaultIdx != -1 {
			out = append(out, Entry{HasVlan: vid != NoVlan, Vid: vid, Mac: DefaultMAC, Target: p.Targets[g.defaultIdx].ID})
		}
	}
	return out
}

// classify resolves a packet's (vid, mac) to a target index: exact
// (vid, mac) match, then MAC-only match, then the vid's default, then
// the MAC-only group's default. Returns -1 on no match.
func (p *Plan) classify(vid int, mac uint64) int {
	if g, ok := p.groups[vid]; ok && vid != NoVlan {
		if idx, ok := g.byMAC[mac]; ok {
			return idx
		}
	}

	if g, ok := p.groups[NoVlan]; ok {
		if idx, ok := g.byMAC[mac]; ok {
			return idx
		}
	}

	if vid != NoVlan {
		if g, ok := p.groups[vid]; ok && g.defaultIdx != -1 {
			return g.defaultIdx
		}
	}

	if g, ok := p.groups[NoVlan]; ok && g.defaultIdx != -1 {
		return g.defaultIdx
	}

	return -1
}

// RunOnce implements lcore.Runnable: receive a burst from RxPort,
// classify each mbuf, accumulate per-target batches, and flush any
// batch that fills or that is left over at the end of the burst.
func (c *Classifier) RunOnce() {
	c.cell.Observe()
	plan := c.cell.Read()

	if plan.RxPort == nil {
		return
	}

	pkts := plan.RxPort.RxBurst(ethdev.MaxPktBurst)
	if len(pkts) == 0 {
		return
	}

	for _, m := range pkts {
		vid, mac, ok := c.readDstMACAndVlan(m)
		if !ok {
			freeOne(m)
			c.Dropped++
			continue
		}

		idx := plan.classify(vid, mac)
		if idx < 0 {
			freeOne(m)
			c.Dropped++
			continue
		}

		t := plan.Targets[idx]
		t.burst = append(t.burst, m)
		if len(t.burst) >= ethdev.MaxPktBurst {
			flushTarget(t)
		}
	}

	for _, t := range plan.Targets {
		if len(t.burst) > 0 {
			flushTarget(t)
		}
	}
}

func flushTarget(t *Target) {
	sent := 0
	if t.Port != nil {
		sent = t.Port.TxBurst(t.burst)
	}
	for i := sent; i < len(t.burst); i++ {
		freeOne(t.burst[i])
	}
	t.burst = t.burst[:0]
}

// freeOne is a no-op placeholder for rte_pktmbuf_free: Go's GC reclaims
// dropped mbufs once unreferenced, so "freeing" here means simply
// letting go of the last reference.
func freeOne(m *mbuf.Mbuf) {
	_ = m
}

// readDstMACAndVlan decodes the destination MAC and, if the Ethertype is
// 802.1Q, the VLAN id, using a gopacket.DecodingLayerParser.
func (c *Classifier) readDstMACAndVlan(m *mbuf.Mbuf) (vid int, mac uint64, ok bool) {
	if err := c.parser.DecodeLayers(m.Data, &c.decoded); err != nil {
		return 0, 0, false
	}

	sawEth := false
	vid = NoVlan
	for _, lt := range c.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			sawEth = true
			mac = macToU64(c.eth.DstMAC)
		case layers.LayerTypeDot1Q:
			vid = int(c.dot1q.VLANIdentifier)
		}
	}
	if !sawEth {
		return 0, 0, false
	}
	return vid, mac, true
}

func macToU64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return v
}
