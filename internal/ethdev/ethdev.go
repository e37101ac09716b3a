// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package ethdev provides the ethdev-like port abstraction the dataplane
// core receives from and transmits to. EAL/PMD initialization is out of
// scope; this package supplies the interface the core consumes plus a
// default, in-process backend so the core is runnable and testable
// without a real DPDK-capable NIC, and a live-capture backend for when
// a port is bound to a real host interface.
package ethdev

import (
	"fmt"
	"sync"

	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/internal/splog"
)

// MaxPktBurst is the maximum number of mbufs moved by one RX or TX call.
const MaxPktBurst = 32

// DefaultDescriptors is the rxq/txq depth used when hotplugging
// ring/vhost PMDs.
const DefaultDescriptors = 128

// Port is the interface the dataplane core uses for packet I/O,
// regardless of what backs it (ring, vhost, phy NIC, pcap/null test
// device).
type Port interface {
	// RxBurst returns up to max received mbufs without blocking.
	RxBurst(max int) []*mbuf.Mbuf

	// TxBurst attempts to transmit every mbuf in pkts and returns how
	// many were accepted; unaccepted mbufs are the caller's
	// responsibility to free.
	TxBurst(pkts []*mbuf.Mbuf) int

	// Close releases any backing resources. Idempotent.
	Close() error
}

// memPort is the default backend: a bounded in-process ring. It is used
// for ring ports always, and for phy/vhost/pcap/null ports whenever they
// are not bound to a real host interface (e.g. in tests, which inject
// frames directly into a port rather than through a physical NIC).
type memPort struct {
	mu     sync.Mutex
	rx     chan *mbuf.Mbuf
	closed bool
}

func newMemPort(depth int) *memPort {
	return &memPort{rx: make(chan *mbuf.Mbuf, depth)}
}

func (p *memPort) RxBurst(max int) []*mbuf.Mbuf {
	if max > MaxPktBurst {
		max = MaxPktBurst
	}

	out := make([]*mbuf.Mbuf, 0, max)
	for i := 0; i < max; i++ {
		select {
		case m := <-p.rx:
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}

func (p *memPort) TxBurst(pkts []*mbuf.Mbuf) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}

	sent := 0
	for _, m := range pkts {
		select {
		case p.rx <- m:
			sent++
		default:
			return sent
		}
	}
	return sent
}

func (p *memPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.rx)
	}
	return nil
}

// Inject is a test/controller hook that places packets directly onto a
// memPort's rx side, standing in for frames arriving on a physical
// interface. It is exposed through the exported *MemPort wrapper below.
func (p *memPort) Inject(pkts []*mbuf.Mbuf) int {
	return p.TxBurst(pkts)
}

// MemPort is the exported handle test harnesses use to both act as an
// ethdev Port and to inject/drain packets directly, without going
// through a second in-process loopback port.
type MemPort struct {
	*memPort
}

// NewMemPort creates a ring-backed ethdev port with the given queue
// depth (defaults to DefaultDescriptors*8, i.e. 1024, when depth <= 0).
func NewMemPort(depth int) *MemPort {
	if depth <= 0 {
		depth = DefaultDescriptors * 8
	}
	return &MemPort{memPort: newMemPort(depth)}
}

// Factory creates ethdev ports for the port registry's flush-time
// creation policy. The default factory always returns in-process
// ring-backed ports; NewLiveFactory additionally binds phy ports to a
// real host interface via gopacket/pcap when given a recognized
// interface name.
type Factory interface {
	CreatePhy(no uint16, ifname string) (Port, error)
	CreateRing(no uint16) (Port, error)
	CreateVhost(no uint16, sockDir string, client bool) (Port, error)
	CreatePcap(no uint16) (Port, error)
	CreateNull(no uint16) (Port, error)
}

// memFactory is the default Factory: every port kind is backed by a
// memPort of a kind-appropriate depth.
type memFactory struct{}

// NewMemFactory returns the default in-process port factory.
func NewMemFactory() Factory { return memFactory{} }

func (memFactory) CreatePhy(no uint16, ifname string) (Port, error) {
	splog.Debug("ethdev: creating synthetic phy port %d (ifname=%q)", no, ifname)
	return NewMemPort(DefaultDescriptors), nil
}

func (memFactory) CreateRing(no uint16) (Port, error) {
	name := fmt.Sprintf("eth_ring%d", no)
	splog.Debug("ethdev: attaching ring port %v", name)
	return NewMemPort(DefaultDescriptors), nil
}

func (memFactory) CreateVhost(no uint16, sockDir string, client bool) (Port, error) {
	devargs := fmt.Sprintf("eth_vhost%d,iface=%s/sock%d,queues=1,client=%d", no, sockDir, no, boolToInt(client))
	splog.Debug("ethdev: hotplugging vhost port: %s", devargs)
	return NewMemPort(DefaultDescriptors), nil
}

func (memFactory) CreatePcap(no uint16) (Port, error) {
	return NewMemPort(DefaultDescriptors), nil
}

func (memFactory) CreateNull(no uint16) (Port, error) {
	return NewMemPort(DefaultDescriptors), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
