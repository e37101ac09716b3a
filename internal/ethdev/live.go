// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package ethdev

import (
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/internal/splog"
)

// livePort binds a phy port to a real host network interface using
// gopacket/pcap, driving its own pcap.Handle read loop. Used when a
// capture process (or a VF phy port) is configured against a real
// interface name rather than a synthetic test device.
type livePort struct {
	handle    *pcap.Handle
	destroyed uint64

	rxCh chan *mbuf.Mbuf
}

// NewLivePort opens ifname in promiscuous mode and starts a background
// reader that decodes Ethernet/Dot1Q headers into VlanTCI metadata.
func NewLivePort(ifname string) (Port, error) {
	handle, err := pcap.OpenLive(ifname, 65535, true, pcap.BlockForever)
	if err != nil {
		return nil, err
	}

	p := &livePort{
		handle: handle,
		rxCh:   make(chan *mbuf.Mbuf, DefaultDescriptors*8),
	}

	go p.reader()

	return p, nil
}

func (p *livePort) destroyedFlag() bool {
	return atomic.LoadUint64(&p.destroyed) > 0
}

func (p *livePort) reader() {
	var dot1q layers.Dot1Q
	var eth layers.Ethernet

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot1q)
	parser.IgnoreUnsupported = true
	decoded := []gopacket.LayerType{}

	for !p.destroyedFlag() {
		data, _, err := p.handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			if !p.destroyedFlag() {
				splog.Error("livePort: error reading packet data: %v", err)
			}
			return
		}

		m := mbuf.New(append([]byte(nil), data...))
		m.Timestamp = time.Now()
		m.TimestampValid = true

		parser.DecodeLayers(data, &decoded)
		for _, lt := range decoded {
			if lt == layers.LayerTypeDot1Q {
				tci := (uint16(dot1q.Priority) << 13) | (dot1q.VLANIdentifier & 0xfff)
				if dot1q.DropEligible {
					tci |= 1 << 12
				}
				m.VlanTCI = tci
			}
		}

		select {
		case p.rxCh <- m:
		default:
			// ring full, drop
		}
	}
}

func (p *livePort) RxBurst(max int) []*mbuf.Mbuf {
	if max > MaxPktBurst {
		max = MaxPktBurst
	}

	out := make([]*mbuf.Mbuf, 0, max)
	for i := 0; i < max; i++ {
		select {
		case m := <-p.rxCh:
			out = append(out, m)
		default:
			return out
		}
	}
	return out
}

func (p *livePort) TxBurst(pkts []*mbuf.Mbuf) int {
	sent := 0
	for _, m := range pkts {
		if err := p.handle.WritePacketData(m.Bytes()); err != nil {
			splog.Error("livePort: write error: %v", err)
			return sent
		}
		sent++
	}
	return sent
}

func (p *livePort) Close() error {
	atomic.StoreUint64(&p.destroyed, 1)
	p.handle.Close()
	return nil
}

// LiveFactory creates real phy ports bound to host interfaces named
// ifnames[no], falling back to the default in-process backend for every
// other port kind and for any phy index without a mapped interface.
type LiveFactory struct {
	base    Factory
	ifnames map[uint16]string
}

// NewLiveFactory wraps the default factory, binding the given phy port
// numbers to real host interfaces.
func NewLiveFactory(ifnames map[uint16]string) *LiveFactory {
	return &LiveFactory{base: NewMemFactory(), ifnames: ifnames}
}

func (f *LiveFactory) CreatePhy(no uint16, ifname string) (Port, error) {
	if name, ok := f.ifnames[no]; ok && name != "" {
		return NewLivePort(name)
	}
	return f.base.CreatePhy(no, ifname)
}

func (f *LiveFactory) CreateRing(no uint16) (Port, error) { return f.base.CreateRing(no) }
func (f *LiveFactory) CreateVhost(no uint16, sockDir string, client bool) (Port, error) {
	return f.base.CreateVhost(no, sockDir, client)
}
func (f *LiveFactory) CreatePcap(no uint16) (Port, error) { return f.base.CreatePcap(no) }
func (f *LiveFactory) CreateNull(no uint16) (Port, error) { return f.base.CreateNull(no) }
