// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package classifier

import (
	"net"
	"testing"

	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/pkg/portid"
)

func macBytes(s string) []byte {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic("bad test mac " + s)
	}
	return hw
}

func ethFrame(dstMAC, srcMAC string, vid int) []byte {
	dst := macBytes(dstMAC)
	src := macBytes(srcMAC)

	if vid < 0 {
		frame := make([]byte, 18)
		copy(frame[0:6], dst)
		copy(frame[6:12], src)
		frame[12] = 0x08
		frame[13] = 0x00
		return frame
	}

	frame := make([]byte, 22)
	copy(frame[0:6], dst)
	copy(frame[6:12], src)
	frame[12] = 0x81
	frame[13] = 0x00
	frame[14] = byte(vid >> 8)
	frame[15] = byte(vid)
	frame[16] = 0x08
	frame[17] = 0x00
	return frame
}

func macU64(s string) uint64 {
	b := macBytes(s)
	return macToU64(b)
}

func TestClassifyMACOnly(t *testing.T) {
	rx := ethdev.NewMemPort(64)
	tx0 := ethdev.NewMemPort(64)
	tx1 := ethdev.NewMemPort(64)

	cl := New(rx)
	plan := cl.Stage()
	tx0ID := portid.ID{Kind: portid.Ring, No: 0}
	tx1ID := portid.ID{Kind: portid.Ring, No: 1}
	plan.AddEntry(NoVlan, macU64("aa:bb:cc:dd:ee:00"), tx0ID, tx0)
	plan.AddEntry(NoVlan, DefaultMAC, tx1ID, tx1)
	cl.Publish()
	cl.Observe()

	rx.Inject([]*mbuf.Mbuf{
		mbuf.New(ethFrame("aa:bb:cc:dd:ee:00", "11:22:33:44:55:66", -1)),
		mbuf.New(ethFrame("ff:ff:ff:ff:ff:ff", "11:22:33:44:55:66", -1)),
	})

	cl.RunOnce()

	if got := tx0.RxBurst(8); len(got) != 1 {
		t.Fatalf("expected 1 packet on the matched target, got %d", len(got))
	}
	if got := tx1.RxBurst(8); len(got) != 1 {
		t.Fatalf("expected 1 packet on the default target, got %d", len(got))
	}
}

func TestClassifyVlanOverridesMacOnlyDefault(t *testing.T) {
	rx := ethdev.NewMemPort(64)
	txVlan := ethdev.NewMemPort(64)
	txDefault := ethdev.NewMemPort(64)

	cl := New(rx)
	plan := cl.Stage()
	vlanID := portid.ID{Kind: portid.Ring, No: 0}
	defID := portid.ID{Kind: portid.Ring, No: 1}
	plan.AddEntry(100, macU64("aa:bb:cc:dd:ee:00"), vlanID, txVlan)
	plan.AddEntry(NoVlan, DefaultMAC, defID, txDefault)
	cl.Publish()
	cl.Observe()

	rx.Inject([]*mbuf.Mbuf{
		mbuf.New(ethFrame("aa:bb:cc:dd:ee:00", "11:22:33:44:55:66", 100)),
	})
	cl.RunOnce()

	if got := txVlan.RxBurst(8); len(got) != 1 {
		t.Fatalf("expected the vlan-specific entry to win over the MAC-only default, got %d on vlan target", len(got))
	}
	if got := txDefault.RxBurst(8); len(got) != 0 {
		t.Fatalf("expected nothing delivered to the MAC-only default, got %d", len(got))
	}
}

func TestClassifyNoMatchDropsPacket(t *testing.T) {
	rx := ethdev.NewMemPort(64)
	tx := ethdev.NewMemPort(64)

	cl := New(rx)
	plan := cl.Stage()
	plan.AddEntry(NoVlan, macU64("aa:bb:cc:dd:ee:00"), portid.ID{Kind: portid.Ring, No: 0}, tx)
	cl.Publish()
	cl.Observe()

	rx.Inject([]*mbuf.Mbuf{mbuf.New(ethFrame("ff:ff:ff:ff:ff:ff", "11:22:33:44:55:66", -1))})
	cl.RunOnce()

	if cl.Dropped != 1 {
		t.Fatalf("expected 1 dropped packet, got %d", cl.Dropped)
	}
	if got := tx.RxBurst(8); len(got) != 0 {
		t.Fatalf("unmatched packet must not be delivered, got %d", len(got))
	}
}

func TestEntriesReflectsStagedTable(t *testing.T) {
	cl := New(nil)
	plan := cl.Stage()
	plan.AddEntry(NoVlan, macU64("aa:bb:cc:dd:ee:00"), portid.ID{Kind: portid.Ring, No: 0}, nil)
	plan.AddEntry(200, macU64("11:22:33:44:55:66"), portid.ID{Kind: portid.Ring, No: 1}, nil)

	entries := plan.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	var sawVlan bool
	for _, e := range entries {
		if e.HasVlan && e.Vid == 200 {
			sawVlan = true
		}
	}
	if !sawVlan {
		t.Fatal("expected the vlan entry to be reported with HasVlan=true")
	}
}
