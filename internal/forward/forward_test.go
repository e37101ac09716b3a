// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package forward

import (
	"testing"

	"github.com/spp-project/spp-worker/internal/ability"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/pkg/portid"
)

func TestForwarderOneToOne(t *testing.T) {
	rx := ethdev.NewMemPort(16)
	tx := ethdev.NewMemPort(16)

	c := New()
	plan := c.Stage()
	plan.Paths = []Path{{
		RxID: portid.ID{Kind: portid.Phy, No: 0}, RxPort: rx,
		TxID: portid.ID{Kind: portid.Phy, No: 1}, TxPort: tx,
	}}
	c.Publish()
	c.Observe()

	rx.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1, 2, 3}), mbuf.New([]byte{4, 5, 6})})
	c.RunOnce()

	if got := tx.RxBurst(8); len(got) != 2 {
		t.Fatalf("expected both packets forwarded, got %d", len(got))
	}
}

func TestMergerManyToOne(t *testing.T) {
	rx0 := ethdev.NewMemPort(16)
	rx1 := ethdev.NewMemPort(16)
	tx := ethdev.NewMemPort(16)

	c := New()
	plan := c.Stage()
	plan.Paths = []Path{
		{RxID: portid.ID{Kind: portid.Ring, No: 0}, RxPort: rx0, TxID: portid.ID{Kind: portid.Phy, No: 0}, TxPort: tx},
		{RxID: portid.ID{Kind: portid.Ring, No: 1}, RxPort: rx1, TxID: portid.ID{Kind: portid.Phy, No: 0}, TxPort: tx},
	}
	c.Publish()
	c.Observe()

	rx0.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1})})
	rx1.Inject([]*mbuf.Mbuf{mbuf.New([]byte{2}), mbuf.New([]byte{3})})
	c.RunOnce()

	if got := tx.RxBurst(8); len(got) != 3 {
		t.Fatalf("expected all 3 merged packets on the single tx, got %d", len(got))
	}
}

func TestForwarderAppliesAbilityBeforeTx(t *testing.T) {
	rx := ethdev.NewMemPort(16)
	tx := ethdev.NewMemPort(16)

	txAbil := ability.NewCell()
	txAbil.Stage().Ops = append(txAbil.Stage().Ops, ability.Op{Kind: ability.AddVlanTag, Vid: 42})
	txAbil.Publish()
	txAbil.Observe()

	c := New()
	plan := c.Stage()
	plan.Paths = []Path{{
		RxID: portid.ID{Kind: portid.Phy, No: 0}, RxPort: rx,
		TxID: portid.ID{Kind: portid.Phy, No: 1}, TxPort: tx, TxAbil: txAbil,
	}}
	c.Publish()
	c.Observe()

	frame := make([]byte, 18)
	frame[12], frame[13] = 0x08, 0x00
	rx.Inject([]*mbuf.Mbuf{mbuf.New(frame)})
	c.RunOnce()

	got := tx.RxBurst(8)
	if len(got) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(got))
	}
	if len(got[0].Data) != 22 {
		t.Fatalf("expected the vlan tag to grow the frame by 4 bytes, got len=%d", len(got[0].Data))
	}
}

func TestForwarderWithNoTxDropsSilently(t *testing.T) {
	rx := ethdev.NewMemPort(16)

	c := New()
	plan := c.Stage()
	plan.Paths = []Path{{RxID: portid.ID{Kind: portid.Phy, No: 0}, RxPort: rx}}
	c.Publish()
	c.Observe()

	rx.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1})})

	c.RunOnce() // must not panic with a nil TxPort
}

func TestForwarderFreesUnsentTail(t *testing.T) {
	rx := ethdev.NewMemPort(16)
	tx := ethdev.NewMemPort(1) // capacity 1: only the first packet fits

	c := New()
	plan := c.Stage()
	plan.Paths = []Path{{
		RxID: portid.ID{Kind: portid.Phy, No: 0}, RxPort: rx,
		TxID: portid.ID{Kind: portid.Phy, No: 1}, TxPort: tx,
	}}
	c.Publish()
	c.Observe()

	rx.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1}), mbuf.New([]byte{2})})
	c.RunOnce() // must not panic on the unsent tail

	if got := tx.RxBurst(8); len(got) != 1 {
		t.Fatalf("expected only the 1 packet that fit, got %d", len(got))
	}
}
