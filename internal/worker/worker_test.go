// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package worker

import (
	"testing"
	"time"

	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/mbuf"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/pkg/portid"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c := New(Config{ClientID: 1, ProcessType: "vf", NumLcores: 2, MasterLcore: 0}, ethdev.NewMemFactory())
	if err := c.StartLcores(); err != nil {
		t.Fatalf("StartLcores: %v", err)
	}
	t.Cleanup(func() { c.Sched.StopAll() })
	return c
}

func TestForwarderEndToEndThroughFlush(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("fwd0", 1, component.Forwarder); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}

	rx := portid.ID{Kind: portid.Phy, No: 0}
	tx := portid.ID{Kind: portid.Phy, No: 1}
	if err := c.PortAdd(rx, port.DirRx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("PortAdd rx: %v", err)
	}
	if err := c.PortAdd(tx, port.DirTx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("PortAdd tx: %v", err)
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rxInfo, ok := c.Ports.Lookup(rx)
	if !ok || !rxInfo.Flushed() {
		t.Fatal("expected rx port flushed")
	}
	txInfo, ok := c.Ports.Lookup(tx)
	if !ok || !txInfo.Flushed() {
		t.Fatal("expected tx port flushed")
	}

	rxMem, ok := rxInfo.Port.(*ethdev.MemPort)
	if !ok {
		t.Fatalf("expected a *ethdev.MemPort for the rx port, got %T", rxInfo.Port)
	}
	txMem, ok := txInfo.Port.(*ethdev.MemPort)
	if !ok {
		t.Fatalf("expected a *ethdev.MemPort for the tx port, got %T", txInfo.Port)
	}

	rxMem.Inject([]*mbuf.Mbuf{mbuf.New([]byte{1, 2, 3})})

	deadline := time.Now().Add(2 * time.Second)
	var got []*mbuf.Mbuf
	for time.Now().Before(deadline) {
		got = txMem.RxBurst(8)
		if len(got) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(got) != 1 {
		t.Fatalf("expected the packet forwarded to tx after flush, got %d", len(got))
	}
}

func TestFlushThenBackupRestoreRollsBackPortAttachment(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("fwd0", 1, component.Forwarder); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	rx := portid.ID{Kind: portid.Phy, No: 0}
	if err := c.PortAdd(rx, port.DirRx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("PortAdd: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := c.PortDel(rx, port.DirRx, "fwd0"); err != nil {
		t.Fatalf("PortDel: %v", err)
	}
	if got := c.Ports.AttachedTo(rx, port.DirRx); got != "" {
		t.Fatalf("expected rx detached before restore, got %q", got)
	}

	c.Restore()

	if got := c.Ports.AttachedTo(rx, port.DirRx); got != "fwd0" {
		t.Fatalf("expected Restore to bring the rx attachment back, got %q", got)
	}
}

func TestStatusInfoReportsFlushedPorts(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("fwd0", 1, component.Forwarder); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	rx := portid.ID{Kind: portid.Ring, No: 0}
	if err := c.PortAdd(rx, port.DirRx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("PortAdd: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st := c.StatusInfo()
	if len(st.Ring) != 1 || st.Ring[0] != 0 {
		t.Fatalf("expected ring port 0 reported, got %v", st.Ring)
	}

	var sawFwd bool
	for _, core := range st.Cores {
		if core.Role == "forward" {
			sawFwd = true
		}
	}
	if !sawFwd {
		t.Fatalf("expected a core reporting role forward, got %+v", st.Cores)
	}
}

func TestClassifierAddPopulatesStatusTable(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("cls0", 1, component.ClassifierMac); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	target := portid.ID{Kind: portid.Ring, No: 2}
	if err := c.ClassifierAdd(false, 0, 0x1122334455, target); err != nil {
		t.Fatalf("ClassifierAdd: %v", err)
	}

	st := c.StatusInfo()
	if len(st.Classifier) != 1 {
		t.Fatalf("expected 1 classifier entry, got %d", len(st.Classifier))
	}
	if st.Classifier[0].Type != "mac" {
		t.Fatalf("expected type mac, got %s", st.Classifier[0].Type)
	}
}

func TestStopComponentDetachesPorts(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("fwd0", 1, component.Forwarder); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	rx := portid.ID{Kind: portid.Phy, No: 0}
	if err := c.PortAdd(rx, port.DirRx, "fwd0", port.Attrs{}); err != nil {
		t.Fatalf("PortAdd: %v", err)
	}

	if err := c.StopComponent("fwd0"); err != nil {
		t.Fatalf("StopComponent: %v", err)
	}

	if got := c.Ports.AttachedTo(rx, port.DirRx); got != "" {
		t.Fatalf("expected port detached after StopComponent, got %q", got)
	}
	if _, ok := c.Comps.Lookup("fwd0"); ok {
		t.Fatal("expected component removed from the table")
	}
}

func TestStopThenFlushReturnsLcoreToUnuse(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("fwd0", 1, component.Forwarder); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	if err := c.StopComponent("fwd0"); err != nil {
		t.Fatalf("StopComponent: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush after stop: %v", err)
	}

	st := c.StatusInfo()
	for _, core := range st.Cores {
		if core.Core == 1 && core.Role != "unuse" {
			t.Fatalf("expected lcore 1 back to role unuse after stop+flush, got %q", core.Role)
		}
	}
}

func TestClassifierVlanEntryValueFormat(t *testing.T) {
	c := newTestContext(t)

	if err := c.StartComponent("cls0", 1, component.ClassifierMac); err != nil {
		t.Fatalf("StartComponent: %v", err)
	}
	target := portid.ID{Kind: portid.Ring, No: 0}
	if err := c.ClassifierAdd(true, 100, 0xaabbccddee00, target); err != nil {
		t.Fatalf("ClassifierAdd: %v", err)
	}

	st := c.StatusInfo()
	if len(st.Classifier) != 1 {
		t.Fatalf("expected 1 classifier entry, got %d", len(st.Classifier))
	}
	e := st.Classifier[0]
	if e.Type != "vlan" {
		t.Fatalf("expected type vlan, got %q", e.Type)
	}
	if e.Value != "100/aa:bb:cc:dd:ee:00" {
		t.Fatalf("expected value formatted as vid/mac, got %q", e.Value)
	}
}
