// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package worker assembles the port registry, component table, lcore
// scheduler, and per-kind dataplane components into the single
// in-process object that the command runner drives, owning the
// flush/commit orchestration across all of them.
package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spp-project/spp-worker/internal/ability"
	"github.com/spp-project/spp-worker/internal/backup"
	"github.com/spp-project/spp-worker/internal/classifier"
	"github.com/spp-project/spp-worker/internal/cmdrunner"
	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/forward"
	"github.com/spp-project/spp-worker/internal/latency"
	"github.com/spp-project/spp-worker/internal/lcore"
	"github.com/spp-project/spp-worker/internal/mirror"
	"github.com/spp-project/spp-worker/internal/pcappipe"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/internal/splog"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// publishTimeout/publishPoll bound how long Flush waits for a slave
// lcore to observe a published plan before giving up.
const (
	publishTimeout = 2 * time.Second
	publishPoll    = 10 * time.Microsecond
)

// Config is the subset of CLI flags the worker needs.
type Config struct {
	ClientID    int
	ProcessType string // "vf" | "mirror" | "pcap"
	NumLcores   int
	MasterLcore int

	VhostClient bool
	SockDir     string

	// Mirror-only: fan out fully independent copies instead of sharing
	// packet payloads with the original.
	MirrorDeepCopy bool

	// Pcap-only.
	CaptureSource portid.ID
	HasCapture    bool
	OutputDir     string
	FileLimit     int64

	// EnableLatency turns on the optional ring-latency histogram for
	// the pcap capture ring.
	EnableLatency bool
}

// Context is the assembled worker core. It implements cmdrunner.Deps.
type Context struct {
	cfg     Config
	factory ethdev.Factory

	Ports  *port.Registry
	Comps  *component.Table
	Sched  *lcore.Scheduler
	Backup *backup.Manager

	mu          sync.Mutex
	classifiers map[string]*classifier.Classifier
	forwarders  map[string]*forward.Component
	mirrors     map[string]*mirror.Component
	pcapRecv    map[string]*pcappipe.Receiver
	pcapWrite   map[string]*pcappipe.Writer

	pcapCtl     *pcappipe.Control
	pcapRing    *pcappipe.Ring
	pcapLatency *latency.Stats
}

// New assembles a Context from cfg, using factory for deferred PMD
// creation (nil selects the default in-process backend).
func New(cfg Config, factory ethdev.Factory) *Context {
	c := &Context{
		cfg:         cfg,
		Ports:       port.NewRegistry(factory, cfg.SockDir, cfg.VhostClient),
		Comps:       component.NewTable(),
		Sched:       lcore.NewScheduler(cfg.NumLcores, cfg.MasterLcore),
		Backup:      backup.NewManager(),
		classifiers: make(map[string]*classifier.Classifier),
		forwarders:  make(map[string]*forward.Component),
		mirrors:     make(map[string]*mirror.Component),
		pcapRecv:    make(map[string]*pcappipe.Receiver),
		pcapWrite:   make(map[string]*pcappipe.Writer),
		pcapCtl:     &pcappipe.Control{},
		pcapRing:    pcappipe.NewRing(),
	}
	if cfg.EnableLatency {
		c.pcapLatency = c.pcapRing.EnableLatency()
	}

	// Snapshot the pristine state so a command batch that fails before
	// the first flush still has something to roll back to.
	c.Backup.Save(c.Ports, c.Comps, c.Sched)

	return c
}

var _ cmdrunner.Deps = (*Context)(nil)

// ClientID implements cmdrunner.Deps.
func (c *Context) ClientID() int { return c.cfg.ClientID }

// ProcessType implements cmdrunner.Deps.
func (c *Context) ProcessType() string { return c.cfg.ProcessType }

// StartComponent implements cmdrunner.Deps.
func (c *Context) StartComponent(name string, lcoreID int, kind component.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Sched.IsSlaveAvailable(lcoreID) {
		return fmt.Errorf("lcore %d not available", lcoreID)
	}

	info, err := c.Comps.Start(name, kind, lcoreID)
	if err != nil {
		return err
	}

	var runnable lcore.Runnable
	switch kind {
	case component.ClassifierMac:
		cl := classifier.New(nil)
		c.classifiers[name] = cl
		runnable = cl
	case component.Forwarder, component.Merger:
		fc := forward.New()
		c.forwarders[name] = fc
		runnable = fc
	case component.Mirror:
		mc := mirror.New()
		c.mirrors[name] = mc
		runnable = mc
	case component.PcapReceiver:
		r := pcappipe.NewReceiver(nil, c.pcapRing, c.pcapCtl)
		c.pcapRecv[name] = r
		runnable = r

		// The capture source is fixed at process startup by the -i CLI
		// flag, not by a `port add` command, so wire it here rather
		// than waiting for the command grammar.
		if c.cfg.HasCapture {
			if err := c.Ports.AddPort(c.cfg.CaptureSource, port.DirRx, name, port.Attrs{}); err != nil {
				return err
			}
			if err := c.Comps.AddRxPort(name, c.cfg.CaptureSource); err != nil {
				return err
			}
		}
	case component.PcapWriter:
		ifstr := fmt.Sprintf("%s%d", c.cfg.CaptureSource.Kind, c.cfg.CaptureSource.No)
		w := pcappipe.NewWriter(c.pcapRing, c.pcapCtl, c.cfg.OutputDir, ifstr, info.LcoreID, c.cfg.FileLimit, func() string {
			if r := c.firstReceiver(); r != nil {
				return r.FileDate
			}
			return ""
		})
		c.pcapWrite[name] = w
		runnable = w
	default:
		return fmt.Errorf("unsupported component kind %v", kind)
	}

	c.Sched.RegisterRunnable(info.CompID, runnable)
	c.Sched.AddComponent(lcoreID, info.CompID)

	return nil
}

// StartLcores launches every configured slave lcore's fast-path loop
// and activates it to Forward, mirroring the original process's
// one-time EAL remote-launch at startup. Callers must invoke this once
// before accepting any commands.
func (c *Context) StartLcores() error {
	return c.Sched.StartAll()
}

func (c *Context) firstReceiver() *pcappipe.Receiver {
	for _, r := range c.pcapRecv {
		return r
	}
	return nil
}

// StopComponent implements cmdrunner.Deps.
func (c *Context) StopComponent(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.Comps.Stop(name)
	if err != nil {
		return err
	}

	c.Sched.RemoveComponent(info.LcoreID, info.CompID)
	c.Sched.UnregisterRunnable(info.CompID)
	c.Ports.DetachComponent(name)

	delete(c.classifiers, name)
	delete(c.forwarders, name)
	delete(c.mirrors, name)
	delete(c.pcapRecv, name)
	delete(c.pcapWrite, name)

	return nil
}

// PortAdd implements cmdrunner.Deps.
func (c *Context) PortAdd(id portid.ID, dir port.Direction, componentName string, attrs port.Attrs) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Comps.Lookup(componentName); !ok {
		return component.ErrNameNotFound
	}

	if err := c.Ports.AddPort(id, dir, componentName, attrs); err != nil {
		return err
	}

	if dir == port.DirRx {
		return c.Comps.AddRxPort(componentName, id)
	}
	return c.Comps.AddTxPort(componentName, id)
}

// PortDel implements cmdrunner.Deps.
func (c *Context) PortDel(id portid.ID, dir port.Direction, componentName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Ports.DelPort(id, dir); err != nil {
		return err
	}
	c.Comps.DelPort(componentName, id, dir == port.DirRx)
	return nil
}

// classifierComponent returns the (assumed single) classifier_mac
// component in this process, since classifier_table commands carry no
// component name.
func (c *Context) classifierComponent() (string, *classifier.Classifier, *component.Info, bool) {
	for _, info := range c.Comps.All() {
		if info.Kind == component.ClassifierMac {
			if cl, ok := c.classifiers[info.Name]; ok {
				return info.Name, cl, info, true
			}
		}
	}
	return "", nil, nil, false
}

// ClassifierAdd implements cmdrunner.Deps.
func (c *Context) ClassifierAdd(hasVlan bool, vid int, mac uint64, target portid.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, cl, _, ok := c.classifierComponent()
	if !ok {
		return fmt.Errorf("no classifier_mac component running")
	}

	v := classifier.NoVlan
	if hasVlan {
		v = vid
	}

	var p ethdev.Port
	if info, ok := c.Ports.Lookup(target); ok {
		p = info.Port
	}

	cl.Stage().AddEntry(v, mac, target, p)
	return nil
}

// ClassifierDel implements cmdrunner.Deps.
func (c *Context) ClassifierDel(hasVlan bool, vid int, mac uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, cl, _, ok := c.classifierComponent()
	if !ok {
		return fmt.Errorf("no classifier_mac component running")
	}

	v := classifier.NoVlan
	if hasVlan {
		v = vid
	}
	cl.Stage().DelEntry(v, mac)
	return nil
}

// CaptureStart/CaptureStop implement cmdrunner.Deps for spp-pcap's
// additional start/stop vocabulary.
func (c *Context) CaptureStart() error {
	c.pcapCtl.SetRequest(pcappipe.Running)
	return nil
}

func (c *Context) CaptureStop() error {
	c.pcapCtl.SetRequest(pcappipe.Idle)
	return nil
}

// Backup/Restore implement cmdrunner.Deps.
func (c *Context) Backup() {}

func (c *Context) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Backup.Restore(c.Ports, c.Comps, c.Sched)
}

// Flush implements cmdrunner.Deps: create any unflushed ports, rebuild
// every dirty component's runtime plan from the now-live port handles,
// publish lcore plans, and save a fresh backup snapshot once
// everything succeeds.
func (c *Context) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirtyFromPorts, err := c.Ports.Flush()
	if err != nil {
		return err
	}

	dirty := map[string]bool{}
	for name := range dirtyFromPorts {
		dirty[name] = true
	}
	for _, info := range c.Comps.Dirty() {
		dirty[info.Name] = true
	}

	names := make([]string, 0, len(dirty))
	for name := range dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	// Lcore plans publish first: a freshly started component must be
	// dispatching before its own plan publication can be observed.
	if err := c.Sched.PublishAll(publishTimeout, publishPoll); err != nil {
		return err
	}

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error { return c.rebuildPlan(name) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Wait for each rebuilt component's own plan cell to be observed by
	// its fast-path goroutine before syncing its idle slot, mirroring
	// the lcore scheduler's own wait-then-sync step, applied
	// per-component rather than per-lcore.
	for _, name := range names {
		c.waitComponentApplied(name)
	}

	for _, info := range c.Comps.All() {
		c.Comps.ClearDirty(info)
	}

	c.Backup.Save(c.Ports, c.Comps, c.Sched)
	splog.Info("flush: committed %d component(s)", len(names))
	return nil
}

// waitComponentApplied waits for name's own plan cell (if it has one)
// to be observed by its fast-path goroutine, then syncs its idle slot
// so the next edit builds on the now-live state rather than a
// generation-old copy.
func (c *Context) waitComponentApplied(name string) {
	switch {
	case c.classifiers[name] != nil:
		cl := c.classifiers[name]
		if !cl.WaitApplied(publishTimeout, publishPoll) {
			splog.Error("flush: classifier %s: timed out waiting for plan publication", name)
		}
		cl.Sync()
	case c.forwarders[name] != nil:
		fc := c.forwarders[name]
		if !fc.WaitApplied(publishTimeout, publishPoll) {
			splog.Error("flush: forwarder %s: timed out waiting for plan publication", name)
		}
		fc.Sync()
	case c.mirrors[name] != nil:
		mc := c.mirrors[name]
		if !mc.WaitApplied(publishTimeout, publishPoll) {
			splog.Error("flush: mirror %s: timed out waiting for plan publication", name)
		}
		mc.Sync()
	}
}

// rebuildPlan regenerates one component's runtime Plan from its
// component.Info port lists plus the now-current port registry, and
// publishes it. It is safe to call concurrently for distinct
// components since each touches only its own Cell.
func (c *Context) rebuildPlan(name string) error {
	info, ok := c.Comps.Lookup(name)
	if !ok {
		return nil
	}

	switch info.Kind {
	case component.ClassifierMac:
		cl, ok := c.classifiers[name]
		if !ok {
			return nil
		}
		plan := cl.Stage()
		if len(info.RxPorts) > 0 {
			if pi, ok := c.Ports.Lookup(info.RxPorts[0]); ok {
				plan.RxPort = pi.Port
			}
		}
		for _, t := range plan.Targets {
			if pi, ok := c.Ports.Lookup(t.ID); ok {
				t.Port = pi.Port
			}
		}
		cl.Publish()

	case component.Forwarder, component.Merger:
		fc, ok := c.forwarders[name]
		if !ok {
			return nil
		}
		var txID portid.ID
		var txPort ethdev.Port
		var txAbil *ability.Cell
		if len(info.TxPorts) > 0 {
			txID = info.TxPorts[0]
			if pi, ok := c.Ports.Lookup(txID); ok {
				txPort = pi.Port
				txAbil = pi.Ability(port.DirTx)
			}
		}

		stage := fc.Stage()
		stage.Paths = stage.Paths[:0]
		for _, rxID := range info.RxPorts {
			var rxPort ethdev.Port
			var rxAbil *ability.Cell
			if pi, ok := c.Ports.Lookup(rxID); ok {
				rxPort = pi.Port
				rxAbil = pi.Ability(port.DirRx)
			}
			stage.Paths = append(stage.Paths, forward.Path{
				RxID: rxID, RxPort: rxPort, RxAbil: rxAbil,
				TxID: txID, TxPort: txPort, TxAbil: txAbil,
			})
		}
		fc.Publish()

	case component.Mirror:
		mc, ok := c.mirrors[name]
		if !ok {
			return nil
		}
		stage := mc.Stage()
		stage.Mode = mirror.ShallowCopy
		if c.cfg.MirrorDeepCopy {
			stage.Mode = mirror.DeepCopy
		}
		if len(info.RxPorts) > 0 {
			stage.RxID = info.RxPorts[0]
			if pi, ok := c.Ports.Lookup(stage.RxID); ok {
				stage.RxPort = pi.Port
			}
		}
		if len(info.TxPorts) > 0 {
			stage.Tx0ID = info.TxPorts[0]
			if pi, ok := c.Ports.Lookup(stage.Tx0ID); ok {
				stage.Tx0Port = pi.Port
			}
		}
		if len(info.TxPorts) > 1 {
			stage.Tx1ID = info.TxPorts[1]
			if pi, ok := c.Ports.Lookup(stage.Tx1ID); ok {
				stage.Tx1Port = pi.Port
			}
		}
		mc.Publish()

	case component.PcapReceiver:
		r, ok := c.pcapRecv[name]
		if !ok {
			return nil
		}
		if len(info.RxPorts) > 0 {
			if pi, ok := c.Ports.Lookup(info.RxPorts[0]); ok {
				r.SetPort(pi.Port)
			}
		}

	case component.PcapWriter:
		// the writer has no port of its own; it only reads from the
		// shared ring, already wired at StartComponent time.
	}

	return nil
}

// StatusInfo implements cmdrunner.Deps.
func (c *Context) StatusInfo() cmdrunner.StatusInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := cmdrunner.StatusInfo{
		ClientID:    c.cfg.ClientID,
		Phy:         c.Ports.List(portid.Phy),
		Vhost:       c.Ports.List(portid.Vhost),
		Ring:        c.Ports.List(portid.Ring),
		MasterLcore: c.cfg.MasterLcore,
	}

	if c.pcapLatency != nil {
		snap := c.pcapLatency.Snapshot()
		st.Latency = &cmdrunner.LatencyInfo{
			Count:   snap.Count,
			AvgNs:   snap.AvgNs,
			Buckets: snap.Buckets,
		}
	}

	byLcore := map[int][]*component.Info{}
	for _, info := range c.Comps.All() {
		byLcore[info.LcoreID] = append(byLcore[info.LcoreID], info)
	}

	for _, id := range c.Sched.IDs() {
		l := c.Sched.Lcore(id)
		if l == nil || id == c.cfg.MasterLcore {
			continue
		}

		// an lcore with no components reports role "unuse" regardless
		// of its FSM state; the controller keys off component
		// assignment, not the loop's idle/forward internals.
		role := lcore.Unused.String()
		var rx, tx []string
		for _, info := range byLcore[id] {
			role = info.Kind.String()
			for _, p := range info.RxPorts {
				rx = append(rx, p.String())
			}
			for _, p := range info.TxPorts {
				tx = append(tx, p.String())
			}
		}

		st.Cores = append(st.Cores, cmdrunner.CoreStatus{
			Core: id, Role: role, RxPorts: rx, TxPorts: tx,
		})
	}

	if _, cl, _, ok := c.classifierComponent(); ok {
		for _, e := range cl.Stage().Entries() {
			typ, value := "mac", macString(e.Mac)
			if e.HasVlan {
				typ = "vlan"
				value = fmt.Sprintf("%d/%s", e.Vid, value)
			}
			st.Classifier = append(st.Classifier, cmdrunner.ClassifierEntry{
				Type:  typ,
				Value: value,
				Port:  e.Target.String(),
			})
		}
	}

	return st
}

func macString(mac uint64) string {
	if mac == classifier.DefaultMAC {
		return "default"
	}
	b := [6]byte{}
	for i := 5; i >= 0; i-- {
		b[i] = byte(mac)
		mac >>= 8
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}
