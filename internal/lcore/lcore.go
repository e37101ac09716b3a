// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package lcore implements the per-lcore run-loop and status FSM:
// assignment of components to lcores, start/stop transitions, and the
// busy-polling fast-path loop that dispatches to each assigned
// component once per iteration.
package lcore

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spp-project/spp-worker/internal/dbuf"
	"github.com/spp-project/spp-worker/internal/splog"
)

// Status is a value in the lcore status FSM.
type Status int32

const (
	Unused Status = iota
	Stop
	Idle
	Forward
	StopRequest
	IdleRequest
)

func (s Status) String() string {
	switch s {
	case Unused:
		return "unuse"
	case Stop:
		return "stop"
	case Idle:
		return "idle"
	case Forward:
		return "forward"
	case StopRequest:
		return "stop_request"
	case IdleRequest:
		return "idle_request"
	default:
		return "unknown"
	}
}

// CoreInfo is the staged/active list of comp_ids bound to one lcore.
type CoreInfo struct {
	CompIDs []int
}

// Clone deep-copies a CoreInfo so the double buffer's two slots never
// alias the same backing slice (see dbuf.Cloner).
func (c CoreInfo) Clone() CoreInfo {
	return CoreInfo{CompIDs: append([]int(nil), c.CompIDs...)}
}

// Runnable is a single fast-path iteration of one component's dispatch
// logic (classifier, forwarder, merger, mirror, or a pcap stage). It
// must never block.
type Runnable interface {
	RunOnce()
}

// Lcore is one worker thread's state: its status word and its
// double-buffered component list.
type Lcore struct {
	ID     int
	status int32 // atomic Status

	core *dbuf.Cell[CoreInfo]

	// main marks the controller-facing lcore, which participates in the
	// status FSM but runs no forwarding dispatch.
	main bool

	doneCh chan struct{}
}

func newLcore(id int, main bool) *Lcore {
	l := &Lcore{ID: id, core: dbuf.NewCell[CoreInfo](), main: main, doneCh: make(chan struct{})}
	atomic.StoreInt32(&l.status, int32(Unused))
	return l
}

// Status returns the lcore's current status.
func (l *Lcore) Status() Status {
	return Status(atomic.LoadInt32(&l.status))
}

func (l *Lcore) setStatus(s Status) {
	atomic.StoreInt32(&l.status, int32(s))
}

// Core exposes the lcore's double-buffered component list so the
// scheduler's editor path can stage/publish edits to it.
func (l *Lcore) Core() *dbuf.Cell[CoreInfo] { return l.core }

// RequestStop asks the lcore to exit its run loop at the next iteration.
func (l *Lcore) RequestStop() {
	l.setStatus(StopRequest)
}

// RequestIdle asks a forwarding lcore to stop dispatching but keep
// running (IdleRequest -> Idle transition in the FSM diagram).
func (l *Lcore) RequestIdle() {
	l.setStatus(IdleRequest)
}

// Activate transitions an idle lcore to Forward, making its assigned
// components dispatch on every loop iteration.
func (l *Lcore) Activate() {
	l.setStatus(Forward)
}

// Scheduler owns every lcore and the comp_id -> Runnable lookup used by
// the run loop's dispatch step.
type Scheduler struct {
	lcores map[int]*Lcore

	runMu     sync.RWMutex
	runnables map[int]Runnable

	mainLcoreID int
}

// NewScheduler creates a scheduler with lcores 0..n-1 unused, except
// mainLcoreID which is marked as the controller-facing lcore.
func NewScheduler(numLcores, mainLcoreID int) *Scheduler {
	s := &Scheduler{
		lcores:      make(map[int]*Lcore, numLcores),
		runnables:   make(map[int]Runnable),
		mainLcoreID: mainLcoreID,
	}
	for i := 0; i < numLcores; i++ {
		s.lcores[i] = newLcore(i, i == mainLcoreID)
	}
	return s
}

// Lcore returns the Lcore for id, or nil.
func (s *Scheduler) Lcore(id int) *Lcore { return s.lcores[id] }

// IDs returns every lcore id the scheduler owns, in ascending order.
func (s *Scheduler) IDs() []int {
	out := make([]int, 0, len(s.lcores))
	for id := range s.lcores {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// MainLcore returns the controller-facing lcore.
func (s *Scheduler) MainLcore() *Lcore { return s.lcores[s.mainLcoreID] }

// IsSlaveAvailable reports whether lcore id exists, isn't the main
// lcore, and is in a settled state (Unused, Stop, Idle or Forward, i.e.
// no stop or idle request pending), making it eligible for
// `component start`.
func (s *Scheduler) IsSlaveAvailable(id int) bool {
	l, ok := s.lcores[id]
	if !ok || l.main {
		return false
	}
	return l.Status() == Unused || l.Status() == Stop || l.Status() == Idle || l.Status() == Forward
}

// RegisterRunnable associates a comp_id with its dispatch logic. Called
// once per component by whichever package builds that component's plan
// (classifier, forward, mirror, pcappipe).
func (s *Scheduler) RegisterRunnable(compID int, r Runnable) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.runnables[compID] = r
}

// UnregisterRunnable removes a comp_id's dispatch logic (component
// stop).
func (s *Scheduler) UnregisterRunnable(compID int) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	delete(s.runnables, compID)
}

// runnable looks up a comp_id's dispatch logic. Called from each
// lcore's own run-loop goroutine every iteration, concurrently with
// the master goroutine's Register/UnregisterRunnable calls.
func (s *Scheduler) runnable(compID int) (Runnable, bool) {
	s.runMu.RLock()
	defer s.runMu.RUnlock()
	r, ok := s.runnables[compID]
	return r, ok
}

// AddComponent appends compID to lcore id's staged CoreInfo. The lcore
// is (re)activated to Forward since, unlike the startup activation of
// StartAll, a lcore that went idle after its last component stopped
// must resume dispatching once a new one is pinned to it.
func (s *Scheduler) AddComponent(id int, compID int) {
	l := s.lcores[id]
	if l == nil {
		return
	}
	staged := l.core.Stage()
	staged.CompIDs = append(staged.CompIDs, compID)

	if l.Status() != StopRequest && l.Status() != Stop {
		l.Activate()
	}
}

// RemoveComponent removes compID from lcore id's staged CoreInfo. If the
// lcore ends up with no components, it returns to Idle.
func (s *Scheduler) RemoveComponent(id int, compID int) {
	l := s.lcores[id]
	if l == nil {
		return
	}
	staged := l.core.Stage()
	for i, c := range staged.CompIDs {
		if c == compID {
			staged.CompIDs = append(staged.CompIDs[:i], staged.CompIDs[i+1:]...)
			break
		}
	}
	if len(staged.CompIDs) == 0 {
		l.RequestIdle()
	}
}

// StartAll launches the fast-path loop for every slave lcore and
// activates each to Forward once it reports Idle: one remote-launch
// followed by a single activation pass at startup, rather than per
// component-start.
func (s *Scheduler) StartAll() error {
	for id, l := range s.lcores {
		if l.main {
			continue
		}
		s.Run(id)
	}

	if err := s.CheckStatusWait(Idle); err != nil {
		return err
	}

	for _, l := range s.lcores {
		if !l.main {
			l.Activate()
		}
	}
	return nil
}

// PublishAll flips every lcore's double buffer so staged CoreInfo edits
// become visible, and waits for each to be observed. It returns once
// every affected lcore has observed its new plan, or an error if any
// times out.
func (s *Scheduler) PublishAll(timeout, pollInterval time.Duration) error {
	for _, l := range s.lcores {
		if l.main {
			continue
		}
		l.core.Publish()
	}

	for id, l := range s.lcores {
		if l.main {
			continue
		}
		if !l.core.WaitApplied(timeout, pollInterval) {
			return fmt.Errorf("lcore %d: timed out waiting for plan publication", id)
		}
		l.core.Sync()
	}

	return nil
}

// Run starts the fast-path loop for lcore id as a goroutine. It returns
// immediately; the loop exits once the lcore observes StopRequest.
func (s *Scheduler) Run(id int) {
	l := s.lcores[id]
	if l == nil || l.main {
		return
	}

	go func() {
		defer close(l.doneCh)

		l.setStatus(Idle)

		for {
			switch l.Status() {
			case StopRequest:
				l.setStatus(Stop)
				return
			case IdleRequest:
				l.setStatus(Idle)
				continue
			case Forward:
				l.core.Observe()
				info := l.core.Read()
				for _, compID := range info.CompIDs {
					if r, ok := s.runnable(compID); ok {
						r.RunOnce()
					}
				}
			case Idle:
				// an idle lcore still observes plan publications so the
				// editor's flush never stalls waiting on it.
				l.core.Observe()
				runtime.Gosched()
			default:
				runtime.Gosched()
			}
		}
	}()
}

// CheckStatusWait polls every slave lcore once per second, up to 5
// seconds, until all reach target. Returns a timeout error otherwise.
func (s *Scheduler) CheckStatusWait(target Status) error {
	deadline := time.Now().Add(5 * time.Second)

	for {
		allMatch := true
		for _, l := range s.lcores {
			if l.main {
				continue
			}
			if l.Status() != target {
				allMatch = false
				break
			}
		}
		if allMatch {
			return nil
		}
		if time.Now().After(deadline) {
			splog.Error("lcore status wait: timed out waiting for %v", target)
			return fmt.Errorf("status wait timeout: not all lcores reached %v", target)
		}
		time.Sleep(1 * time.Second)
	}
}

// StopAll requests every slave lcore to stop and waits (bounded) for
// them to reach Stop, mirroring SIGTERM/SIGINT handling at shutdown.
func (s *Scheduler) StopAll() error {
	for _, l := range s.lcores {
		if !l.main {
			l.RequestStop()
		}
	}
	return s.CheckStatusWait(Stop)
}
