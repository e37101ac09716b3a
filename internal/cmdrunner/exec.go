// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package cmdrunner implements the command runner: a persistent TCP
// connection to the controller, token-grammar request parsing,
// staged-edit execution with short-circuit-on-failure, and JSON
// response rendering.
package cmdrunner

import (
	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// StatusInfo is everything the "status" command reports, in the
// response's "info" block.
type StatusInfo struct {
	ClientID    int
	Phy         []uint16
	Vhost       []uint16
	Ring        []uint16
	MasterLcore int
	Cores       []CoreStatus
	Classifier  []ClassifierEntry

	// Latency is the optional ring-latency histogram, nil unless
	// enabled.
	Latency *LatencyInfo
}

// LatencyInfo is the JSON-friendly rendering of the ring-latency
// histogram, additive under the status response's "latency" key.
type LatencyInfo struct {
	Count   uint64
	AvgNs   uint64
	Buckets []uint64
}

// CoreStatus is one entry of info.core.
type CoreStatus struct {
	Core    int
	Role    string
	RxPorts []string
	TxPorts []string
}

// ClassifierEntry is one entry of info.classifier_table.
type ClassifierEntry struct {
	Type  string // "mac" | "vlan"
	Value string
	Port  string
}

// Deps is everything the executor needs from the assembled worker
// (internal/worker.Context implements it). Every mutating method
// returns an error usable as-is inside a CmdError chain by the caller
// wrapping it; Exec methods below translate plain errors into the
// appropriate CmdError kind.
type Deps interface {
	ClientID() int
	ProcessType() string
	StatusInfo() StatusInfo

	StartComponent(name string, lcoreID int, kind component.Kind) error
	StopComponent(name string) error

	PortAdd(id portid.ID, dir port.Direction, componentName string, attrs port.Attrs) error
	PortDel(id portid.ID, dir port.Direction, componentName string) error

	ClassifierAdd(hasVlan bool, vid int, mac uint64, target portid.ID) error
	ClassifierDel(hasVlan bool, vid int, mac uint64) error

	Flush() error

	CaptureStart() error
	CaptureStop() error

	// Backup/Restore bracket a batch: Backup is called once before the
	// batch runs (a no-op if a flush has never succeeded), Restore is
	// called only if the batch fails partway through.
	Backup()
	Restore()
}

// Extra carries the additive response fields produced by non-mutating
// commands: "client_id"/"process_type"/"info" only if requested.
type Extra struct {
	WantClientID bool
	WantStatus   bool
	WantExit     bool
}

// Cmd is one parsed command ready to execute against Deps.
type Cmd interface {
	Exec(d Deps) (Extra, *CmdError)
}

// Result is one command's outcome in a batch response.
type Result struct {
	OK      bool
	Message string // only set when !OK
}

// RunBatch executes every parsed command in order. On the first
// failure, remaining commands become CMD_INVALID and the backup
// snapshot is restored: subsequent commands are short-circuited and
// the cancel/backup snapshot is restored.
func RunBatch(d Deps, cmds []Cmd) ([]Result, Extra) {
	d.Backup()

	results := make([]Result, len(cmds))
	var extra Extra
	failed := false

	for i, c := range cmds {
		if failed {
			results[i] = Result{OK: false, Message: "invalid"}
			continue
		}

		e, err := c.Exec(d)
		if err != nil {
			results[i] = Result{OK: false, Message: err.Error()}
			failed = true
			d.Restore()
			continue
		}

		results[i] = Result{OK: true}
		if e.WantClientID {
			extra.WantClientID = true
		}
		if e.WantStatus {
			extra.WantStatus = true
		}
		if e.WantExit {
			extra.WantExit = true
		}
	}

	return results, extra
}
