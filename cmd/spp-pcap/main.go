// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// spp-pcap is the packet-capture worker process: it dials the
// controller's command channel and runs whatever receive/write
// components the controller configures via flush, capturing from the
// port named by -i into rotating LZ4-framed pcap files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spp-project/spp-worker/internal/cmdrunner"
	"github.com/spp-project/spp-worker/internal/splog"
	"github.com/spp-project/spp-worker/internal/worker"
	"github.com/spp-project/spp-worker/pkg/portid"
)

var (
	f_clientID    = flag.Int("client-id", -1, "worker client id (required)")
	f_server      = flag.String("s", "", "controller address, IP:PORT (required)")
	f_capture     = flag.String("i", "", "capture source port-uid, e.g. phy:0 (required)")
	f_output      = flag.String("output", "/tmp", "directory for rotated pcap.lz4 files")
	f_fileLimit   = flag.Int64("limit_file_size", 1073741824, "rotate after a compressed file reaches this many bytes")
	f_numLcores   = flag.Int("n", 8, "number of slave lcores to run (EAL coremask parsing is out of scope)")
	f_masterLcore = flag.Int("master-lcore", 0, "lcore id reserved for the command runner")
	f_latency     = flag.Bool("ring-latency-stats", false, "enable the optional capture-ring latency histogram")
	f_logLevel    = flag.String("log-level", "info", "debug|info|warn|error|fatal")
)

func usage() {
	fmt.Println("usage: spp-pcap --client-id N -s IP:PORT -i <port-uid> [options]")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	level, ok := splog.ParseLevel(*f_logLevel)
	if !ok {
		level = splog.INFO
	}
	splog.InitDefault(level)

	if *f_clientID < 0 {
		splog.Fatal("--client-id is required")
	}
	if *f_server == "" {
		splog.Fatal("-s is required")
	}
	if *f_capture == "" {
		splog.Fatal("-i is required")
	}

	capID, err := portid.Parse(*f_capture)
	if err != nil {
		splog.Fatal("spp-pcap: -i: %v", err)
	}

	cfg := worker.Config{
		ClientID:      *f_clientID,
		ProcessType:   "pcap",
		NumLcores:     *f_numLcores,
		MasterLcore:   *f_masterLcore,
		CaptureSource: capID,
		HasCapture:    true,
		OutputDir:     *f_output,
		FileLimit:     *f_fileLimit,
		EnableLatency: *f_latency,
	}

	wctx := worker.New(cfg, nil)

	if err := wctx.StartLcores(); err != nil {
		splog.Error("spp-pcap: lcore startup failed: %v", err)
		os.Exit(1)
	}

	runner := cmdrunner.NewRunner(*f_server, wctx)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runner.Run(runCtx)
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		splog.Info("spp-pcap: signal received, shutting down")
	case <-done:
		splog.Info("spp-pcap: exit requested by controller")
	}

	cancel()

	if err := wctx.Sched.StopAll(); err != nil {
		splog.Error("spp-pcap: %v", err)
		os.Exit(1)
	}
}
