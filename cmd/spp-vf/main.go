// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// spp-vf is the classifier/forwarder/merger worker process: it dials
// the controller's command channel and runs whatever classifier_mac,
// forward, and merge components the controller configures via flush.
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
)

var (
	f_clientID    = flag.Int("client-id", -1, "worker client id (required)")
	f_server      = flag.String("s", "", "controller address, IP:PORT (required)")
	f_vhostClient = flag.Bool("vhost-client", false, "hotplug vhost PMDs in client mode rather than server mode")
	f_sockDir     = flag.String("sock-dir", "/tmp", "directory for vhost-user socket files")
	f_numLcores   = flag.Int("n", 8, "number of slave lcores to run (EAL coremask parsing is out of scope)")
	f_masterLcore = flag.Int("master-lcore", 0, "lcore id reserved for the command runner")
	f_logLevel    = flag.String("log-level", "info", "debug|info|warn|error|fatal")
)

func usage() {
	fmt.Println("usage: spp-vf --client-id N -s IP:PORT [options]")
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

	cfg := worker.Config{
		ClientID:    *f_clientID,
		ProcessType: "vf",
		NumLcores:   *f_numLcores,
		MasterLcore: *f_masterLcore,
		VhostClient: *f_vhostClient,
		SockDir:     *f_sockDir,
	}

	wctx := worker.New(cfg, nil)

	if err := wctx.StartLcores(); err != nil {
		splog.Error("spp-vf: lcore startup failed: %v", err)
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
		splog.Info("spp-vf: signal received, shutting down")
	case <-done:
		splog.Info("spp-vf: exit requested by controller")
	}

	cancel()

	if err := wctx.Sched.StopAll(); err != nil {
		splog.Error("spp-vf: %v", err)
		os.Exit(1)
	}
}
