// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"

	"github.com/spp-project/spp-worker/internal/mbuf"
)

func readLZ4File(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	zr := lz4.NewReader(f)
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("decompress %s: %v", path, err)
	}
	return out
}

func TestWriterProducesDecodableSingleFile(t *testing.T) {
	dir := t.TempDir()
	ring := NewRing()
	ctl := &Control{}
	w := NewWriter(ring, ctl, dir, "phy0", 1, 0, func() string { return "20260101000000" })

	ctl.setStatus(Running)
	ring.EnqueueBulk([]*mbuf.Mbuf{mbuf.New([]byte{1, 2, 3, 4})})

	w.RunOnce()
	ctl.setStatus(Idle)
	w.RunOnce()

	matches, err := filepath.Glob(filepath.Join(dir, "*.pcap.lz4"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly 1 finalized file, got %v err=%v", matches, err)
	}

	data := readLZ4File(t, matches[0])
	if len(data) < 24+16+4 {
		t.Fatalf("expected global header + 1 packet record, got %d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != pcapMagic {
		t.Fatalf("expected pcap magic at file start, got %#x", magic)
	}
	inclLen := binary.LittleEndian.Uint32(data[24+8 : 24+12])
	if inclLen != 4 {
		t.Fatalf("expected incl_len 4, got %d", inclLen)
	}
	payload := data[24+16:]
	if !bytes.Equal(payload, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected payload [1 2 3 4], got %v", payload)
	}
}

func TestWriterRotatesAtFileLimit(t *testing.T) {
	dir := t.TempDir()
	ring := NewRing()
	ctl := &Control{}
	// A tiny limit forces a rotation after the first packet's bytes land.
	w := NewWriter(ring, ctl, dir, "phy0", 1, 1, func() string { return "20260101000000" })

	ctl.setStatus(Running)
	ring.EnqueueBulk([]*mbuf.Mbuf{mbuf.New([]byte{1, 2}), mbuf.New([]byte{3, 4})})
	w.RunOnce()
	ctl.setStatus(Idle)
	w.RunOnce()

	matches, err := filepath.Glob(filepath.Join(dir, "*.pcap.lz4"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) < 2 {
		t.Fatalf("expected at least 2 rotated files at file_limit=1, got %d: %v", len(matches), matches)
	}
}

func TestWriterLeavesNoTmpFileAfterStop(t *testing.T) {
	dir := t.TempDir()
	ring := NewRing()
	ctl := &Control{}
	w := NewWriter(ring, ctl, dir, "phy0", 1, 0, func() string { return "20260101000000" })

	ctl.setStatus(Running)
	w.RunOnce()
	ctl.setStatus(Idle)
	w.RunOnce()

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Fatalf("expected no leftover .tmp files, got %v", matches)
	}
}
