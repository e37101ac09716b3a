// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pierrec/lz4/v4"

	"github.com/spp-project/spp-worker/internal/ethdev"
	"github.com/spp-project/spp-worker/internal/splog"
)

// countingWriter wraps an io.Writer, tallying bytes actually handed to
// it. Placed between the lz4 frame writer and the backing file, it
// lets the rotation check measure real compressed-file size rather
// than the uncompressed bytes fed into the frame.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// DefaultFileLimit is the default rotation threshold (1 GiB).
const DefaultFileLimit int64 = 1 << 30

// Writer is a thread_no>0 role: dequeue from the shared Ring and stream
// LZ4-framed pcap records to disk, rotating when the compressed file
// size crosses FileLimit.
type Writer struct {
	Ring    *Ring
	Control *Control

	OutDir     string
	Ifstr      string // e.g. "phy0", embedded in file names
	ThreadNo   int
	FileLimit  int64
	FileDateFn func() string // reads the receiver's FileDate

	fileNo  int
	lz      *lz4.Writer
	cw      *countingWriter
	pw      *pcapgo.Writer
	file    *os.File
	tmpPath string

	running bool
}

// NewWriter builds a writer bound to ring/control, writing into outDir.
func NewWriter(ring *Ring, ctl *Control, outDir, ifstr string, threadNo int, fileLimit int64, fileDateFn func() string) *Writer {
	if fileLimit <= 0 {
		fileLimit = DefaultFileLimit
	}
	return &Writer{
		Ring: ring, Control: ctl,
		OutDir: outDir, Ifstr: ifstr, ThreadNo: threadNo,
		FileLimit: fileLimit, FileDateFn: fileDateFn,
	}
}

// RunOnce implements lcore.Runnable: open/close files as capture
// starts and stops, and drain the ring into the current file.
func (w *Writer) RunOnce() {
	status := w.Control.Status()

	if status == Running && !w.running {
		w.fileNo = 1
		if err := w.openNewFile(); err != nil {
			splog.Error("pcap writer: open file: %v", err)
			return
		}
		w.running = true
	} else if status != Running && w.running {
		w.closeCurrent()
		w.running = false
	}

	if !w.running {
		return
	}

	pkts := w.Ring.DequeueBulk(ethdev.MaxPktBurst)
	for _, m := range pkts {
		if w.cw.n >= w.FileLimit {
			w.closeCurrent()
			w.fileNo++
			if err := w.openNewFile(); err != nil {
				splog.Error("pcap writer: rotate: %v", err)
				w.running = false
				return
			}
		}

		origLen := m.Len()
		inclLen := origLen
		if inclLen > 65535 {
			inclLen = 65535
		}

		data := m.Bytes()
		if len(data) > inclLen {
			data = data[:inclLen]
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: inclLen,
			Length:        origLen,
		}
		if err := w.pw.WritePacket(ci, data); err != nil {
			w.failCurrent(err)
			return
		}

		// lz4.Writer buffers a full block before it reaches cw; flush
		// after every record so cw.n tracks real compressed-file size
		// closely enough for the rotation check above to fire promptly
		// rather than only at Close().
		if err := w.lz.Flush(); err != nil {
			w.failCurrent(err)
			return
		}
	}
}

func (w *Writer) fileName(final bool) string {
	date := ""
	if w.FileDateFn != nil {
		date = w.FileDateFn()
	}
	name := fmt.Sprintf("spp_pcap.%s.%s.%d.%d.pcap.lz4", date, w.Ifstr, w.ThreadNo, w.fileNo)
	if !final {
		name += ".tmp"
	}
	return filepath.Join(w.OutDir, name)
}

func (w *Writer) openNewFile() error {
	w.tmpPath = w.fileName(false)

	f, err := os.OpenFile(w.tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	cw := &countingWriter{w: f}
	zw := lz4.NewWriter(cw)
	if err := zw.Apply(
		lz4.BlockSizeOption(lz4.Block256Kb),
		lz4.ChecksumOption(false),
	); err != nil {
		f.Close()
		os.Remove(w.tmpPath)
		return err
	}

	w.file = f
	w.lz = zw
	w.cw = cw
	w.pw = pcapgo.NewWriter(zw)

	if err := w.pw.WriteFileHeader(pcapSnaplen, layers.LinkTypeEthernet); err != nil {
		w.failCurrent(err)
		return err
	}

	splog.Info("pcap writer: opened %s", w.tmpPath)
	return nil
}

// closeCurrent finishes the LZ4 frame, flushes to disk, and renames the
// .tmp file to its final name. Failures here are best-effort: the
// writer still marks Idle.
func (w *Writer) closeCurrent() {
	if w.lz == nil {
		return
	}

	if err := w.lz.Close(); err != nil {
		splog.Error("pcap writer: close lz4 frame: %v", err)
	}
	if err := w.file.Sync(); err != nil {
		splog.Error("pcap writer: fsync: %v", err)
	}
	if err := w.file.Close(); err != nil {
		splog.Error("pcap writer: close file: %v", err)
	}

	final := w.fileName(true)
	if err := os.Rename(w.tmpPath, final); err != nil {
		splog.Error("pcap writer: rename %s -> %s: %v", w.tmpPath, final, err)
	}

	w.lz = nil
	w.file = nil
}

// failCurrent handles an LZ4/IO error mid-write: close the current
// file best-effort and mark the writer Idle, without exiting the
// process.
func (w *Writer) failCurrent(err error) {
	splog.Error("pcap writer: write error, closing current file: %v", err)
	w.closeCurrent()
	w.running = false
}
