// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package splog

import (
	"os"
	"strings"
	"testing"
)

func withTempSink(t *testing.T, name string, level Level) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "splog")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	AddSink(name, f, level)
	t.Cleanup(func() { RemoveSink(name); f.Close() })
	return f
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	data := make([]byte, 4096)
	n, _ := f.Read(data)
	return string(data[:n])
}

func TestLevelBelowSinkThresholdIsSuppressed(t *testing.T) {
	f := withTempSink(t, "t1", WARN)

	Debug("debug message")
	Info("info message")
	Warn("warn message")

	out := readAll(t, f)
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Fatalf("expected sub-threshold messages suppressed, got %q", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Fatalf("expected the warn message to be emitted, got %q", out)
	}
}

func TestFilterSuppressesMatchingSubstring(t *testing.T) {
	f := withTempSink(t, "t2", DEBUG)
	AddFilter("t2", "noisy")
	t.Cleanup(func() { RemoveSink("t2") })

	Info("a noisy component did something")
	Info("a quiet component did something")

	out := readAll(t, f)
	if strings.Contains(out, "noisy") {
		t.Fatalf("expected the filtered substring suppressed, got %q", out)
	}
	if !strings.Contains(out, "quiet") {
		t.Fatalf("expected the unfiltered message to pass through, got %q", out)
	}
}

func TestWillLogReflectsSinkLevel(t *testing.T) {
	withTempSink(t, "t3", ERROR)

	if WillLog(DEBUG) {
		t.Fatal("expected WillLog(DEBUG) false when the only sink is at ERROR")
	}
	if !WillLog(ERROR) {
		t.Fatal("expected WillLog(ERROR) true when a sink is at ERROR")
	}
}

func TestParseLevelRoundTrip(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error", "fatal"} {
		lvl, ok := ParseLevel(name)
		if !ok {
			t.Fatalf("expected %q to parse", name)
		}
		if strings.ToLower(lvl.String()) != name {
			t.Fatalf("expected %v.String() to round-trip to %q", lvl, name)
		}
	}
	if _, ok := ParseLevel("bogus"); ok {
		t.Fatal("expected an unknown level name to fail to parse")
	}
}
