// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package cmdrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/spp-project/spp-worker/internal/splog"
)

// request is the wire shape sent by the controller: a batch of
// token-grammar command lines wrapped in one JSON object so the
// receive loop can frame it with balanced-brace matching.
type request struct {
	Commands []string `json:"commands"`
}

// Runner owns the persistent controller connection and drives the
// parse/execute/respond loop.
type Runner struct {
	Addr string
	Deps Deps

	conn    net.Conn
	backoff *rate.Limiter

	// sessionID identifies the current dial attempt in logs so a
	// multi-process test harness can tell reconnects apart.
	sessionID uuid.UUID

	// exitRequested is set once the "exit" command has been handled and
	// its reply written; Run returns so the caller can perform graceful
	// shutdown before exiting the process.
	exitRequested bool
}

// NewRunner creates a runner that will dial addr once Run is called.
func NewRunner(addr string, deps Deps) *Runner {
	return &Runner{
		Addr:    addr,
		Deps:    deps,
		backoff: rate.NewLimiter(rate.Every(1*time.Second), 1),
	}
}

// Run connects and processes requests until ctx is cancelled or the
// "exit" command is handled. Any connection loss triggers a reconnect
// with ~1s backoff between attempts; the worker's configuration is
// preserved across the reconnect.
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || r.exitRequested {
			return
		}

		if err := r.dial(ctx); err != nil {
			splog.Error("cmdrunner: dial %s: %v", r.Addr, err)
			continue
		}

		err := r.serve(ctx)
		if err != nil {
			splog.Error("cmdrunner: connection lost: %v", err)
		}
		if r.conn != nil {
			r.conn.Close()
			r.conn = nil
		}
	}
}

func (r *Runner) dial(ctx context.Context) error {
	if err := r.backoff.Wait(ctx); err != nil {
		return err
	}

	conn, err := net.Dial("tcp", r.Addr)
	if err != nil {
		return err
	}
	r.conn = conn
	r.sessionID = uuid.New()
	splog.Info("cmdrunner: connected to %s (session %s)", r.Addr, r.sessionID)
	return nil
}

// serve reads whatever is available off the socket, appends to a
// growing buffer, extracts balanced-brace JSON objects one at a time,
// and executes/responds to each.
func (r *Runner) serve(ctx context.Context) error {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		if ctx.Err() != nil || r.exitRequested {
			return nil
		}

		n, err := r.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}

		for {
			obj, rest, ok := extractBalancedObject(buf)
			if !ok {
				break
			}
			buf = rest
			r.handleObject(obj)

			// throttle the parse loop to avoid saturating the CPU.
			time.Sleep(100 * time.Microsecond)
		}

		if err != nil {
			return err
		}
	}
}

func (r *Runner) handleObject(obj []byte) {
	var req request
	if err := json.Unmarshal(obj, &req); err != nil {
		r.writeError(wrongFormat("malformed request: " + err.Error()))
		return
	}

	cmds := make([]Cmd, 0, len(req.Commands))
	pcap := r.Deps.ProcessType() == "pcap"
	var parseErr *CmdError
	for _, line := range req.Commands {
		c, err := ParseLineFor(line, pcap)
		if err != nil {
			parseErr = err
			break
		}
		cmds = append(cmds, c)
	}
	if parseErr != nil {
		r.writeError(parseErr)
		return
	}

	results, extra := RunBatch(r.Deps, cmds)
	body, err := BuildResponse(r.Deps, results, extra)
	if err != nil {
		splog.Error("cmdrunner: marshal response: %v", err)
		return
	}

	if _, err := r.conn.Write(body); err != nil {
		splog.Error("cmdrunner: write response: %v", err)
		return
	}

	if extra.WantExit {
		splog.Info("cmdrunner: exit command received, terminating process")
		r.exitRequested = true
	}
}

// ExitRequested reports whether the "exit" command has been processed,
// so the caller knows to run graceful shutdown and exit the process.
func (r *Runner) ExitRequested() bool { return r.exitRequested }

func (r *Runner) writeError(err *CmdError) {
	results := []Result{{OK: false, Message: err.Error()}}
	body, merr := BuildResponse(r.Deps, results, Extra{})
	if merr != nil {
		return
	}
	if r.conn != nil {
		r.conn.Write(body)
	}
}

// extractBalancedObject scans buf for the first complete `{...}` JSON
// object, tracking brace depth with string-literal (and escape) awareness
// so a `}` inside a quoted command string doesn't terminate the object
// early. Returns the object, the remaining buffer, and whether one
// was found.
func extractBalancedObject(buf []byte) (obj []byte, rest []byte, ok bool) {
	start := bytes.IndexByte(buf, '{')
	if start < 0 {
		return nil, buf, false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(buf); i++ {
		c := buf[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return buf[start : i+1], buf[i+1:], true
			}
		}
	}

	return nil, buf, false
}
