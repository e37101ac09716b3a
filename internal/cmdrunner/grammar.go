// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package cmdrunner

import (
	"strconv"
	"strings"

	"github.com/spp-project/spp-worker/internal/component"
	"github.com/spp-project/spp-worker/internal/port"
	"github.com/spp-project/spp-worker/pkg/portid"
)

// defaultMac is the sentinel value `mac == "default"` decodes to.
const defaultMac uint64 = 0x000000000001

// cmdSpec is one row of the per-command grammar table: name, argument
// count bounds, and a validator that builds the Cmd.
type cmdSpec struct {
	name      string
	minArgc   int
	maxArgc   int
	validate  func(args []string) (Cmd, *CmdError)
	pcapOnly  bool
}

var commandTable = []cmdSpec{
	{name: "_get_client_id", minArgc: 0, maxArgc: 0, validate: parseGetClientID},
	{name: "status", minArgc: 0, maxArgc: 0, validate: parseStatus},
	{name: "exit", minArgc: 0, maxArgc: 0, validate: parseExit},
	{name: "component", minArgc: 2, maxArgc: 4, validate: parseComponent},
	{name: "port", minArgc: 4, maxArgc: 7, validate: parsePort},
	{name: "classifier_table", minArgc: 3, maxArgc: 5, validate: parseClassifierTable},
	{name: "flush", minArgc: 0, maxArgc: 0, validate: parseFlush},
	{name: "start", minArgc: 0, maxArgc: 0, validate: parseCaptureStart, pcapOnly: true},
	{name: "stop", minArgc: 0, maxArgc: 0, validate: parseCaptureStop, pcapOnly: true},
}

// ParseLine tokenizes and validates one whitespace-separated command
// line against the grammar table, accepting the full vocabulary
// including the pcap-only start/stop commands.
func ParseLine(line string) (Cmd, *CmdError) {
	return parseLine(line, true)
}

// ParseLineFor is ParseLine restricted to a process flavor: the capture
// start/stop commands only exist in the spp-pcap vocabulary and are
// reported as unknown everywhere else.
func ParseLineFor(line string, pcap bool) (Cmd, *CmdError) {
	return parseLine(line, pcap)
}

func parseLine(line string, pcap bool) (Cmd, *CmdError) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, wrongFormat("empty command")
	}

	name := fields[0]
	args := fields[1:]

	for _, spec := range commandTable {
		if spec.name != name {
			continue
		}
		if spec.pcapOnly && !pcap {
			return nil, unknownCommand("unknown command " + name)
		}
		if len(args) < spec.minArgc || len(args) > spec.maxArgc {
			return nil, wrongFormat("wrong number of arguments for " + name)
		}
		return spec.validate(args)
	}

	return nil, unknownCommand("unknown command " + name)
}

// --- decoders ---

func decodeMac(param, s string) (uint64, *CmdError) {
	if s == "default" {
		return defaultMac, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return 0, invalidValue(param, "mac must be xx:xx:xx:xx:xx:xx or \"default\"")
	}
	var v uint64
	for _, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, invalidType(param, "mac octet not hex: "+p)
		}
		v = (v << 8) | b
	}
	return v, nil
}

func decodePortUID(param, s string) (portid.ID, *CmdError) {
	id, err := portid.Parse(s)
	if err != nil {
		return portid.ID{}, invalidValue(param, err.Error())
	}
	return id, nil
}

func decodeVid(param, s string) (int, *CmdError) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidType(param, "vid not an integer")
	}
	if n < 0 || n > 4094 {
		return 0, invalidValue(param, "vid out of range [0,4094]")
	}
	return n, nil
}

func decodePcp(param, s string) (uint8, *CmdError) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidType(param, "pcp not an integer")
	}
	if n < 0 || n > 7 {
		return 0, invalidValue(param, "pcp out of range [0,7]")
	}
	return uint8(n), nil
}

func decodeLcore(param, s string) (int, *CmdError) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidType(param, "lcore not an integer")
	}
	if n < 0 || n >= component.MaxLcore {
		return 0, invalidValue(param, "lcore out of range [0,MAX_LCORE)")
	}
	return n, nil
}

func decodeDirection(param, s string) (port.Direction, *CmdError) {
	switch s {
	case "rx":
		return port.DirRx, nil
	case "tx":
		return port.DirTx, nil
	default:
		return 0, invalidValue(param, "direction must be rx or tx")
	}
}

// --- command parsers and their Cmd implementations ---

type getClientIDCmd struct{}

func (getClientIDCmd) Exec(d Deps) (Extra, *CmdError) { return Extra{WantClientID: true}, nil }

func parseGetClientID(args []string) (Cmd, *CmdError) { return getClientIDCmd{}, nil }

type statusCmd struct{}

func (statusCmd) Exec(d Deps) (Extra, *CmdError) { return Extra{WantStatus: true}, nil }

func parseStatus(args []string) (Cmd, *CmdError) { return statusCmd{}, nil }

type exitCmd struct{}

func (exitCmd) Exec(d Deps) (Extra, *CmdError) { return Extra{WantExit: true}, nil }

func parseExit(args []string) (Cmd, *CmdError) { return exitCmd{}, nil }

type flushCmd struct{}

func (flushCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.Flush(); err != nil {
		return Extra{}, wrongFormat("flush failed: " + err.Error())
	}
	return Extra{}, nil
}

func parseFlush(args []string) (Cmd, *CmdError) { return flushCmd{}, nil }

type captureStartCmd struct{}

func (captureStartCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.CaptureStart(); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

func parseCaptureStart(args []string) (Cmd, *CmdError) { return captureStartCmd{}, nil }

type captureStopCmd struct{}

func (captureStopCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.CaptureStop(); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

func parseCaptureStop(args []string) (Cmd, *CmdError) { return captureStopCmd{}, nil }

type componentStartCmd struct {
	name    string
	lcoreID int
	kind    component.Kind
}

func (c componentStartCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.StartComponent(c.name, c.lcoreID, c.kind); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

type componentStopCmd struct{ name string }

func (c componentStopCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.StopComponent(c.name); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

// parseComponent handles `component start <name> <lcore> <kind>` and
// `component stop <name>`.
func parseComponent(args []string) (Cmd, *CmdError) {
	switch args[0] {
	case "start":
		if len(args) != 4 {
			return nil, wrongFormat("component start needs name, lcore, kind")
		}
		lcoreID, cerr := decodeLcore("lcore", args[2])
		if cerr != nil {
			return nil, cerr
		}
		kind, err := component.ParseKind(args[3])
		if err != nil {
			return nil, invalidValue("kind", err.Error())
		}
		return componentStartCmd{name: args[1], lcoreID: lcoreID, kind: kind}, nil
	case "stop":
		if len(args) != 2 {
			return nil, wrongFormat("component stop needs name")
		}
		return componentStopCmd{name: args[1]}, nil
	default:
		return nil, invalidValue("action", "must be start or stop")
	}
}

type portAddCmd struct {
	id    portid.ID
	dir   port.Direction
	comp  string
	attrs port.Attrs
}

func (c portAddCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.PortAdd(c.id, c.dir, c.comp, c.attrs); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

type portDelCmd struct {
	id   portid.ID
	dir  port.Direction
	comp string
}

func (c portDelCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.PortDel(c.id, c.dir, c.comp); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

// parsePort handles:
//
//	port add|del <port-uid> rx|tx <component-name> [add_vlantag <vid> <pcp> | del_vlantag]
func parsePort(args []string) (Cmd, *CmdError) {
	action := args[0]
	id, cerr := decodePortUID("port-uid", args[1])
	if cerr != nil {
		return nil, cerr
	}
	dir, cerr := decodeDirection("direction", args[2])
	if cerr != nil {
		return nil, cerr
	}
	name := args[3]

	var attrs port.Attrs
	if len(args) > 4 {
		switch args[4] {
		case "add_vlantag":
			if len(args) != 7 {
				return nil, wrongFormat("add_vlantag needs vid and pcp")
			}
			vid, cerr := decodeVid("vid", args[5])
			if cerr != nil {
				return nil, cerr
			}
			pcp, cerr := decodePcp("pcp", args[6])
			if cerr != nil {
				return nil, cerr
			}
			attrs.AddVlan = true
			attrs.AddVid = uint16(vid)
			attrs.AddPcp = pcp
		case "del_vlantag":
			if len(args) != 5 {
				return nil, wrongFormat("del_vlantag takes no further args")
			}
			attrs.DelVlan = true
		default:
			return nil, invalidValue("ability", "must be add_vlantag or del_vlantag")
		}
	}

	switch action {
	case "add":
		return portAddCmd{id: id, dir: dir, comp: name, attrs: attrs}, nil
	case "del":
		return portDelCmd{id: id, dir: dir, comp: name}, nil
	default:
		return nil, invalidValue("action", "must be add or del")
	}
}

type classifierAddCmd struct {
	hasVlan bool
	vid     int
	mac     uint64
	target  portid.ID
}

func (c classifierAddCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.ClassifierAdd(c.hasVlan, c.vid, c.mac, c.target); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

type classifierDelCmd struct {
	hasVlan bool
	vid     int
	mac     uint64
}

func (c classifierDelCmd) Exec(d Deps) (Extra, *CmdError) {
	if err := d.ClassifierDel(c.hasVlan, c.vid, c.mac); err != nil {
		return Extra{}, wrongFormat(err.Error())
	}
	return Extra{}, nil
}

// parseClassifierTable handles:
//
//	classifier_table add|del mac <mac> <port-uid>
//	classifier_table add|del vlan <vid> <mac> <port-uid>
func parseClassifierTable(args []string) (Cmd, *CmdError) {
	action := args[0]
	typ := args[1]

	if action != "add" && action != "del" {
		return nil, invalidValue("action", "must be add or del")
	}

	switch typ {
	case "mac":
		mac, cerr := decodeMac("mac", args[2])
		if cerr != nil {
			return nil, cerr
		}
		if action == "del" {
			// del carries the same port-uid as add on the wire; the
			// entry key is (vid, mac) alone, so the port is validated
			// and otherwise ignored. It may also be omitted.
			if len(args) == 4 {
				if _, cerr := decodePortUID("port-uid", args[3]); cerr != nil {
					return nil, cerr
				}
			}
			return classifierDelCmd{hasVlan: false, vid: 0, mac: mac}, nil
		}
		if len(args) != 4 {
			return nil, noParam("port-uid")
		}
		target, cerr := decodePortUID("port-uid", args[3])
		if cerr != nil {
			return nil, cerr
		}
		return classifierAddCmd{hasVlan: false, vid: 0, mac: mac, target: target}, nil

	case "vlan":
		vid, cerr := decodeVid("vid", args[2])
		if cerr != nil {
			return nil, cerr
		}
		mac, cerr := decodeMac("mac", args[3])
		if cerr != nil {
			return nil, cerr
		}
		if action == "del" {
			if len(args) == 5 {
				if _, cerr := decodePortUID("port-uid", args[4]); cerr != nil {
					return nil, cerr
				}
			}
			return classifierDelCmd{hasVlan: true, vid: vid, mac: mac}, nil
		}
		if len(args) != 5 {
			return nil, noParam("port-uid")
		}
		target, cerr := decodePortUID("port-uid", args[4])
		if cerr != nil {
			return nil, cerr
		}
		return classifierAddCmd{hasVlan: true, vid: vid, mac: mac, target: target}, nil

	default:
		return nil, invalidValue("type", "must be mac or vlan")
	}
}
