// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package portid defines the stable port identity space shared by the
// controller and the dataplane core: a (kind, index) pair formatted as
// "phy:0", "ring:3", and so on.
package portid

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the family of ethdev-like port.
type Kind int

const (
	Phy Kind = iota
	Ring
	Vhost
	Pcap
	Null
)

func (k Kind) String() string {
	switch k {
	case Phy:
		return "phy"
	case Ring:
		return "ring"
	case Vhost:
		return "vhost"
	case Pcap:
		return "pcap"
	case Null:
		return "null"
	default:
		return "unknown"
	}
}

// ParseKind parses one of "phy", "ring", "vhost", "pcap", "null".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "phy":
		return Phy, nil
	case "ring":
		return Ring, nil
	case "vhost":
		return Vhost, nil
	case "pcap":
		return Pcap, nil
	case "null":
		return Null, nil
	}
	return 0, fmt.Errorf("unknown port kind %q", s)
}

// ID is the stable identity of a port, e.g. phy:0.
type ID struct {
	Kind Kind
	No   uint16
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Kind, id.No)
}

// Parse parses a "<kind>:<num>" port UID.
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("malformed port uid %q", s)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return ID{}, err
	}

	no, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return ID{}, fmt.Errorf("malformed port number in %q: %v", s, err)
	}

	return ID{Kind: kind, No: uint16(no)}, nil
}
