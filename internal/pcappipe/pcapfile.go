// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package pcappipe

// Standard libpcap constants. The actual global/packet header encoding
// is delegated to gopacket/pcapgo (see writer.go); these stay here as
// the single source of truth the writer and its tests check against.
const (
	pcapMagic   uint32 = 0xa1b2c3d4
	pcapSnaplen uint32 = 65535
)
