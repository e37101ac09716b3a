// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

// Package mbuf implements the packet-buffer abstraction that stands in
// for a DPDK mbuf: a chain of segments carrying Ethernet-framed bytes
// plus the small amount of per-packet metadata the dataplane core reads
// or rewrites (VLAN TCI, port, timestamp, packet type).
package mbuf

import "time"

// Mbuf is a single packet, possibly made of multiple segments (only the
// mirror deep-copy path produces multi-segment chains; everything else
// deals in single-segment mbufs, as in the original DPDK-based core).
type Mbuf struct {
	Data []byte // this segment's bytes, starting at the Ethernet header

	Port      int16
	VlanTCI   uint16
	TxOffload uint64
	Hash      uint32
	OLFlags   uint64
	PktType   uint32
	PktLen    int // total length across all segments

	// Timestamp is set by the ring-latency collector on enqueue and
	// read back on dequeue; it must not be assumed zero on fresh
	// allocations, so callers that care about it should check
	// TimestampValid rather than the zero time.
	Timestamp      time.Time
	TimestampValid bool

	Next *Mbuf // next segment in the chain, or nil
}

// New wraps data as a single-segment mbuf.
func New(data []byte) *Mbuf {
	return &Mbuf{Data: data, PktLen: len(data)}
}

// Len returns the total byte length across all segments.
func (m *Mbuf) Len() int {
	n := 0
	for seg := m; seg != nil; seg = seg.Next {
		n += len(seg.Data)
	}
	return n
}

// Bytes concatenates all segments into a single contiguous slice. Used by
// the PCAP writer and tests; the fast path avoids this when possible.
func (m *Mbuf) Bytes() []byte {
	if m.Next == nil {
		return m.Data
	}

	out := make([]byte, 0, m.Len())
	for seg := m; seg != nil; seg = seg.Next {
		out = append(out, seg.Data...)
	}
	return out
}

// ShallowClone produces a new Mbuf that shares the underlying segment
// byte slices (analogous to rte_pktmbuf_clone) with the same metadata.
func (m *Mbuf) ShallowClone() *Mbuf {
	if m == nil {
		return nil
	}

	clone := &Mbuf{
		Data:           m.Data,
		Port:           m.Port,
		VlanTCI:        m.VlanTCI,
		TxOffload:      m.TxOffload,
		Hash:           m.Hash,
		OLFlags:        m.OLFlags,
		PktType:        m.PktType,
		PktLen:         m.PktLen,
		Timestamp:      m.Timestamp,
		TimestampValid: m.TimestampValid,
	}
	if m.Next != nil {
		clone.Next = m.Next.ShallowClone()
	}
	return clone
}

// DeepCopy allocates entirely new segment storage and copies every
// field: port, vlan_tci, tx_offload, hash, ol_flags, packet_type,
// pkt_len, and the payload bytes themselves, then links segments via
// Next.
func (m *Mbuf) DeepCopy() *Mbuf {
	if m == nil {
		return nil
	}

	data := make([]byte, len(m.Data))
	copy(data, m.Data)

	out := &Mbuf{
		Data:           data,
		Port:           m.Port,
		VlanTCI:        m.VlanTCI,
		TxOffload:      m.TxOffload,
		Hash:           m.Hash,
		OLFlags:        m.OLFlags,
		PktType:        m.PktType,
		PktLen:         m.PktLen,
		Timestamp:      m.Timestamp,
		TimestampValid: m.TimestampValid,
	}
	if m.Next != nil {
		out.Next = m.Next.DeepCopy()
	}
	return out
}
