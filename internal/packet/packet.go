package packet

import (
	"net"
	"sync/atomic"
	"time"
)

// Type classifies a packet's role in the repair pipeline.
type Type uint8

const (
	Primary Type = iota
	Repair
	FEC
	APP
)

func (t Type) String() string {
	switch t {
	case Primary:
		return "primary"
	case Repair:
		return "repair"
	case FEC:
		return "fec"
	case APP:
		return "app"
	default:
		return "unknown"
	}
}

// Flags is a bitmask of per-packet state recorded across the packet's
// lifetime in the cache.
type Flags uint8

const (
	// Reordered marks a packet inserted behind the current tail (a
	// repair, or a primary that filled a gap rather than extending it).
	Reordered Flags = 1 << iota
	// Discontinuity marks a packet inserted just after a generation bump,
	// so inter-packet-time estimation must not compare it to the packet
	// before the bump.
	Discontinuity
	// AfterEC marks a packet that was reconstructed by FEC rather than
	// received directly; cleared if the real primary later arrives.
	AfterEC
	// OnInorderQueue marks a packet currently linked into the PCM inorder
	// tail queue.
	OnInorderQueue
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// RTPHeaderSize is the fixed on-wire size of the RTP header fields this
// package models (version through SSRC; no CSRC list or extensions).
// Buf for a Primary/Repair/APP packet, and the portion of a FEC
// packet's Buf before its FEC header, both start with this many bytes.
const RTPHeaderSize = 12

// RTPHeader is the parsed subset of an RTP header the repair core reads
// or rewrites; it never needs the full RFC 3550 field set.
type RTPHeader struct {
	Version     uint8
	PayloadType uint8
	SeqNum      uint16
	Timestamp   uint32
	SSRC        uint32
}

// FECHeader is the parsed Pro-MPEG CoP#3r2 / RFC 2733 FEC header (see
// internal/fec for wire layout and validation).
type FECHeader struct {
	SNBase         uint32
	LengthRecovery uint16
	PTRecovery     uint8
	Mask           uint32
	TSRecovery     uint32
	X              bool
	D              bool
	Type           uint8
	Index          uint8
	L              uint8
	NABits         uint8 // D (offset count) in spec terms; named to avoid clashing with the D-bit
}

// Packet is a received or reconstructed unit of RTP traffic, plus the
// metadata the repair core hangs off it. Packets are obtained from a
// Pool and returned to it via Release; a short-lived second owner (e.g.
// TR-135 accounting observing a packet already handed to the scheduler)
// should Hold before it and Release when done instead of copying.
type Packet struct {
	pool *Pool
	Buf  []byte // wire bytes, including RTP/FEC header

	Seq       uint32 // 32-bit lifted sequence number
	RTPTs     uint32 // RTP timestamp, raw units
	RecvTime  time.Time
	Type      Type
	Flags     Flags
	SrcAddr   *net.UDPAddr
	RTPHeader *RTPHeader
	FECHeader *FECHeader

	PredPlayout  time.Time // NLL-predicted play-out time
	AppDelay     time.Duration // cumulative APP-packet replication delay at insertion
	FECTouched   int           // number of times FEC decode logic examined this packet

	refs int32
}

// New allocates a Packet whose buffer comes from pool, with an initial
// reference count of one.
func New(pool *Pool) *Packet {
	return &Packet{pool: pool, Buf: pool.Get(), refs: 1}
}

// NewRecovered wraps an FEC-reconstructed packet as a Packet not drawn
// from any pool: Release on it simply drops the last reference without
// returning a buffer (the caller owns buf, typically a freshly
// assembled reconstructed-header-plus-payload slice). buf must start
// with the reconstructed RTPHeaderSize-byte header, same as any other
// packet's Buf, so downstream sinks can treat it uniformly. Type is set
// to Repair, matching spec §4.4 ("mark the packet as type=Repair").
func NewRecovered(buf []byte, seq uint32, rtpHeader *RTPHeader) *Packet {
	return &Packet{
		Buf:       buf,
		Seq:       seq,
		RTPTs:     rtpHeader.Timestamp,
		Type:      Repair,
		RTPHeader: rtpHeader,
		refs:      1,
	}
}

// Hold takes an additional short-lived reference. Must be paired with a
// Release.
func (p *Packet) Hold() { atomic.AddInt32(&p.refs, 1) }

// Release drops a reference; at zero, the packet's buffer returns to its
// pool and the Packet is no longer safe to use.
func (p *Packet) Release() {
	if atomic.AddInt32(&p.refs, -1) != 0 {
		return
	}
	if p.pool != nil && p.Buf != nil {
		p.pool.Put(p.Buf[:cap(p.Buf)])
	}
	p.Buf = nil
}
