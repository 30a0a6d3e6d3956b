// Package fec implements the Pro-MPEG CoP#3r2 / RFC 2733 XOR FEC
// decoder: wire-header parsing, column/row buffering keyed by the
// shared pak_seq ring, Annex A/B sending-order detection, and XOR-based
// single-loss recovery.
package fec

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/xtaci/vqerepair/internal/packet"
)

// HeaderSize is the fixed wire size of a Pro-MPEG FEC header.
const HeaderSize = 16

// TypeXOR is the only supported FEC header "type" value.
const TypeXOR = 0

// Bounds on L (offset) and D (na_bits), taken from the original
// implementation's constants (spec §4.4, folded in as concrete defaults
// via SPEC_FULL.md).
const (
	MinL     = 1
	MaxL     = 20
	MinD     = 4
	MaxD     = 20
	MaxLD    = 256
	MinLIn2D = 4
)

// ErrBadHeader is returned for any wire header that fails validation:
// wrong type/X/E bit, index/mask/extension nonzero, or L/D out of
// bounds.
var ErrBadHeader = errors.New("fec: invalid header")

// ErrShortPacket is returned when a buffer is too small to hold a FEC
// header.
var ErrShortPacket = errors.New("fec: packet shorter than header")

// ErrDuplicate is returned by Buffer.Insert for an sn_base already held
// in the target dimension's ring.
var ErrDuplicate = errors.New("fec: duplicate sn_base")

// ErrOutOfRange is returned by Buffer.Insert for an sn_base too far
// ahead of or behind the target dimension's current window.
var ErrOutOfRange = errors.New("fec: sn_base out of range")

// ParseHeader validates and decodes the 16-byte FEC header at the front
// of buf. twoD tells the validator whether a column header's L must
// satisfy the stricter MinLIn2D bound (true once both column and row FEC
// streams are active); a row header always carries L == 1.
func ParseHeader(buf []byte, twoD bool) (*packet.FECHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortPacket
	}

	snBaseLow := binary.BigEndian.Uint16(buf[0:2])
	lengthRecovery := binary.BigEndian.Uint16(buf[2:4])

	word := binary.BigEndian.Uint32(buf[4:8])
	e := word>>31 != 0
	ptRecovery := uint8((word >> 24) & 0x7f)
	mask := word & 0x00ffffff

	tsRecovery := binary.BigEndian.Uint32(buf[8:12])

	packed := buf[12]
	x := packed&0x80 != 0
	d := packed&0x40 != 0
	typ := (packed >> 3) & 0x07
	index := packed & 0x07

	l := buf[13]
	naBits := buf[14]
	snBaseExt := buf[15]

	if typ != TypeXOR || x || !e || index != 0 || mask != 0 || snBaseExt != 0 {
		return nil, ErrBadHeader
	}
	if l < MinL || l > MaxL {
		return nil, ErrBadHeader
	}
	if naBits < MinD || naBits > MaxD {
		return nil, ErrBadHeader
	}
	if uint16(l)*uint16(naBits) > MaxLD {
		return nil, ErrBadHeader
	}
	if twoD && !d && l < MinLIn2D {
		return nil, ErrBadHeader
	}
	// Column FEC's D-bit is 0; row FEC's D-bit is 1 with offset (L) == 1.
	if d && l != 1 {
		return nil, ErrBadHeader
	}

	return &packet.FECHeader{
		SNBase:         uint32(snBaseLow),
		LengthRecovery: lengthRecovery,
		PTRecovery:     ptRecovery,
		Mask:           mask,
		TSRecovery:     tsRecovery,
		X:              x,
		D:              d,
		Type:           typ,
		Index:          index,
		L:              l,
		NABits:         naBits,
	}, nil
}
