package fec

import (
	"github.com/pkg/errors"
	"github.com/templexxx/xorsimd"
	"github.com/xtaci/vqerepair/internal/packet"
)

// Disposition is the outcome of attempting to apply one FEC packet
// against the current PCM state (spec §4.4 "Decode").
type Disposition uint8

const (
	OK Disposition = iota
	LatePak
	PakTooEarly
	FuturePak
	NotNeeded
	Unrecoverable
	RtpValidateWrong
)

func (d Disposition) String() string {
	switch d {
	case OK:
		return "ok"
	case LatePak:
		return "late"
	case PakTooEarly:
		return "too-early"
	case FuturePak:
		return "future"
	case NotNeeded:
		return "not-needed"
	case Unrecoverable:
		return "unrecoverable"
	case RtpValidateWrong:
		return "bad-rtp-header"
	default:
		return "unknown"
	}
}

// ErrDecodeFailure wraps an internal XOR-arithmetic failure during
// recovery (spec §7 "FecDecodeFailure": mismatched buffer lengths).
var ErrDecodeFailure = errors.New("fec: xor recovery failed")

// Retire reports whether a FEC packet carrying this disposition should
// be removed from the buffer now, given how many times Decide has
// looked at it (spec §4.4 "Error disposition"). NotNeeded,
// RtpValidateWrong, PakTooEarly and OK all retire the packet
// immediately. LatePak and Unrecoverable are kept for one extra look
// (to give an out-of-order primary a chance to arrive) and retire on
// the second touch. FuturePak is never retired here; it is retried
// until the PCM window moves past it into one of the other outcomes.
func (d Disposition) Retire(touchCount int) bool {
	switch d {
	case OK, NotNeeded, RtpValidateWrong, PakTooEarly:
		return true
	case LatePak, Unrecoverable:
		return touchCount >= 2
	default: // FuturePak
		return false
	}
}

// PCMView is the narrow surface the decoder needs from PCM: enough to
// place a FEC packet's protected range against the cache window, find
// which of its protected primaries are present, and insert a recovered
// primary back in. PCM satisfies this directly; fec never imports the
// pcm package, keeping FEC a dependency leaf (spec §9 "Cyclic
// ownership": FEC talks to PCM only through a narrow handle).
type PCMView interface {
	Head() (seq uint32, ok bool)
	Tail() (seq uint32, ok bool)
	Get(seq uint32) *packet.Packet
	InsertRecovered(pak *packet.Packet) error
}

// ProtectedRange returns the set of primary seqs hdr protects: sn_base
// lifted, stepping by offset for na_bits entries.
func ProtectedRange(hdr *packet.FECHeader, snBase32 uint32) (offset uint32, seqs []uint32) {
	offset = uint32(hdr.L)
	if hdr.D {
		offset = 1
	}
	naBits := hdr.NABits
	if hdr.D {
		naBits = hdr.L
	}
	seqs = make([]uint32, naBits)
	for k := uint32(0); k < uint32(naBits); k++ {
		seqs[k] = snBase32 + k*offset
	}
	return offset, seqs
}

// Decide classifies a FEC packet against the current PCM window and, on
// a single-hole protected set, attempts recovery.
func Decide(pcm PCMView, fecPak *packet.Packet, l, d uint8) (Disposition, *packet.Packet) {
	fecPak.FECTouched++

	hdr := fecPak.FECHeader
	_, protected := ProtectedRange(hdr, fecPak.Seq)

	head, haveHead := pcm.Head()
	tail, haveTail := pcm.Tail()

	last := protected[len(protected)-1]
	if haveHead && int32(last-head) < 0 {
		return LatePak, nil
	}

	ld2 := 2 * uint32(l) * uint32(d)
	if haveTail {
		if over := int32(last - tail); over > 0 {
			if uint32(over) > ld2 {
				return PakTooEarly, nil
			}
			return FuturePak, nil
		}
	}

	var missing []uint32
	for _, seq := range protected {
		if pcm.Get(seq) == nil {
			missing = append(missing, seq)
		}
	}

	switch len(missing) {
	case 0:
		return NotNeeded, nil
	case 1:
		// fall through to recovery
	default:
		return Unrecoverable, nil
	}

	recovered, err := recover(pcm, fecPak, protected, missing[0])
	if err != nil {
		return RtpValidateWrong, nil
	}
	return OK, recovered
}

// recover XORs the FEC packet against every present protected primary
// to reconstruct the missing one, per spec §4.4 "Recovery". Both the
// FEC packet and every primary carry a leading RTPHeaderSize-byte RTP
// header in Buf (packet.Packet's "wire bytes" convention); only the
// payload bodies after that header, and after the FEC packet's own
// 16-byte FEC header, take part in the body XOR. The RTP header itself
// is reconstructed separately, in reconstructHeader.
func recover(pcm PCMView, fecPak *packet.Packet, protected []uint32, missingSeq uint32) (*packet.Packet, error) {
	hdr := fecPak.FECHeader

	var present [][]byte
	var presentPrims []*packet.Packet
	for _, seq := range protected {
		if seq == missingSeq {
			continue
		}
		pk := pcm.Get(seq)
		if pk == nil || len(pk.Buf) < packet.RTPHeaderSize {
			return nil, ErrDecodeFailure
		}
		present = append(present, pk.Buf[packet.RTPHeaderSize:])
		presentPrims = append(presentPrims, pk)
	}

	if len(fecPak.Buf) < packet.RTPHeaderSize+HeaderSize {
		return nil, ErrDecodeFailure
	}
	fecPayload := fecPak.Buf[packet.RTPHeaderSize+HeaderSize:]
	src := make([][]byte, 0, len(present)+1)
	src = append(src, fecPayload)
	src = append(src, present...)

	out := make([]byte, len(fecPayload))
	if xorsimd.Encode(out, src) != len(fecPayload) {
		return nil, ErrDecodeFailure
	}

	recoveredLen := int(hdr.LengthRecovery)
	for _, pk := range presentPrims {
		recoveredLen ^= len(pk.Buf) - packet.RTPHeaderSize
	}
	if recoveredLen < 0 || recoveredLen > len(out) {
		return nil, ErrDecodeFailure
	}

	recHeader := reconstructHeader(hdr, presentPrims, missingSeq)
	if recHeader.Version != 2 {
		return nil, ErrDecodeFailure
	}

	buf := make([]byte, packet.RTPHeaderSize+recoveredLen)
	writeRTPHeader(buf, recHeader)
	copy(buf[packet.RTPHeaderSize:], out[:recoveredLen])

	recovered := packet.NewRecovered(buf, missingSeq, recHeader)
	recovered.Flags |= packet.AfterEC
	recovered.FECTouched = 1
	if len(presentPrims) > 0 {
		recovered.SrcAddr = presentPrims[0].SrcAddr
	}
	return recovered, nil
}

// reconstructHeader XORs the present primaries' 8-byte RTP headers with
// a synthetic header built from the FEC packet's pt_recovery/ts_recovery
// fields, then overwrites version and sequence with known-good values.
// SSRC is not XOR-recovered (the FEC header carries no ssrc_recovery
// field); it is carried from any present primary, same as SrcAddr.
func reconstructHeader(hdr *packet.FECHeader, present []*packet.Packet, missingSeq uint32) *packet.RTPHeader {
	var ptXor uint8
	var tsXor uint32
	var ssrc uint32
	for _, pk := range present {
		if pk.RTPHeader != nil {
			ptXor ^= pk.RTPHeader.PayloadType
			tsXor ^= pk.RTPHeader.Timestamp
			if ssrc == 0 {
				ssrc = pk.RTPHeader.SSRC
			}
		}
	}
	return &packet.RTPHeader{
		Version:     2,
		PayloadType: ptXor ^ hdr.PTRecovery,
		SeqNum:      uint16(missingSeq),
		Timestamp:   tsXor ^ hdr.TSRecovery,
		SSRC:        ssrc,
	}
}

// writeRTPHeader serializes h's modeled fields into the first
// RTPHeaderSize bytes of buf, network byte order. Marker and the
// padding/extension/CSRC-count bits are not part of RTPHeader and are
// written as zero.
func writeRTPHeader(buf []byte, h *packet.RTPHeader) {
	buf[0] = h.Version << 6
	buf[1] = h.PayloadType & 0x7f
	buf[2] = byte(h.SeqNum >> 8)
	buf[3] = byte(h.SeqNum)
	buf[4] = byte(h.Timestamp >> 24)
	buf[5] = byte(h.Timestamp >> 16)
	buf[6] = byte(h.Timestamp >> 8)
	buf[7] = byte(h.Timestamp)
	buf[8] = byte(h.SSRC >> 24)
	buf[9] = byte(h.SSRC >> 16)
	buf[10] = byte(h.SSRC >> 8)
	buf[11] = byte(h.SSRC)
}

// IterateTwoD drives the 2-D convergence loop (spec §4.4 "Iteration"):
// on a row-FEC arrival, attempt row decode once; on a column-FEC
// arrival, alternate column/row passes until a full pass recovers
// nothing. decodeOne attempts decode of a single FEC packet and returns
// whether it recovered anything.
func IterateTwoD(buf *Buffer, columnTriggered bool, decodeOne func(*packet.Packet) bool) {
	pass := func(rowPass bool) bool {
		recoveredAny := false
		walk := buf.ColumnFECs
		if rowPass {
			walk = buf.RowFECs
		}
		walk(func(p *packet.Packet) {
			if decodeOne(p) {
				recoveredAny = true
			}
		})
		return recoveredAny
	}

	if !columnTriggered {
		pass(true)
		return
	}
	for {
		progressed := pass(false)
		progressed = pass(true) || progressed
		if !progressed {
			return
		}
	}
}
