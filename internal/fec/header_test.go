package fec

import (
	"encoding/binary"
	"testing"
)

func validHeaderBytes(l, d uint8, dBit bool) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], 100) // sn_base_low_bits
	binary.BigEndian.PutUint16(buf[2:4], 0)   // length_recovery

	word := uint32(1) << 31 // E=1
	binary.BigEndian.PutUint32(buf[4:8], word)
	binary.BigEndian.PutUint32(buf[8:12], 0) // ts_recovery

	var packed uint8
	if dBit {
		packed |= 0x40
	}
	buf[12] = packed // X=0, D bit, type=0, index=0
	buf[13] = l
	buf[14] = d
	buf[15] = 0 // sn_base_ext
	return buf
}

func TestParseHeaderAcceptsValidColumn(t *testing.T) {
	buf := validHeaderBytes(4, 10, false)
	hdr, err := ParseHeader(buf, false)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.L != 4 || hdr.NABits != 10 || hdr.D {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestParseHeaderAcceptsValidRow(t *testing.T) {
	buf := validHeaderBytes(1, 10, true)
	hdr, err := ParseHeader(buf, false)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !hdr.D || hdr.L != 1 {
		t.Fatalf("unexpected row header: %+v", hdr)
	}
}

func TestParseHeaderRejectsRowWithLNotOne(t *testing.T) {
	buf := validHeaderBytes(4, 10, true)
	if _, err := ParseHeader(buf, false); err != ErrBadHeader {
		t.Fatalf("row with L!=1: got %v, want ErrBadHeader", err)
	}
}

func TestParseHeaderRejectsOutOfBoundsL(t *testing.T) {
	buf := validHeaderBytes(MaxL+1, MinD, false)
	if _, err := ParseHeader(buf, false); err != ErrBadHeader {
		t.Fatalf("L out of bounds: got %v, want ErrBadHeader", err)
	}
}

func TestParseHeaderRejectsLDProduct(t *testing.T) {
	buf := validHeaderBytes(20, 20, false) // 400 > MaxLD(256)
	if _, err := ParseHeader(buf, false); err != ErrBadHeader {
		t.Fatalf("L*D too large: got %v, want ErrBadHeader", err)
	}
}

func TestParseHeaderRejectsTwoDTooSmallL(t *testing.T) {
	buf := validHeaderBytes(MinL, MinD, false) // L=1 < MinLIn2D(4)
	if _, err := ParseHeader(buf, true); err != ErrBadHeader {
		t.Fatalf("2-D mode with L<MinLIn2D: got %v, want ErrBadHeader", err)
	}
}

func TestParseHeaderRejectsShortPacket(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 4), false); err != ErrShortPacket {
		t.Fatalf("short packet: got %v, want ErrShortPacket", err)
	}
}

func TestParseHeaderRejectsBadType(t *testing.T) {
	buf := validHeaderBytes(4, 10, false)
	buf[12] |= 0x08 // type bits = 1, not XOR
	if _, err := ParseHeader(buf, false); err != ErrBadHeader {
		t.Fatalf("non-XOR type: got %v, want ErrBadHeader", err)
	}
}
