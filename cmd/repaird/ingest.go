package main

import (
	"log"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/xtaci/vqerepair/internal/fec"
	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/runtime"
	"github.com/xtaci/vqerepair/internal/seqnum"
)

// rtpHeaderSize is the fixed 12-byte RTP header this daemon reads;
// extension headers and CSRC lists are not in scope (spec §1, "RTP
// packet reception sockets" are an external collaborator — this is
// the thinnest possible socket shim to exercise the repair core).
// Kept equal to packet.RTPHeaderSize, the single source of truth the
// fec package reconstructs against.
const rtpHeaderSize = packet.RTPHeaderSize

func parseRTPHeader(buf []byte) (*packet.RTPHeader, error) {
	if len(buf) < rtpHeaderSize {
		return nil, errors.New("ingest: short rtp packet")
	}
	return &packet.RTPHeader{
		Version:     buf[0] >> 6,
		PayloadType: buf[1] & 0x7f,
		SeqNum:      uint16(buf[2])<<8 | uint16(buf[3]),
		Timestamp:   uint32(buf[4])<<24 | uint32(buf[5])<<16 | uint32(buf[6])<<8 | uint32(buf[7]),
		SSRC:        uint32(buf[8])<<24 | uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11]),
	}, nil
}

// runRTPIngest reads primary/repair RTP packets off conn and inserts
// them into ch until conn is closed.
func runRTPIngest(conn *net.UDPConn, pool *packet.Pool, ch *runtime.Channel, quiet bool) {
	buf := make([]byte, packet.MTU)
	var haveRef bool
	var ref uint32

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !quiet {
				log.Println(errors.Wrap(err, "rtp ingest"))
			}
			return
		}
		hdr, err := parseRTPHeader(buf[:n])
		if err != nil {
			continue
		}

		pak := packet.New(pool)
		copy(pak.Buf[:n], buf[:n])
		pak.Buf = pak.Buf[:n]
		pak.RTPHeader = hdr
		pak.RTPTs = hdr.Timestamp
		pak.RecvTime = time.Now()
		pak.Type = packet.Primary

		if !haveRef {
			ref = uint32(hdr.SeqNum)
			haveRef = true
		}
		pak.Seq = seqnum.Lift(hdr.SeqNum, ref)
		ref = pak.Seq

		ch.InsertPrimary([]*packet.Packet{pak}, false)
	}
}

// runFECIngest reads FEC packets off conn, parses the Pro-MPEG header,
// and hands them to ch's FEC buffer.
func runFECIngest(conn *net.UDPConn, pool *packet.Pool, ch *runtime.Channel, twoD, quiet bool) {
	buf := make([]byte, packet.MTU)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !quiet {
				log.Println(errors.Wrap(err, "fec ingest"))
			}
			return
		}
		if n < rtpHeaderSize+fec.HeaderSize {
			continue
		}

		rtpHdr, err := parseRTPHeader(buf[:n])
		if err != nil {
			continue
		}
		fecHdr, err := fec.ParseHeader(buf[rtpHeaderSize:n], twoD)
		if err != nil {
			continue
		}

		pak := packet.New(pool)
		copy(pak.Buf[:n], buf[:n])
		pak.Buf = pak.Buf[:n]
		pak.RTPHeader = rtpHdr
		pak.FECHeader = fecHdr
		pak.RTPTs = rtpHdr.Timestamp
		pak.RecvTime = time.Now()
		pak.Type = packet.FEC

		columnTriggered := !fecHdr.D
		if err := ch.InsertFEC(pak, columnTriggered); err != nil && !quiet {
			log.Println(errors.Wrap(err, "fec ingest insert"))
		}
	}
}
