// Package sink implements the sched.Sink capability over an smux
// session, per Design Notes §9 ("Dynamic dispatch... a small vector of
// handles conforming to a single Sink capability"). Each attached
// downstream consumer (a local decoder, a recording pipe) gets its own
// smux.Stream multiplexed over one transport connection out of the
// repair core, the same way kcptun fans a single smux.Session out to
// per-connection streams.
package sink

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"

	"github.com/xtaci/vqerepair/internal/packet"
)

// StreamSink writes each released packet to one smux stream, optionally
// stripping the RTP header first (spec §6, "optionally stripping RTP
// headers per-stream").
type StreamSink struct {
	stream     *smux.Stream
	stripRTP   bool
	headerSize int
}

// New wraps an already-opened smux stream. headerSize is the number of
// leading bytes of Buf that make up the RTP header, used only when
// stripRTP is set.
func New(stream *smux.Stream, stripRTP bool, headerSize int) *StreamSink {
	return &StreamSink{stream: stream, stripRTP: stripRTP, headerSize: headerSize}
}

// StripRTPHeader reports this sink's configured framing mode.
func (s *StreamSink) StripRTPHeader() bool { return s.stripRTP }

// Receive writes pak to the stream as a length-prefixed frame: a
// uint32 big-endian length followed by the (possibly RTP-header
// stripped) payload. The length prefix lets a decoder on the other end
// of the smux stream recover packet boundaries, since smux.Stream is a
// plain byte stream.
func (s *StreamSink) Receive(pak *packet.Packet) error {
	payload := pak.Buf
	if s.stripRTP && len(payload) >= s.headerSize {
		payload = payload[s.headerSize:]
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := s.stream.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "sink: write frame length")
	}
	if _, err := s.stream.Write(payload); err != nil {
		return errors.Wrap(err, "sink: write frame payload")
	}
	return nil
}

// Close closes the underlying stream.
func (s *StreamSink) Close() error { return s.stream.Close() }
