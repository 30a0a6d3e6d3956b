package sched

import "github.com/xtaci/vqerepair/internal/packet"

// Sink is the capability a downstream stream exposes to the scheduler
// (spec §9 "Dynamic dispatch": "a small vector of handles conforming to
// a single Sink capability"). internal/sink provides an smux-backed
// implementation; tests use a trivial in-memory one.
type Sink interface {
	// Receive is called once per released packet, pred_ts already
	// elapsed. The sink does not take ownership of pak past the call.
	Receive(pak *packet.Packet) error
	// StripRTPHeader reports whether this sink wants the RTP header
	// stripped before the payload is written (spec §6, "optionally
	// stripping RTP headers per-stream").
	StripRTPHeader() bool
}
