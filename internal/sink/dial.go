package sink

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// DialOptions configures the smux session and optional compression
// Dial negotiates for one outbound sink connection (cmd/repaird's
// "-sink"/"-sinkcomp" flags).
type DialOptions struct {
	MaxReceiveBuffer int
	MaxStreamBuffer  int
	MaxFrameSize     int
	KeepAlive        time.Duration
	Compress         bool
	StripRTP         bool
	RTPHeaderSize    int
}

// Dial opens a TCP connection to addr, optionally wraps it in snappy
// compression, negotiates one smux session over it, opens a single
// stream, and returns a StreamSink ready to receive released packets.
func Dial(addr string, opts DialOptions) (*StreamSink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "sink: dial")
	}

	var transport net.Conn = conn
	if opts.Compress {
		transport = newCompStream(conn)
	}

	cfg := smux.DefaultConfig()
	cfg.MaxReceiveBuffer = opts.MaxReceiveBuffer
	cfg.MaxStreamBuffer = opts.MaxStreamBuffer
	cfg.MaxFrameSize = opts.MaxFrameSize
	cfg.KeepAliveInterval = opts.KeepAlive
	if err := smux.VerifyConfig(cfg); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "sink: smux config")
	}

	session, err := smux.Client(transport, cfg)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "sink: smux client")
	}
	stream, err := session.OpenStream()
	if err != nil {
		session.Close()
		return nil, errors.Wrap(err, "sink: open stream")
	}
	return New(stream, opts.StripRTP, opts.RTPHeaderSize), nil
}
