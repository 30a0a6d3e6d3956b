package sink

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/smux"
)

// serveOneSession accepts a single connection on ln, negotiates an
// smux server session tuned like Dial's client side, and accepts one
// stream from it, handing both to done.
func serveOneSession(t *testing.T, ln net.Listener, compress bool, done chan<- *smux.Stream) {
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("Accept: %v", err)
		close(done)
		return
	}
	var transport net.Conn = conn
	if compress {
		transport = newCompStream(conn)
	}
	cfg := smux.DefaultConfig()
	session, err := smux.Server(transport, cfg)
	if err != nil {
		t.Errorf("smux.Server: %v", err)
		close(done)
		return
	}
	stream, err := session.AcceptStream()
	if err != nil {
		t.Errorf("AcceptStream: %v", err)
		close(done)
		return
	}
	done <- stream
}

func TestDialOpensStreamAndRespectsOptions(t *testing.T) {
	for _, compress := range []bool{false, true} {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		defer ln.Close()

		accepted := make(chan *smux.Stream, 1)
		go serveOneSession(t, ln, compress, accepted)

		opts := DialOptions{
			MaxReceiveBuffer: 4194304,
			MaxStreamBuffer:  2097152,
			MaxFrameSize:     32768,
			KeepAlive:        10 * time.Second,
			Compress:         compress,
			StripRTP:         true,
			RTPHeaderSize:    12,
		}
		s, err := Dial(ln.Addr().String(), opts)
		if err != nil {
			t.Fatalf("Dial(compress=%v): %v", compress, err)
		}
		if !s.StripRTPHeader() {
			t.Fatal("expected StripRTPHeader to carry through from DialOptions")
		}
		s.Close()

		select {
		case stream := <-accepted:
			if stream == nil {
				t.Fatal("server side failed to accept a stream")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for server to accept the stream")
		}
	}
}
