// Package packet defines the shared Packet type and the two structures
// that index it: a bounded byte-buffer pool (grounded on kcp-go's
// bufferPool) and pak_seq, the power-of-two sequence ring that both PCM
// and the FEC buffer use to hold packets by lifted sequence number.
package packet

import (
	"sync"

	"github.com/pkg/errors"
)

// MTU bounds the byte buffers the pool hands out; large enough for a
// full RTP packet plus FEC header over Ethernet.
const MTU = 1500

// ErrBufferSize is returned by Pool.Put when handed back a buffer that
// was not sized (by capacity) for this pool.
var ErrBufferSize = errors.New("packet: buffer size mismatch")

// Pool is a sync.Pool of fixed-capacity byte buffers, shared by the RTP
// receive path, the FEC recovery path, and any component that needs a
// scratch packet buffer without paying a per-packet allocation.
type Pool struct {
	size int
	bufs sync.Pool
}

// NewPool creates a Pool whose buffers have capacity size bytes.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.bufs.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get retrieves a buffer from the pool, truncated to zero length.
func (p *Pool) Get() []byte {
	buf := p.bufs.Get().([]byte)
	return buf[:0]
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf []byte) error {
	if cap(buf) != p.size {
		return ErrBufferSize
	}
	p.bufs.Put(buf[:cap(buf)])
	return nil
}
