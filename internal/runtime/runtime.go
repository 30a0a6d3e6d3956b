// Package runtime ties together one repair channel's packet cache,
// FEC buffer and output scheduler under an opaque handle, so callers
// never hold a direct pointer across goroutine/ownership boundaries
// (Design Notes §9: "give FEC a PcmHandle rather than a direct
// pointer"). Registry mints the handles with github.com/rs/xid instead
// of a global counter.
package runtime

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/xtaci/vqerepair/internal/fec"
	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/sched"
	"github.com/xtaci/vqerepair/internal/stats"
)

// Handle is an opaque, collision-free identifier for a Channel. It is
// safe to pass around and log; it carries no pointer.
type Handle string

// ErrUnknownHandle is returned by Registry lookups for a handle that
// was never created or has since been closed.
var ErrUnknownHandle = errors.New("runtime: unknown handle")

// fecInfoAdapter satisfies pcm.FECInfo over a fec.Buffer, translating
// fec.Order into the annexA bool pcm.Config.FEC expects, without pcm
// importing the fec package (spec §9, "Cyclic ownership").
type fecInfoAdapter struct {
	buf *fec.Buffer
}

func (a fecInfoAdapter) Triple() (l, d uint8, annexA, ok bool) {
	l, d, order, ok := a.buf.Triple()
	return l, d, order == fec.AnnexA, ok
}

// Channel bundles one stream's packet cache, FEC buffer and scheduler.
// FEC and PCM only ever interact through the fec.PCMView/pcm.FECInfo
// interfaces defined in their own packages; Channel is the one place
// that holds both concrete types side by side.
type Channel struct {
	Handle Handle
	Pool   *packet.Pool
	PCM    *pcm.PCM
	FEC    *fec.Buffer
	Sched  *sched.Scheduler

	rec *stats.Recorder
	mu  sync.Mutex
}

// Counters implements stats.Provider by reading the channel's live PCM
// and scheduler counters plus the attached Recorder's percentiles.
func (c *Channel) Counters() stats.CounterSnapshot {
	underrun, gap, loss := c.Sched.Counters()
	return stats.CounterSnapshot{
		PCM:                  c.PCM.Status(),
		SchedUnderrunCount:   underrun,
		SchedOutputGapCount:  gap,
		SchedOutputLossCount: loss,
		NLL:                  c.Sched.RecorderSnapshot(),
	}
}

// Label implements statslog.Snapshotter.
func (c *Channel) Label() string { return string(c.Handle) }

// Snapshot implements statslog.Snapshotter by flattening Counters into
// the tuple statslog expects, avoiding an import of internal/stats'
// CounterSnapshot type into that package's own Snapshotter contract.
func (c *Channel) Snapshot() (pcm.LossStatus, uint64, uint64, uint64, stats.Snapshot) {
	snap := c.Counters()
	return snap.PCM, snap.SchedUnderrunCount, snap.SchedOutputGapCount, snap.SchedOutputLossCount, snap.NLL
}

// InsertFEC feeds a parsed FEC packet into the channel's FEC buffer and
// runs the 2-D convergence loop, recovering as many packets as
// possible and inserting them back into PCM (spec §4.4).
func (c *Channel) InsertFEC(pak *packet.Packet, columnTriggered bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.FEC.Insert(pak); err != nil {
		return errors.Wrap(err, "runtime: insert fec packet")
	}
	l, d, _, ok := c.FEC.Triple()
	if !ok {
		return nil
	}
	fec.IterateTwoD(c.FEC, columnTriggered, func(fecPak *packet.Packet) bool {
		disp, recovered := fec.Decide(c.PCM, fecPak, l, d)

		recoveredOK := disp == fec.OK && recovered != nil && c.PCM.InsertRecovered(recovered) == nil

		if disp.Retire(fecPak.FECTouched) {
			if removed := c.FEC.Remove(fecPak.FECHeader, fecPak.FECHeader.SNBase); removed != nil {
				removed.Release()
			}
		}

		return recoveredOK
	})
	return nil
}

// InsertPrimary is the primary/repair RTP ingestion path: insert into
// PCM directly (spec §4.3).
func (c *Channel) InsertPrimary(paks []*packet.Packet, contig bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PCM.InsertPackets(paks, contig)
}

// Tick drives the channel's scheduler for one iteration.
func (c *Channel) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sched.Tick(now)
}

// Registry owns the set of live channels, keyed by xid-minted handles.
type Registry struct {
	mu       sync.RWMutex
	channels map[Handle]*Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[Handle]*Channel)}
}

// Open creates a new channel with freshly constructed PCM, FEC buffer
// and scheduler, wires the FECInfo adapter into pcmCfg, and registers
// it under a newly minted handle.
func (r *Registry) Open(pcmCfg pcm.Config, schedCfg sched.Config, pool *packet.Pool, bmSize, ringSize uint32, rccEnabled bool) (*Channel, error) {
	fecBuf := fec.NewBuffer(ringSize)
	pcmCfg.FEC = fecInfoAdapter{buf: fecBuf}

	p, err := pcm.New(pcmCfg, pool, bmSize, ringSize)
	if err != nil {
		return nil, errors.Wrap(err, "runtime: open channel")
	}
	s := sched.New(schedCfg, p, rccEnabled)

	rec := stats.NewRecorder()
	s.SetRecorder(rec)

	ch := &Channel{
		Handle: Handle(xid.New().String()),
		Pool:   pool,
		PCM:    p,
		FEC:    fecBuf,
		Sched:  s,
		rec:    rec,
	}

	r.mu.Lock()
	r.channels[ch.Handle] = ch
	r.mu.Unlock()
	return ch, nil
}

// Get looks up a channel by handle.
func (r *Registry) Get(h Handle) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return ch, nil
}

// Close removes a channel from the registry. It does not flush or
// otherwise touch the channel's PCM; callers that need a clean
// shutdown should call Channel.PCM.Flush first.
func (r *Registry) Close(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[h]; !ok {
		return ErrUnknownHandle
	}
	delete(r.channels, h)
	return nil
}

// Handles returns a snapshot of all currently open handles.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.channels))
	for h := range r.channels {
		out = append(out, h)
	}
	return out
}
