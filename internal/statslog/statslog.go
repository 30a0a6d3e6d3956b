// Package statslog periodically dumps a get_status-style snapshot to
// disk for diagnostics, the same role std.SnmpLogger fills for the
// teacher's KCP counters: a ticker wakes up, formats one record, and
// appends it to a file. Here the record is a nested struct (TR-135
// blocks, scheduler counters, NLL percentiles) rather than a flat CSV
// row, so it's newline-delimited JSON, snappy-framed to keep a
// long-running log compact.
package statslog

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/stats"
)

// Record is one periodic snapshot of a channel's counters.
type Record struct {
	UnixSeconds int64 `json:"t"`
	Channel     string `json:"channel"`

	PCM pcm.LossStatus `json:"pcm"`

	SchedUnderrunCount   uint64 `json:"sched_underrun"`
	SchedOutputGapCount  uint64 `json:"sched_output_gap"`
	SchedOutputLossCount uint64 `json:"sched_output_loss"`

	NLL stats.Snapshot `json:"nll"`
}

// Snapshotter is implemented by anything that can produce a Record for
// one channel at call time; internal/runtime.Channel plus the current
// unix time satisfy it via the adapter in NewLogger's caller.
type Snapshotter interface {
	Label() string
	Snapshot() (pcm.LossStatus, uint64, uint64, uint64, stats.Snapshot)
}

// Logger appends snappy-framed newline-delimited JSON records to path
// every interval, until Stop is called.
type Logger struct {
	path     string
	interval time.Duration
	source   Snapshotter

	stop chan struct{}
	done chan struct{}
}

// NewLogger creates a logger that has not yet started; call Run in a
// goroutine. path=="" or interval==0 makes Run a no-op, mirroring
// std.SnmpLogger's own disable convention.
func NewLogger(path string, interval time.Duration, source Snapshotter) *Logger {
	return &Logger{
		path:     path,
		interval: interval,
		source:   source,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, writing one record every interval until Stop is called.
// Call it in its own goroutine.
func (l *Logger) Run(now func() time.Time) {
	defer close(l.done)
	if l.path == "" || l.interval == 0 {
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.writeOne(now()); err != nil {
				log.Println(errors.Wrap(err, "statslog"))
			}
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (l *Logger) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Logger) writeOne(now time.Time) error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return errors.Wrap(err, "open statslog file")
	}
	defer f.Close()

	pcmStatus, underrun, gap, loss, nll := l.source.Snapshot()
	rec := Record{
		UnixSeconds:          now.Unix(),
		Channel:              l.source.Label(),
		PCM:                  pcmStatus,
		SchedUnderrunCount:   underrun,
		SchedOutputGapCount:  gap,
		SchedOutputLossCount: loss,
		NLL:                  nll,
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal statslog record")
	}
	body = append(body, '\n')

	w := snappy.NewBufferedWriter(f)
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "write statslog record")
	}
	return errors.Wrap(w.Close(), "flush statslog record")
}
