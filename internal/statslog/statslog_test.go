package statslog

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/golang/snappy"

	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/stats"
)

type fakeSource struct{}

func (fakeSource) Label() string { return "test-channel" }
func (fakeSource) Snapshot() (pcm.LossStatus, uint64, uint64, uint64, stats.Snapshot) {
	return pcm.LossStatus{OverrunCount: 3}, 1, 2, 3, stats.Snapshot{}
}

func TestDisabledLoggerRunReturnsImmediately(t *testing.T) {
	l := NewLogger("", 0, fakeSource{})
	done := make(chan struct{})
	go func() {
		l.Run(time.Now)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled logger's Run did not return promptly")
	}
}

func TestWriteOneProducesDecodableRecord(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "statslog-*.snappy")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()

	l := NewLogger(path, time.Hour, fakeSource{})
	now := time.Unix(1700000000, 0)
	if err := l.writeOne(now); err != nil {
		t.Fatalf("writeOne: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	decompressed, err := io.ReadAll(snappy.NewReader(bytes.NewReader(raw)))
	if err != nil {
		t.Fatalf("snappy decode: %v", err)
	}

	var rec Record
	if err := json.Unmarshal(bytes.TrimRight(decompressed, "\n"), &rec); err != nil {
		t.Fatalf("json unmarshal: %v\nraw=%q", err, decompressed)
	}
	if rec.Channel != "test-channel" || rec.UnixSeconds != now.Unix() || rec.PCM.OverrunCount != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
