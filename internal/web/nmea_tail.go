package web

import (
	"sync"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/timeutil"
)

type NmeaLine struct {
	TimeUTC  string `json:"time_utc"`
	Sentence string `json:"sentence"`
}

// NmeaTail keeps the last sentences received from the device.
type NmeaTail struct {
	mu       sync.Mutex
	maxLines int
	lines    []NmeaLine
	total    uint64
}

func NewNmeaTail(maxLines int) *NmeaTail {
	if maxLines <= 0 {
		maxLines = 500
	}
	return &NmeaTail{maxLines: maxLines, lines: make([]NmeaLine, 0, maxLines)}
}

// Attach records every NmeaReceived event on b.
func (t *NmeaTail) Attach(b *bus.Bus) bus.Handle {
	return b.Upstream.NmeaReceived.Subscribe(func(v bus.NmeaReceived) {
		t.Add(v.Timestamp, v.Message.String())
	})
}

func (t *NmeaTail) Add(ts int64, sentence string) {
	if t == nil {
		return
	}
	line := NmeaLine{TimeUTC: timeutil.Format(ts), Sentence: sentence}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	if len(t.lines) < t.maxLines {
		t.lines = append(t.lines, line)
		return
	}
	copy(t.lines, t.lines[1:])
	t.lines[len(t.lines)-1] = line
}

// Snapshot returns up to n of the newest sentences, oldest first.
func (t *NmeaTail) Snapshot(n int) ([]NmeaLine, uint64) {
	if t == nil {
		return nil, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.lines) {
		n = len(t.lines)
	}
	out := make([]NmeaLine, n)
	copy(out, t.lines[len(t.lines)-n:])
	return out, t.total
}
