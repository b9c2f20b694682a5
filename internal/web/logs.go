package web

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gnss-bridge/internal/logging"
)

// LogBuffer keeps the most recent log lines for /api/logs. It is an
// io.Writer so it can be teed next to stderr.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write implements io.Writer. An unterminated tail is held until the next
// write completes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLineLocked(string(data[:i]))
		data = data[i+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines at or above minLevel.
func (b *LogBuffer) Snapshot(tail int, minLevel slog.Level) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = 200
	}
	for i := len(b.lines) - 1; i >= 0 && len(lines) < tail; i-- {
		if lineLevel(b.lines[i]) >= minLevel {
			lines = append(lines, b.lines[i])
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, b.dropped
}

// lineLevel reads the level= attribute written by the text handler. Lines
// without one count as INFO.
func lineLevel(line string) slog.Level {
	i := strings.Index(line, "level=")
	if i < 0 {
		return slog.LevelInfo
	}
	v := line[i+len("level="):]
	if j := strings.IndexByte(v, ' '); j >= 0 {
		v = v[:j]
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		tail := 200
		if s := strings.TrimSpace(q.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		minLevel := slog.LevelDebug
		if s := strings.TrimSpace(q.Get("level")); s != "" {
			lvl, err := logging.ParseLevel(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			minLevel = lvl
		}

		lines, dropped := b.Snapshot(tail, minLevel)
		if lines == nil {
			lines = []string{}
		}

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = w.Write([]byte(line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}

		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Lines:   lines,
		})
	})
}
