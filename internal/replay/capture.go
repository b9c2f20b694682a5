// Package replay records raw receiver bytes and plays them back with their
// original timing.
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gnss-bridge/internal/bus"
)

// Capture format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<hex>
//   where t_ns is nanoseconds since START and hex is one chunk exactly as
//   the stream delivered it.

type Record struct {
	At    time.Duration
	Chunk []byte
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFile loads a whole capture.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}

		tsStr, hexStr, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: missing comma: %q", lineNo, line)
		}
		tsStr = strings.TrimSpace(tsStr)
		hexStr = strings.ReplaceAll(strings.TrimSpace(hexStr), " ", "")
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("line %d: empty field: %q", lineNo, line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: negative timestamp %d", lineNo, tsNs)
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("line %d: payload: %w", lineNo, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("line %d: empty payload", lineNo)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Chunk: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Writer appends chunks to a capture. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	c      io.Closer
	w      *bufio.Writer
	start  time.Time
	now    func() time.Time
	closed bool
	err    error
	sub    bus.Handle
}

// CreateWriter truncates path and writes a START marker.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriter starts a capture on w. If w is an io.Closer it is closed by Close.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, err
	}
	out := &Writer{w: bw, start: time.Now(), now: time.Now}
	if c, ok := w.(io.Closer); ok {
		out.c = c
	}
	return out, nil
}

func (ww *Writer) WriteChunk(now time.Time, chunk []byte) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if len(chunk) == 0 {
		return nil
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(chunk))
	return err
}

// Record captures every chunk published on ch until Close. The first write
// error is kept and returned by Close.
func (ww *Writer) Record(ch *bus.Channel[[]byte]) {
	ww.mu.Lock()
	ww.sub.Unsubscribe()
	ww.mu.Unlock()

	h := ch.Subscribe(func(chunk []byte) {
		if err := ww.WriteChunk(ww.now(), chunk); err != nil {
			ww.mu.Lock()
			if ww.err == nil && !ww.closed {
				ww.err = err
			}
			ww.mu.Unlock()
		}
	})

	ww.mu.Lock()
	ww.sub = h
	ww.mu.Unlock()
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	sub := ww.sub
	ww.sub = bus.Handle{}
	ww.mu.Unlock()
	sub.Unsubscribe()

	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.err
	if ferr := ww.w.Flush(); err == nil {
		err = ferr
	}
	if ww.c != nil {
		if cerr := ww.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Sleeper waits between records. It returns ctx.Err() when cancelled.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play replays records with their relative timing, calling cb for every
// chunk. START markers reset the origin.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(ctx context.Context, records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(chunk []byte) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if !hasChunks(records) {
		return errors.New("no records")
	}

	for {
		var origin, lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.Chunk == nil {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}

			if err := cb(r.Chunk); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

func hasChunks(records []Record) bool {
	for _, r := range records {
		if r.Chunk != nil {
			return true
		}
	}
	return false
}
