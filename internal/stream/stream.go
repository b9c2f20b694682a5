// Package stream provides byte sources for the decoder. Every source shares
// one reader loop: open a transport, read chunks, publish a private copy of
// each chunk on NewBytes, and (optionally) reconnect when the transport drops.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
)

const (
	StateStopped    = "stopped"
	StateConnecting = "connecting"
	StateReading    = "reading"
	StateError      = "error"
)

const (
	defaultReadSize       = 4096
	defaultReconnectDelay = time.Second
)

// OpenFunc opens the transport. The returned reader is closed by the stream
// when reading stops or the transport fails.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

type Options struct {
	// ReadSize bounds one chunk.
	ReadSize int
	// Reconnect reopens the transport after a read error instead of
	// stopping. The first open is always synchronous.
	Reconnect      bool
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

// Stream is a started/stopped byte source.
type Stream struct {
	name  string
	addr  string
	open  OpenFunc
	opts  Options
	log   *slog.Logger
	bytes *bus.Channel[[]byte]

	// pubMu orders publishing against StopReading: once StopReading returns,
	// no chunk is published until the next StartReading.
	pubMu  sync.Mutex
	active uint64 // generation allowed to publish; 0 when stopped

	mu      sync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	rc      io.ReadCloser
	wg      sync.WaitGroup
	closed  bool
	state   string
	lastErr string
	seen    time.Time

	chunks atomic.Uint64
	total  atomic.Uint64
}

type Snapshot struct {
	Name        string `json:"name"`
	Addr        string `json:"addr,omitempty"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Chunks      uint64 `json:"chunks"`
	Bytes       uint64 `json:"bytes"`
}

var ErrClosed = errors.New("stream: closed")

// New builds a stream around open. addr is informational (status output).
func New(name, addr string, open OpenFunc, opts Options) *Stream {
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Stream{
		name:  name,
		addr:  addr,
		open:  open,
		opts:  opts,
		log:   opts.Logger.With("component", "stream", "stream", name),
		bytes: bus.NewChannel[[]byte]("stream." + name + ".bytes"),
		state: StateStopped,
	}
}

func (s *Stream) Name() string { return s.name }

// NewBytes carries every chunk read while the stream is started.
func (s *Stream) NewBytes() *bus.Channel[[]byte] { return s.bytes }

// StartReading opens the transport and spawns the reader. It is a no-op
// when already reading.
func (s *Stream) StartReading() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return nil
	}
	if s.open == nil {
		return fmt.Errorf("stream %s: no transport", s.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateConnecting
	rc, err := s.open(ctx)
	if err != nil {
		cancel()
		s.state = StateError
		s.lastErr = err.Error()
		metrics.IncStreamError(s.name)
		return fmt.Errorf("stream %s: open: %w", s.name, err)
	}

	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.rc = rc
	s.state = StateReading
	s.lastErr = ""

	s.pubMu.Lock()
	s.active = gen
	s.pubMu.Unlock()

	s.log.Info("reading started", "addr", s.addr)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, gen, rc)
	}()
	return nil
}

// StopReading cancels the reader and closes the transport. It does not
// wait for the reader goroutine; see Close.
func (s *Stream) StopReading() {
	s.pubMu.Lock()
	s.active = 0
	s.pubMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	if s.rc != nil {
		_ = s.rc.Close()
		s.rc = nil
	}
	s.state = StateStopped
	s.log.Info("reading stopped")
}

// Close stops reading and waits for the reader goroutine to exit.
func (s *Stream) Close() error {
	s.StopReading()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	out := Snapshot{
		Name:      s.name,
		Addr:      s.addr,
		State:     s.state,
		LastError: s.lastErr,
	}
	seen := s.seen
	s.mu.Unlock()
	out.Chunks = s.chunks.Load()
	out.Bytes = s.total.Load()
	if !seen.IsZero() {
		out.LastSeenUTC = seen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (s *Stream) run(ctx context.Context, gen uint64, rc io.ReadCloser) {
	buf := make([]byte, s.opts.ReadSize)
	for {
		err := s.readUntilError(gen, rc, buf)
		_ = rc.Close()

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) && !s.opts.Reconnect {
			s.log.Info("end of stream")
			s.finish(gen, StateStopped, "")
			return
		}
		metrics.IncStreamError(s.name)
		s.log.Warn("read failed", logging.Err(err))
		if !s.opts.Reconnect {
			s.finish(gen, StateError, err.Error())
			return
		}

		s.setState(gen, StateConnecting, err.Error())
		next, ok := s.reopen(ctx, gen)
		if !ok {
			return
		}
		rc = next
	}
}

func (s *Stream) readUntilError(gen uint64, rc io.Reader, buf []byte) error {
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			s.publish(gen, buf[:n])
		}
		if err != nil {
			return err
		}
	}
}

func (s *Stream) publish(gen uint64, b []byte) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.active != gen {
		return
	}
	chunk := append([]byte(nil), b...)
	s.chunks.Add(1)
	s.total.Add(uint64(len(chunk)))
	metrics.AddStreamBytes(s.name, len(chunk))

	s.mu.Lock()
	s.seen = time.Now()
	s.mu.Unlock()

	s.bytes.Publish(chunk)
}

// reopen retries open until it succeeds or ctx is cancelled.
func (s *Stream) reopen(ctx context.Context, gen uint64) (io.ReadCloser, bool) {
	for {
		if !sleepCtx(ctx, s.opts.ReconnectDelay) {
			return nil, false
		}
		rc, err := s.open(ctx)
		if err != nil {
			metrics.IncStreamError(s.name)
			s.setState(gen, StateError, err.Error())
			continue
		}

		s.mu.Lock()
		if s.gen != gen || s.cancel == nil {
			s.mu.Unlock()
			_ = rc.Close()
			return nil, false
		}
		s.rc = rc
		s.state = StateReading
		s.lastErr = ""
		s.mu.Unlock()
		s.log.Info("reconnected", "addr", s.addr)
		return rc, true
	}
}

// setState records state for the current generation only; a stale reader
// must not overwrite the status of a newer session.
func (s *Stream) setState(gen uint64, state, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.cancel == nil {
		return
	}
	s.state = state
	if lastErr != "" {
		s.lastErr = lastErr
	}
}

// finish ends a session that stopped on its own, so that a later
// StartReading opens the transport again.
func (s *Stream) finish(gen uint64, state, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.rc = nil
	s.state = state
	s.lastErr = lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
