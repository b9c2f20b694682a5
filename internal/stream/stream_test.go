package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gnss-bridge/internal/sim"
)

// collector gathers published chunks.
type collector struct {
	mu     sync.Mutex
	chunks [][]byte
	notify chan struct{}
}

func newCollector(s *Stream) *collector {
	c := &collector{notify: make(chan struct{}, 1024)}
	s.NewBytes().Subscribe(func(b []byte) {
		c.mu.Lock()
		c.chunks = append(c.chunks, b)
		c.mu.Unlock()
		c.notify <- struct{}{}
	})
	return c
}

func (c *collector) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.chunks) >= n {
			out := append([][]byte(nil), c.chunks...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d chunks", n)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

func waitState(t *testing.T, s *Stream, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state=%q want %q", s.Snapshot().State, want)
}

// pipeSource hands out one pipe per open and keeps the writers.
type pipeSource struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	opened  chan struct{}
	err     error
}

func newPipeSource() *pipeSource { return &pipeSource{opened: make(chan struct{}, 16)} }

func (p *pipeSource) open(ctx context.Context) (io.ReadCloser, error) {
	if p.err != nil {
		return nil, p.err
	}
	pr, pw := io.Pipe()
	p.mu.Lock()
	p.writers = append(p.writers, pw)
	p.mu.Unlock()
	p.opened <- struct{}{}
	return pr, nil
}

func (p *pipeSource) writer(i int) *io.PipeWriter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers[i]
}

func TestStream_PublishesPrivateCopies(t *testing.T) {
	src := newPipeSource()
	s := New("test", "pipe", src.open, Options{})
	c := newCollector(s)

	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	defer s.Close()

	w := src.writer(0)
	_, _ = w.Write([]byte("$GPGGA"))
	_, _ = w.Write([]byte(",1*00\r\n"))

	got := c.wait(t, 2)
	if string(got[0]) != "$GPGGA" || string(got[1]) != ",1*00\r\n" {
		t.Fatalf("chunks=%q", got)
	}
	snap := s.Snapshot()
	if snap.State != StateReading || snap.Chunks != 2 || snap.Bytes != 13 || snap.LastSeenUTC == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestStream_StartTwiceIsNoop(t *testing.T) {
	src := newPipeSource()
	s := New("test", "", src.open, Options{})
	defer s.Close()

	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	if err := s.StartReading(); err != nil {
		t.Fatalf("second StartReading: %v", err)
	}
	if len(src.opened) != 1 {
		t.Fatalf("opened %d times", len(src.opened))
	}
}

func TestStream_OpenFailureIsReturned(t *testing.T) {
	src := newPipeSource()
	src.err = errors.New("no such device")
	s := New("test", "", src.open, Options{})

	err := s.StartReading()
	if err == nil || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("err=%v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateError || snap.LastError != "no such device" {
		t.Fatalf("snapshot=%+v", snap)
	}

	src.err = nil
	if err := s.StartReading(); err != nil {
		t.Fatalf("retry: %v", err)
	}
	_ = s.Close()
}

func TestStream_StopWhenIdleAndNoPublishAfterStop(t *testing.T) {
	src := newPipeSource()
	s := New("test", "", src.open, Options{})
	c := newCollector(s)

	s.StopReading()

	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	w := src.writer(0)
	_, _ = w.Write([]byte("a"))
	c.wait(t, 1)

	s.StopReading()
	if _, err := w.Write([]byte("b")); err == nil {
		t.Fatalf("write after stop reached a reader")
	}
	_ = s.Close()
	if c.count() != 1 {
		t.Fatalf("chunks after stop published: %d", c.count())
	}
	if s.Snapshot().State != StateStopped {
		t.Fatalf("state=%q", s.Snapshot().State)
	}
	if err := s.StartReading(); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close err=%v", err)
	}
}

func TestStream_EndOfStreamAllowsRestart(t *testing.T) {
	src := newPipeSource()
	s := New("test", "", src.open, Options{})
	defer s.Close()

	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	_ = src.writer(0).Close()
	waitState(t, s, StateStopped)

	if err := s.StartReading(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(src.opened) != 2 {
		t.Fatalf("opened %d times", len(src.opened))
	}
}

func TestStream_ReadErrorWithoutReconnect(t *testing.T) {
	src := newPipeSource()
	s := New("test", "", src.open, Options{})
	defer s.Close()

	_ = s.StartReading()
	_ = src.writer(0).CloseWithError(errors.New("device unplugged"))
	waitState(t, s, StateError)
	if s.Snapshot().LastError != "device unplugged" {
		t.Fatalf("last_error=%q", s.Snapshot().LastError)
	}
}

func TestStream_Reconnects(t *testing.T) {
	src := newPipeSource()
	s := New("test", "", src.open, Options{Reconnect: true, ReconnectDelay: time.Millisecond})
	c := newCollector(s)
	defer s.Close()

	_ = s.StartReading()
	_ = src.writer(0).CloseWithError(errors.New("connection reset"))

	select {
	case <-src.opened:
	case <-time.After(2 * time.Second):
	}
	select {
	case <-src.opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("no reconnect")
	}
	waitState(t, s, StateReading)
	_, _ = src.writer(1).Write([]byte("x"))
	if got := c.wait(t, 1); string(got[0]) != "x" {
		t.Fatalf("chunks=%q", got)
	}
}

func TestDetectSerialDevice(t *testing.T) {
	old := globFn
	defer func() { globFn = old }()

	globFn = func(pattern string) ([]string, error) {
		if pattern == "/dev/ttyUSB*" {
			return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil
		}
		return nil, nil
	}
	got, err := DetectSerialDevice()
	if err != nil || got != "/dev/ttyUSB0" {
		t.Fatalf("got=%q err=%v", got, err)
	}

	globFn = func(string) ([]string, error) { return nil, nil }
	if _, err := DetectSerialDevice(); err == nil {
		t.Fatalf("expected error with no devices")
	}
}

type fakeWake struct{ closed int }

func (f *fakeWake) Close() error { f.closed++; return nil }

func TestSerial_WakeupReleasedWithPort(t *testing.T) {
	oldSerial, oldWake := openSerialFn, openWakeupFn
	defer func() { openSerialFn, openWakeupFn = oldSerial, oldWake }()

	wake := &fakeWake{}
	var gotPath string
	var gotBaud int
	src := newPipeSource()
	openWakeupFn = func(pin int) (wakeupLine, error) { return wake, nil }
	openSerialFn = func(path string, baud int) (io.ReadCloser, error) {
		gotPath, gotBaud = path, baud
		return src.open(context.Background())
	}

	s := NewSerial(SerialConfig{Device: "/dev/ttyS9", WakeupGPIO: 17})
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	if gotPath != "/dev/ttyS9" || gotBaud != DefaultBaud {
		t.Fatalf("opened %q@%d", gotPath, gotBaud)
	}
	_ = s.Close()
	if wake.closed != 1 {
		t.Fatalf("wakeup closed %d times", wake.closed)
	}
	if s.Snapshot().Addr != "/dev/ttyS9@9600" {
		t.Fatalf("addr=%q", s.Snapshot().Addr)
	}
}

func TestSerial_OpenFailureReleasesWakeup(t *testing.T) {
	oldSerial, oldWake := openSerialFn, openWakeupFn
	defer func() { openSerialFn, openWakeupFn = oldSerial, oldWake }()

	wake := &fakeWake{}
	openWakeupFn = func(int) (wakeupLine, error) { return wake, nil }
	openSerialFn = func(string, int) (io.ReadCloser, error) { return nil, os.ErrNotExist }

	s := NewSerial(SerialConfig{Device: "/dev/ttyS9", WakeupGPIO: 17})
	if err := s.StartReading(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
	if wake.closed != 1 {
		t.Fatalf("wakeup closed %d times", wake.closed)
	}
}

func TestWriteGPSDWatch(t *testing.T) {
	var buf bytes.Buffer
	if err := writeGPSDWatch(&buf, ""); err != nil {
		t.Fatalf("writeGPSDWatch: %v", err)
	}
	if got := buf.String(); got != "?WATCH={\"enable\":true,\"raw\":1}\n" {
		t.Fatalf("got %q", got)
	}
	buf.Reset()
	_ = writeGPSDWatch(&buf, "/dev/ttyACM0")
	if !strings.Contains(buf.String(), `"device":"/dev/ttyACM0"`) {
		t.Fatalf("got %q", buf.String())
	}
}

func TestGPSD_SendsWatchAndReadsNMEA(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	watch := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("{\"class\":\"VERSION\"}\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		watch <- line
		_, _ = conn.Write([]byte("$GPGLL,4916.45,N,12311.12,W,225444,A*31\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	s := NewGPSD(GPSDConfig{Addr: ln.Addr().String()})
	c := newCollector(s)
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	defer s.Close()

	select {
	case line := <-watch:
		if !strings.HasPrefix(line, "?WATCH=") {
			t.Fatalf("watch=%q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no watch request")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var all []byte
		for _, ch := range c.wait(t, 1) {
			all = append(all, ch...)
		}
		if bytes.Contains(all, []byte("$GPGLL")) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nmea not received")
}

func TestTCP_RequiresAddr(t *testing.T) {
	if _, err := NewTCP(TCPConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTCP_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s, err := NewTCP(TCPConfig{Addr: addr})
	if err != nil {
		t.Fatalf("NewTCP: %v", err)
	}
	if err := s.StartReading(); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestReplayStream_PlaysCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.log")
	body := "START\n0,2447504747\n0,412c312a30300d0a\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewReplay(ReplayConfig{Path: path})
	c := newCollector(s)
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	defer s.Close()

	got := c.wait(t, 2)
	if string(got[0]) != "$GPGG" || string(got[1]) != "A,1*00\r\n" {
		t.Fatalf("chunks=%q", got)
	}
	waitState(t, s, StateStopped)
}

func TestReplayStream_MissingFile(t *testing.T) {
	s := NewReplay(ReplayConfig{Path: filepath.Join(t.TempDir(), "missing.log")})
	if err := s.StartReading(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
}

func TestSimStream_EmitsEpochs(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	s := NewSim(SimConfig{
		Receiver: sim.Receiver{CenterLatDeg: 48.1, CenterLonDeg: 11.5, Satellites: 4},
		Interval: time.Hour,
		Now:      func() time.Time { return fixed },
	})
	c := newCollector(s)
	if err := s.StartReading(); err != nil {
		t.Fatalf("StartReading: %v", err)
	}

	// GSA, one GSV, GGA, RMC.
	got := c.wait(t, 4)
	if !strings.HasPrefix(string(got[0]), "$GPGSA") || !strings.HasPrefix(string(got[3]), "$GPRMC") {
		t.Fatalf("chunks=%q", got)
	}
	_ = s.Close()
}
