package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gnss-bridge/internal/config"
	"gnss-bridge/internal/device"
	"gnss-bridge/internal/replay"
	"gnss-bridge/internal/web"
)

func simConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	// extra may continue the stream block, so it stays last.
	cfg, err := config.Parse([]byte(`
web:
  enable: false
stream:
  source: sim
  sim:
    center_lat_deg: 48.35
    center_lon_deg: 11.78
    interval: 20ms
` + extra))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func waitFix(t *testing.T, d *device.Device) device.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := d.Snapshot()
		if snap.LastFix != nil {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no fix published")
	return device.Snapshot{}
}

func TestBridge_SimAutostartEndToEnd(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	capture := filepath.Join(t.TempDir(), "capture.log")
	cfg := simConfig(t, `  record:
    enable: true
    path: `+capture+`
udp:
  dests: ["`+pc.LocalAddr().String()+`"]
geofence:
  initial:
    - {id: 9, lat_deg: 48.35, lon_deg: 11.78, radius_m: 500, transitions: [entered]}
autostart: true
`)
	if !cfg.Stream.Record.Enable {
		t.Fatalf("record not enabled: %+v", cfg.Stream.Record)
	}

	r, err := newBridge(cfg, nil)
	if err != nil {
		t.Fatalf("newBridge: %v", err)
	}
	if err := r.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := waitFix(t, r.device)
	if snap.State != "navigating" {
		t.Fatalf("state=%q", snap.State)
	}
	lat := snap.LastFix.Latitude()
	if lat < 48.3 || lat > 48.4 {
		t.Fatalf("lat=%f", lat)
	}

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("udp read: %v", err)
	}
	if !strings.HasPrefix(string(buf[:n]), "$GP") || !strings.HasSuffix(string(buf[:n]), "\r\n") {
		t.Fatalf("datagram=%q", buf[:n])
	}

	if list := r.geofences.List(); len(list) != 1 || list[0].Definition.ID != 9 {
		t.Fatalf("geofences=%+v", list)
	}
	if ps := r.host.Snapshot(); !ps.WakelockHeld || ps.Capabilities != cfg.Device.CapabilityMask() {
		t.Fatalf("platform=%+v", ps)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.device.State() != device.Idle {
		t.Fatalf("device still navigating after Close")
	}
	if ps := r.host.Snapshot(); ps.WakelockHeld {
		t.Fatalf("wakelock still held")
	}

	recs, err := replay.ReadFile(capture)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var chunks int
	for _, rec := range recs {
		if len(rec.Chunk) > 0 {
			chunks++
		}
	}
	if chunks == 0 {
		t.Fatalf("capture has no chunks")
	}
}

func TestBridge_HandlerServesStatusAndControl(t *testing.T) {
	r, err := newBridge(simConfig(t, ""), nil)
	if err != nil {
		t.Fatalf("newBridge: %v", err)
	}
	defer r.Close()
	if err := r.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ts := httptest.NewServer(r.handler(web.NewLogBuffer(10)))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/navigation/start", "", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status=%d", resp.StatusCode)
	}
	waitFix(t, r.device)

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var snap web.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Device == nil || snap.Device.State != "navigating" {
		t.Fatalf("device=%+v", snap.Device)
	}
	if snap.Stream == nil || snap.Stream.Name != "sim" || snap.Stream.Chunks == 0 {
		t.Fatalf("stream=%+v", snap.Stream)
	}
	if snap.Decoder == nil || snap.Decoder.Sentences == 0 {
		t.Fatalf("decoder=%+v", snap.Decoder)
	}
	if snap.Platform == nil || snap.Platform.Status != "session_begin" {
		t.Fatalf("platform=%+v", snap.Platform)
	}

	resp2, err := http.Get(ts.URL + "/api/config")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("config status=%d", resp2.StatusCode)
	}
}

func TestBuildStream(t *testing.T) {
	if _, err := buildStream(config.StreamConfig{Source: config.SourceTCP}, nil); err == nil {
		t.Fatalf("expected error for tcp without addr")
	}
	if _, err := buildStream(config.StreamConfig{Source: "morse"}, nil); err == nil {
		t.Fatalf("expected error for unknown source")
	}

	cases := []struct {
		cfg  config.StreamConfig
		name string
	}{
		{config.StreamConfig{Source: config.SourceSerial, Serial: config.SerialConfig{Device: "/dev/ttyACM0", Baud: 9600}}, "serial"},
		{config.StreamConfig{Source: config.SourceTCP, TCP: config.TCPConfig{Addr: "127.0.0.1:10110"}}, "tcp"},
		{config.StreamConfig{Source: config.SourceGPSD, GPSD: config.GPSDConfig{Addr: "127.0.0.1:2947"}}, "gpsd"},
		{config.StreamConfig{Source: config.SourceReplay, Replay: config.ReplayConfig{Path: "x.log"}}, "replay"},
		{config.StreamConfig{Source: config.SourceSim}, "sim"},
	}
	for _, tc := range cases {
		s, err := buildStream(tc.cfg, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if s.Name() != tc.name {
			t.Fatalf("name=%q want %q", s.Name(), tc.name)
		}
	}
}

func TestBridge_AutostartFailureKeepsRunning(t *testing.T) {
	cfg, err := config.Parse([]byte(`
stream:
  source: replay
  replay:
    path: ` + filepath.Join(t.TempDir(), "missing.log") + `
autostart: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	r, err := newBridge(cfg, nil)
	if err != nil {
		t.Fatalf("newBridge: %v", err)
	}
	defer r.Close()
	if err := r.start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if r.device.State() != device.Idle {
		t.Fatalf("device navigating with a missing capture")
	}
	if ps := r.host.Snapshot(); ps.WakelockHeld {
		t.Fatalf("wakelock held after failed start")
	}
}
