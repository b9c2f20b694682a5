package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"gnss-bridge/internal/decoder"
	"gnss-bridge/internal/device"
	"gnss-bridge/internal/platform"
	"gnss-bridge/internal/stream"
)

type DeviceSource interface {
	Snapshot() device.Snapshot
}

type StreamSource interface {
	Snapshot() stream.Snapshot
}

type DecoderSource interface {
	Stats() decoder.Stats
}

type PlatformSource interface {
	Snapshot() platform.Snapshot
}

// Status assembles /api/status from the running components. Any source may
// be nil.
type Status struct {
	Device   DeviceSource
	Stream   StreamSource
	Decoder  DecoderSource
	Platform PlatformSource

	startUnixNano int64
	outputs       atomic.Value // map[string]any
}

func NewStatus() *Status {
	s := &Status{startUnixNano: time.Now().UnixNano()}
	s.outputs.Store(map[string]any{})
	return s
}

// SetOutputs records static information about the enabled outputs
// (UDP destinations, MQTT broker) for display.
func (s *Status) SetOutputs(outputs map[string]any) {
	if outputs == nil {
		outputs = map[string]any{}
	}
	s.outputs.Store(outputs)
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

type HostSnapshot struct {
	LocalAddrs     []string `json:"local_addrs,omitempty"`
	RootAvailBytes uint64   `json:"root_avail_bytes,omitempty"`
}

type StatusSnapshot struct {
	Service   string             `json:"service"`
	NowUTC    string             `json:"now_utc"`
	UptimeSec int64              `json:"uptime_sec"`
	Build     BuildInfo          `json:"build"`
	Host      HostSnapshot       `json:"host"`
	Device    *device.Snapshot   `json:"device,omitempty"`
	Stream    *stream.Snapshot   `json:"stream,omitempty"`
	Decoder   *decoder.Stats     `json:"decoder,omitempty"`
	Platform  *platform.Snapshot `json:"platform,omitempty"`
	Outputs   map[string]any     `json:"outputs"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, s.startUnixNano)
	snap := StatusSnapshot{
		Service:   "gnss-bridge",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Build:     buildInfo(),
		Host:      snapshotHost(),
		Outputs:   s.outputs.Load().(map[string]any),
	}
	if s.Device != nil {
		v := s.Device.Snapshot()
		snap.Device = &v
	}
	if s.Stream != nil {
		v := s.Stream.Snapshot()
		snap.Stream = &v
	}
	if s.Decoder != nil {
		v := s.Decoder.Stats()
		snap.Decoder = &v
	}
	if s.Platform != nil {
		v := s.Platform.Snapshot()
		snap.Platform = &v
	}
	return snap
}

func buildInfo() BuildInfo {
	out := BuildInfo{
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}
