// Package device is the navigation orchestrator: it wires a byte stream to a
// decoder, owns the in-progress fix and answers start/stop requests from the
// bus.
package device

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/model"
	"gnss-bridge/internal/timeutil"
)

// Result codes returned on the start/stop status channels.
const (
	CodeOK                = 0
	CodeNotWired          = 1
	CodeAlreadyNavigating = 2
	CodeStreamFailed      = 3
	CodeInvalidArgument   = 4
)

var (
	ErrNotWired = errors.New("device: stream or decoder not set")
	ErrBusy     = errors.New("device: cannot rewire while navigating")
	ErrAttached = errors.New("device: already attached to bus")
)

// Stream is the byte source the device borrows.
type Stream interface {
	StartReading() error
	StopReading()
	NewBytes() *bus.Channel[[]byte]
}

// Decoder is the byte sink the device borrows.
type Decoder interface {
	OnNewBytes(buf []byte)
	Start()
	Stop()
}

type State int32

const (
	Idle State = iota
	Navigating
)

func (s State) String() string {
	if s == Navigating {
		return "navigating"
	}
	return "idle"
}

type Config struct {
	// EpochSentences lists sentence types that close an epoch as soon as
	// they are handled; the first to arrive wins. When empty the closing
	// type is learned from the receiver's output, and until then an epoch
	// closes when the next one's time arrives.
	EpochSentences []string

	Capabilities   uint32
	YearOfHardware uint16

	Clock  *timeutil.Clock
	Logger *slog.Logger
}

type Device struct {
	bus   *bus.Bus
	cfg   Config
	log   *slog.Logger
	clock *timeutil.Clock
	epoch map[string]bool // configured closing sentence types

	// lifeMu serialises wiring and Start/Stop. Handlers of the wakelock and
	// UTC-request channels run under it and must not call Start or Stop.
	lifeMu   sync.Mutex
	state    atomic.Int32
	stream   Stream
	decoder  Decoder
	wired    bool
	bytesSub bus.Handle
	hostSubs []bus.Handle
	started  time.Time

	fixMu         sync.Mutex
	fix           model.Location
	fixTimestamp  int64
	ep            epochState
	lastPublished model.Location
	havePublished bool
	sats          satelliteState
	posMode       *bus.SetPositionMode
	injectedLoc   *bus.InjectLocation

	published  atomic.Uint64
	suppressed atomic.Uint64
	nmeaCount  atomic.Uint64
	satUpdates atomic.Uint64
}

// New builds an idle, unwired device. Call Wire (or SetStream and
// SetDecoder) and Attach before use.
func New(b *bus.Bus, cfg Config) *Device {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	epoch := make(map[string]bool, len(cfg.EpochSentences))
	for _, t := range cfg.EpochSentences {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			epoch[t] = true
		}
	}
	d := &Device{
		bus:   b,
		cfg:   cfg,
		log:   cfg.Logger.With("component", "device"),
		clock: cfg.Clock,
		epoch: epoch,
	}
	d.fix = model.NewLocation(d.clock.Now())
	d.sats.reset()
	return d
}

// Attach subscribes the device to the navigation control channels.
func (d *Device) Attach() error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if len(d.hostSubs) > 0 {
		return ErrAttached
	}
	g := d.bus.GPS
	d.hostSubs = []bus.Handle{
		g.Init.Subscribe(func(bus.Empty) { d.Init() }),
		g.Start.Subscribe(func(bus.Empty) int { return d.Start() }),
		g.Stop.Subscribe(func(bus.Empty) int { return d.Stop() }),
		g.Cleanup.Subscribe(func(bus.Empty) { d.Cleanup() }),
		g.InjectTime.Subscribe(d.onInjectTime),
		g.InjectLocation.Subscribe(d.onInjectLocation),
		g.DeleteAidingData.Subscribe(d.onDeleteAidingData),
		g.SetPositionMode.Subscribe(d.onSetPositionMode),
	}
	return nil
}

// Detach removes the control subscriptions and the stream routing.
func (d *Device) Detach() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	for _, h := range d.hostSubs {
		h.Unsubscribe()
	}
	d.hostSubs = nil
	d.bytesSub.Unsubscribe()
	d.bytesSub = bus.Handle{}
	d.wired = false
}

// SetStream replaces the borrowed stream and reconnects if a decoder is set.
func (d *Device) SetStream(s Stream) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if s == nil {
		d.log.Warn("setting stream to nil")
	}
	if d.State() == Navigating {
		return ErrBusy
	}
	d.stream = s
	return d.connectLocked()
}

// SetDecoder replaces the borrowed decoder and reconnects if a stream is set.
func (d *Device) SetDecoder(dec Decoder) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if dec == nil {
		d.log.Warn("setting decoder to nil")
	}
	if d.State() == Navigating {
		return ErrBusy
	}
	d.decoder = dec
	return d.connectLocked()
}

// Wire sets both collaborators and routes the stream's bytes into the
// decoder. The route survives any number of start/stop cycles.
func (d *Device) Wire(s Stream, dec Decoder) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.State() == Navigating {
		return ErrBusy
	}
	d.stream, d.decoder = s, dec
	return d.connectLocked()
}

func (d *Device) connectLocked() error {
	d.bytesSub.Unsubscribe()
	d.bytesSub = bus.Handle{}
	d.wired = false

	if d.stream == nil {
		d.log.Error("stream isn't set, won't connect")
		return ErrNotWired
	}
	if d.decoder == nil {
		d.log.Error("decoder isn't set, won't connect")
		return ErrNotWired
	}
	d.bytesSub = d.stream.NewBytes().Subscribe(d.decoder.OnNewBytes)
	d.wired = true
	return nil
}

func (d *Device) State() State { return State(d.state.Load()) }

// Start moves Idle -> Navigating: acquire the wakelock, request UTC time,
// start the decoder, then start the stream.
func (d *Device) Start() int {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	code := d.startLocked()
	metrics.IncControlCall("start", code)
	return code
}

func (d *Device) startLocked() int {
	if d.State() == Navigating {
		d.log.Warn("start ignored, already navigating")
		return CodeAlreadyNavigating
	}
	if !d.wired || d.stream == nil || d.decoder == nil {
		d.log.Error("start refused, stream and decoder are not wired")
		return CodeNotWired
	}

	d.log.Info("start navigation")
	d.resetSession()

	up := d.bus.Upstream
	up.AcquireWakelock.Publish(bus.Empty{})
	up.RequestUtcTime.Publish(bus.Empty{})
	d.decoder.Start()
	if err := d.stream.StartReading(); err != nil {
		d.log.Error("stream failed to start", logging.Err(err))
		d.decoder.Stop()
		up.ReleaseWakelock.Publish(bus.Empty{})
		return CodeStreamFailed
	}

	d.started = time.Now()
	d.state.Store(int32(Navigating))
	metrics.SetNavigating(true)
	up.StatusUpdate.Publish(bus.StatusUpdate{Status: bus.StatusSessionBegin})
	return CodeOK
}

// Stop moves Navigating -> Idle: stop the stream, stop the decoder, release
// the wakelock. Stopping while idle is a successful no-op.
func (d *Device) Stop() int {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	code := d.stopLocked()
	metrics.IncControlCall("stop", code)
	return code
}

func (d *Device) stopLocked() int {
	if d.State() != Navigating {
		return CodeOK
	}
	d.log.Info("stop navigation")

	d.stream.StopReading()
	d.decoder.Stop()
	d.bus.Upstream.ReleaseWakelock.Publish(bus.Empty{})

	d.state.Store(int32(Idle))
	metrics.SetNavigating(false)
	d.bus.Upstream.StatusUpdate.Publish(bus.StatusUpdate{Status: bus.StatusSessionEnd})
	return CodeOK
}

// Init announces the engine to the host.
func (d *Device) Init() {
	up := d.bus.Upstream
	up.Capabilities.Publish(bus.Capabilities{Mask: d.cfg.Capabilities})
	up.SystemInfo.Publish(bus.SystemInfo{YearOfHardware: d.cfg.YearOfHardware})
	up.StatusUpdate.Publish(bus.StatusUpdate{Status: bus.StatusEngineOn})
}

// Cleanup stops any session and reports the engine off.
func (d *Device) Cleanup() {
	d.Stop()
	d.bus.Upstream.StatusUpdate.Publish(bus.StatusUpdate{Status: bus.StatusEngineOff})
}

func (d *Device) resetSession() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix = model.NewLocation(d.clock.Now())
	d.fixTimestamp = 0
	d.ep = epochState{}
	d.havePublished = false
	d.sats.reset()
}

func (d *Device) onInjectTime(v bus.InjectTime) int {
	d.clock.Inject(v.Time, v.Reference, v.Uncertainty)
	d.log.Debug("utc time injected", "utc", timeutil.Format(v.Time), "uncertainty_ms", v.Uncertainty)
	return CodeOK
}

func (d *Device) onInjectLocation(v bus.InjectLocation) int {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	loc := v
	d.injectedLoc = &loc
	return CodeOK
}

func (d *Device) onDeleteAidingData(v bus.DeleteAidingData) {
	d.log.Info("deleting aiding data", "flags", v.Flags)
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateAll()
	d.sats.reset()
}

func (d *Device) onSetPositionMode(v bus.SetPositionMode) int {
	if v.MinInterval < 0 || v.PreferredTime < 0 {
		return CodeInvalidArgument
	}
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	mode := v
	d.posMode = &mode
	return CodeOK
}

// epochState tracks which receiver epoch the in-progress fix belongs to.
type epochState struct {
	timed      bool   // a time-bearing sentence opened the current epoch
	closed     bool   // the current epoch was already closed
	stamped    bool   // the sentence being handled carried a time
	lastTimed  string // type of the last time-bearing sentence
	learnedEnd string // last time-bearing type of the previous epoch
}

// Update closes the current epoch, publishing a copy of the in-progress fix
// when it has a valid position.
func (d *Device) Update() bool {
	d.fixMu.Lock()
	out := d.closeEpochLocked()
	d.fixMu.Unlock()
	if out == nil {
		return false
	}
	d.publishFix(*out)
	return true
}

// dateCorrection is how far a fix may fall behind the last published one
// before it is taken as a corrected receiver date rather than a repeat.
const dateCorrection = 12 * time.Hour

// closeEpochLocked returns the fix to publish for the epoch being closed,
// or nil. An invalid fix is kept for later sentences and counted. Published
// timestamps strictly increase within a session, so an epoch is never sent
// twice. An epoch with no time sentence is stamped from the clock.
func (d *Device) closeEpochLocked() *model.Location {
	d.sats.closeEpoch()
	d.ep.closed = true
	if !d.ep.timed {
		d.fix.SetTimestamp(d.clock.Now())
	}
	if !d.fix.Valid() {
		d.suppressed.Add(1)
		metrics.IncFix(metrics.FixSuppressed)
		return nil
	}
	loc := d.fix
	if d.havePublished {
		last := d.lastPublished.Timestamp()
		switch {
		case last-loc.Timestamp() > dateCorrection.Milliseconds():
			d.log.Warn("fix date moved backwards, restarting from it",
				"last", timeutil.Format(last), "fix", timeutil.Format(loc.Timestamp()))
		case loc.Timestamp() <= last:
			return nil
		}
	}
	d.lastPublished = loc
	d.havePublished = true
	return &loc
}

func (d *Device) publishFix(loc model.Location) {
	d.published.Add(1)
	metrics.IncFix(metrics.FixPublished)
	d.bus.Upstream.LocationUpdate.Publish(bus.LocationUpdate{Location: loc})
}

type Snapshot struct {
	State             string               `json:"state"`
	Wired             bool                 `json:"wired"`
	SessionStartedUTC string               `json:"session_started_utc,omitempty"`
	LastFix           *model.Location      `json:"last_fix,omitempty"`
	Pending           model.Location       `json:"pending_fix"`
	Satellites        model.SatelliteList  `json:"satellites"`
	PositionMode      *bus.SetPositionMode `json:"position_mode,omitempty"`
	InjectedLocation  *bus.InjectLocation  `json:"injected_location,omitempty"`
	TimeInjected      bool                 `json:"time_injected"`
	FixesPublished    uint64               `json:"fixes_published"`
	FixesSuppressed   uint64               `json:"fixes_suppressed"`
	NmeaSentences     uint64               `json:"nmea_sentences"`
	SatelliteUpdates  uint64               `json:"satellite_updates"`
}

func (d *Device) Snapshot() Snapshot {
	d.lifeMu.Lock()
	wired := d.wired
	started := d.started
	d.lifeMu.Unlock()

	state := d.State()
	out := Snapshot{
		State:            state.String(),
		Wired:            wired,
		FixesPublished:   d.published.Load(),
		FixesSuppressed:  d.suppressed.Load(),
		NmeaSentences:    d.nmeaCount.Load(),
		SatelliteUpdates: d.satUpdates.Load(),
	}
	if state == Navigating && !started.IsZero() {
		out.SessionStartedUTC = started.UTC().Format(time.RFC3339)
	}
	out.TimeInjected, _ = d.clock.Injected()

	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	if d.havePublished {
		l := d.lastPublished
		out.LastFix = &l
	}
	out.Pending = d.fix
	out.Satellites = d.sats.published.Clone()
	if d.posMode != nil {
		m := *d.posMode
		out.PositionMode = &m
	}
	if d.injectedLoc != nil {
		l := *d.injectedLoc
		out.InjectedLocation = &l
	}
	return out
}
