// Package platform stands in for the host's callback surface: it holds the
// wakelock, answers UTC time requests from the system clock and remembers
// what the engine reported about itself.
package platform

import (
	"log/slog"
	"sync"
	"time"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
)

type Host struct {
	bus *bus.Bus
	log *slog.Logger
	now func() time.Time

	mu           sync.Mutex
	wakelocks    int
	utcRequests  uint64
	capabilities uint32
	status       bus.Status
	statusAt     time.Time
	year         uint16
	subs         []bus.Handle
}

type Snapshot struct {
	WakelockHeld   bool   `json:"wakelock_held"`
	Wakelocks      int    `json:"wakelocks"`
	UtcRequests    uint64 `json:"utc_requests"`
	Capabilities   uint32 `json:"capabilities"`
	Status         string `json:"status"`
	StatusAtUTC    string `json:"status_at_utc,omitempty"`
	YearOfHardware uint16 `json:"year_of_hardware,omitempty"`
}

func New(b *bus.Bus, log *slog.Logger) *Host {
	if log == nil {
		log = logging.Discard()
	}
	return &Host{bus: b, log: log.With("component", "platform"), now: time.Now}
}

func (h *Host) Attach() {
	up := h.bus.Upstream
	subs := []bus.Handle{
		up.AcquireWakelock.Subscribe(func(bus.Empty) { h.acquire() }),
		up.ReleaseWakelock.Subscribe(func(bus.Empty) { h.release() }),
		up.RequestUtcTime.Subscribe(func(bus.Empty) { h.answerUtc() }),
		up.Capabilities.Subscribe(func(v bus.Capabilities) {
			h.mu.Lock()
			h.capabilities = v.Mask
			h.mu.Unlock()
			h.log.Debug("capabilities", "mask", v.Mask)
		}),
		up.StatusUpdate.Subscribe(func(v bus.StatusUpdate) {
			h.mu.Lock()
			h.status = v.Status
			h.statusAt = h.now()
			h.mu.Unlock()
			h.log.Info("engine status", "status", v.Status.String())
		}),
		up.SystemInfo.Subscribe(func(v bus.SystemInfo) {
			h.mu.Lock()
			h.year = v.YearOfHardware
			h.mu.Unlock()
		}),
	}
	h.mu.Lock()
	h.subs = append(h.subs, subs...)
	h.mu.Unlock()
}

func (h *Host) Detach() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (h *Host) acquire() {
	h.mu.Lock()
	h.wakelocks++
	n := h.wakelocks
	h.mu.Unlock()
	h.log.Debug("wakelock acquired", "held", n)
}

// release ignores unbalanced releases.
func (h *Host) release() {
	h.mu.Lock()
	if h.wakelocks == 0 {
		h.mu.Unlock()
		h.log.Warn("wakelock released while not held")
		return
	}
	h.wakelocks--
	n := h.wakelocks
	h.mu.Unlock()
	h.log.Debug("wakelock released", "held", n)
}

// answerUtc injects the system clock. Runs inside the device's start
// sequence, so it must not call back into Start or Stop.
func (h *Host) answerUtc() {
	now := h.now()
	h.mu.Lock()
	h.utcRequests++
	h.mu.Unlock()

	rc := h.bus.GPS.InjectTime.Publish(bus.InjectTime{
		Time:        now.UnixMilli(),
		Reference:   now.UnixMilli(),
		Uncertainty: 1000,
	})
	if rc != 0 {
		h.log.Warn("utc time injection refused", "code", rc)
	}
}

func (h *Host) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := Snapshot{
		WakelockHeld:   h.wakelocks > 0,
		Wakelocks:      h.wakelocks,
		UtcRequests:    h.utcRequests,
		Capabilities:   h.capabilities,
		Status:         h.status.String(),
		YearOfHardware: h.year,
	}
	if !h.statusAt.IsZero() {
		out.StatusAtUTC = h.statusAt.UTC().Format(time.RFC3339)
	}
	return out
}
