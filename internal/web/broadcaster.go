package web

import (
	"sync"
	"time"

	"gnss-bridge/internal/bus"
)

// Event is one live-feed message.
type Event struct {
	Type    string `json:"type"`
	TimeUTC string `json:"time_utc"`
	Data    any    `json:"data"`
}

const (
	EventLocation   = "location"
	EventSatellites = "satellites"
	EventNmea       = "nmea"
	EventStatus     = "status"
)

// Broadcaster fans bus events out to live-feed subscribers. It keeps the
// latest event of each replayable type so a new subscriber gets the current
// state immediately. Slow subscribers drop events.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[string]Event
	order  []string
	handle []bus.Handle
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:  make(map[int]chan Event),
		last:  make(map[string]Event),
		order: []string{EventStatus, EventSatellites, EventLocation},
	}
}

// Attach forwards location, satellite, NMEA and status events from b.
func (f *Broadcaster) Attach(b *bus.Bus) {
	up := b.Upstream
	hs := []bus.Handle{
		up.LocationUpdate.Subscribe(func(v bus.LocationUpdate) { f.Publish(EventLocation, v.Location) }),
		up.SatelliteList.Subscribe(func(v bus.SatelliteListUpdate) { f.Publish(EventSatellites, v.Satellites.Sorted()) }),
		up.NmeaReceived.Subscribe(func(v bus.NmeaReceived) { f.Publish(EventNmea, v.Message.String()) }),
		up.StatusUpdate.Subscribe(func(v bus.StatusUpdate) { f.Publish(EventStatus, v.Status.String()) }),
	}
	f.mu.Lock()
	f.handle = append(f.handle, hs...)
	f.mu.Unlock()
}

func (f *Broadcaster) Detach() {
	f.mu.Lock()
	hs := f.handle
	f.handle = nil
	f.mu.Unlock()
	for _, h := range hs {
		h.Unsubscribe()
	}
}

func (f *Broadcaster) Subscribe(buffer int) (int, <-chan Event) {
	if f == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	for _, typ := range f.order {
		if ev, ok := f.last[typ]; ok {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	f.mu.Unlock()
	return id, ch
}

func (f *Broadcaster) Unsubscribe(id int) {
	if f == nil {
		return
	}
	f.mu.Lock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
	f.mu.Unlock()
}

func (f *Broadcaster) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Broadcaster) Publish(typ string, data any) {
	if f == nil {
		return
	}
	ev := Event{Type: typ, TimeUTC: time.Now().UTC().Format(time.RFC3339Nano), Data: data}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	f.mu.RLock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	f.mu.RUnlock()

	if typ == EventNmea {
		return
	}
	f.mu.Lock()
	f.last[typ] = ev
	f.mu.Unlock()
}
