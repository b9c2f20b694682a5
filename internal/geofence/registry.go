// Package geofence keeps the set of geofences requested by the host and
// answers add/remove/pause/resume requests on the bus. Transition
// evaluation belongs to the external geofencing engine.
package geofence

import (
	"log/slog"
	"sort"
	"sync"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/model"
)

const DefaultMaxGeofences = 100

type Entry struct {
	Definition model.GeofenceDefinition `json:"definition"`
	Paused     bool                     `json:"paused"`
}

type Registry struct {
	bus *bus.Bus
	max int
	log *slog.Logger

	mu      sync.Mutex
	entries map[model.GeofenceID]*Entry
	last    model.Location
	subs    []bus.Handle
}

func New(b *bus.Bus, limit int, log *slog.Logger) *Registry {
	if limit <= 0 {
		limit = DefaultMaxGeofences
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Registry{
		bus:     b,
		max:     limit,
		log:     log.With("component", "geofence"),
		entries: map[model.GeofenceID]*Entry{},
	}
}

// Attach subscribes to the request channels and reports the service as
// available.
func (r *Registry) Attach() {
	g := r.bus.Geofencing
	subs := []bus.Handle{
		g.AddGeofenceArea.Subscribe(func(v bus.AddGeofenceArea) { r.Add(v.Definition) }),
		g.RemoveGeofenceArea.Subscribe(func(v bus.GeofenceRef) { r.Remove(v.ID) }),
		g.PauseGeofence.Subscribe(func(v bus.GeofenceRef) { r.Pause(v.ID) }),
		g.ResumeGeofence.Subscribe(func(v bus.ResumeGeofence) { r.Resume(v.ID, v.Transitions) }),
		r.bus.Upstream.LocationUpdate.Subscribe(func(v bus.LocationUpdate) {
			r.mu.Lock()
			r.last = v.Location
			r.mu.Unlock()
		}),
	}

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	last := r.last
	r.mu.Unlock()

	g.Status.Publish(bus.GeofenceStatus{Status: model.GeofenceAvailable, LastLocation: last})
}

func (r *Registry) Detach() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	last := r.last
	r.mu.Unlock()
	for _, h := range subs {
		h.Unsubscribe()
	}
	r.bus.Geofencing.Status.Publish(bus.GeofenceStatus{Status: model.GeofenceUnavailable, LastLocation: last})
}

// Add registers def and publishes the answer.
func (r *Registry) Add(def model.GeofenceDefinition) model.OperationStatus {
	st := r.add(def)
	r.log.Info("geofence add", "id", def.ID, "radius_m", def.Radius, "status", st.String())
	r.bus.Geofencing.AddAnswer.Publish(bus.GeofenceAnswer{ID: def.ID, Status: st})
	return st
}

func (r *Registry) add(def model.GeofenceDefinition) model.OperationStatus {
	if !model.TransitionFlagsValid(def.MonitorTransitions) {
		return model.OperationInvalidTransition
	}
	if def.Radius <= 0 || def.Origin.Latitude < -90 || def.Origin.Latitude > 90 ||
		def.Origin.Longitude < -180 || def.Origin.Longitude > 180 {
		return model.OperationGeneric
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[def.ID]; ok {
		return model.OperationIDExists
	}
	if len(r.entries) >= r.max {
		return model.OperationTooManyGeofences
	}
	r.entries[def.ID] = &Entry{Definition: def}
	return model.OperationSuccess
}

func (r *Registry) Remove(id model.GeofenceID) model.OperationStatus {
	r.mu.Lock()
	st := model.OperationIDUnknown
	if _, ok := r.entries[id]; ok {
		delete(r.entries, id)
		st = model.OperationSuccess
	}
	r.mu.Unlock()

	r.log.Info("geofence remove", "id", id, "status", st.String())
	r.bus.Geofencing.RemoveAnswer.Publish(bus.GeofenceAnswer{ID: id, Status: st})
	return st
}

func (r *Registry) Pause(id model.GeofenceID) model.OperationStatus {
	r.mu.Lock()
	st := model.OperationIDUnknown
	if e, ok := r.entries[id]; ok {
		e.Paused = true
		st = model.OperationSuccess
	}
	r.mu.Unlock()

	r.bus.Geofencing.PauseAnswer.Publish(bus.GeofenceAnswer{ID: id, Status: st})
	return st
}

// Resume unpauses id and replaces the monitored transitions.
func (r *Registry) Resume(id model.GeofenceID, transitions model.TransitionFlags) model.OperationStatus {
	st := model.OperationSuccess
	if !model.TransitionFlagsValid(transitions) {
		st = model.OperationInvalidTransition
	}

	r.mu.Lock()
	e, ok := r.entries[id]
	switch {
	case !ok:
		st = model.OperationIDUnknown
	case st == model.OperationSuccess:
		e.Paused = false
		e.Definition.MonitorTransitions = transitions
	}
	r.mu.Unlock()

	r.bus.Geofencing.ResumeAnswer.Publish(bus.GeofenceAnswer{ID: id, Status: st})
	return st
}

// List returns the registered geofences ordered by ID.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.ID < out[j].Definition.ID })
	return out
}
