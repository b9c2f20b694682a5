// Package model holds the value types exchanged over the bus.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Location is a GNSS fix snapshot with per-field validity.
//
// Every accessor returns 0 when its field is not valid. Setters mark the
// field valid; Invalidate* clears exactly one field (lat/long count as one).
// The timestamp is UTC epoch milliseconds and is always set.
type Location struct {
	timestamp int64

	latitude   float64
	longitude  float64
	hasLatLong bool

	altitude    float64
	hasAltitude bool

	speed    float32
	hasSpeed bool

	bearing    float32
	hasBearing bool

	accuracy    float32
	hasAccuracy bool
}

func NewLocation(timestamp int64) Location {
	return Location{timestamp: timestamp}
}

// Valid reports whether the fix is publishable: latitude/longitude known.
func (l Location) Valid() bool { return l.hasLatLong }

func (l Location) HasLocation() bool { return l.hasLatLong }
func (l Location) HasAltitude() bool { return l.hasAltitude }
func (l Location) HasSpeed() bool    { return l.hasSpeed }
func (l Location) HasBearing() bool  { return l.hasBearing }
func (l Location) HasAccuracy() bool { return l.hasAccuracy }

func (l Location) Timestamp() int64 { return l.timestamp }

// Time returns the timestamp as a UTC time.Time.
func (l Location) Time() time.Time { return time.UnixMilli(l.timestamp).UTC() }

func (l Location) Latitude() float64 {
	if !l.hasLatLong {
		return 0
	}
	return l.latitude
}

func (l Location) Longitude() float64 {
	if !l.hasLatLong {
		return 0
	}
	return l.longitude
}

// LatLong returns both coordinates, (0, 0) when invalid.
func (l Location) LatLong() (float64, float64) {
	return l.Latitude(), l.Longitude()
}

func (l Location) Altitude() float64 {
	if !l.hasAltitude {
		return 0
	}
	return l.altitude
}

func (l Location) Speed() float32 {
	if !l.hasSpeed {
		return 0
	}
	return l.speed
}

func (l Location) Bearing() float32 {
	if !l.hasBearing {
		return 0
	}
	return l.bearing
}

func (l Location) Accuracy() float32 {
	if !l.hasAccuracy {
		return 0
	}
	return l.accuracy
}

func (l *Location) SetTimestamp(ms int64) { l.timestamp = ms }

func (l *Location) SetLocation(latitude, longitude float64) {
	l.latitude = latitude
	l.longitude = longitude
	l.hasLatLong = true
}

func (l *Location) SetAltitude(meters float64) {
	l.altitude = meters
	l.hasAltitude = true
}

func (l *Location) SetSpeed(mps float32) {
	l.speed = mps
	l.hasSpeed = true
}

func (l *Location) SetBearing(deg float32) {
	l.bearing = deg
	l.hasBearing = true
}

func (l *Location) SetAccuracy(meters float32) {
	l.accuracy = meters
	l.hasAccuracy = true
}

func (l *Location) InvalidateLocation() {
	l.latitude, l.longitude = 0, 0
	l.hasLatLong = false
}

func (l *Location) InvalidateAltitude() {
	l.altitude = 0
	l.hasAltitude = false
}

func (l *Location) InvalidateSpeed() {
	l.speed = 0
	l.hasSpeed = false
}

func (l *Location) InvalidateBearing() {
	l.bearing = 0
	l.hasBearing = false
}

func (l *Location) InvalidateAccuracy() {
	l.accuracy = 0
	l.hasAccuracy = false
}

// InvalidateAll clears every field except the timestamp.
func (l *Location) InvalidateAll() {
	l.InvalidateLocation()
	l.InvalidateAltitude()
	l.InvalidateSpeed()
	l.InvalidateBearing()
	l.InvalidateAccuracy()
}

func (l Location) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location{ts=%s", l.Time().Format(time.RFC3339Nano))
	if l.hasLatLong {
		fmt.Fprintf(&b, " lat=%.7f lon=%.7f", l.latitude, l.longitude)
	} else {
		b.WriteString(" lat/lon=invalid")
	}
	if l.hasAltitude {
		fmt.Fprintf(&b, " alt=%.2fm", l.altitude)
	}
	if l.hasSpeed {
		fmt.Fprintf(&b, " speed=%.2fm/s", l.speed)
	}
	if l.hasBearing {
		fmt.Fprintf(&b, " bearing=%.1f", l.bearing)
	}
	if l.hasAccuracy {
		fmt.Fprintf(&b, " acc=%.1fm", l.accuracy)
	}
	b.WriteString("}")
	return b.String()
}

type locationJSON struct {
	Timestamp int64    `json:"timestamp_ms"`
	TimeUTC   string   `json:"time_utc"`
	Valid     bool     `json:"valid"`
	Latitude  *float64 `json:"lat_deg,omitempty"`
	Longitude *float64 `json:"lon_deg,omitempty"`
	Altitude  *float64 `json:"alt_m,omitempty"`
	Speed     *float32 `json:"speed_mps,omitempty"`
	Bearing   *float32 `json:"bearing_deg,omitempty"`
	Accuracy  *float32 `json:"accuracy_m,omitempty"`
}

// MarshalJSON omits invalid fields instead of emitting defaults.
func (l Location) MarshalJSON() ([]byte, error) {
	out := locationJSON{
		Timestamp: l.timestamp,
		TimeUTC:   l.Time().Format(time.RFC3339Nano),
		Valid:     l.Valid(),
	}
	if l.hasLatLong {
		lat, lon := l.latitude, l.longitude
		out.Latitude = &lat
		out.Longitude = &lon
	}
	if l.hasAltitude {
		v := l.altitude
		out.Altitude = &v
	}
	if l.hasSpeed {
		v := l.speed
		out.Speed = &v
	}
	if l.hasBearing {
		v := l.bearing
		out.Bearing = &v
	}
	if l.hasAccuracy {
		v := l.accuracy
		out.Accuracy = &v
	}
	return json.Marshal(out)
}

func (l *Location) UnmarshalJSON(b []byte) error {
	var in locationJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*l = NewLocation(in.Timestamp)
	if in.Latitude != nil && in.Longitude != nil {
		l.SetLocation(*in.Latitude, *in.Longitude)
	}
	if in.Altitude != nil {
		l.SetAltitude(*in.Altitude)
	}
	if in.Speed != nil {
		l.SetSpeed(*in.Speed)
	}
	if in.Bearing != nil {
		l.SetBearing(*in.Bearing)
	}
	if in.Accuracy != nil {
		l.SetAccuracy(*in.Accuracy)
	}
	return nil
}
