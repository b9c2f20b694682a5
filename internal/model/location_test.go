package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestLocation_NewIsInvalid(t *testing.T) {
	l := NewLocation(1234)
	if l.Valid() || l.HasAltitude() || l.HasSpeed() || l.HasBearing() || l.HasAccuracy() {
		t.Fatalf("new location should have no valid fields: %s", l)
	}
	if l.Timestamp() != 1234 {
		t.Fatalf("timestamp=%d", l.Timestamp())
	}
	if lat, lon := l.LatLong(); lat != 0 || lon != 0 {
		t.Fatalf("latlong=(%v,%v)", lat, lon)
	}
}

func TestLocation_SettersMarkValid(t *testing.T) {
	l := NewLocation(0)
	l.SetLocation(48.1173, 11.5166)
	l.SetAltitude(545.4)
	l.SetSpeed(12.5)
	l.SetBearing(84.4)
	l.SetAccuracy(4.5)

	if !l.Valid() || !l.HasAltitude() || !l.HasSpeed() || !l.HasBearing() || !l.HasAccuracy() {
		t.Fatalf("expected all fields valid: %s", l)
	}
	if l.Latitude() != 48.1173 || l.Longitude() != 11.5166 {
		t.Fatalf("lat/lon=%v/%v", l.Latitude(), l.Longitude())
	}
	if l.Altitude() != 545.4 || l.Speed() != 12.5 || l.Bearing() != 84.4 || l.Accuracy() != 4.5 {
		t.Fatalf("unexpected values: %s", l)
	}
}

func TestLocation_InvalidateIsPerField(t *testing.T) {
	full := NewLocation(0)
	full.SetLocation(1, 2)
	full.SetAltitude(3)
	full.SetSpeed(4)
	full.SetBearing(5)
	full.SetAccuracy(6)

	cases := []struct {
		name  string
		apply func(*Location)
		check func(Location) bool
	}{
		{"location", (*Location).InvalidateLocation, func(l Location) bool {
			return !l.Valid() && l.Latitude() == 0 && l.HasAltitude() && l.HasSpeed() && l.HasBearing() && l.HasAccuracy()
		}},
		{"altitude", (*Location).InvalidateAltitude, func(l Location) bool {
			return l.Valid() && !l.HasAltitude() && l.Altitude() == 0 && l.HasSpeed() && l.HasBearing() && l.HasAccuracy()
		}},
		{"speed", (*Location).InvalidateSpeed, func(l Location) bool {
			return l.Valid() && l.HasAltitude() && !l.HasSpeed() && l.Speed() == 0 && l.HasBearing() && l.HasAccuracy()
		}},
		{"bearing", (*Location).InvalidateBearing, func(l Location) bool {
			return l.Valid() && l.HasAltitude() && l.HasSpeed() && !l.HasBearing() && l.Bearing() == 0 && l.HasAccuracy()
		}},
		{"accuracy", (*Location).InvalidateAccuracy, func(l Location) bool {
			return l.Valid() && l.HasAltitude() && l.HasSpeed() && l.HasBearing() && !l.HasAccuracy() && l.Accuracy() == 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := full
			tc.apply(&l)
			if !tc.check(l) {
				t.Fatalf("unexpected state after invalidate: %s", l)
			}
		})
	}
}

func TestLocation_InvalidateAllKeepsTimestamp(t *testing.T) {
	l := NewLocation(99)
	l.SetLocation(1, 2)
	l.SetSpeed(3)
	l.InvalidateAll()
	if l.Valid() || l.HasSpeed() {
		t.Fatalf("expected invalid: %s", l)
	}
	if l.Timestamp() != 99 {
		t.Fatalf("timestamp=%d", l.Timestamp())
	}
}

func TestLocation_JSONOmitsInvalidFields(t *testing.T) {
	l := NewLocation(1700000000000)
	l.SetLocation(48.1173, 11.5166)
	l.SetAltitude(545.4)

	b, err := json.Marshal(l)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"valid":true`, `"lat_deg":48.1173`, `"alt_m":545.4`} {
		if !strings.Contains(s, want) {
			t.Fatalf("json %s missing %s", s, want)
		}
	}
	for _, absent := range []string{"speed_mps", "bearing_deg", "accuracy_m"} {
		if strings.Contains(s, absent) {
			t.Fatalf("json %s should omit %s", s, absent)
		}
	}

	var back Location
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != l {
		t.Fatalf("round trip mismatch: %s vs %s", back, l)
	}
}

func TestPoint_DistanceFrom(t *testing.T) {
	// One degree of latitude along a meridian.
	a := Point{Latitude: 0, Longitude: 0}
	b := Point{Latitude: 1, Longitude: 0}
	got := a.DistanceFrom(b)
	want := earthRadiusM * math.Pi / 180
	if math.Abs(got-want) > 0.5 {
		t.Fatalf("distance=%v want %v", got, want)
	}
	if d := a.DistanceFrom(a); d != 0 {
		t.Fatalf("self distance=%v", d)
	}
}

func TestTransitionFlagsValid(t *testing.T) {
	cases := []struct {
		flags TransitionFlags
		want  bool
	}{
		{0, false},
		{TransitionFlags(TransitionEntered), true},
		{TransitionFlags(TransitionEntered | TransitionExited | TransitionUncertain), true},
		{TransitionFlags(1 << 3), false},
		{TransitionFlags(TransitionExited) | 1<<5, false},
	}
	for _, tc := range cases {
		if got := TransitionFlagsValid(tc.flags); got != tc.want {
			t.Fatalf("TransitionFlagsValid(%b)=%v want %v", tc.flags, got, tc.want)
		}
	}
}
