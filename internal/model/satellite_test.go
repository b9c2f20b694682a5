package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestConstellationFor(t *testing.T) {
	cases := []struct {
		talker string
		prn    int
		want   Constellation
	}{
		{"GP", 5, ConstellationGPS},
		{"GP", 46, ConstellationSBAS},
		{"GN", 70, ConstellationGLONASS},
		{"GL", 5, ConstellationGLONASS},
		{"GA", 11, ConstellationGalileo},
		{"GB", 7, ConstellationBeiDou},
		{"BD", 7, ConstellationBeiDou},
		{"GQ", 1, ConstellationQZSS},
		{"GN", 195, ConstellationQZSS},
		{"GN", 210, ConstellationBeiDou},
		{"GN", 305, ConstellationGalileo},
		{"GP", 0, ConstellationUnknown},
		{"gl", 3, ConstellationGLONASS},
	}
	for _, tc := range cases {
		if got := ConstellationFor(tc.talker, tc.prn); got != tc.want {
			t.Fatalf("ConstellationFor(%q,%d)=%s want %s", tc.talker, tc.prn, got, tc.want)
		}
	}
}

func TestConstellationForSystemID(t *testing.T) {
	cases := []struct {
		system int
		prn    int
		want   Constellation
		ok     bool
	}{
		{1, 5, ConstellationGPS, true},
		{1, 46, ConstellationSBAS, true},
		{2, 70, ConstellationGLONASS, true},
		{3, 11, ConstellationGalileo, true},
		{4, 7, ConstellationBeiDou, true},
		{5, 1, ConstellationQZSS, true},
		{0, 11, ConstellationUnknown, false},
		{6, 3, ConstellationUnknown, false},
	}
	for _, tc := range cases {
		got, ok := ConstellationForSystemID(tc.system, tc.prn)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ConstellationForSystemID(%d,%d)=%s,%v want %s,%v", tc.system, tc.prn, got, ok, tc.want, tc.ok)
		}
	}
}

func TestConstellation_TextRoundTrip(t *testing.T) {
	for c := ConstellationUnknown; c <= ConstellationQZSS; c++ {
		b, err := c.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", c, err)
		}
		var back Constellation
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if back != c {
			t.Fatalf("round trip %s -> %s", c, back)
		}
	}
	var c Constellation
	if err := c.UnmarshalText([]byte("IRNSS")); err == nil {
		t.Fatalf("expected error for unknown constellation")
	}
}

func TestSatelliteList_SortedAndUsedCount(t *testing.T) {
	s := SatelliteList{}
	add := func(c Constellation, prn int, used bool) {
		id := SatIdentifier{Constellation: c, PRN: prn}
		s[id] = SatInfo{ID: id, UsedInFix: used}
	}
	add(ConstellationGLONASS, 70, true)
	add(ConstellationGPS, 12, false)
	add(ConstellationGPS, 3, true)

	got := s.Sorted()
	var ids []string
	for _, v := range got {
		ids = append(ids, v.ID.String())
	}
	if !reflect.DeepEqual(ids, []string{"GPS-3", "GPS-12", "GLONASS-70"}) {
		t.Fatalf("sorted=%v", ids)
	}
	if s.UsedCount() != 2 {
		t.Fatalf("used=%d want 2", s.UsedCount())
	}
}

func TestSatelliteList_CloneIsIndependent(t *testing.T) {
	id := SatIdentifier{Constellation: ConstellationGPS, PRN: 1}
	s := SatelliteList{id: {ID: id, SNR: 30}}
	c := s.Clone()
	c[id] = SatInfo{ID: id, SNR: 10}
	if s[id].SNR != 30 {
		t.Fatalf("clone aliased original")
	}
}

func TestSatelliteList_JSON(t *testing.T) {
	id := SatIdentifier{Constellation: ConstellationGalileo, PRN: 301}
	s := SatelliteList{id: {ID: id, Elevation: 45, Azimuth: 120, SNR: 38, UsedInFix: true}}

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back SatelliteList
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back, s) {
		t.Fatalf("round trip %v vs %v", back, s)
	}
}

func TestNmeaMessage_CopiesInput(t *testing.T) {
	raw := []byte("$GPGGA,1*00")
	m := NewNmeaMessage(raw)
	raw[1] = 'X'
	if m.String() != "$GPGGA,1*00" || m.Len() != 11 {
		t.Fatalf("message=%q", m.String())
	}
}
