package decoder

import (
	"math"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"gnss-bridge/internal/model"
	"gnss-bridge/internal/timeutil"
)

const (
	knotsToMps = 0.514444
	kphToMps   = 1 / 3.6
)

func (d *Decoder) apply(s nmea.Sentence) {
	switch m := s.(type) {
	case nmea.GGA:
		d.applyGGA(m)
	case nmea.RMC:
		d.applyRMC(m)
	case nmea.GLL:
		d.applyGLL(m)
	case nmea.GNS:
		d.applyGNS(m)
	case nmea.VTG:
		d.applyVTG(m)
	case GST:
		d.applyGST(m)
	case nmea.GSA:
		d.applyGSA(m)
	case nmea.GSV:
		d.applyGSV(m)
	}
}

// setTime stamps a time-only sentence. Once an RMC has supplied the
// receiver's date, time-of-day is anchored on that date rather than the
// host clock.
func (d *Decoder) setTime(t nmea.Time) {
	if !t.Valid {
		return
	}
	if ref := d.dateRef.Load(); ref != 0 {
		ms := timeutil.Anchor(ref, t)
		d.dateRef.Store(ms)
		d.sink.SetTimestamp(ms)
		return
	}
	if ms, ok := d.clock.FromNMEA(t); ok {
		d.sink.SetTimestamp(ms)
	}
}

// GGA fields: 0 time, 1-2 lat, 3-4 lon, 5 quality, 6 sats, 7 hdop, 8-9 alt.
func (d *Decoder) applyGGA(m nmea.GGA) {
	f := m.Fields
	d.setTime(m.Time)

	if m.FixQuality == "" || m.FixQuality == nmea.Invalid || field(f, 1) == "" || field(f, 3) == "" {
		d.sink.InvalidateLocation()
		d.sink.InvalidateAltitude()
		return
	}
	d.sink.SetLocation(m.Latitude, m.Longitude)

	if field(f, 8) != "" {
		d.sink.SetAltitude(m.Altitude)
	} else {
		d.sink.InvalidateAltitude()
	}

	if d.cfg.HDOPAccuracyFactor > 0 && !d.haveGST.Load() && field(f, 7) != "" && m.HDOP > 0 {
		d.sink.SetAccuracy(float32(m.HDOP * d.cfg.HDOPAccuracyFactor))
	}
}

// RMC fields: 0 time, 1 status, 2-3 lat, 4-5 lon, 6 speed kn, 7 course, 8 date.
func (d *Decoder) applyRMC(m nmea.RMC) {
	f := m.Fields
	if ms, ok := timeutil.FromNMEADateTime(d.clock.Year(), m.Date, m.Time); ok {
		d.dateRef.Store(ms)
		d.sink.SetTimestamp(ms)
	} else {
		d.setTime(m.Time)
	}

	if m.Validity != nmea.ValidRMC || field(f, 2) == "" || field(f, 4) == "" {
		d.sink.InvalidateLocation()
		d.sink.InvalidateSpeed()
		d.sink.InvalidateBearing()
		return
	}
	d.sink.SetLocation(m.Latitude, m.Longitude)

	if field(f, 6) != "" {
		d.sink.SetSpeed(float32(m.Speed * knotsToMps))
	} else {
		d.sink.InvalidateSpeed()
	}
	if field(f, 7) != "" {
		d.sink.SetBearing(float32(normalizeBearing(m.Course)))
	} else {
		d.sink.InvalidateBearing()
	}
}

// GLL fields: 0-1 lat, 2-3 lon, 4 time, 5 status.
func (d *Decoder) applyGLL(m nmea.GLL) {
	f := m.Fields
	d.setTime(m.Time)
	if m.Validity != nmea.ValidGLL || field(f, 0) == "" || field(f, 2) == "" {
		d.sink.InvalidateLocation()
		return
	}
	d.sink.SetLocation(m.Latitude, m.Longitude)
}

// GNS fields: 0 time, 1-2 lat, 3-4 lon, 5 mode, 6 sats, 7 hdop, 8 alt.
func (d *Decoder) applyGNS(m nmea.GNS) {
	f := m.Fields
	d.setTime(m.Time)
	if gnsNoFix(m.Mode) || field(f, 1) == "" || field(f, 3) == "" {
		d.sink.InvalidateLocation()
		d.sink.InvalidateAltitude()
		return
	}
	d.sink.SetLocation(m.Latitude, m.Longitude)
	if field(f, 8) != "" {
		d.sink.SetAltitude(m.Altitude)
	} else {
		d.sink.InvalidateAltitude()
	}
}

func gnsNoFix(modes []string) bool {
	for _, mode := range modes {
		if mode != "" && mode != nmea.NoFixGNS {
			return false
		}
	}
	return true
}

// VTG fields: 0 true track, 2 magnetic track, 4 speed kn, 6 speed km/h.
func (d *Decoder) applyVTG(m nmea.VTG) {
	f := m.Fields
	switch {
	case field(f, 6) != "":
		d.sink.SetSpeed(float32(m.GroundSpeedKPH * kphToMps))
	case field(f, 4) != "":
		d.sink.SetSpeed(float32(m.GroundSpeedKnots * knotsToMps))
	}
	if field(f, 0) != "" {
		d.sink.SetBearing(float32(normalizeBearing(m.TrueTrack)))
	}
}

// GST fields: 5 latitude 1-sigma error, 6 longitude 1-sigma error (meters).
func (d *Decoder) applyGST(m GST) {
	if !m.LatitudeError.Valid || !m.LongitudeError.Valid {
		return
	}
	acc := math.Hypot(m.LatitudeError.Value, m.LongitudeError.Value)
	d.haveGST.Store(true)
	d.sink.SetAccuracy(float32(acc))
}

// applyGSA reports the satellites used in the fix. An NMEA 4.10 system ID
// names the constellation of a combined GNGSA; without one it is inferred
// from the talker and PRN range.
func (d *Decoder) applyGSA(m nmea.GSA) {
	ids := make([]model.SatIdentifier, 0, len(m.SV))
	for _, sv := range m.SV {
		sv = strings.TrimSpace(sv)
		if sv == "" {
			continue
		}
		n, err := strconv.Atoi(sv)
		if err != nil || n <= 0 {
			continue
		}
		c, ok := model.ConstellationForSystemID(int(m.SystemID), n)
		if !ok {
			c = model.ConstellationFor(m.Talker, n)
		}
		ids = append(ids, model.SatIdentifier{Constellation: c, PRN: n})
	}
	d.sink.SetSatellitesUsed(ids)
}

func (d *Decoder) applyGSV(m nmea.GSV) {
	sats := make([]model.SatInfo, 0, len(m.Info))
	for _, info := range m.Info {
		prn := int(info.SVPRNNumber)
		if prn <= 0 {
			continue
		}
		sats = append(sats, model.SatInfo{
			ID: model.SatIdentifier{
				Constellation: model.ConstellationFor(m.Talker, prn),
				PRN:           prn,
			},
			Elevation: float32(info.Elevation),
			Azimuth:   float32(info.Azimuth),
			SNR:       float32(info.SNR),
		})
	}
	d.sink.SatellitesInView(m.Talker, int(m.MessageNumber), int(m.TotalMessages), sats)
}

// applyNoFix handles fix-bearing sentences that the typed parser rejected.
// It only acts when the raw status fields say the receiver has no fix.
func (d *Decoder) applyNoFix(typ string, f []string) bool {
	switch typ {
	case nmea.TypeGGA:
		if q := field(f, 5); q == "" || q == nmea.Invalid || field(f, 1) == "" {
			d.sink.InvalidateLocation()
			d.sink.InvalidateAltitude()
			return true
		}
	case nmea.TypeRMC:
		if field(f, 1) != nmea.ValidRMC || field(f, 2) == "" {
			d.sink.InvalidateLocation()
			d.sink.InvalidateSpeed()
			d.sink.InvalidateBearing()
			return true
		}
	case nmea.TypeGLL:
		if field(f, 5) != nmea.ValidGLL || field(f, 0) == "" {
			d.sink.InvalidateLocation()
			return true
		}
	case nmea.TypeGNS:
		if field(f, 1) == "" {
			d.sink.InvalidateLocation()
			d.sink.InvalidateAltitude()
			return true
		}
	}
	return false
}

func field(f []string, i int) string {
	if i < 0 || i >= len(f) {
		return ""
	}
	return strings.TrimSpace(f[i])
}

func normalizeBearing(deg float64) float64 {
	return math.Mod(deg+360.0, 360.0)
}
