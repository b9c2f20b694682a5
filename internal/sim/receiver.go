// Package sim is a deterministic synthetic GNSS receiver used for bench
// testing without hardware.
package sim

import (
	"math"
	"time"

	"gnss-bridge/internal/decoder"
	"gnss-bridge/internal/model"
)

const metersPerDegLat = 111320.0

type Receiver struct {
	CenterLatDeg float64
	CenterLonDeg float64
	AltMeters    float64
	RadiusM      float64
	Period       time.Duration
	// Satellites is the number of GPS satellites in view; the first eight
	// (or fewer) are used in the fix.
	Satellites int
	HDOP       float64
	Talker     string
}

func (r Receiver) withDefaults() Receiver {
	if r.Period <= 0 {
		r.Period = 120 * time.Second
	}
	if r.RadiusM <= 0 {
		r.RadiusM = 500
	}
	if r.Satellites <= 0 {
		r.Satellites = 10
	}
	if r.Satellites > 32 {
		r.Satellites = 32
	}
	if r.HDOP <= 0 {
		r.HDOP = 0.9
	}
	if r.Talker == "" {
		r.Talker = "GP"
	}
	return r
}

// Position returns a figure-eight track around the centre: the position,
// the track over ground in degrees and the ground speed in m/s.
func (r Receiver) Position(now time.Time) (latDeg, lonDeg, trackDeg, speedMps float64) {
	r = r.withDefaults()
	radiusDeg := r.RadiusM / metersPerDegLat
	cosLat := math.Cos(r.CenterLatDeg * math.Pi / 180.0)

	phase := float64(now.UnixNano()%r.Period.Nanoseconds()) / float64(r.Period.Nanoseconds())

	//	x = cos(2πt)        east-west
	//	y = 0.5*sin(4πt)    north-south
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	latDeg = r.CenterLatDeg + radiusDeg*y
	lonDeg = r.CenterLonDeg + (radiusDeg*x)/cosLat

	// Velocity in radius units per period.
	vx := -2 * math.Pi * math.Sin(w)
	vy := 2 * math.Pi * math.Cos(2*w)
	trackDeg = math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)
	speedMps = math.Hypot(vx, vy) * r.RadiusM / r.Period.Seconds()
	return latDeg, lonDeg, trackDeg, speedMps
}

// Epoch returns the fix and satellite view at now.
func (r Receiver) Epoch(now time.Time) (model.Location, model.SatelliteList) {
	r = r.withDefaults()
	lat, lon, trk, spd := r.Position(now)

	loc := model.NewLocation(now.UnixMilli())
	loc.SetLocation(lat, lon)
	loc.SetAltitude(r.AltMeters)
	loc.SetSpeed(float32(spd))
	loc.SetBearing(float32(trk))
	loc.SetAccuracy(float32(r.HDOP * 5))

	sats := make(model.SatelliteList, r.Satellites)
	for _, s := range r.satellites(now) {
		sats[s.ID] = s
	}
	return loc, sats
}

// satellites lays PRNs 1..n on a slowly rotating sky.
func (r Receiver) satellites(now time.Time) []model.SatInfo {
	drift := float64(now.Unix()%3600) / 10.0
	out := make([]model.SatInfo, 0, r.Satellites)
	for i := 0; i < r.Satellites; i++ {
		prn := i + 1
		out = append(out, model.SatInfo{
			ID:        model.SatIdentifier{Constellation: model.ConstellationGPS, PRN: prn},
			Elevation: float32(10 + (i*37)%75),
			Azimuth:   float32(math.Mod(float64(i*360/r.Satellites)+drift, 360)),
			SNR:       float32(25 + (i*7)%20),
			UsedInFix: i < 8,
		})
	}
	return out
}

// Sentences renders one epoch as GSA, GSV, GGA and RMC, each terminated
// with a valid checksum.
func (r Receiver) Sentences(now time.Time) []string {
	r = r.withDefaults()
	loc, _ := r.Epoch(now)
	sats := r.satellites(now)

	var used []int
	for _, s := range sats {
		if s.UsedInFix {
			used = append(used, s.ID.PRN)
		}
	}

	out := []string{decoder.RenderGSA(r.Talker, used, r.HDOP)}
	out = append(out, decoder.RenderGSV(r.Talker, sats)...)
	out = append(out,
		decoder.RenderGGA(r.Talker, loc, len(used), r.HDOP),
		decoder.RenderRMC(r.Talker, loc),
	)
	return out
}
