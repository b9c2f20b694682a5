package decoder

import (
	"fmt"
	"math"
	"strings"

	"gnss-bridge/internal/model"
)

// Render builds a terminated sentence "$<head>,<fields...>*HH\r\n" where
// head is talker plus type, e.g. "GPGGA".
func Render(head string, fields ...string) string {
	body := head
	if len(fields) > 0 {
		body += "," + strings.Join(fields, ",")
	}
	return fmt.Sprintf("$%s*%02X\r\n", body, Checksum([]byte(body)))
}

func RenderGGA(talker string, l model.Location, satellites int, hdop float64) string {
	t := l.Time()
	hhmmss := fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e7)

	lat, ns, lon, ew := "", "", "", ""
	quality := "0"
	if l.HasLocation() {
		lat, ns = formatLat(l.Latitude())
		lon, ew = formatLon(l.Longitude())
		quality = "1"
	}
	alt, altUnit := "", ""
	if l.HasAltitude() {
		alt, altUnit = fmt.Sprintf("%.1f", l.Altitude()), "M"
	}
	hd := ""
	if hdop > 0 {
		hd = fmt.Sprintf("%.1f", hdop)
	}
	return Render(talker+"GGA",
		hhmmss, lat, ns, lon, ew, quality,
		fmt.Sprintf("%02d", satellites), hd,
		alt, altUnit, "", "", "", "",
	)
}

func RenderRMC(talker string, l model.Location) string {
	t := l.Time()
	hhmmss := fmt.Sprintf("%02d%02d%02d.%02d", t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e7)
	date := fmt.Sprintf("%02d%02d%02d", t.Day(), int(t.Month()), t.Year()%100)

	status, mode := "V", "N"
	lat, ns, lon, ew := "", "", "", ""
	if l.HasLocation() {
		status, mode = "A", "A"
		lat, ns = formatLat(l.Latitude())
		lon, ew = formatLon(l.Longitude())
	}
	speed, course := "", ""
	if l.HasSpeed() {
		speed = fmt.Sprintf("%.2f", float64(l.Speed())/knotsToMps)
	}
	if l.HasBearing() {
		course = fmt.Sprintf("%.1f", l.Bearing())
	}
	return Render(talker+"RMC",
		hhmmss, status, lat, ns, lon, ew, speed, course, date, "", "", mode,
	)
}

// RenderGSA lists up to twelve PRNs used in the fix.
func RenderGSA(talker string, prns []int, hdop float64) string {
	fields := []string{"A", "1"}
	if len(prns) > 0 {
		fields[1] = "3"
	}
	for i := 0; i < 12; i++ {
		if i < len(prns) {
			fields = append(fields, fmt.Sprintf("%02d", prns[i]))
		} else {
			fields = append(fields, "")
		}
	}
	hd := ""
	if hdop > 0 {
		hd = fmt.Sprintf("%.1f", hdop)
	}
	fields = append(fields, "", hd, "")
	return Render(talker+"GSA", fields...)
}

// RenderGSV splits sats into GSV messages of four satellites each.
func RenderGSV(talker string, sats []model.SatInfo) []string {
	total := (len(sats) + 3) / 4
	if total == 0 {
		return []string{Render(talker+"GSV", "1", "1", "00")}
	}
	out := make([]string, 0, total)
	for n := 0; n < total; n++ {
		fields := []string{
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%d", n+1),
			fmt.Sprintf("%02d", len(sats)),
		}
		end := (n + 1) * 4
		if end > len(sats) {
			end = len(sats)
		}
		for _, s := range sats[n*4 : end] {
			snr := ""
			if s.SNR > 0 {
				snr = fmt.Sprintf("%02d", int(math.Round(float64(s.SNR))))
			}
			fields = append(fields,
				fmt.Sprintf("%02d", s.ID.PRN),
				fmt.Sprintf("%02d", int(math.Round(float64(s.Elevation)))),
				fmt.Sprintf("%03d", int(math.Round(float64(s.Azimuth)))),
				snr,
			)
		}
		out = append(out, Render(talker+"GSV", fields...))
	}
	return out
}

func formatLat(v float64) (string, string) {
	hemi := "N"
	if v < 0 {
		hemi = "S"
	}
	deg, mins := degMin(math.Abs(v))
	return fmt.Sprintf("%02d%07.4f", deg, mins), hemi
}

func formatLon(v float64) (string, string) {
	hemi := "E"
	if v < 0 {
		hemi = "W"
	}
	deg, mins := degMin(math.Abs(v))
	return fmt.Sprintf("%03d%07.4f", deg, mins), hemi
}

// degMin splits decimal degrees into whole degrees and minutes rounded to
// four decimals, carrying a rounded 60' into the degrees.
func degMin(v float64) (int, float64) {
	deg := int(v)
	mins := math.Round((v-float64(deg))*60*1e4) / 1e4
	if mins >= 60 {
		deg++
		mins -= 60
	}
	return deg, mins
}
