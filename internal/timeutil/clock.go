// Package timeutil converts receiver time-of-day stamps into UTC epoch
// milliseconds, anchored on host-injected UTC when available.
package timeutil

import (
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// GPSEpochOffsetMillis is the distance between the Unix epoch and the GPS
// epoch (1980-01-06T00:00:00Z).
const GPSEpochOffsetMillis int64 = 315964800000

const dayMillis int64 = 24 * 60 * 60 * 1000

// Clock answers "what UTC time is it" for the decoder. Until the host injects
// a reference it follows the system clock.
type Clock struct {
	mu  sync.RWMutex
	now func() time.Time

	injected    bool
	injectedUTC int64     // UTC ms at the injection instant
	injectedAt  time.Time // local clock at the injection instant
	uncertainty int
	reference   int64
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource is used by tests to pin the local clock.
func NewClockWithSource(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Inject records a host UTC reference. Later Now calls advance from it by
// the locally elapsed time.
func (c *Clock) Inject(utcMillis, reference int64, uncertainty int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected = true
	c.injectedUTC = utcMillis
	c.injectedAt = c.now()
	c.reference = reference
	c.uncertainty = uncertainty
}

// Injected reports whether a host reference is in effect, and its uncertainty.
func (c *Clock) Injected() (bool, int) {
	if c == nil {
		return false, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.injected, c.uncertainty
}

// Now returns the current UTC epoch milliseconds.
func (c *Clock) Now() int64 {
	if c == nil {
		return time.Now().UnixMilli()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.injected {
		return c.now().UnixMilli()
	}
	return c.injectedUTC + c.now().Sub(c.injectedAt).Milliseconds()
}

// Year returns the current UTC year.
func (c *Clock) Year() int {
	return time.UnixMilli(c.Now()).UTC().Year()
}

// FromNMEA turns a time-of-day stamp into UTC epoch ms using today's date.
func (c *Clock) FromNMEA(t nmea.Time) (int64, bool) {
	if !t.Valid {
		return 0, false
	}
	return Anchor(c.Now(), t), true
}

// Anchor places a time-of-day stamp on the day of ref. A stamp more than
// twelve hours away from ref is assumed to sit on the neighbouring day,
// which covers receivers reporting across midnight.
func Anchor(ref int64, t nmea.Time) int64 {
	midnight := ref - mod(ref, dayMillis)
	ms := midnight + timeOfDayMillis(t)

	switch {
	case ms-ref > dayMillis/2:
		ms -= dayMillis
	case ref-ms > dayMillis/2:
		ms += dayMillis
	}
	return ms
}

// FromNMEADateTime combines an RMC date and time. A two-digit year is
// placed in the century that puts it nearest to referenceYear, so 94 reads
// as 1994 and 24 as 2024 when the reference is 2024.
func FromNMEADateTime(referenceYear int, d nmea.Date, t nmea.Time) (int64, bool) {
	if !d.Valid || !t.Valid {
		return 0, false
	}
	if d.MM < 1 || d.MM > 12 || d.DD < 1 || d.DD > 31 {
		return 0, false
	}
	year := d.YY
	if year < 100 {
		year = nearestCentury(referenceYear, year)
	}
	day := time.Date(year, time.Month(d.MM), d.DD, 0, 0, 0, 0, time.UTC)
	return day.UnixMilli() + timeOfDayMillis(t), true
}

func nearestCentury(referenceYear, yy int) int {
	year := referenceYear - referenceYear%100 + yy
	switch {
	case year-referenceYear > 50:
		year -= 100
	case referenceYear-year > 50:
		year += 100
	}
	return year
}

// UTCToGPS shifts a Unix epoch millisecond value onto the GPS epoch.
// Leap seconds are not applied.
func UTCToGPS(ms int64) int64 {
	return ms - GPSEpochOffsetMillis
}

// Format renders epoch ms as RFC 3339 with milliseconds.
func Format(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// TimeOfDay returns the milliseconds since UTC midnight of ms.
func TimeOfDay(ms int64) int64 {
	return mod(ms, dayMillis)
}

func timeOfDayMillis(t nmea.Time) int64 {
	return int64(t.Hour)*3600000 + int64(t.Minute)*60000 + int64(t.Second)*1000 + int64(t.Millisecond)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
