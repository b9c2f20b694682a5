package device

import (
	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/decoder"
	"gnss-bridge/internal/model"
	"gnss-bridge/internal/timeutil"
)

var (
	_ decoder.Sink = (*Device)(nil)
	_ Decoder      = (*decoder.Decoder)(nil)
)

// The methods below implement decoder.Sink. They run on the stream reader
// goroutine.

// SetTimestamp stamps the in-progress fix. A time of day different from the
// open epoch's starts a new epoch, closing the previous one first. The same
// time of day with another date (a host-dated GGA followed by its RMC) stays
// in the epoch and takes the later date.
func (d *Device) SetTimestamp(ms int64) {
	d.fixMu.Lock()
	var out *model.Location
	if d.ep.timed && timeutil.TimeOfDay(ms) != timeutil.TimeOfDay(d.fixTimestamp) {
		if !d.ep.closed {
			out = d.closeEpochLocked()
		}
		if len(d.epoch) == 0 && d.ep.lastTimed != "" {
			d.ep.learnedEnd = d.ep.lastTimed
		}
		d.ep.closed = false
	}
	d.ep.timed = true
	d.ep.stamped = true
	d.fixTimestamp = ms
	d.fix.SetTimestamp(ms)
	d.fixMu.Unlock()

	if out != nil {
		d.publishFix(*out)
	}
}

func (d *Device) SetLocation(latitude, longitude float64) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.SetLocation(latitude, longitude)
}

func (d *Device) SetAltitude(meters float64) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.SetAltitude(meters)
}

func (d *Device) SetSpeed(mps float32) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.SetSpeed(mps)
}

func (d *Device) SetBearing(deg float32) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.SetBearing(deg)
}

func (d *Device) SetAccuracy(meters float32) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.SetAccuracy(meters)
}

func (d *Device) InvalidateLocation() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateLocation()
}

func (d *Device) InvalidateAltitude() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateAltitude()
}

func (d *Device) InvalidateSpeed() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateSpeed()
}

func (d *Device) InvalidateBearing() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateBearing()
}

func (d *Device) InvalidateAccuracy() {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.fix.InvalidateAccuracy()
}

// EmitNmea forwards a sentence upstream immediately, stamped with the
// current fix time (or the clock when no fix time is known yet).
func (d *Device) EmitNmea(msg model.NmeaMessage) {
	d.fixMu.Lock()
	ts := d.fixTimestamp
	d.fixMu.Unlock()
	if ts == 0 {
		ts = d.clock.Now()
	}
	d.nmeaCount.Add(1)
	d.bus.Upstream.NmeaReceived.Publish(bus.NmeaReceived{Timestamp: ts, Message: msg})
}

// SentenceDone closes the epoch early when sentenceType is the one that ends
// it: a configured epoch sentence, or else the last time-bearing type of the
// previous complete epoch.
func (d *Device) SentenceDone(sentenceType string) {
	d.fixMu.Lock()
	if d.ep.stamped {
		d.ep.lastTimed = sentenceType
		d.ep.stamped = false
	}
	end := d.epoch[sentenceType]
	if len(d.epoch) == 0 {
		end = d.ep.learnedEnd != "" && sentenceType == d.ep.learnedEnd
	}
	var out *model.Location
	if end && (!d.ep.closed || !d.ep.timed) {
		out = d.closeEpochLocked()
	}
	d.fixMu.Unlock()

	if out != nil {
		d.publishFix(*out)
	}
}

func (d *Device) SetSatellitesUsed(ids []model.SatIdentifier) {
	d.fixMu.Lock()
	defer d.fixMu.Unlock()
	d.sats.markUsed(ids)
}

func (d *Device) SatellitesInView(talker string, part, total int, sats []model.SatInfo) {
	d.fixMu.Lock()
	list, ok := d.sats.addView(talker, part, total, sats)
	d.fixMu.Unlock()
	if !ok {
		return
	}
	d.satUpdates.Add(1)
	d.publishSatellites(list)
}

func (d *Device) publishSatellites(list model.SatelliteList) {
	observeSatellites(list)
	d.bus.Upstream.SatelliteList.Publish(bus.SatelliteListUpdate{Satellites: list})
}
