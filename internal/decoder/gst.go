package decoder

import (
	nmea "github.com/adrianmo/go-nmea"
)

// TypeGST is the GNSS pseudorange error statistics sentence.
const TypeGST = "GST"

// GST carries the receiver's 1-sigma position error estimates.
//
// Format: $--GST,hhmmss.ss,x.x,x.x,x.x,x.x,x.x,x.x,x.x*hh
// Example: $GPGST,172814.0,0.006,0.023,0.020,273.6,0.023,0.020,0.031*6A
type GST struct {
	nmea.BaseSentence
	Time             nmea.Time
	RangeRMS         nmea.Float64
	SemiMajorError   nmea.Float64
	SemiMinorError   nmea.Float64
	SemiMajorHeading nmea.Float64
	LatitudeError    nmea.Float64
	LongitudeError   nmea.Float64
	AltitudeError    nmea.Float64
}

func newGST(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeGST)
	m := GST{
		BaseSentence:     s,
		Time:             p.Time(0, "time"),
		RangeRMS:         p.NullFloat64(1, "range rms"),
		SemiMajorError:   p.NullFloat64(2, "semi-major error"),
		SemiMinorError:   p.NullFloat64(3, "semi-minor error"),
		SemiMajorHeading: p.NullFloat64(4, "semi-major heading"),
		LatitudeError:    p.NullFloat64(5, "latitude error"),
		LongitudeError:   p.NullFloat64(6, "longitude error"),
	}
	if len(s.Fields) > 7 {
		m.AltitudeError = p.NullFloat64(7, "altitude error")
	}
	return m, p.Err()
}

func init() {
	nmea.MustRegisterParser(TypeGST, newGST)
}
