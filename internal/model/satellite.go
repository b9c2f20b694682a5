package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Constellation int

const (
	ConstellationUnknown Constellation = iota
	ConstellationGPS
	ConstellationSBAS
	ConstellationGLONASS
	ConstellationGalileo
	ConstellationBeiDou
	ConstellationQZSS
)

func (c Constellation) String() string {
	switch c {
	case ConstellationGPS:
		return "GPS"
	case ConstellationSBAS:
		return "SBAS"
	case ConstellationGLONASS:
		return "GLONASS"
	case ConstellationGalileo:
		return "Galileo"
	case ConstellationBeiDou:
		return "BeiDou"
	case ConstellationQZSS:
		return "QZSS"
	default:
		return "Unknown"
	}
}

func (c Constellation) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Constellation) UnmarshalText(b []byte) error {
	for k := ConstellationUnknown; k <= ConstellationQZSS; k++ {
		if strings.EqualFold(k.String(), string(b)) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown constellation %q", b)
}

// ConstellationFor maps an NMEA talker ID and satellite number to a
// constellation. Single-system talkers win; GP and GN fall back to the NMEA
// 0183 v4 PRN ranges since receivers report SBAS and mixed systems there.
func ConstellationFor(talker string, prn int) Constellation {
	switch strings.ToUpper(talker) {
	case "GL":
		return ConstellationGLONASS
	case "GA":
		return ConstellationGalileo
	case "GB", "BD":
		return ConstellationBeiDou
	case "GQ":
		return ConstellationQZSS
	}
	switch {
	case prn >= 1 && prn <= 32:
		return ConstellationGPS
	case prn >= 33 && prn <= 64:
		return ConstellationSBAS
	case prn >= 65 && prn <= 96:
		return ConstellationGLONASS
	case prn >= 193 && prn <= 200:
		return ConstellationQZSS
	case prn >= 201 && prn <= 263:
		return ConstellationBeiDou
	case prn >= 301 && prn <= 336:
		return ConstellationGalileo
	default:
		return ConstellationUnknown
	}
}

// ConstellationForSystemID maps an NMEA 4.10 GNSS system ID to a
// constellation. GPS GSA sentences also carry SBAS PRNs, so system 1 is
// split by PRN range. ok is false for an absent or unknown ID.
func ConstellationForSystemID(systemID, prn int) (c Constellation, ok bool) {
	switch systemID {
	case 1:
		return ConstellationFor("GP", prn), true
	case 2:
		return ConstellationGLONASS, true
	case 3:
		return ConstellationGalileo, true
	case 4:
		return ConstellationBeiDou, true
	case 5:
		return ConstellationQZSS, true
	}
	return ConstellationUnknown, false
}

// SatIdentifier keys a satellite by constellation and PRN/SVID.
type SatIdentifier struct {
	Constellation Constellation `json:"constellation"`
	PRN           int           `json:"prn"`
}

func (id SatIdentifier) String() string {
	return fmt.Sprintf("%s-%d", id.Constellation, id.PRN)
}

type SatInfo struct {
	ID        SatIdentifier `json:"id"`
	Elevation float32       `json:"elevation_deg"`
	Azimuth   float32       `json:"azimuth_deg"`
	SNR       float32       `json:"snr_dbhz"`
	UsedInFix bool          `json:"used_in_fix"`
}

// SatelliteList is the current visible-satellite set. Updates replace it
// wholesale.
type SatelliteList map[SatIdentifier]SatInfo

func (s SatelliteList) Clone() SatelliteList {
	out := make(SatelliteList, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Sorted returns the satellites ordered by constellation then PRN.
func (s SatelliteList) Sorted() []SatInfo {
	out := make([]SatInfo, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Constellation != out[j].ID.Constellation {
			return out[i].ID.Constellation < out[j].ID.Constellation
		}
		return out[i].ID.PRN < out[j].ID.PRN
	})
	return out
}

// UsedCount is the number of satellites flagged as used in the fix.
func (s SatelliteList) UsedCount() int {
	n := 0
	for _, v := range s {
		if v.UsedInFix {
			n++
		}
	}
	return n
}

func (s SatelliteList) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *SatelliteList) UnmarshalJSON(b []byte) error {
	var in []SatInfo
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	out := make(SatelliteList, len(in))
	for _, v := range in {
		out[v.ID] = v
	}
	*s = out
	return nil
}
