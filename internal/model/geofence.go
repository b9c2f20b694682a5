package model

import (
	"math"
	"time"
)

// Geofence shapes exchanged with the external geofencing engine. The bridge
// only routes them; transitions are evaluated elsewhere.

type GeofenceID int32

type Transition int

const (
	TransitionEntered   Transition = 1 << 0
	TransitionExited    Transition = 1 << 1
	TransitionUncertain Transition = 1 << 2
)

func (t Transition) String() string {
	switch t {
	case TransitionEntered:
		return "entered"
	case TransitionExited:
		return "exited"
	case TransitionUncertain:
		return "uncertain"
	default:
		return "unknown"
	}
}

// TransitionFlags is a bitmask of Transition values to monitor.
type TransitionFlags int

const allTransitions = TransitionFlags(TransitionEntered | TransitionExited | TransitionUncertain)

// TransitionFlagsValid reports whether flags names at least one known
// transition and nothing else.
func TransitionFlagsValid(flags TransitionFlags) bool {
	return flags != 0 && flags&^allTransitions == 0
}

type GeofenceSystemStatus int

const (
	GeofenceUnavailable GeofenceSystemStatus = 1 << 0
	GeofenceAvailable   GeofenceSystemStatus = 1 << 1
)

type OperationStatus int

const (
	OperationSuccess           OperationStatus = 0
	OperationTooManyGeofences  OperationStatus = -100
	OperationIDExists          OperationStatus = -101
	OperationIDUnknown         OperationStatus = -102
	OperationInvalidTransition OperationStatus = -103
	OperationGeneric           OperationStatus = -149
)

func (s OperationStatus) String() string {
	switch s {
	case OperationSuccess:
		return "success"
	case OperationTooManyGeofences:
		return "too_many_geofences"
	case OperationIDExists:
		return "id_exists"
	case OperationIDUnknown:
		return "id_unknown"
	case OperationInvalidTransition:
		return "invalid_transition"
	default:
		return "generic_error"
	}
}

const earthRadiusM = 6371000.0

type Point struct {
	Latitude  float64 `json:"lat_deg" yaml:"lat_deg"`
	Longitude float64 `json:"lon_deg" yaml:"lon_deg"`
}

func PointFromLocation(l Location) Point {
	return Point{Latitude: l.Latitude(), Longitude: l.Longitude()}
}

// DistanceFrom is the great-circle (haversine) distance in meters.
func (p Point) DistanceFrom(o Point) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := o.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

type GeofenceDefinition struct {
	ID                         GeofenceID      `json:"id"`
	Origin                     Point           `json:"origin"`
	Radius                     float64         `json:"radius_m"`
	LastTransition             Transition      `json:"last_transition"`
	MonitorTransitions         TransitionFlags `json:"monitor_transitions"`
	NotificationResponsiveness time.Duration   `json:"notification_responsiveness"`
	UnknownTime                time.Duration   `json:"unknown_time"`
}
