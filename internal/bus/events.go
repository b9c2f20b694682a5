package bus

import (
	"time"

	"gnss-bridge/internal/model"
)

// Empty is the payload of channels that carry no arguments.
type Empty struct{}

type InjectTime struct {
	Time        int64 // UTC epoch milliseconds
	Reference   int64 // host elapsed-realtime reference, milliseconds
	Uncertainty int
}

type InjectLocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float32
}

type DeleteAidingData struct {
	Flags uint16
}

type PositionMode int

const (
	PositionModeStandalone PositionMode = 0
	PositionModeMSBased    PositionMode = 1
	PositionModeMSAssisted PositionMode = 2
)

type PositionRecurrence int

const (
	RecurrencePeriodic PositionRecurrence = 0
	RecurrenceSingle   PositionRecurrence = 1
)

type SetPositionMode struct {
	Mode              PositionMode
	Recurrence        PositionRecurrence
	MinInterval       time.Duration
	PreferredAccuracy uint32 // meters
	PreferredTime     time.Duration
}

type NmeaReceived struct {
	Timestamp int64
	Message   model.NmeaMessage
}

type LocationUpdate struct {
	Location model.Location
}

type SatelliteListUpdate struct {
	Satellites model.SatelliteList
}

// Capability bits reported to the host.
const (
	CapabilityScheduling   uint32 = 1 << 0
	CapabilityMSB          uint32 = 1 << 1
	CapabilityMSA          uint32 = 1 << 2
	CapabilitySingleShot   uint32 = 1 << 3
	CapabilityOnDemandTime uint32 = 1 << 4
	CapabilityGeofencing   uint32 = 1 << 5
	CapabilityMeasurements uint32 = 1 << 6
	CapabilityNavMessages  uint32 = 1 << 7
)

type Capabilities struct {
	Mask uint32
}

type Status int

const (
	StatusNone         Status = 0
	StatusSessionBegin Status = 1
	StatusSessionEnd   Status = 2
	StatusEngineOn     Status = 3
	StatusEngineOff    Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusSessionBegin:
		return "session_begin"
	case StatusSessionEnd:
		return "session_end"
	case StatusEngineOn:
		return "engine_on"
	case StatusEngineOff:
		return "engine_off"
	default:
		return "none"
	}
}

type StatusUpdate struct {
	Status Status
}

type SystemInfo struct {
	YearOfHardware uint16
}

type AddGeofenceArea struct {
	Definition model.GeofenceDefinition
}

type GeofenceRef struct {
	ID model.GeofenceID
}

type ResumeGeofence struct {
	ID          model.GeofenceID
	Transitions model.TransitionFlags
}

type GeofenceTransition struct {
	ID         model.GeofenceID
	Location   model.Location
	Transition model.Transition
	Timestamp  int64
}

type GeofenceStatus struct {
	Status       model.GeofenceSystemStatus
	LastLocation model.Location
}

type GeofenceAnswer struct {
	ID     model.GeofenceID
	Status model.OperationStatus
}
