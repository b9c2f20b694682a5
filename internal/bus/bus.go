package bus

// GPS groups the navigation channels the host drives.
type GPS struct {
	Init             *Channel[Empty]
	Start            *StatusChannel[Empty]
	Stop             *StatusChannel[Empty]
	Cleanup          *Channel[Empty]
	InjectTime       *StatusChannel[InjectTime]
	InjectLocation   *StatusChannel[InjectLocation]
	DeleteAidingData *Channel[DeleteAidingData]
	SetPositionMode  *StatusChannel[SetPositionMode]
}

// Upstream groups the callbacks the core emits towards the host.
type Upstream struct {
	NmeaReceived    *Channel[NmeaReceived]
	LocationUpdate  *Channel[LocationUpdate]
	SatelliteList   *Channel[SatelliteListUpdate]
	Capabilities    *Channel[Capabilities]
	StatusUpdate    *Channel[StatusUpdate]
	SystemInfo      *Channel[SystemInfo]
	AcquireWakelock *Channel[Empty]
	ReleaseWakelock *Channel[Empty]
	RequestUtcTime  *Channel[Empty]
}

// Geofencing carries requests to and answers from the geofencing engine.
type Geofencing struct {
	AddGeofenceArea    *Channel[AddGeofenceArea]
	PauseGeofence      *Channel[GeofenceRef]
	ResumeGeofence     *Channel[ResumeGeofence]
	RemoveGeofenceArea *Channel[GeofenceRef]

	Transition   *Channel[GeofenceTransition]
	Status       *Channel[GeofenceStatus]
	AddAnswer    *Channel[GeofenceAnswer]
	RemoveAnswer *Channel[GeofenceAnswer]
	PauseAnswer  *Channel[GeofenceAnswer]
	ResumeAnswer *Channel[GeofenceAnswer]
}

// Bus is the set of named channels shared by one bridge instance. Create it
// with New and hand it to every component.
type Bus struct {
	GPS        GPS
	Upstream   Upstream
	Geofencing Geofencing
}

func New() *Bus {
	return &Bus{
		GPS: GPS{
			Init:             NewChannel[Empty]("gps.init"),
			Start:            NewStatusChannel[Empty]("gps.start"),
			Stop:             NewStatusChannel[Empty]("gps.stop"),
			Cleanup:          NewChannel[Empty]("gps.cleanup"),
			InjectTime:       NewStatusChannel[InjectTime]("gps.inject_time"),
			InjectLocation:   NewStatusChannel[InjectLocation]("gps.inject_location"),
			DeleteAidingData: NewChannel[DeleteAidingData]("gps.delete_aiding_data"),
			SetPositionMode:  NewStatusChannel[SetPositionMode]("gps.set_position_mode"),
		},
		Upstream: Upstream{
			NmeaReceived:    NewChannel[NmeaReceived]("upstream.nmea"),
			LocationUpdate:  NewChannel[LocationUpdate]("upstream.location"),
			SatelliteList:   NewChannel[SatelliteListUpdate]("upstream.satellites"),
			Capabilities:    NewChannel[Capabilities]("upstream.capabilities"),
			StatusUpdate:    NewChannel[StatusUpdate]("upstream.status"),
			SystemInfo:      NewChannel[SystemInfo]("upstream.system_info"),
			AcquireWakelock: NewChannel[Empty]("upstream.acquire_wakelock"),
			ReleaseWakelock: NewChannel[Empty]("upstream.release_wakelock"),
			RequestUtcTime:  NewChannel[Empty]("upstream.request_utc_time"),
		},
		Geofencing: Geofencing{
			AddGeofenceArea:    NewChannel[AddGeofenceArea]("geofencing.add"),
			PauseGeofence:      NewChannel[GeofenceRef]("geofencing.pause"),
			ResumeGeofence:     NewChannel[ResumeGeofence]("geofencing.resume"),
			RemoveGeofenceArea: NewChannel[GeofenceRef]("geofencing.remove"),
			Transition:         NewChannel[GeofenceTransition]("geofencing.transition"),
			Status:             NewChannel[GeofenceStatus]("geofencing.status"),
			AddAnswer:          NewChannel[GeofenceAnswer]("geofencing.add_answer"),
			RemoveAnswer:       NewChannel[GeofenceAnswer]("geofencing.remove_answer"),
			PauseAnswer:        NewChannel[GeofenceAnswer]("geofencing.pause_answer"),
			ResumeAnswer:       NewChannel[GeofenceAnswer]("geofencing.resume_answer"),
		},
	}
}
