package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/model"
)

const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
	SourceGPSD   = "gpsd"
	SourceReplay = "replay"
	SourceSim    = "sim"
)

type Config struct {
	Log       LogConfig      `yaml:"log"`
	Device    DeviceConfig   `yaml:"device"`
	Decoder   DecoderConfig  `yaml:"decoder"`
	Stream    StreamConfig   `yaml:"stream"`
	Web       WebConfig      `yaml:"web"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	UDP       UDPConfig      `yaml:"udp"`
	Geofence  GeofenceConfig `yaml:"geofence"`
	Autostart bool           `yaml:"autostart"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// BufferLines is the size of the in-memory log served on /api/logs.
	BufferLines int `yaml:"buffer_lines"`
}

type DeviceConfig struct {
	// EpochSentences close an epoch as soon as they are decoded.
	EpochSentences []string `yaml:"epoch_sentences"`
	Capabilities   []string `yaml:"capabilities"`
	YearOfHardware uint16   `yaml:"year_of_hardware"`
}

type DecoderConfig struct {
	MaxSentenceBytes   int     `yaml:"max_sentence_bytes"`
	HDOPAccuracyFactor float64 `yaml:"hdop_accuracy_factor"`
}

type StreamConfig struct {
	Source         string        `yaml:"source"`
	ReadSize       int           `yaml:"read_size"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	Serial SerialConfig `yaml:"serial"`
	TCP    TCPConfig    `yaml:"tcp"`
	GPSD   GPSDConfig   `yaml:"gpsd"`
	Replay ReplayConfig `yaml:"replay"`
	Sim    SimConfig    `yaml:"sim"`
	Record RecordConfig `yaml:"record"`
}

type SerialConfig struct {
	Device     string `yaml:"device"`
	Baud       int    `yaml:"baud"`
	WakeupGPIO int    `yaml:"wakeup_gpio"`
}

type TCPConfig struct {
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type GPSDConfig struct {
	Addr        string        `yaml:"addr"`
	Device      string        `yaml:"device"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	AltMeters    float64       `yaml:"alt_m"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	Satellites   int           `yaml:"satellites"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable   bool   `yaml:"enable"`
	Listen   string `yaml:"listen"`
	NmeaTail int    `yaml:"nmea_tail"`
}

type MQTTConfig struct {
	Enable    bool          `yaml:"enable"`
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	Prefix    string        `yaml:"prefix"`
	QoS       byte          `yaml:"qos"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type UDPConfig struct {
	Dests []string `yaml:"dests"`
}

type GeofenceConfig struct {
	Max     int           `yaml:"max"`
	Initial []GeofenceDef `yaml:"initial"`
}

type GeofenceDef struct {
	ID                         int32         `yaml:"id"`
	LatDeg                     float64       `yaml:"lat_deg"`
	LonDeg                     float64       `yaml:"lon_deg"`
	RadiusM                    float64       `yaml:"radius_m"`
	Transitions                []string      `yaml:"transitions"`
	NotificationResponsiveness time.Duration `yaml:"notification_responsiveness"`
	UnknownTime                time.Duration `yaml:"unknown_time"`
}

var transitionNames = map[string]model.TransitionFlags{
	"entered":   model.TransitionFlags(model.TransitionEntered),
	"exited":    model.TransitionFlags(model.TransitionExited),
	"uncertain": model.TransitionFlags(model.TransitionUncertain),
}

// Definition converts the YAML form into a registry definition.
func (g GeofenceDef) Definition() model.GeofenceDefinition {
	var flags model.TransitionFlags
	for _, name := range g.Transitions {
		flags |= transitionNames[strings.ToLower(strings.TrimSpace(name))]
	}
	return model.GeofenceDefinition{
		ID:                         model.GeofenceID(g.ID),
		Origin:                     model.Point{Latitude: g.LatDeg, Longitude: g.LonDeg},
		Radius:                     g.RadiusM,
		LastTransition:             model.TransitionUncertain,
		MonitorTransitions:         flags,
		NotificationResponsiveness: g.NotificationResponsiveness,
		UnknownTime:                g.UnknownTime,
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse applies defaults to the YAML document and validates the result.
func Parse(b []byte) (Config, error) {
	cfg := Config{Web: WebConfig{Enable: true}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return Config{}, fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 2000
	}

	// An empty list lets the device learn the epoch-closing sentence.
	for i, s := range cfg.Device.EpochSentences {
		cfg.Device.EpochSentences[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for _, c := range cfg.Device.Capabilities {
		if _, ok := capabilityBits[strings.ToLower(c)]; !ok {
			return Config{}, fmt.Errorf("device.capabilities: unknown capability %q", c)
		}
	}

	if cfg.Decoder.MaxSentenceBytes < 0 {
		return Config{}, fmt.Errorf("decoder.max_sentence_bytes must be >= 0")
	}
	if cfg.Decoder.HDOPAccuracyFactor < 0 {
		return Config{}, fmt.Errorf("decoder.hdop_accuracy_factor must be >= 0")
	}

	if err := cfg.Stream.applyDefaults(); err != nil {
		return Config{}, err
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.NmeaTail <= 0 {
		cfg.Web.NmeaTail = 500
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return Config{}, fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.QoS > 2 {
			return Config{}, fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "gnss-bridge"
	}
	cfg.MQTT.Prefix = strings.TrimRight(cfg.MQTT.Prefix, "/")
	if cfg.MQTT.Heartbeat <= 0 {
		cfg.MQTT.Heartbeat = 30 * time.Second
	}

	for _, d := range cfg.UDP.Dests {
		if _, _, err := net.SplitHostPort(d); err != nil {
			return Config{}, fmt.Errorf("udp.dests: %q: %w", d, err)
		}
	}

	if cfg.Geofence.Max <= 0 {
		cfg.Geofence.Max = 100
	}
	if len(cfg.Geofence.Initial) > cfg.Geofence.Max {
		return Config{}, fmt.Errorf("geofence.initial has %d entries, max is %d", len(cfg.Geofence.Initial), cfg.Geofence.Max)
	}
	seen := map[int32]bool{}
	for _, g := range cfg.Geofence.Initial {
		if seen[g.ID] {
			return Config{}, fmt.Errorf("geofence.initial: duplicate id %d", g.ID)
		}
		seen[g.ID] = true
		for _, name := range g.Transitions {
			if _, ok := transitionNames[strings.ToLower(strings.TrimSpace(name))]; !ok {
				return Config{}, fmt.Errorf("geofence.initial[%d]: unknown transition %q", g.ID, name)
			}
		}
	}

	return cfg, nil
}

func (s *StreamConfig) applyDefaults() error {
	if s.Source == "" {
		s.Source = SourceSerial
	}
	s.Source = strings.ToLower(s.Source)
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = 2 * time.Second
	}

	switch s.Source {
	case SourceSerial:
		if s.Serial.Baud == 0 {
			s.Serial.Baud = 9600
		}
		if s.Serial.Baud < 0 {
			return fmt.Errorf("stream.serial.baud must be > 0")
		}
		if s.Serial.WakeupGPIO < 0 {
			return fmt.Errorf("stream.serial.wakeup_gpio must be >= 0")
		}
	case SourceTCP:
		if s.TCP.Addr == "" {
			return fmt.Errorf("stream.tcp.addr is required when stream.source is tcp")
		}
	case SourceGPSD:
		if s.GPSD.Addr == "" {
			s.GPSD.Addr = "127.0.0.1:2947"
		}
	case SourceReplay:
		if s.Replay.Path == "" {
			return fmt.Errorf("stream.replay.path is required when stream.source is replay")
		}
		if s.Replay.Speed == 0 {
			s.Replay.Speed = 1
		}
		if s.Replay.Speed < 0 {
			return fmt.Errorf("stream.replay.speed must be > 0")
		}
	case SourceSim:
		if s.Sim.CenterLatDeg < -90 || s.Sim.CenterLatDeg > 90 {
			return fmt.Errorf("stream.sim.center_lat_deg must be within [-90,90]")
		}
		if s.Sim.CenterLonDeg < -180 || s.Sim.CenterLonDeg > 180 {
			return fmt.Errorf("stream.sim.center_lon_deg must be within [-180,180]")
		}
		if s.Sim.Interval <= 0 {
			s.Sim.Interval = time.Second
		}
	default:
		return fmt.Errorf("stream.source must be one of serial, tcp, gpsd, replay, sim (got %q)", s.Source)
	}

	if s.Record.Enable {
		if s.Source == SourceReplay {
			return fmt.Errorf("stream.record cannot be used with stream.source=replay")
		}
		if s.Record.Path == "" {
			return fmt.Errorf("stream.record.path is required when stream.record.enable is true")
		}
	}
	return nil
}

var capabilityBits = map[string]uint32{
	"scheduling":     bus.CapabilityScheduling,
	"msb":            bus.CapabilityMSB,
	"msa":            bus.CapabilityMSA,
	"single_shot":    bus.CapabilitySingleShot,
	"on_demand_time": bus.CapabilityOnDemandTime,
	"geofencing":     bus.CapabilityGeofencing,
	"measurements":   bus.CapabilityMeasurements,
	"nav_messages":   bus.CapabilityNavMessages,
}

// CapabilityMask returns the capability bits announced on Init.
func (d DeviceConfig) CapabilityMask() uint32 {
	var mask uint32
	for _, c := range d.Capabilities {
		mask |= capabilityBits[strings.ToLower(c)]
	}
	return mask
}

// Redacted returns a copy safe to serve over HTTP.
func (c Config) Redacted() Config {
	out := c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "REDACTED"
	}
	return out
}
