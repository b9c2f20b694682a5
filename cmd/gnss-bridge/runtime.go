package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/config"
	"gnss-bridge/internal/decoder"
	"gnss-bridge/internal/device"
	"gnss-bridge/internal/geofence"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/model"
	"gnss-bridge/internal/mqttpub"
	"gnss-bridge/internal/platform"
	"gnss-bridge/internal/replay"
	"gnss-bridge/internal/sim"
	"gnss-bridge/internal/stream"
	"gnss-bridge/internal/timeutil"
	"gnss-bridge/internal/udp"
	"gnss-bridge/internal/web"
)

// bridge owns every component of a running gnss-bridge and the order in
// which they are wired, started and torn down.
type bridge struct {
	cfg config.Config
	log *slog.Logger

	bus       *bus.Bus
	clock     *timeutil.Clock
	device    *device.Device
	decoder   *decoder.Decoder
	stream    *stream.Stream
	host      *platform.Host
	geofences *geofence.Registry

	status *web.Status
	nmea   *web.NmeaTail
	feed   *web.Broadcaster

	recorder *replay.Writer
	udp      *udp.Forwarder
	mqtt     *mqttpub.Publisher
}

func newBridge(cfg config.Config, log *slog.Logger) (*bridge, error) {
	if log == nil {
		log = logging.Discard()
	}
	r := &bridge{
		cfg:    cfg,
		log:    log,
		bus:    bus.New(),
		clock:  timeutil.NewClock(),
		status: web.NewStatus(),
		nmea:   web.NewNmeaTail(cfg.Web.NmeaTail),
		feed:   web.NewBroadcaster(),
	}

	s, err := buildStream(cfg.Stream, log)
	if err != nil {
		return nil, err
	}
	r.stream = s

	r.device = device.New(r.bus, device.Config{
		EpochSentences: cfg.Device.EpochSentences,
		Capabilities:   cfg.Device.CapabilityMask(),
		YearOfHardware: cfg.Device.YearOfHardware,
		Clock:          r.clock,
		Logger:         log,
	})
	r.decoder = decoder.New(r.device, decoder.Config{
		MaxSentenceBytes:   cfg.Decoder.MaxSentenceBytes,
		HDOPAccuracyFactor: cfg.Decoder.HDOPAccuracyFactor,
		Clock:              r.clock,
		Logger:             log,
	})
	if err := r.device.Wire(r.stream, r.decoder); err != nil {
		return nil, fmt.Errorf("wire device: %w", err)
	}

	r.host = platform.New(r.bus, log)
	r.geofences = geofence.New(r.bus, cfg.Geofence.Max, log)

	r.status.Device = r.device
	r.status.Stream = r.stream
	r.status.Decoder = r.decoder
	r.status.Platform = r.host

	outputs := map[string]any{}
	if cfg.Stream.Record.Enable {
		w, err := replay.CreateWriter(cfg.Stream.Record.Path)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		r.recorder = w
		outputs["record"] = cfg.Stream.Record.Path
	}
	if len(cfg.UDP.Dests) > 0 {
		f, err := udp.New(cfg.UDP.Dests, log)
		if err != nil {
			r.closeOutputs()
			return nil, err
		}
		r.udp = f
		outputs["udp"] = cfg.UDP.Dests
	}
	if cfg.MQTT.Enable {
		p, err := mqttpub.New(mqttpub.Config{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Prefix:    cfg.MQTT.Prefix,
			QoS:       cfg.MQTT.QoS,
			Heartbeat: cfg.MQTT.Heartbeat,
			HeartbeatPayload: func() any {
				return r.status.Snapshot(time.Now().UTC())
			},
			Logger: log,
		}, r.bus)
		if err != nil {
			r.closeOutputs()
			return nil, err
		}
		r.mqtt = p
		outputs["mqtt"] = map[string]string{"broker": cfg.MQTT.Broker, "prefix": cfg.MQTT.Prefix}
	}
	r.status.SetOutputs(outputs)
	return r, nil
}

func buildStream(cfg config.StreamConfig, log *slog.Logger) (*stream.Stream, error) {
	opts := stream.Options{
		ReadSize:       cfg.ReadSize,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         log,
	}
	switch cfg.Source {
	case config.SourceSerial:
		return stream.NewSerial(stream.SerialConfig{
			Device:     cfg.Serial.Device,
			Baud:       cfg.Serial.Baud,
			WakeupGPIO: cfg.Serial.WakeupGPIO,
			Options:    opts,
		}), nil
	case config.SourceTCP:
		return stream.NewTCP(stream.TCPConfig{
			Addr:        cfg.TCP.Addr,
			DialTimeout: cfg.TCP.DialTimeout,
			Options:     opts,
		})
	case config.SourceGPSD:
		return stream.NewGPSD(stream.GPSDConfig{
			Addr:        cfg.GPSD.Addr,
			Device:      cfg.GPSD.Device,
			DialTimeout: cfg.GPSD.DialTimeout,
			Options:     opts,
		}), nil
	case config.SourceReplay:
		return stream.NewReplay(stream.ReplayConfig{
			Path:    cfg.Replay.Path,
			Speed:   cfg.Replay.Speed,
			Loop:    cfg.Replay.Loop,
			Options: opts,
		}), nil
	case config.SourceSim:
		return stream.NewSim(stream.SimConfig{
			Receiver: sim.Receiver{
				CenterLatDeg: cfg.Sim.CenterLatDeg,
				CenterLonDeg: cfg.Sim.CenterLonDeg,
				AltMeters:    cfg.Sim.AltMeters,
				RadiusM:      cfg.Sim.RadiusM,
				Period:       cfg.Sim.Period,
				Satellites:   cfg.Sim.Satellites,
			},
			Interval: cfg.Sim.Interval,
			Options:  opts,
		}), nil
	default:
		return nil, fmt.Errorf("unknown stream source %q", cfg.Source)
	}
}

// start attaches every component to the bus, announces the engine and,
// when configured, starts navigating. A failed autostart is logged; the
// bridge keeps serving so the session can be started later.
func (r *bridge) start(ctx context.Context) error {
	r.host.Attach()
	r.geofences.Attach()
	if err := r.device.Attach(); err != nil {
		return err
	}
	r.nmea.Attach(r.bus)
	r.feed.Attach(r.bus)
	if r.recorder != nil {
		r.recorder.Record(r.stream.NewBytes())
	}
	if r.udp != nil {
		r.udp.Attach(r.bus)
	}
	if r.mqtt != nil {
		if err := r.mqtt.Start(ctx); err != nil {
			return err
		}
	}

	for _, g := range r.cfg.Geofence.Initial {
		if st := r.geofences.Add(g.Definition()); st != model.OperationSuccess {
			r.log.Warn("initial geofence rejected", "id", g.ID, "status", st.String())
		}
	}

	r.bus.GPS.Init.Publish(bus.Empty{})
	if r.cfg.Autostart {
		if code := r.bus.GPS.Start.Publish(bus.Empty{}); code != device.CodeOK {
			r.log.Warn("autostart failed", "code", code)
		}
	}
	return nil
}

func (r *bridge) handler(logs *web.LogBuffer) http.Handler {
	return web.Handler(web.Deps{
		Bus:       r.bus,
		Status:    r.status,
		Geofences: r.geofences,
		Logs:      logs,
		Nmea:      r.nmea,
		Feed:      r.feed,
		Config:    r.cfg.Redacted(),
		Logger:    r.log,
	})
}

// Close ends any session, detaches adapters and releases the transport.
func (r *bridge) Close() error {
	r.bus.GPS.Cleanup.Publish(bus.Empty{})

	var errs []error
	r.feed.Detach()
	r.device.Detach()
	r.geofences.Detach()
	r.host.Detach()
	if err := r.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.closeOutputs(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *bridge) closeOutputs() error {
	var errs []error
	if r.mqtt != nil {
		if err := r.mqtt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
		r.mqtt = nil
	}
	if r.udp != nil {
		if err := r.udp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("udp: %w", err))
		}
		r.udp = nil
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
		r.recorder = nil
	}
	return errors.Join(errs...)
}
