// Package mqttpub mirrors the bridge's upstream events onto an MQTT broker
// and accepts start/stop commands from it.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/timeutil"
)

const connectTimeout = 10 * time.Second

// Topic suffixes under Config.Prefix.
const (
	TopicOnline     = "online"
	TopicLocation   = "location"
	TopicSatellites = "satellites"
	TopicNmea       = "nmea"
	TopicStatus     = "status"
	TopicHeartbeat  = "heartbeat"
	TopicCommand    = "cmd"
	TopicCmdResult  = "cmd/result"
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string
	QoS      byte

	// Heartbeat is the interval of the heartbeat job; HeartbeatPayload
	// supplies its body. Zero disables the job.
	Heartbeat        time.Duration
	HeartbeatPayload func() any

	Logger *slog.Logger
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	cfg    Config
	log    *slog.Logger
	bus    *bus.Bus
	client client
	sched  gocron.Scheduler

	mu      sync.Mutex
	handles []bus.Handle

	published atomic.Uint64
	failed    atomic.Uint64
	commands  atomic.Uint64
}

type Stats struct {
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
	Prefix    string `json:"prefix"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Commands  uint64 `json:"commands"`
}

type commandResult struct {
	Action string `json:"action"`
	Code   int    `json:"code"`
	OK     bool   `json:"ok"`
}

// New builds a publisher backed by a paho client. The broker connection is
// made by Start.
func New(cfg Config, b *bus.Bus) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gnss-bridge-" + uuid.NewString()
	}
	p, err := newPublisher(cfg, b, nil)
	if err != nil {
		return nil, err
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetWill(p.topic(TopicOnline), "false", cfg.QoS, true).
		SetOnConnectHandler(func(mqtt.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn("broker connection lost", logging.Err(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	p.client = mqtt.NewClient(opts)
	return p, nil
}

func newPublisher(cfg Config, b *bus.Bus, c client) (*Publisher, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "gnss-bridge"
	}
	cfg.Prefix = strings.TrimRight(cfg.Prefix, "/")
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Publisher{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "mqtt", "broker", cfg.Broker),
		bus:    b,
		client: c,
		sched:  sched,
	}, nil
}

func (p *Publisher) topic(suffix string) string {
	return p.cfg.Prefix + "/" + suffix
}

// Start connects, subscribes to upstream events and starts the heartbeat
// job. With connect-retry enabled a broker that is down does not fail Start;
// the client keeps retrying in the background.
func (p *Publisher) Start(ctx context.Context) error {
	t := p.client.Connect()
	if !t.WaitTimeout(connectTimeout) {
		p.log.Warn("broker not reachable yet, retrying in background")
	} else if err := t.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	up := p.bus.Upstream
	hs := []bus.Handle{
		up.LocationUpdate.Subscribe(func(v bus.LocationUpdate) {
			p.publishJSON(TopicLocation, true, v.Location)
		}),
		up.SatelliteList.Subscribe(func(v bus.SatelliteListUpdate) {
			p.publishJSON(TopicSatellites, false, v.Satellites.Sorted())
		}),
		up.NmeaReceived.Subscribe(func(v bus.NmeaReceived) {
			p.publish(TopicNmea, false, v.Message.Bytes())
		}),
		up.StatusUpdate.Subscribe(func(v bus.StatusUpdate) {
			p.publishJSON(TopicStatus, true, struct {
				Status  string `json:"status"`
				TimeUTC string `json:"time_utc"`
			}{v.Status.String(), timeutil.Format(time.Now().UnixMilli())})
		}),
	}
	p.mu.Lock()
	p.handles = append(p.handles, hs...)
	p.mu.Unlock()

	if p.cfg.Heartbeat > 0 && p.cfg.HeartbeatPayload != nil {
		_, err := p.sched.NewJob(
			gocron.DurationJob(p.cfg.Heartbeat),
			gocron.NewTask(p.heartbeat),
			gocron.WithContext(ctx),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName("mqtt_heartbeat_job"),
		)
		if err != nil {
			return fmt.Errorf("failed to create mqtt_heartbeat_job: %w", err)
		}
	}
	p.sched.Start()
	p.log.Info("publisher started", "prefix", p.cfg.Prefix)
	return nil
}

// onConnect runs after every (re)connect; the session is clean so the
// command subscription is renewed each time.
func (p *Publisher) onConnect() {
	p.log.Info("connected to broker")
	p.publish(TopicOnline, true, []byte("true"))
	t := p.client.Subscribe(p.topic(TopicCommand), p.cfg.QoS, p.onCommand)
	go func() {
		if t.WaitTimeout(connectTimeout) && t.Error() != nil {
			p.log.Warn("command subscribe failed", logging.Err(t.Error()))
		}
	}()
}

func (p *Publisher) onCommand(_ mqtt.Client, msg mqtt.Message) {
	action := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
	var code int
	switch action {
	case "start":
		code = p.bus.GPS.Start.Publish(bus.Empty{})
	case "stop":
		code = p.bus.GPS.Stop.Publish(bus.Empty{})
	default:
		p.log.Warn("unknown command", "payload", action)
		return
	}
	p.commands.Add(1)
	p.log.Info("command", "action", action, "code", code)
	p.publishJSON(TopicCmdResult, false, commandResult{Action: action, Code: code, OK: code == 0})
}

func (p *Publisher) heartbeat(context.Context) {
	p.publishJSON(TopicHeartbeat, false, p.cfg.HeartbeatPayload())
}

func (p *Publisher) publishJSON(suffix string, retained bool, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error("marshal failed", "topic", suffix, logging.Err(err))
		return
	}
	p.publish(suffix, retained, b)
}

// publish does not wait for the broker: it runs on the stream reader
// goroutine. Only failures the client reports synchronously (for example
// not connected) are counted.
func (p *Publisher) publish(suffix string, retained bool, payload []byte) {
	t := p.client.Publish(p.topic(suffix), p.cfg.QoS, retained, payload)
	var err error
	select {
	case <-t.Done():
		err = t.Error()
	default:
	}
	if err != nil {
		p.failed.Add(1)
		p.log.Debug("publish failed", "topic", suffix, logging.Err(err))
	} else {
		p.published.Add(1)
	}
	metrics.IncAdapterPublish("mqtt", err == nil)
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Broker:    p.cfg.Broker,
		ClientID:  p.cfg.ClientID,
		Prefix:    p.cfg.Prefix,
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Commands:  p.commands.Load(),
	}
}

// Close stops the heartbeat, unsubscribes from the bus, marks the bridge
// offline and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	hs := p.handles
	p.handles = nil
	p.mu.Unlock()
	for _, h := range hs {
		h.Unsubscribe()
	}
	err := p.sched.Shutdown()
	p.publish(TopicOnline, true, []byte("false"))
	p.client.Disconnect(250)
	return err
}
