package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	DefaultGPSDAddr    = "127.0.0.1:2947"
	defaultDialTimeout = 2 * time.Second
)

type TCPConfig struct {
	Addr        string
	DialTimeout time.Duration

	Options
}

// NewTCP reads raw NMEA from a TCP endpoint (a receiver bridge such as
// ser2net or a phone app). Reconnects by default.
func NewTCP(cfg TCPConfig) (*Stream, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("tcp stream addr is required")
	}
	cfg.Options.Reconnect = true
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return dial(ctx, addr, cfg.DialTimeout)
	}
	return New("tcp", addr, open, cfg.Options), nil
}

type GPSDConfig struct {
	Addr string
	// Device restricts the watch to one receiver path known to gpsd.
	Device      string
	DialTimeout time.Duration

	Options
}

// gpsdWatch is the ?WATCH request body. raw=1 asks gpsd to pass the
// receiver's NMEA through unchanged.
type gpsdWatch struct {
	Enable bool   `json:"enable"`
	Raw    int    `json:"raw"`
	Device string `json:"device,omitempty"`
}

// NewGPSD reads the raw NMEA a local gpsd relays from its receiver.
func NewGPSD(cfg GPSDConfig) *Stream {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultGPSDAddr
	}
	cfg.Options.Reconnect = true
	open := func(ctx context.Context) (io.ReadCloser, error) {
		conn, err := dial(ctx, addr, cfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		if err := writeGPSDWatch(conn, cfg.Device); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("gpsd watch: %w", err)
		}
		return conn, nil
	}
	return New("gpsd", addr, open, cfg.Options)
}

func writeGPSDWatch(w io.Writer, device string) error {
	body, err := json.Marshal(gpsdWatch{Enable: true, Raw: 1, Device: strings.TrimSpace(device)})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "?WATCH=%s\n", body)
	return err
}

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}
