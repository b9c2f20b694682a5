package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const DefaultBaud = 9600

// Device patterns probed in order when no device is configured.
var serialPatterns = []string{
	"/dev/ttyACM*",
	"/dev/ttyUSB*",
	"/dev/serial0",
	"/dev/ttyAMA0",
}

type SerialConfig struct {
	// Device is the UART path. Empty or "auto" probes the usual USB and
	// on-board receiver paths.
	Device string
	Baud   int
	// WakeupGPIO is a BCM line held high while the port is open. Zero
	// disables it.
	WakeupGPIO int

	Options
}

var globFn = filepath.Glob

// DetectSerialDevice returns the first existing receiver device path.
func DetectSerialDevice() (string, error) {
	for _, pattern := range serialPatterns {
		matches, err := globFn(pattern)
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches[0], nil
	}
	return "", fmt.Errorf("no serial receiver found (tried %s)", strings.Join(serialPatterns, ", "))
}

// NewSerial reads raw NMEA from a UART.
func NewSerial(cfg SerialConfig) *Stream {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	dev := strings.TrimSpace(cfg.Device)
	addr := dev
	if dev == "" || strings.EqualFold(dev, "auto") {
		dev = ""
		addr = "auto"
	}
	addr = fmt.Sprintf("%s@%d", addr, cfg.Baud)

	open := func(ctx context.Context) (io.ReadCloser, error) {
		path := dev
		if path == "" {
			p, err := DetectSerialDevice()
			if err != nil {
				return nil, err
			}
			path = p
		}

		var wake wakeupLine
		if cfg.WakeupGPIO > 0 {
			w, err := openWakeupFn(cfg.WakeupGPIO)
			if err != nil {
				return nil, err
			}
			wake = w
		}

		port, err := openSerialFn(path, cfg.Baud)
		if err != nil {
			if wake != nil {
				_ = wake.Close()
			}
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if cfg.Logger != nil {
			cfg.Logger.Debug("serial port open", slog.String("device", path), slog.Int("baud", cfg.Baud))
		}
		if wake == nil {
			return port, nil
		}
		return &wakeCloser{ReadCloser: port, wake: wake}, nil
	}
	return New("serial", addr, open, cfg.Options)
}

var openSerialFn = openSerial

// wakeupLine is a receiver power/wakeup output.
type wakeupLine interface {
	Close() error
}

// wakeCloser releases the wakeup line after the port is closed.
type wakeCloser struct {
	io.ReadCloser
	wake wakeupLine
	once sync.Once
}

func (w *wakeCloser) Close() error {
	var err error
	w.once.Do(func() {
		err = w.ReadCloser.Close()
		_ = w.wake.Close()
	})
	return err
}
