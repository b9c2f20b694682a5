// Package udp forwards raw NMEA sentences to UDP listeners (chart plotters,
// OpenCPN, gpsd's udp:// source).
package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

func dialUDP(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
	return net.DialUDP(network, laddr, raddr)
}

type target struct {
	dest string
	conn udpConn
}

// Forwarder writes each sentence, CRLF-terminated, as one datagram to every
// destination.
type Forwarder struct {
	log     *slog.Logger
	targets []target

	mu     sync.Mutex
	handle *bus.Handle

	sent   atomic.Uint64
	failed atomic.Uint64
}

type Stats struct {
	Destinations []string `json:"destinations"`
	Sent         uint64   `json:"sent"`
	Failed       uint64   `json:"failed"`
}

func New(dests []string, log *slog.Logger) (*Forwarder, error) {
	return newForwarder(dests, net.ResolveUDPAddr, dialUDP, log)
}

func newForwarder(dests []string, resolve resolveFunc, dial dialFunc, log *slog.Logger) (*Forwarder, error) {
	if len(dests) == 0 {
		return nil, errors.New("udp: no destinations")
	}
	if log == nil {
		log = logging.Discard()
	}
	f := &Forwarder{log: log.With("component", "udp")}
	for _, dest := range dests {
		addr, err := resolve("udp", dest)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("resolve %s: %w", dest, err)
		}
		// DialUDP selects a suitable local address automatically.
		conn, err := dial("udp", nil, addr)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("dial udp %s: %w", dest, err)
		}
		f.targets = append(f.targets, target{dest: dest, conn: conn})
	}
	return f, nil
}

// Send writes payload to every destination. A failing destination does not
// stop delivery to the others.
func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var errs []error
	for _, t := range f.targets {
		if _, err := t.conn.Write(payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.dest, err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		f.failed.Add(1)
	} else {
		f.sent.Add(1)
	}
	metrics.IncAdapterPublish("udp", err == nil)
	return err
}

// Attach forwards every NmeaReceived event on b. Calling it twice is a no-op.
func (f *Forwarder) Attach(b *bus.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle != nil {
		return
	}
	h := b.Upstream.NmeaReceived.Subscribe(func(v bus.NmeaReceived) {
		line := append(v.Message.Bytes(), '\r', '\n')
		if err := f.Send(line); err != nil {
			f.log.Debug("forward failed", logging.Err(err))
		}
	})
	f.handle = &h
}

func (f *Forwarder) Detach() {
	f.mu.Lock()
	h := f.handle
	f.handle = nil
	f.mu.Unlock()
	if h != nil {
		h.Unsubscribe()
	}
}

func (f *Forwarder) Stats() Stats {
	out := Stats{Sent: f.sent.Load(), Failed: f.failed.Load()}
	for _, t := range f.targets {
		out.Destinations = append(out.Destinations, t.dest)
	}
	return out
}

func (f *Forwarder) Close() error {
	f.Detach()
	var errs []error
	for _, t := range f.targets {
		if err := t.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
