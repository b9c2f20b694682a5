package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/model"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func resolveOK(network, address string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr(network, address)
}

func TestNewForwarder_DialsResolvedAddrs(t *testing.T) {
	var gotNetwork string
	var gotRaddrs []*net.UDPAddr
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddrs = append(gotRaddrs, raddr)
		return &fakeConn{}, nil
	}

	f, err := newForwarder([]string{"127.0.0.1:10110", "127.0.0.1:10111"}, resolveOK, dial, nil)
	if err != nil {
		t.Fatalf("newForwarder() error: %v", err)
	}
	defer f.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if len(gotRaddrs) != 2 || gotRaddrs[0].Port != 10110 || !gotRaddrs[1].IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddrs=%v", gotRaddrs)
	}
	if got := f.Stats().Destinations; len(got) != 2 || got[1] != "127.0.0.1:10111" {
		t.Fatalf("destinations=%v", got)
	}
}

func TestNewForwarder_NoDestinations(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewForwarder_ResolveFailureClosesEarlierConns(t *testing.T) {
	resolveErr := errors.New("nope")
	first := &fakeConn{}
	resolve := func(network, address string) (*net.UDPAddr, error) {
		if address == "bad:addr" {
			return nil, resolveErr
		}
		return resolveOK(network, address)
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return first, nil
	}

	_, err := newForwarder([]string{"127.0.0.1:1", "bad:addr"}, resolve, dial, nil)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
	if !first.closed {
		t.Fatalf("expected first conn closed")
	}
}

func TestNewForwarder_DialFailure(t *testing.T) {
	dialErr := errors.New("unreachable")
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return nil, dialErr
	}
	if _, err := newForwarder([]string{"127.0.0.1:1"}, resolveOK, dial, nil); !errors.Is(err, dialErr) {
		t.Fatalf("err=%v want %v", err, dialErr)
	}
}

func TestForwarder_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{targets: []target{{dest: "x", conn: fc}}}

	if err := f.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if err := f.Send([]byte{}); err != nil {
		t.Fatalf("Send(empty) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestForwarder_Send_PartialFailure(t *testing.T) {
	writeErr := errors.New("boom")
	bad := &fakeConn{writeErr: writeErr}
	good := &fakeConn{}
	f := &Forwarder{targets: []target{{dest: "bad", conn: bad}, {dest: "good", conn: good}}}

	err := f.Send([]byte("x"))
	if !errors.Is(err, writeErr) {
		t.Fatalf("err=%v want %v", err, writeErr)
	}
	if len(good.writes) != 1 {
		t.Fatalf("good writes=%d", len(good.writes))
	}
	if st := f.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestForwarder_AttachForwardsSentences(t *testing.T) {
	fc := &fakeConn{}
	f := &Forwarder{targets: []target{{dest: "x", conn: fc}}}
	b := bus.New()

	f.Attach(b)
	f.Attach(b)
	b.Upstream.NmeaReceived.Publish(bus.NmeaReceived{
		Timestamp: time.Now().UnixMilli(),
		Message:   model.NewNmeaMessage([]byte("$GPGLL,4916.45,N,12311.12,W,225444,A,*1D")),
	})

	if len(fc.writes) != 1 {
		t.Fatalf("writes=%d want 1", len(fc.writes))
	}
	if got := string(fc.writes[0]); got != "$GPGLL,4916.45,N,12311.12,W,225444,A,*1D\r\n" {
		t.Fatalf("datagram=%q", got)
	}

	f.Detach()
	b.Upstream.NmeaReceived.Publish(bus.NmeaReceived{Message: model.NewNmeaMessage([]byte("$GPTXT*00"))})
	if len(fc.writes) != 1 {
		t.Fatalf("writes after detach=%d", len(fc.writes))
	}
}

func TestForwarder_CloseJoinsErrors(t *testing.T) {
	closeErr := errors.New("close failed")
	a := &fakeConn{closeErr: closeErr}
	c := &fakeConn{}
	f := &Forwarder{targets: []target{{dest: "a", conn: a}, {dest: "c", conn: c}}}

	if err := f.Close(); !errors.Is(err, closeErr) {
		t.Fatalf("Close() err=%v want %v", err, closeErr)
	}
	if !a.closed || !c.closed {
		t.Fatalf("expected both conns closed")
	}
}

func TestForwarder_RealSocket(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	f, err := New([]string{pc.LocalAddr().String()}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer f.Close()

	if err := f.Send([]byte("$GPTXT*00\r\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "$GPTXT*00\r\n" {
		t.Fatalf("got=%q", buf[:n])
	}
}
