package net

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lcx/gameclient/config"
	"github.com/lcx/gameclient/discovery"
	"github.com/lcx/gameclient/log"
	"github.com/lcx/gameclient/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// fakeServer is a loopback game server: a TCP listener and a UDP socket bound
// to the same port number.
type fakeServer struct {
	t   *testing.T
	ln  *net.TCPListener
	udp *net.UDPConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)

	s := &fakeServer{t: t, ln: ln, udp: udp}
	t.Cleanup(func() {
		_ = ln.Close()
		_ = udp.Close()
	})
	return s
}

// newTCPOnlyServer has no UDP socket, so datagrams sent to it bounce with
// ICMP port unreachable.
func newTCPOnlyServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeServer{t: t, ln: ln}
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) accept() *net.TCPConn {
	s.t.Helper()
	require.NoError(s.t, s.ln.SetDeadline(time.Now().Add(testTimeout)))
	conn, err := s.ln.AcceptTCP()
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads one [len][body] packet from conn.
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	prefix := make([]byte, LengthPrefixSize)
	_, err := io.ReadFull(conn, prefix)
	require.NoError(t, err)
	n, err := DecodeLength(prefix)
	require.NoError(t, err)
	b := make([]byte, n)
	_, err = io.ReadFull(conn, b)
	require.NoError(t, err)
	return b
}

func (s *fakeServer) readDatagram() ([]byte, *net.UDPAddr) {
	s.t.Helper()
	require.NoError(s.t, s.udp.SetReadDeadline(time.Now().Add(testTimeout)))
	buf := make([]byte, 2048)
	n, addr, err := s.udp.ReadFromUDP(buf)
	require.NoError(s.t, err)
	return buf[:n], addr
}

// stringPacket frames [id][string] the way the server writes it.
func stringPacket(id int32, s string) []byte {
	p := NewPacketWithID(id)
	defer p.Release()
	_ = p.WriteString(s)
	_ = p.PrependLength()
	return append([]byte(nil), p.ToBytes()...)
}

func newTestClient(t *testing.T, port int, opts ...ClientOption) *Client {
	t.Helper()
	cfg := &ClientCfg{Host: "127.0.0.1", Port: port, DialTimeout: time.Second, RetryRate: 1000}
	opts = append([]ClientOption{WithLogger(log.NewLoggerWithWriter(io.Discard, log.DebugLevel))}, opts...)
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

// pumpUntil runs the frame loop on the test goroutine until cond holds.
func pumpUntil(t *testing.T, c *Client, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		c.Update()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestClientReceivesSplitPackets(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())

	var got []string
	require.NoError(t, c.Handle(1, func(c *Client, p *Packet) error {
		s, err := p.ReadString()
		got = append(got, s)
		return err
	}))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.NotEmpty(t, c.SessionID())
	conn := srv.accept()

	stream := append(stringPacket(1, "first"), stringPacket(1, "second")...)
	for _, chunk := range [][]byte{stream[:3], stream[3:8], stream[8:]} {
		_, err := conn.Write(chunk)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	pumpUntil(t, c, func() bool { return len(got) == 2 })
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestClientUnknownIDIsDropped(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())

	var got []string
	require.NoError(t, c.Handle(1, func(c *Client, p *Packet) error {
		s, err := p.ReadString()
		got = append(got, s)
		return err
	}))
	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()

	_, err := conn.Write(append(stringPacket(99, "nobody"), stringPacket(1, "somebody")...))
	require.NoError(t, err)

	pumpUntil(t, c, func() bool { return len(got) == 1 })
	assert.Equal(t, []string{"somebody"}, got)
	assert.Equal(t, StateConnected, c.State())
}

func TestClientSendReliable(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())
	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()

	p := NewPacketWithID(5)
	require.NoError(t, p.WriteInt(9))
	require.NoError(t, c.SendReliable(p))
	p.Release()

	assert.Equal(t, []byte{5, 0, 0, 0, 9, 0, 0, 0}, readFrame(t, conn))
}

func TestClientHandshake(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())
	require.NoError(t, RegisterDefaultHandlers(c, "player"))

	var states []State
	c.OnStateChange(func(ev StateEvent) { states = append(states, ev.To) })

	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()

	welcome := NewPacketWithID(ServerWelcome)
	require.NoError(t, welcome.WriteString("Welcome to the server!"))
	require.NoError(t, welcome.WriteInt(7))
	require.NoError(t, welcome.PrependLength())
	_, err := conn.Write(welcome.ToBytes())
	welcome.Release()
	require.NoError(t, err)

	pumpUntil(t, c, func() bool { return c.State() == StateConnectedUDP })
	id, ok := c.LocalID()
	require.True(t, ok)
	assert.Equal(t, int32(7), id)

	// welcome acknowledgement over TCP: [id][assigned id][username]
	ack := NewPacketFromBytes(readFrame(t, conn))
	pid, _ := ack.ReadInt()
	assigned, _ := ack.ReadInt()
	name, err := ack.ReadString()
	ack.Release()
	require.NoError(t, err)
	assert.Equal(t, ClientWelcomeReceived, pid)
	assert.Equal(t, int32(7), assigned)
	assert.Equal(t, "player", name)

	// handshake datagram carries only the id, from the TCP socket's port number
	hs, clientAddr := srv.readDatagram()
	assert.Equal(t, []byte{7, 0, 0, 0}, hs)
	assert.Equal(t, conn.RemoteAddr().(*net.TCPAddr).Port, clientAddr.Port)

	// broken datagrams are dropped, the valid one is answered
	for _, d := range [][]byte{{1, 2}, {0, 0, 0, 0}, {50, 0, 0, 0, 1}, stringPacket(ServerUDPTest, "udp test")} {
		_, err := srv.udp.WriteToUDP(d, clientAddr)
		require.NoError(t, err)
	}

	// the reply is only sent once Update runs the handler, so read it concurrently
	require.NoError(t, srv.udp.SetReadDeadline(time.Now().Add(testTimeout)))
	replies := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 2048)
		n, _, err := srv.udp.ReadFromUDP(buf)
		if err != nil {
			n = 0
		}
		replies <- buf[:n]
	}()
	var reply []byte
	pumpUntil(t, c, func() bool {
		select {
		case reply = <-replies:
			return true
		default:
			return false
		}
	})
	require.NotEmpty(t, reply)

	// [id][len][packet id][string]
	in := NewPacketFromBytes(reply)
	defer in.Release()
	from, _ := in.ReadInt()
	length, _ := in.ReadInt()
	replyID, _ := in.ReadInt()
	msg, err := in.ReadString()
	require.NoError(t, err)
	assert.Equal(t, int32(7), from)
	assert.Equal(t, int32(len(reply)-8), length)
	assert.Equal(t, ClientUDPTestReceived, replyID)
	assert.Equal(t, UDPTestReply, msg)

	assert.Equal(t, []State{StateConnecting, StateConnected, StateConnectedUDP}, states)
}

func TestClientServerCloseDisconnects(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())

	var events []StateEvent
	c.OnStateChange(func(ev StateEvent) { events = append(events, ev) })

	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()
	require.NoError(t, conn.Close())

	pumpUntil(t, c, func() bool { return c.State() == StateDisconnected && len(events) == 3 })
	last := events[2]
	assert.Equal(t, StateConnected, last.From)
	assert.Equal(t, StateDisconnected, last.To)
	assert.Error(t, last.Err)
	assert.Empty(t, c.SessionID())

	// a fresh session can be opened afterwards
	require.NoError(t, c.Connect(context.Background()))
	srv.accept()
	assert.Equal(t, StateConnected, c.State())
}

func TestClientMalformedFramingDisconnects(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())

	var lastErr error
	c.OnStateChange(func(ev StateEvent) {
		if ev.To == StateDisconnected {
			lastErr = ev.Err
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()
	_, err := conn.Write([]byte{0, 0, 0, 0, 1, 2, 3})
	require.NoError(t, err)

	pumpUntil(t, c, func() bool { return lastErr != nil })
	assert.ErrorIs(t, lastErr, ErrMalformedFraming)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := newTestClient(t, port)
	var events []StateEvent
	c.OnStateChange(func(ev StateEvent) { events = append(events, ev) })

	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectFailure)
	assert.Equal(t, StateDisconnected, c.State())

	c.Update()
	require.Len(t, events, 2)
	assert.Equal(t, StateConnecting, events[0].To)
	assert.Equal(t, StateDisconnected, events[1].To)
	assert.ErrorIs(t, events[1].Err, ErrConnectFailure)
}

func TestClientInvalidOperations(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())

	p := NewPacketWithID(1)
	defer p.Release()
	assert.ErrorIs(t, c.SendReliable(p), ErrNotConnected)
	assert.ErrorIs(t, c.SendUnreliable(NewPacketWithID(1)), ErrNotConnected)
	assert.ErrorIs(t, c.ConnectUDP(0), ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	srv.accept()

	assert.ErrorIs(t, c.Connect(context.Background()), ErrInvalidState)
	assert.ErrorIs(t, c.Handle(3, func(*Client, *Packet) error { return nil }), ErrInvalidState)
	assert.ErrorIs(t, c.ConnectUDP(0), ErrNoLocalID)
	assert.ErrorIs(t, c.SendUnreliable(NewPacketWithID(1)), ErrNotConnected)

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
	_, ok := c.LocalID()
	assert.False(t, ok)
}

type flakyResolver struct {
	failures atomic.Int32
	ep       discovery.Endpoint
}

func (r *flakyResolver) Resolve(context.Context) (discovery.Endpoint, error) {
	if r.failures.Add(-1) >= 0 {
		return discovery.Endpoint{}, errors.New("registry unavailable")
	}
	return r.ep, nil
}

func TestConnectWithRetry(t *testing.T) {
	srv := newFakeServer(t)
	r := &flakyResolver{ep: discovery.Endpoint{Host: "127.0.0.1", Port: srv.port()}}
	r.failures.Store(2)

	c := newTestClient(t, 0, WithResolver(r))
	require.NoError(t, c.ConnectWithRetry(context.Background(), 5))
	srv.accept()
	assert.Equal(t, StateConnected, c.State())

	assert.ErrorIs(t, c.ConnectWithRetry(context.Background(), 3), ErrInvalidState)
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	r := &flakyResolver{}
	r.failures.Store(100)

	c := newTestClient(t, 0, WithResolver(r))
	err := c.ConnectWithRetry(context.Background(), 3)
	assert.ErrorIs(t, err, ErrConnectFailure)
	assert.Equal(t, int32(97), r.failures.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.ConnectWithRetry(ctx, 3), context.Canceled)
}

func TestClientCfgValidate(t *testing.T) {
	cfg := &ClientCfg{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)

	tests := []struct {
		name string
		cfg  ClientCfg
	}{
		{name: "port out of range", cfg: ClientCfg{Port: 70000}},
		{name: "buffer too small", cfg: ClientCfg{BufferSize: 2}},
		{name: "negative filter id", cfg: ClientCfg{MsgFilter: []int32{-1}}},
		{name: "bad discovery", cfg: ClientCfg{Discovery: discovery.Config{Type: "consul"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestClientWithConfigManager(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client.yaml"), []byte(`
host: "127.0.0.1"
port: 27000
bufferSize: 8192
dialTimeout: 2s
msgFilter: [5, 6]
`), 0o644))

	cm := config.NewConfigManager()
	cm.SetBasePath(dir)
	defer cm.Close()

	c, err := NewClientWithConfigManager(cm, WithLogger(log.NewLoggerWithWriter(io.Discard, log.InfoLevel)))
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, 27000, cfg.Port)
	assert.Equal(t, 8192, cfg.BufferSize)
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	assert.Equal(t, []int32{5, 6}, cfg.MsgFilter)
	assert.Equal(t, DefaultSendChannelSize, cfg.SendChannelSize)

	require.NoError(t, c.OnConfigChanged("logger", &ClientCfg{Port: 1}, cfg))
	assert.Equal(t, 27000, c.Config().Port)

	require.NoError(t, c.OnConfigChanged("client", &ClientCfg{Port: 28000}, cfg))
	assert.Equal(t, 28000, c.Config().Port)
	assert.Equal(t, DefaultBufferSize, c.Config().BufferSize)

	assert.Error(t, c.OnConfigChanged("client", &ClientCfg{Port: -1}, cfg))
}

// counterValue sums every series of the counter family name.
func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Gatherer().Gather()
	require.NoError(t, err)
	var v float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			v += m.GetCounter().GetValue()
		}
	}
	return v
}

func sendWelcome(t *testing.T, conn net.Conn, id int32) {
	t.Helper()
	welcome := NewPacketWithID(ServerWelcome)
	defer welcome.Release()
	require.NoError(t, welcome.WriteString("Welcome to the server!"))
	require.NoError(t, welcome.WriteInt(id))
	require.NoError(t, welcome.PrependLength())
	_, err := conn.Write(welcome.ToBytes())
	require.NoError(t, err)
}

func TestClientUDPReadErrorKeepsTCP(t *testing.T) {
	srv := newTCPOnlyServer(t)
	c := newTestClient(t, srv.port())
	require.NoError(t, RegisterDefaultHandlers(c, "player"))

	var got []string
	require.NoError(t, c.Handle(9, func(c *Client, p *Packet) error {
		s, err := p.ReadString()
		got = append(got, s)
		return err
	}))

	before := counterValue(t, "gameclient_net_udp_read_error_total")
	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()
	sendWelcome(t, conn, 7)

	pumpUntil(t, c, func() bool { return c.State() == StateConnectedUDP })
	readFrame(t, conn)

	// the handshake datagram is refused; the reader keeps going
	pumpUntil(t, c, func() bool { return counterValue(t, "gameclient_net_udp_read_error_total") > before })
	assert.Equal(t, StateConnectedUDP, c.State())

	_, err := conn.Write(stringPacket(9, "still here"))
	require.NoError(t, err)
	pumpUntil(t, c, func() bool { return len(got) == 1 })
	assert.Equal(t, []string{"still here"}, got)
	assert.Equal(t, StateConnectedUDP, c.State())
	assert.NotEmpty(t, c.SessionID())
}

func TestClientUDPLossFallsBackToTCP(t *testing.T) {
	srv := newFakeServer(t)
	c := newTestClient(t, srv.port())
	require.NoError(t, RegisterDefaultHandlers(c, "player"))

	var events []StateEvent
	c.OnStateChange(func(ev StateEvent) { events = append(events, ev) })

	require.NoError(t, c.Connect(context.Background()))
	conn := srv.accept()
	sendWelcome(t, conn, 7)
	pumpUntil(t, c, func() bool { return c.State() == StateConnectedUDP })
	readFrame(t, conn)
	srv.readDatagram()

	c.mu.Lock()
	udp := c.sess.udp
	c.mu.Unlock()
	require.NotNil(t, udp)
	require.NoError(t, udp.conn.Close())

	pumpUntil(t, c, func() bool { return c.State() == StateConnected && len(events) == 4 })
	last := events[3]
	assert.Equal(t, StateConnectedUDP, last.From)
	assert.Equal(t, StateConnected, last.To)
	assert.ErrorIs(t, last.Err, net.ErrClosed)

	// tcp is untouched
	p := NewPacketWithID(5)
	defer p.Release()
	require.NoError(t, c.SendReliable(p))
	assert.Equal(t, []byte{5, 0, 0, 0}, readFrame(t, conn))
	assert.ErrorIs(t, c.SendUnreliable(NewPacketWithID(1)), ErrNotConnected)

	// and udp can be opened again
	require.NoError(t, c.ConnectUDP(0))
	hs, _ := srv.readDatagram()
	assert.Equal(t, []byte{7, 0, 0, 0}, hs)
	assert.Equal(t, StateConnectedUDP, c.State())
}
