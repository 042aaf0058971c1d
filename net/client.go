package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lcx/gameclient/config"
	"github.com/lcx/gameclient/discovery"
	"github.com/lcx/gameclient/log"
	"github.com/lcx/gameclient/metrics"
	"github.com/lcx/gameclient/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConnectedUDP
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConnectedUDP:
		return "connected_udp"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateEvent reports a state transition. Err is set when the transition was
// caused by a failure (dial error, broken stream, malformed framing).
type StateEvent struct {
	From State
	To   State
	Err  error
}

// Client is a connection to one game server over a reliable TCP channel and,
// after the handshake, an unreliable UDP channel.
//
// Handlers and state listeners only run inside Update, on the goroutine that
// calls it; socket I/O happens on goroutines owned by the client. Send methods
// and Disconnect are safe to call from any goroutine.
type Client struct {
	cfgMu sync.RWMutex
	cfg   *ClientCfg

	resolver discovery.Resolver
	logger   *log.GameLogger
	queue    *TaskQueue
	filters  []DispatcherFilter
	registry handlerRegistry
	warn     *warnLimiter

	mu         sync.Mutex
	state      State
	localID    int32
	hasLocalID bool
	sess       *session
	listeners  []func(StateEvent)
}

// session is everything bound to one Connect. A new Connect never reuses a
// session, so leftovers of a dropped connection cannot reach the next one.
type session struct {
	id         string
	client     *Client
	cfg        *ClientCfg
	dispatcher *Dispatcher
	tcp        *tcpChannel
	udp        *udpChannel
	closed     atomic.Bool
	log        *log.GameLogger
}

// NewClient creates a disconnected client. A nil cfg uses DefaultClientCfg.
func NewClient(cfg *ClientCfg, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	c := &Client{
		cfg:   cfg,
		queue: NewTaskQueue(),
		warn:  newWarnLimiter(cfg.WarnLogRate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientWithConfigManager creates a client from the "client" configuration
// and follows its reloads.
func NewClientWithConfigManager(configManager config.ConfigManager, opts ...ClientOption) (*Client, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := DefaultClientCfg()
	if err := configManager.LoadConfig("client", cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}

	c, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	configManager.AddChangeListener(c)
	return c, nil
}

// OnConfigChanged implements config.ConfigChangeListener. The new value
// applies from the next Connect; the warning rate applies at once.
func (c *Client) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "client" {
		return nil
	}

	newCfg, ok := newConfig.(*ClientCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for Client")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid client configuration: %w", err)
	}

	c.cfgMu.Lock()
	c.cfg = newCfg
	c.cfgMu.Unlock()
	c.warn.Reload(newCfg.WarnLogRate)

	c.log().Info().Str("configName", configName).Msg("client configuration updated")
	return nil
}

// Config returns the current configuration. The value must not be modified.
func (c *Client) Config() *ClientCfg {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

func (c *Client) log() *log.GameLogger {
	if c.logger != nil {
		return c.logger
	}
	return log.Default()
}

// Handle registers h for packet id. Registrations are picked up by the next
// Connect; registering while connected fails with ErrInvalidState.
func (c *Client) Handle(id int32, h PacketHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return fmt.Errorf("%w: register handler %d while %s", ErrInvalidState, id, c.state)
	}
	return c.registry.register(id, h)
}

// OnStateChange registers fn to be called, inside Update, after every state
// transition.
func (c *Client) OnStateChange(fn func(StateEvent)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the live session, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// SetLocalID records the identifier the server assigned to this client.
func (c *Client) SetLocalID(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localID = id
	c.hasLocalID = true
}

// LocalID returns the server-assigned identifier, if any.
func (c *Client) LocalID() (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID, c.hasLocalID
}

// Queue returns the queue Update drains.
func (c *Client) Queue() *TaskQueue {
	return c.queue
}

// Update runs the handlers and state listeners queued since the previous
// call and returns how many tasks ran. Call it once per frame.
func (c *Client) Update() int {
	return c.queue.Drain()
}

// setStateLocked moves to state to and queues the event. Caller holds c.mu.
func (c *Client) setStateLocked(to State, cause error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	metrics.UpdateGaugeWithGroup("net", "state", metrics.Value(to))

	ev := StateEvent{From: from, To: to, Err: cause}
	c.queue.Enqueue(func() {
		c.mu.Lock()
		listeners := slices.Clone(c.listeners)
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(ev)
		}
	})
}

// Connect resolves the server endpoint and opens the TCP channel. It fails
// with ErrInvalidState unless the client is disconnected, and with
// ErrConnectFailure if the server cannot be reached. It never retries.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, st)
	}
	c.hasLocalID = false
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()

	cfg := c.Config()
	ctx, span := tracing.StartSpan(ctx, "gameclient.connect", trace.SpanKindClient)
	defer span.End()
	metrics.IncrCounterWithGroup("net", "connect_total", 1)

	sess := &session{
		id:     uuid.NewString(),
		client: c,
		cfg:    cfg,
	}
	sess.log = c.log().With("session", sess.id)
	span.SetAttributes(attribute.String("session.id", sess.id))

	conn, err := c.dial(ctx, cfg)
	if err == nil {
		sess.tcp, err = newTCPChannel(conn, cfg, sess.log)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectFailure, err)
		span.RecordError(err)
		metrics.IncrCounterWithGroup("net", "connect_failure_total", 1)
		sess.log.Warn().Err(err).Msg("connect failed")

		c.mu.Lock()
		if c.state == StateConnecting {
			c.setStateLocked(StateDisconnected, err)
		}
		c.mu.Unlock()
		return err
	}

	filters := slices.Clone(c.filters)
	sess.dispatcher = NewDispatcher(c.registry.snapshot(), cfg.MsgFilter, filters...)

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		sess.tcp.close()
		return fmt.Errorf("%w: aborted by disconnect", ErrConnectFailure)
	}
	c.sess = sess
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	sess.tcp.serve(
		func(body []byte) { sess.deliver(TransportTCP, body) },
		func(err error) { c.teardown(sess, err) },
	)

	remote := conn.RemoteAddr().String()
	span.SetAttributes(attribute.String("server.address", remote))
	sess.log.Info().Str("remote", remote).Str("local", conn.LocalAddr().String()).
		Int("bufferSize", cfg.BufferSize).Msg("tcp connected")
	return nil
}

// ConnectToServer connects in the background. The outcome is reported through
// OnStateChange.
func (c *Client) ConnectToServer() {
	go func() {
		if err := c.Connect(context.Background()); err != nil && errors.Is(err, ErrInvalidState) {
			c.log().Warn().Err(err).Msg("connect to server ignored")
		}
	}()
}

func (c *Client) dial(ctx context.Context, cfg *ClientCfg) (*net.TCPConn, error) {
	resolver := c.resolver
	if resolver == nil {
		r, err := discovery.New(cfg.Discovery, cfg.Host, cfg.Port)
		if err != nil {
			return nil, err
		}
		resolver = r
	}
	ep, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	return tcpConn, nil
}

// ConnectUDP opens the unreliable channel to the server's endpoint, bound to
// localPort (0 reuses the TCP socket's port number), and sends the handshake
// datagram carrying the local id. It requires the TCP channel and a local id.
func (c *Client) ConnectUDP(localPort int) error {
	c.mu.Lock()
	sess := c.sess
	switch {
	case sess == nil:
		c.mu.Unlock()
		return fmt.Errorf("%w: connect udp without tcp", ErrNotConnected)
	case c.state != StateConnected:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect udp while %s", ErrInvalidState, st)
	case !c.hasLocalID:
		c.mu.Unlock()
		return ErrNoLocalID
	}
	id := c.localID
	c.mu.Unlock()

	if localPort == 0 {
		localPort = sess.tcp.localPort()
	}
	udp, err := newUDPChannel(localPort, sess.tcp.remoteUDPAddr(), sess.cfg)
	if err != nil {
		metrics.IncrCounterWithGroup("net", "udp_connect_failure_total", 1)
		return fmt.Errorf("%w: udp: %w", ErrConnectFailure, err)
	}

	c.mu.Lock()
	if c.sess != sess || c.state != StateConnected {
		c.mu.Unlock()
		udp.close()
		return fmt.Errorf("%w: session ended during udp connect", ErrNotConnected)
	}
	sess.udp = udp
	c.setStateLocked(StateConnectedUDP, nil)
	c.mu.Unlock()

	udp.serve(sess.onDatagram, sess.udpReadFailed, func(err error) { c.dropUDP(sess, udp, err) })
	sess.log.Info().Int("localPort", udp.localPort()).Int32("localID", id).Msg("udp connected")

	// The bare id lets the server bind this endpoint to the TCP session.
	hs := NewPacket()
	defer hs.Release()
	if err := hs.WriteInt(id); err != nil {
		return err
	}
	if err := udp.send(hs.ToBytes()); err != nil {
		sess.log.Warn().Err(err).Msg("udp handshake failed")
		return err
	}
	return nil
}

func (c *Client) liveSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// SendReliable frames p and queues it on the TCP channel. p is framed in
// place; the caller still owns and releases it. A full send queue or a closed
// channel is reported as an error but does not end the connection.
func (c *Client) SendReliable(p *Packet) error {
	sess, err := c.liveSession()
	if err != nil {
		return err
	}
	if err := p.PrependLength(); err != nil {
		return err
	}
	b := append([]byte(nil), p.ToBytes()...)
	if err := sess.tcp.send(b); err != nil {
		metrics.IncrCounterWithDimGroup("net", "send_failure_total", 1, metrics.Dimension{"transport": "tcp"})
		if c.warn.Allow() {
			sess.log.Warn().Err(err).Int("size", len(b)).Msg("send reliable failed")
		}
		return err
	}
	metrics.IncrCounterWithDimGroup("net", "packets_sent_total", 1, metrics.Dimension{"transport": "tcp"})
	return nil
}

// SendUnreliable frames p, prefixes the local id and writes it as one
// datagram: [id][length][payload].
func (c *Client) SendUnreliable(p *Packet) error {
	c.mu.Lock()
	sess, id := c.sess, c.localID
	var udp *udpChannel
	if sess != nil {
		udp = sess.udp
	}
	c.mu.Unlock()
	if udp == nil {
		return fmt.Errorf("%w: udp not connected", ErrNotConnected)
	}

	if err := p.PrependLength(); err != nil {
		return err
	}
	if err := p.InsertInt(id); err != nil {
		return err
	}
	if err := udp.send(p.ToBytes()); err != nil {
		metrics.IncrCounterWithDimGroup("net", "send_failure_total", 1, metrics.Dimension{"transport": "udp"})
		if c.warn.Allow() {
			sess.log.Warn().Err(err).Msg("send unreliable failed")
		}
		return err
	}
	metrics.IncrCounterWithDimGroup("net", "packets_sent_total", 1, metrics.Dimension{"transport": "udp"})
	return nil
}

// Disconnect closes both channels. Packets already queued are still
// delivered by Update. Calling it while disconnected does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.hasLocalID = false
	c.setStateLocked(StateDisconnected, nil)
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		sess.log.Info().Msg("disconnected")
	}
}

// teardown ends sess after an I/O failure. It is a no-op if sess is no longer
// the live session.
func (c *Client) teardown(sess *session, cause error) {
	c.mu.Lock()
	if sess == nil || c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.hasLocalID = false
	c.setStateLocked(StateDisconnected, cause)
	c.mu.Unlock()

	sess.close()
	metrics.IncrCounterWithGroup("net", "connection_lost_total", 1)
	sess.log.Info().Err(cause).Msg("connection lost")
}

// dropUDP closes udp after its socket stopped working and falls back to the
// TCP-only state. The TCP channel is left alone.
func (c *Client) dropUDP(sess *session, udp *udpChannel, cause error) {
	c.mu.Lock()
	if c.sess != sess || sess.udp != udp {
		c.mu.Unlock()
		return
	}
	sess.udp = nil
	c.setStateLocked(StateConnected, cause)
	c.mu.Unlock()

	udp.close()
	metrics.IncrCounterWithGroup("net", "udp_lost_total", 1)
	sess.log.Warn().Err(cause).Msg("udp channel lost, staying on tcp")
}

func (s *session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.tcp.close()
	if s.udp != nil {
		s.udp.close()
	}
}

// deliver queues body for dispatch on the frame loop.
func (s *session) deliver(transport Transport, body []byte) {
	if s.closed.Load() {
		return
	}
	metrics.IncrCounterWithDimGroup("net", "packets_received_total", 1, metrics.Dimension{"transport": string(transport)})
	s.client.queue.Enqueue(func() {
		if err := s.dispatcher.Dispatch(s.client, transport, body); err != nil {
			s.dispatchFailed(transport, err)
		}
	})
}

func (s *session) dispatchFailed(transport Transport, err error) {
	reason := "handler"
	switch {
	case errors.Is(err, ErrUnregisteredHandler):
		reason = "unregistered"
	case errors.Is(err, ErrBufferUnderrun):
		reason = "underrun"
	}
	metrics.IncrCounterWithDimGroup("net", "dispatch_error_total", 1, metrics.Dimension{
		"transport": string(transport),
		"reason":    reason,
	})
	if s.client.warn.Allow() {
		s.log.Warn().Err(err).Str("transport", string(transport)).Msg("packet dropped")
	}
}

// udpReadFailed records a failed UDP read; the channel keeps reading.
func (s *session) udpReadFailed(err error) {
	if s.closed.Load() {
		return
	}
	metrics.IncrCounterWithGroup("net", "udp_read_error_total", 1)
	if s.client.warn.Allow() {
		s.log.Warn().Err(err).Msg("udp read failed")
	}
}

// onDatagram decodes one datagram; broken ones are dropped.
func (s *session) onDatagram(d []byte) {
	body, err := DecodeDatagram(d)
	if err != nil {
		reason := "malformed"
		switch {
		case errors.Is(err, ErrShortDatagram):
			reason = "short"
		case errors.Is(err, ErrBufferUnderrun):
			reason = "underrun"
		}
		metrics.IncrCounterWithDimGroup("net", "datagram_dropped_total", 1, metrics.Dimension{"reason": reason})
		if s.client.warn.Allow() {
			s.log.Warn().Err(err).Int("size", len(d)).Msg("datagram dropped")
		}
		return
	}
	s.deliver(TransportUDP, body)
}
