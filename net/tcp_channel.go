package net

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lcx/gameclient/log"
	"github.com/lcx/gameclient/metrics"
)

var _ channel = (*tcpChannel)(nil)

// tcpChannel owns the TCP socket of a session: one goroutine reads and
// reassembles, one goroutine writes queued packets.
type tcpChannel struct {
	conn         *net.TCPConn
	sendCh       chan []byte
	bufferSize   int
	writeTimeout time.Duration
	reassembler  *StreamReassembler
	done         chan struct{}
	closeOnce    sync.Once
	log          *log.GameLogger
}

func newTCPChannel(conn *net.TCPConn, cfg *ClientCfg, logger *log.GameLogger) (*tcpChannel, error) {
	if err := conn.SetReadBuffer(cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("set read buffer %d: %w", cfg.BufferSize, err)
	}
	if err := conn.SetWriteBuffer(cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("set write buffer %d: %w", cfg.BufferSize, err)
	}
	_ = conn.SetNoDelay(true)

	return &tcpChannel{
		conn:         conn,
		sendCh:       make(chan []byte, cfg.SendChannelSize),
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
		reassembler:  NewStreamReassembler(cfg.MaxPacketSize),
		done:         make(chan struct{}),
		log:          logger,
	}, nil
}

// serve starts the reader and writer. onPacket receives each complete packet
// body; onClose is called once by the reader when the stream ends or breaks.
func (t *tcpChannel) serve(onPacket func(body []byte), onClose func(err error)) {
	go t.serveSend()
	go t.serveRecv(onPacket, onClose)
}

func (t *tcpChannel) serveRecv(onPacket func(body []byte), onClose func(err error)) {
	defer t.reassembler.Release()

	buf := make([]byte, t.bufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			metrics.IncrCounterWithDimGroup("net", "bytes_received_total", metrics.Value(n), metrics.Dimension{"transport": "tcp"})
			if ferr := t.reassembler.Feed(buf[:n], onPacket); ferr != nil {
				metrics.IncrCounterWithGroup("net", "framing_error_total", 1)
				onClose(ferr)
				return
			}
		}
		if err != nil {
			onClose(err)
			return
		}
		if n == 0 {
			onClose(io.EOF)
			return
		}
	}
}

func (t *tcpChannel) serveSend() {
	for {
		select {
		case <-t.done:
			return
		case b := <-t.sendCh:
			if err := t.write(b); err != nil {
				metrics.IncrCounterWithDimGroup("net", "send_failure_total", 1, metrics.Dimension{"transport": "tcp"})
				t.log.Warn().Err(err).Int("size", len(b)).Msg("tcp write failed")
				continue
			}
			metrics.IncrCounterWithDimGroup("net", "bytes_sent_total", metrics.Value(len(b)), metrics.Dimension{"transport": "tcp"})
		}
	}
}

func (t *tcpChannel) write(b []byte) error {
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	return nil
}

// send queues a framed packet for the writer without blocking.
func (t *tcpChannel) send(b []byte) error {
	select {
	case <-t.done:
		return fmt.Errorf("%w: tcp channel closed", ErrNotConnected)
	default:
	}
	select {
	case t.sendCh <- b:
		return nil
	default:
		return fmt.Errorf("%w: send channel is full", ErrSendFailure)
	}
}

func (t *tcpChannel) close() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *tcpChannel) localPort() int {
	if addr, ok := t.conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// remoteUDPAddr is the server endpoint for the unreliable channel.
func (t *tcpChannel) remoteUDPAddr() *net.UDPAddr {
	addr, ok := t.conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone}
}
