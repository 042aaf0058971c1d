package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lcx/gameclient/metrics"
)

var _ channel = (*udpChannel)(nil)

// udpChannel owns the connected UDP socket of a session.
type udpChannel struct {
	conn         *net.UDPConn
	bufferSize   int
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

func newUDPChannel(localPort int, remote *net.UDPAddr, cfg *ClientCfg) (*udpChannel, error) {
	if remote == nil {
		return nil, fmt.Errorf("no remote endpoint")
	}
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: localPort}, remote)
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(cfg.BufferSize); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set read buffer %d: %w", cfg.BufferSize, err)
	}
	if err := conn.SetWriteBuffer(cfg.BufferSize); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set write buffer %d: %w", cfg.BufferSize, err)
	}
	return &udpChannel{
		conn:         conn,
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}, nil
}

// maxUDPReadErrors is the number of consecutive failed reads after which the
// reader gives up on the socket.
const maxUDPReadErrors = 16

// serve starts the reader. onDatagram receives each datagram in a buffer
// reused by the next read. A failed read (an ICMP unreachable surfaces as
// ECONNREFUSED on a connected socket) goes to onReadError and reading goes
// on. onClose is called once if the socket stops working without close.
func (u *udpChannel) serve(onDatagram func(d []byte), onReadError func(err error), onClose func(err error)) {
	go func() {
		buf := make([]byte, u.bufferSize)
		failures := 0
		for {
			n, err := u.conn.Read(buf)
			if err != nil {
				select {
				case <-u.done:
					return
				default:
				}
				failures++
				if errors.Is(err, net.ErrClosed) || failures >= maxUDPReadErrors {
					onClose(err)
					return
				}
				onReadError(err)
				continue
			}
			failures = 0
			metrics.IncrCounterWithDimGroup("net", "bytes_received_total", metrics.Value(n), metrics.Dimension{"transport": "udp"})
			onDatagram(buf[:n])
		}
	}()
}

// send writes one datagram.
func (u *udpChannel) send(b []byte) error {
	select {
	case <-u.done:
		return fmt.Errorf("%w: udp channel closed", ErrNotConnected)
	default:
	}
	if u.writeTimeout > 0 {
		_ = u.conn.SetWriteDeadline(time.Now().Add(u.writeTimeout))
	}
	if _, err := u.conn.Write(b); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	metrics.IncrCounterWithDimGroup("net", "bytes_sent_total", metrics.Value(len(b)), metrics.Dimension{"transport": "udp"})
	return nil
}

func (u *udpChannel) close() {
	u.closeOnce.Do(func() {
		close(u.done)
		_ = u.conn.Close()
	})
}

func (u *udpChannel) localPort() int {
	if addr, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}
