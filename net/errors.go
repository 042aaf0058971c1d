package net

import "errors"

var (
	// ErrInvalidState is returned for an operation the current state does not
	// allow: writing a packet that is being read, using a released packet,
	// connecting twice.
	ErrInvalidState = errors.New("invalid state")

	// ErrBufferUnderrun is returned when a read asks for more bytes than remain.
	ErrBufferUnderrun = errors.New("buffer underrun")

	// ErrMalformedFraming is returned when a length prefix is zero or negative,
	// or larger than the configured maximum.
	ErrMalformedFraming = errors.New("malformed framing")

	ErrUnregisteredHandler = errors.New("unregistered handler")
	ErrConnectFailure      = errors.New("connect failure")
	ErrSendFailure         = errors.New("send failure")
	ErrShortDatagram       = errors.New("short datagram")
	ErrNotConnected        = errors.New("not connected")

	// ErrNoLocalID is returned by ConnectUDP before the server assigned an id.
	ErrNoLocalID = errors.New("local id not assigned")
)
