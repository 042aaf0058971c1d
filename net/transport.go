// Package net is the game client transport: a reliable TCP channel and an
// unreliable UDP channel to one server, length-prefixed framing on both, and
// dispatch of received packets to handlers on the caller's frame loop.
package net

// Transport names the channel a packet travelled on.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// channel is one socket of a session.
type channel interface {
	// send queues or writes an already framed packet.
	send(b []byte) error
	// close closes the socket. Safe to call more than once.
	close()
}
