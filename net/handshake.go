package net

import (
	"fmt"
)

// Packet ids of the connection handshake, sent by the server.
const (
	ServerWelcome int32 = 1
	ServerUDPTest int32 = 2
)

// Packet ids of the connection handshake, sent by the client.
const (
	ClientWelcomeReceived int32 = 1
	ClientUDPTestReceived int32 = 2
)

// UDPTestReply is the payload answering a ServerUDPTest packet.
const UDPTestReply = "Received a UDP packet."

// WelcomeHandler handles ServerWelcome: [string message][int32 id]. It
// stores the id, acknowledges with ClientWelcomeReceived [id][username] over
// TCP and opens the UDP channel.
func WelcomeHandler(username string) PacketHandler {
	return func(c *Client, p *Packet) error {
		msg, err := p.ReadString()
		if err != nil {
			return fmt.Errorf("welcome message: %w", err)
		}
		id, err := p.ReadInt()
		if err != nil {
			return fmt.Errorf("welcome id: %w", err)
		}

		c.log().Info().Str("message", msg).Int32("localID", id).Msg("welcome received")
		c.SetLocalID(id)

		reply := NewPacketWithID(ClientWelcomeReceived)
		defer reply.Release()
		if err := reply.WriteInt(id); err != nil {
			return err
		}
		if err := reply.WriteString(username); err != nil {
			return err
		}
		if err := c.SendReliable(reply); err != nil {
			return fmt.Errorf("welcome reply: %w", err)
		}

		return c.ConnectUDP(c.Config().UDPLocalPort)
	}
}

// UDPTestHandler handles ServerUDPTest: [string message]. It answers with
// ClientUDPTestReceived [UDPTestReply] over UDP.
func UDPTestHandler() PacketHandler {
	return func(c *Client, p *Packet) error {
		msg, err := p.ReadString()
		if err != nil {
			return fmt.Errorf("udp test message: %w", err)
		}
		c.log().Info().Str("message", msg).Msg("udp test received")

		reply := NewPacketWithID(ClientUDPTestReceived)
		defer reply.Release()
		if err := reply.WriteString(UDPTestReply); err != nil {
			return err
		}
		return c.SendUnreliable(reply)
	}
}

// RegisterDefaultHandlers registers the handshake handlers on c.
func RegisterDefaultHandlers(c *Client, username string) error {
	if err := c.Handle(ServerWelcome, WelcomeHandler(username)); err != nil {
		return err
	}
	return c.Handle(ServerUDPTest, UDPTestHandler())
}
