package net

import (
	"fmt"
	"time"

	"github.com/lcx/gameclient/discovery"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 26950
	DefaultBufferSize      = 4096
	DefaultSendChannelSize = 256
	DefaultDialTimeout     = 5 * time.Second
	DefaultWarnLogRate     = 1
	DefaultRetryRate       = 1
)

// ClientCfg is the "client" configuration. Zero values are replaced with
// defaults by Validate. A reloaded value applies from the next Connect.
type ClientCfg struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// BufferSize is both the socket buffer size and the size of a single read.
	BufferSize int `mapstructure:"bufferSize"`

	// MaxPacketSize bounds a declared TCP packet length; 0 disables the check.
	MaxPacketSize int `mapstructure:"maxPacketSize"`

	// SendChannelSize is the number of reliable packets that may wait for the
	// writer goroutine before SendReliable fails.
	SendChannelSize int           `mapstructure:"sendChannelSize"`
	DialTimeout     time.Duration `mapstructure:"dialTimeout"`

	// WriteTimeout bounds a single socket write; 0 means no deadline.
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`

	// UDPLocalPort is the local UDP port bound after the handshake; 0 reuses
	// the port number of the TCP socket.
	UDPLocalPort int `mapstructure:"udpLocalPort"`

	// MsgFilter lists packet ids dropped before dispatch.
	MsgFilter []int32 `mapstructure:"msgFilter"`

	// WarnLogRate caps repetitive warnings (dropped datagrams, unknown ids) per second.
	WarnLogRate float64 `mapstructure:"warnLogRate"`

	// RetryRate caps ConnectWithRetry attempts per second.
	RetryRate int `mapstructure:"retryRate"`

	Discovery discovery.Config `mapstructure:"discovery"`
}

// DefaultClientCfg returns the configuration of a client talking to a local server.
func DefaultClientCfg() *ClientCfg {
	cfg := &ClientCfg{}
	_ = cfg.Validate()
	return cfg
}

// GetName returns the configuration name for ClientCfg
func (c *ClientCfg) GetName() string {
	return "client"
}

// Validate fills defaults and validates the ClientCfg parameters
func (c *ClientCfg) Validate() error {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.SendChannelSize == 0 {
		c.SendChannelSize = DefaultSendChannelSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WarnLogRate == 0 {
		c.WarnLogRate = DefaultWarnLogRate
	}
	if c.RetryRate == 0 {
		c.RetryRate = DefaultRetryRate
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.UDPLocalPort < 0 || c.UDPLocalPort > 65535 {
		return fmt.Errorf("udpLocalPort must be between 0 and 65535")
	}
	if c.BufferSize < LengthPrefixSize {
		return fmt.Errorf("bufferSize must be at least %d", LengthPrefixSize)
	}
	if c.MaxPacketSize < 0 {
		return fmt.Errorf("maxPacketSize cannot be negative")
	}
	if c.SendChannelSize < 0 {
		return fmt.Errorf("sendChannelSize must be positive")
	}
	if c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.RetryRate < 0 {
		return fmt.Errorf("retryRate cannot be negative")
	}
	for _, id := range c.MsgFilter {
		if id < 0 {
			return fmt.Errorf("msgFilter contains negative packet id %d", id)
		}
	}
	return c.Discovery.Validate()
}
