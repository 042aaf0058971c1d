// Package discovery resolves the game server endpoint the client dials.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/hashicorp/consul/api"
)

var ErrNoEndpoint = errors.New("no server endpoint available")

// Endpoint is a resolved server address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver finds the server to connect to.
type Resolver interface {
	Resolve(ctx context.Context) (Endpoint, error)
}

// Config selects and parameterises a resolver.
type Config struct {
	// Type is "static" (default) or "consul".
	Type       string `mapstructure:"type"`
	ConsulAddr string `mapstructure:"consulAddr"`
	Service    string `mapstructure:"service"`
	Tag        string `mapstructure:"tag"`
}

func (c *Config) Validate() error {
	switch c.Type {
	case "", "static":
		return nil
	case "consul":
		if c.Service == "" {
			return fmt.Errorf("discovery.service cannot be empty for consul")
		}
		return nil
	default:
		return fmt.Errorf("unknown discovery type %q", c.Type)
	}
}

// New builds the resolver described by cfg. host and port are the static
// endpoint used by the "static" type.
func New(cfg Config, host string, port int) (Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Type == "consul" {
		return NewConsulResolver(cfg.ConsulAddr, cfg.Service, cfg.Tag)
	}
	return StaticResolver{Endpoint: Endpoint{Host: host, Port: port}}, nil
}

// StaticResolver always returns the same endpoint.
type StaticResolver struct {
	Endpoint Endpoint
}

func (r StaticResolver) Resolve(context.Context) (Endpoint, error) {
	if r.Endpoint.Host == "" || r.Endpoint.Port <= 0 {
		return Endpoint{}, ErrNoEndpoint
	}
	return r.Endpoint, nil
}

// ConsulResolver picks a passing instance of a Consul service, rotating over
// the instances on successive calls.
type ConsulResolver struct {
	client  *api.Client
	service string
	tag     string
	next    atomic.Uint32
}

// NewConsulResolver creates a resolver against the Consul agent at addr. An
// empty addr uses the api defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewConsulResolver(addr, service, tag string) (*ConsulResolver, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &ConsulResolver{client: client, service: service, tag: tag}, nil
}

func (r *ConsulResolver) Resolve(ctx context.Context) (Endpoint, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(r.service, r.tag, true, opts)
	if err != nil {
		return Endpoint{}, fmt.Errorf("consul lookup %s: %w", r.service, err)
	}
	if len(entries) == 0 {
		return Endpoint{}, fmt.Errorf("%w: service %s has no passing instance", ErrNoEndpoint, r.service)
	}

	entry := entries[int(r.next.Add(1)-1)%len(entries)]
	host := entry.Service.Address
	if host == "" && entry.Node != nil {
		host = entry.Node.Address
	}
	return Endpoint{Host: host, Port: entry.Service.Port}, nil
}
