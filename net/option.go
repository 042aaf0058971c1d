package net

import (
	"github.com/lcx/gameclient/discovery"
	"github.com/lcx/gameclient/log"
)

// ClientOption configures a Client at construction.
//
// Usage example:
// c, err := NewClient(cfg, WithLogger(logger), WithDispatcherFilter(authFilter))
type ClientOption func(*Client)

// WithResolver overrides the endpoint resolver built from the configuration.
func WithResolver(r discovery.Resolver) ClientOption {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithLogger sets the logger; the package default logger is used otherwise.
func WithLogger(l *log.GameLogger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTaskQueue makes the client deliver work onto q, so an engine can share
// one queue between the client and its own cross-goroutine work.
func WithTaskQueue(q *TaskQueue) ClientOption {
	return func(c *Client) {
		if q != nil {
			c.queue = q
		}
	}
}

// WithDispatcherFilter appends a filter run before every handler.
func WithDispatcherFilter(f DispatcherFilter) ClientOption {
	return func(c *Client) {
		if f != nil {
			c.filters = append(c.filters, f)
		}
	}
}
