package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/naveego/live-go/middleware"
)

// DefaultChannel is the event name requests and responses travel on.
const DefaultChannel = "rpc"

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithChannel changes the event name used for requests.
func WithChannel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.channel = name
		}
	}
}

// WithCallTimeout bounds every Call that has no earlier deadline. Zero, the
// default, leaves calls bounded only by their context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithMiddleware installs middleware around inbound request handlers.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mw...)
	}
}
