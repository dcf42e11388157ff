// Package client correlates requests and responses exchanged with remote peers
// over a shared real-time channel.
//
// Outbound, every Call gets a fresh id and waits in a pending table until the
// response carrying that id arrives through the transport's acknowledgement.
// Inbound, a single listener on the channel routes each request to the handler
// registered for its method and answers through the same acknowledgement.
//
//	c, _ := client.New(socket)
//	c.OnRequest("Echo.Say", client.HandleTyped(say))
//	res, err := c.Call(ctx, peerID, "Echo.Say", "hi")
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
	"github.com/naveego/live-go/middleware"
	"github.com/naveego/live-go/transport"
)

// Client is bound to exactly one socket. It is safe for concurrent use.
type Client struct {
	socket      transport.Socket
	channel     string
	logger      *zap.Logger
	callTimeout time.Duration

	seq      atomic.Uint64 // Last issued request id
	pending  sync.Map      // map[string]*Call
	npending atomic.Int64

	mu          sync.RWMutex
	handlers    map[string]Handler
	middlewares []middleware.Middleware

	notes *notifyQueue

	// ctx is handed to inbound handlers and cancelled by Disconnect.
	ctx    context.Context
	cancel context.CancelFunc
}

// New binds a client to socket and subscribes it to the request channel.
func New(socket transport.Socket, opts ...Option) (*Client, error) {
	if socket == nil {
		return nil, errors.New("client: nil socket")
	}
	c := &Client{
		socket:   socket,
		channel:  DefaultChannel,
		logger:   zap.NewNop(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.notes = newNotifyQueue(c.logger)
	go c.notes.run(c.ctx)

	if err := socket.On(c.channel, c.dispatch); err != nil {
		c.cancel()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	return c, nil
}

// ID returns the relay-assigned id of the underlying connection. Other peers
// use it as the address of this client.
func (c *Client) ID() string {
	return c.socket.ID()
}

// Pending returns the number of calls still waiting for a response.
func (c *Client) Pending() int {
	return int(c.npending.Load())
}

// On registers fn for a transport lifecycle event such as
// transport.EventDisconnect.
func (c *Client) On(event string, fn transport.LifecycleFunc) error {
	return c.socket.OnLifecycle(event, fn)
}

// OnNotification registers fn for notifications named method. A client runs
// its callbacks one at a time in arrival order, off the transport's delivery
// goroutine. None run after Disconnect.
func (c *Client) OnNotification(method string, fn func(param json.RawMessage)) error {
	if fn == nil {
		return errors.New("client: nil notification callback")
	}
	return c.socket.On(method, func(data json.RawMessage, _ transport.Reply) {
		var req message.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Warn("dropping undecodable notification", zap.String("method", method), zap.Error(err))
			return
		}
		param := req.Param()
		c.notes.push(func() { fn(param) })
	})
}

// Disconnect cancels the context of running handlers and closes the socket.
// Calls still pending are left to their own contexts.
func (c *Client) Disconnect() error {
	c.cancel()
	return c.socket.Close()
}
