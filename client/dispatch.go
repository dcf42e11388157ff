package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
	"github.com/naveego/live-go/middleware"
	"github.com/naveego/live-go/transport"
)

// Handler serves one inbound request. The returned value is encoded as the
// result. Returning a *message.ErrorInfo controls the error code sent back;
// any other error is reported as message.CodeInternal.
type Handler func(ctx context.Context, param json.RawMessage) (any, error)

// HandleTyped adapts fn into a Handler that decodes the parameter into P.
// Undecodable parameters are answered with message.CodeBadRequest.
func HandleTyped[P, R any](fn func(ctx context.Context, param P) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, message.NewError(message.CodeBadRequest, "invalid params: "+err.Error())
			}
		}
		return fn(ctx, p)
	}
}

// OnRequest registers h for inbound requests to method ("Foo.Bar"). A later
// registration for the same method replaces the earlier one.
func (c *Client) OnRequest(method string, h Handler) {
	if h == nil {
		panic("client: nil handler for " + method)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[method]; ok {
		c.logger.Warn("replacing request handler", zap.String("method", method))
	}
	c.handlers[method] = h
}

// Use appends middleware around inbound handlers.
func (c *Client) Use(mw ...middleware.Middleware) {
	c.mu.Lock()
	c.middlewares = append(c.middlewares, mw...)
	c.mu.Unlock()
}

// dispatch is the single listener on the request channel. Requests for
// methods without a handler are left for other listeners on the channel.
func (c *Client) dispatch(data json.RawMessage, reply transport.Reply) {
	var req message.Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warn("dropping undecodable request", zap.Error(err))
		return
	}

	c.mu.RLock()
	h, ok := c.handlers[req.Method]
	chain := middleware.Chain(c.middlewares...)
	c.mu.RUnlock()
	if !ok {
		return
	}

	// The listener runs on the transport's delivery goroutine.
	go c.serve(&req, chain(c.invoke(h)), reply)
}

func (c *Client) serve(req *message.Request, next middleware.HandlerFunc, reply transport.Reply) {
	resp := middleware.Recover(c.logger)(next)(c.ctx, req)
	if reply == nil {
		return
	}
	if resp == nil {
		resp = &message.Response{Error: message.NewError(message.CodeInternal, "handler returned no response")}
	}
	resp.ID = req.ID
	if err := reply(resp); err != nil {
		c.logger.Warn("reply failed",
			zap.String("method", req.Method),
			zap.String("id", req.ID),
			zap.Error(err))
	}
}

// invoke runs h as the innermost middleware.HandlerFunc.
func (c *Client) invoke(h Handler) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Request) *message.Response {
		result, err := h(ctx, req.Param())
		if err != nil {
			return &message.Response{ID: req.ID, Error: message.ErrorFrom(err)}
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return &message.Response{
				ID:    req.ID,
				Error: message.NewError(message.CodeInternal, fmt.Sprintf("encode %s result: %v", req.Method, err)),
			}
		}
		return &message.Response{ID: req.ID, Result: raw}
	}
}
