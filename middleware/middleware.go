// Package middleware wraps inbound request handlers.
//
// A HandlerFunc turns one request into its response. Middlewares compose in
// onion order: Chain(a, b)(h) runs a, then b, then h.
package middleware

import (
	"context"

	"github.com/naveego/live-go/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// failure builds an error response for req.
func failure(req *message.Request, code int, msg string) *message.Response {
	return &message.Response{ID: req.ID, Error: message.NewError(code, msg)}
}

// outcome labels a response for logs and metrics.
func outcome(resp *message.Response) string {
	if resp == nil || !resp.Failed() {
		return "ok"
	}
	return "error"
}
