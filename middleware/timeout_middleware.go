package middleware

import (
	"context"
	"time"

	"github.com/naveego/live-go/message"
)

// Timeout answers with CodeTimeout when the handler does not finish within
// timeout. The handler's context is cancelled at that point.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return failure(req, message.CodeTimeout, "request timed out")
			}
		}
	}
}
