package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
)

// Recover turns a handler panic into a CodeInternal response.
func Recover(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("method", req.Method),
						zap.String("id", req.ID),
						zap.Any("panic", r),
						zap.Stack("stack"))
					resp = failure(req, message.CodeInternal, "internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}
