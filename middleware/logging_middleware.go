package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/naveego/live-go/message"
)

// Logging records every handled request with its duration, and the error code
// when the handler failed.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Failed() {
				logger.Info("request failed", append(fields,
					zap.Int("code", resp.Error.Code),
					zap.String("error", resp.Error.Message))...)
				return resp
			}
			logger.Debug("request handled", fields...)
			return resp
		}
	}
}
