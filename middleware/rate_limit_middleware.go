package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/naveego/live-go/message"
)

// RateLimit 创建一个基于令牌桶算法的限流中间件
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return failure(req, message.CodeTooManyRequests, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
