package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/naveego/live-go/message"
)

var handlerDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "live",
		Subsystem: "rpc",
		Name:      "handler_duration_seconds",
		Help:      "Inbound request handling duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	},
	[]string{"method", "outcome"},
)

// Metrics observes handler duration by method and outcome.
func Metrics() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			handlerDuration.WithLabelValues(req.Method, outcome(resp)).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
