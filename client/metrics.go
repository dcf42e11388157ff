package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes.
const (
	outcomeOK          = "ok"
	outcomeRemoteError = "remote_error"
	outcomeSendError   = "send_error"
	outcomeExpired     = "expired"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live",
			Subsystem: "rpc",
			Name:      "client_calls_total",
			Help:      "Outbound calls by outcome",
		},
		[]string{"outcome"},
	)

	callDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "live",
			Subsystem: "rpc",
			Name:      "client_call_duration_seconds",
			Help:      "Time from emitting a request until it resolves",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	pendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "live",
			Subsystem: "rpc",
			Name:      "client_pending_calls",
			Help:      "Calls waiting for a response across all clients",
		},
	)
)
