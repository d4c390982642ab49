package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbridge_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callbridge_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway actions
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbridge_actions_total",
			Help: "Total gateway actions by outcome",
		},
		[]string{"action", "outcome"}, // outcome: "ok" or the error class
	)

	// Call lifecycle
	CallsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callbridge_calls_initiated_total",
			Help: "Total calls initiated",
		},
	)

	CallsAnswered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callbridge_calls_answered_total",
			Help: "Total calls answered",
		},
	)

	CallsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callbridge_calls_rejected_total",
			Help: "Total calls rejected",
		},
	)

	CallsMissed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callbridge_calls_missed_total",
			Help: "Total calls missed via ring timeout",
		},
	)

	CallsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callbridge_calls_ended_total",
			Help: "Total calls ended",
		},
	)

	TransitionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbridge_transition_conflicts_total",
			Help: "Conditional writes lost to a racing transition",
		},
		[]string{"operation"},
	)

	// Signaling
	SignalsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbridge_signals_sent_total",
			Help: "Total signaling payloads queued",
		},
		[]string{"type"}, // offer, answer, ice_candidate
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbridge_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"bucket"},
	)
)
