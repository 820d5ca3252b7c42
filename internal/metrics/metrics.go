package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	Answers            *prometheus.CounterVec
	StoreRetries       *prometheus.CounterVec
	PendingReconcile   prometheus.Counter
	Connections        prometheus.Gauge
	RequestCounter     *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_sessions_active",
			Help: "Number of live quiz sessions",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_session_transitions_total",
			Help: "Session state transitions",
		}, []string{"state"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Answer submissions by outcome",
		}, []string{"outcome"}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_store_retries_total",
			Help: "Quiz store operations retried after a failure",
		}, []string{"op"}),
		PendingReconcile: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_store_reconcile_queued_total",
			Help: "Score writes queued for reconciliation after repeated store failures",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_ws_connections",
			Help: "Open websocket connections",
		}),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"method", "endpoint"}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionTransitions,
		m.Answers,
		m.StoreRetries,
		m.PendingReconcile,
		m.Connections,
		m.RequestCounter,
		m.RequestDuration,
	)
	return m
}

// NewUnregistered returns collectors bound to a private registry; handy in tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
