// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattendance",
		Name:      "checkins_total",
		Help:      "Check-in attempts by outcome.",
	}, []string{"outcome"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qrattendance",
		Name:      "sessions_created_total",
		Help:      "Attendance sessions issued.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qrattendance",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qrattendance",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Checkin outcome labels beyond the success outcomes.
const (
	OutcomeRejected = "rejected"
	OutcomeNotFound = "session_not_found"
	OutcomeError    = "error"
)

// GinMiddleware records request latency labelled by the matched route
// template, so path parameters do not explode cardinality.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
