package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP collectors live under alfie_http_*. The route label is gin's FullPath,
// or "unmatched" when routing failed, so raw ids never become label values.
const unmatchedPath = "unmatched"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alfie",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "alfie",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of non-streaming HTTP requests.",
		// Planning and batch creation call the selector synchronously.
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "route"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "alfie",
		Subsystem: "http",
		Name:      "requests_inflight",
		Help:      "Requests currently being served, open event streams included.",
	})

	httpResponseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "alfie",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "Response body sizes. CSV and ZIP exports dominate the upper buckets.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 9), // 256B .. 16MiB
	}, []string{"method", "route"})

	httpReplays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alfie",
		Subsystem: "http",
		Name:      "idempotent_replays_total",
		Help:      "Requests answered from a stored idempotency record.",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency, httpInflight, httpResponseBytes, httpReplays)
}

// Metrics records request counts, latency, response size and idempotent
// replays. Event streams are counted but not timed.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInflight.Inc()
		defer httpInflight.Dec()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedPath
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		if IsReplay(c) {
			httpReplays.WithLabelValues(route).Inc()
		}

		if isEventStream(c) {
			return
		}
		httpLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			httpResponseBytes.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}

func isEventStream(c *gin.Context) bool {
	return strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")
}
