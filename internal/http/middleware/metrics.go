// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics exports Prometheus collectors for HTTP traffic. Labels stay bounded:
// path is the registered route (session and user ids never become label
// values) or "<unmatched>", and error codes come from the fixed handler
// taxonomy recorded with SetErrorCode.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedPath labels requests that matched no route.
const unmatchedPath = "<unmatched>"

var (
	httpReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	httpLat = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// Payloads here are small JSON documents; the largest is a page of jobs.
	httpRespSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size by method and route.",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B..1MiB
	}, []string{"method", "path"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Error envelopes by route and stable error code.",
	}, []string{"path", "code"})
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpErrors)
}

// Metrics instruments every request. Mount promhttp on /metrics separately.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// -1 when nothing was written (204, hijacked connections).
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if code := ErrorCodeFrom(c); code != "" {
			httpErrors.WithLabelValues(path, code).Inc()
		}
	}
}
