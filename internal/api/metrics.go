package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	provRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prov_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	provRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prov_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	provBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prov_batches_accepted_total",
		Help: "Total accepted attestation batches.",
	})

	provBatchAttestations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prov_batch_attestations_total",
		Help: "Total attestations committed through accepted batches.",
	})

	provSinglesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prov_single_attestations_total",
		Help: "Total accepted single attestations.",
	})

	provStakeOpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prov_stake_operations_total",
		Help: "Total successful stake deposits, top-ups, and withdrawals.",
	})

	provSlashesExecutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prov_slashes_executed_total",
		Help: "Total executed slash proposals.",
	})
)

// PrometheusMiddleware returns middleware recording per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		provRequestsTotal.WithLabelValues(method, path, status).Inc()
		provRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a handler serving Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBatchAccepted records one accepted batch of the given size.
func RecordBatchAccepted(count uint64) {
	provBatchesTotal.Inc()
	provBatchAttestations.Add(float64(count))
}

// RecordSingleAccepted records one accepted single attestation.
func RecordSingleAccepted() {
	provSinglesTotal.Inc()
}

// RecordStakeOp records one successful stake mutation.
func RecordStakeOp() {
	provStakeOpsTotal.Inc()
}

// RecordSlashExecuted records one executed slash.
func RecordSlashExecuted() {
	provSlashesExecutedTotal.Inc()
}
