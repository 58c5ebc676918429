package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Account syncs by result: success, auth_failed, timeout, network, ...
	AccountSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_account_syncs_total",
			Help: "Total number of account syncs by result",
		},
		[]string{"provider", "result"},
	)

	// Messages handled by outcome: created, updated, unchanged, skipped, failed
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_messages_total",
			Help: "Total number of fetched messages by outcome",
		},
		[]string{"outcome"},
	)

	// Classified messages by view
	MessagesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtriage_messages_classified_total",
			Help: "Total number of classified messages by view and rule",
		},
		[]string{"view", "rule"},
	)

	StuckResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailtriage_stuck_resets_total",
			Help: "Total number of accounts reset after being stuck in syncing",
		},
	)

	AccountSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailtriage_account_sync_duration_seconds",
			Help:    "Duration of a single account sync in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
		},
		[]string{"provider"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailtriage_batch_duration_seconds",
			Help:    "Duration of a sync batch in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailtriage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordAccountSync records one account sync
func RecordAccountSync(provider, result string, duration time.Duration) {
	AccountSyncs.WithLabelValues(provider, result).Inc()
	AccountSyncDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// AddMessages adds n messages with outcome
func AddMessages(outcome string, n int) {
	if n > 0 {
		MessagesProcessed.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncrementClassified counts one classification
func IncrementClassified(view, rule string) {
	MessagesClassified.WithLabelValues(view, rule).Inc()
}

// AddStuckResets counts accounts reset by the stuck detector
func AddStuckResets(n int64) {
	if n > 0 {
		StuckResets.Add(float64(n))
	}
}

// RecordBatch records a batch duration
func RecordBatch(duration time.Duration) {
	BatchDuration.Observe(duration.Seconds())
}

// GinMiddleware records request latency labelled by route template
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
