// Package telemetry provides application-level observability for Publora.
//
// All metrics are registered against the default Prometheus registry and served
// on a side-channel HTTP server started by main.go:
//
//	GET http://<host>:<PUB_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router, so it never
// passes through rate limiting or authentication middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/posts/:id) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Publishing pipeline metrics.
//
// PublishAttemptsTotal counts every outbound publish call, labelled by the
// provider identifier and the outcome: "success", "retry", "refresh_token",
// or "bad_body". Retries increment the counter once per attempt so the ratio
// retry/success exposes how often providers throttle us.
var (
	PublishAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_attempts_total",
			Help: "Total outbound publish attempts, by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	LimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "limiter_wait_seconds",
			Help:    "Time spent waiting for a concurrency bucket slot, by normalized identifier.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"identifier"},
	)
)

// Queue metrics.
var (
	QueueJobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total jobs enqueued, by queue name.",
		},
		[]string{"queue"},
	)

	QueueJobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Total jobs processed by workers, by queue name and final status (completed, failed, retried).",
		},
		[]string{"queue", "status"},
	)

	QueueWaitingJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_jobs",
			Help: "Number of jobs currently in the waiting state, by queue name.",
		},
		[]string{"queue"},
	)
)

// Webhook delivery metrics.
var WebhookDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Total webhook delivery attempts, by outcome (delivered, failed).",
	},
	[]string{"outcome"},
)

// Database connection pool gauge, polled periodically.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections.",
	},
)

// PollDBStats updates DBOpenConnections every interval until stop is closed.
// Run it via safego.Go from main.go after the database connection is ready.
func PollDBStats(db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		case <-stop:
			slog.Debug("db stats poller stopped")
			return
		}
	}
}
