package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Analysis job metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_jobs_processed_total",
			Help: "Total number of wallet analysis jobs processed",
		},
		[]string{"result"}, // accepted, rejected_*, retried, failed
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensuswatch_job_duration_seconds",
			Help:    "Duration of wallet analysis jobs",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensuswatch_analysis_cache_hits_total",
			Help: "Total number of analysis jobs resolved from the verdict cache",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consensuswatch_queue_depth",
			Help: "Current number of analysis jobs by status",
		},
		[]string{"status"}, // pending, processing, completed, failed
	)

	// Trade monitoring metrics
	TradesObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_trades_observed_total",
			Help: "Total number of tracked-wallet trades observed",
		},
		[]string{"side"}, // BUY, SELL
	)

	WindowEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consensuswatch_window_events_total",
			Help: "Total number of events admitted into rolling windows",
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_alerts_sent_total",
			Help: "Total number of consensus alerts sent",
		},
		[]string{"status", "channel"}, // success/error, telegram/log
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_alerts_suppressed_total",
			Help: "Total number of consensus candidates suppressed by the validation cascade",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_api_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"api", "endpoint", "status"}, // data/clob/hashdive, success/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consensuswatch_api_request_duration_seconds",
			Help:    "Duration of upstream API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"api", "endpoint"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensuswatch_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordJob records the outcome and duration of one analysis job
func RecordJob(result string, duration time.Duration) {
	JobsProcessed.WithLabelValues(result).Inc()
	JobDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records upstream request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordAlertSent records a dispatched alert
func RecordAlertSent(channel string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AlertsSent.WithLabelValues(status, channel).Inc()
}

// RecordSuppression records a cascade rejection by reason
func RecordSuppression(reason string) {
	AlertsSuppressed.WithLabelValues(reason).Inc()
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
