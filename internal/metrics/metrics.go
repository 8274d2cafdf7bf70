package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PassRuns counts reconciliation passes by trigger (loop, periodic, boot,
	// manual) and outcome (ok, error, busy).
	PassRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aniwatcher_reconcile_passes_total",
			Help: "Number of reconciliation passes by outcome",
		},
		[]string{"trigger", "outcome"},
	)

	PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aniwatcher_reconcile_pass_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	NotificationsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aniwatcher_notifications_fired_total",
			Help: "Episodes presented and marked as notified",
		},
	)

	PresentFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aniwatcher_present_failures_total",
			Help: "Episodes whose presentation failed and will be retried",
		},
	)

	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aniwatcher_sync_runs_total",
			Help: "Schedule syncs by outcome",
		},
		[]string{"outcome"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aniwatcher_sync_duration_seconds",
			Help:    "Duration of successful schedule syncs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aniwatcher_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aniwatcher_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func Init() {
	prometheus.MustRegister(PassRuns, PassDuration, NotificationsFired, PresentFailures,
		SyncRuns, SyncDuration, HTTPRequests, RequestDuration)
}
