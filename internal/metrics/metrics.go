// Package metrics exposes prometheus instrumentation for the job pipeline
// and billing paths.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingopipe_jobs_processed_total",
		Help: "Jobs finished by the pipeline, by type and terminal status.",
	}, []string{"job_type", "status"})

	JobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingopipe_jobs_dispatched_total",
		Help: "Jobs accepted for execution, by type.",
	}, []string{"job_type"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lingopipe_job_duration_seconds",
		Help:    "Wall-clock pipeline execution time per job type.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
	}, []string{"job_type"})

	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingopipe_credits_debited_total",
		Help: "Credits charged for completed jobs.",
	})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lingopipe_webhook_events_total",
		Help: "Payment webhook events, by outcome.",
	}, []string{"outcome"})

	StaleJobsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lingopipe_stale_jobs_swept_total",
		Help: "Jobs force-failed by the stale sweep.",
	})
)

// Handler serves the default registry; mounted on /metrics in both binaries.
func Handler() http.Handler {
	return promhttp.Handler()
}
