// Package monitor exposes Prometheus metrics for the job queue and the
// process itself. Collectors are registered once at import time and fed
// from the scheduler's critical sections, so the gauges always reflect the
// queue depth a worker would observe.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resyncbot_jobs_queued_total",
		Help: "Jobs admitted to the queue, by tier.",
	}, []string{"tier"})

	jobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resyncbot_jobs_dispatched_total",
		Help: "Jobs handed to a worker, by tier.",
	}, []string{"tier"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resyncbot_jobs_finished_total",
		Help: "Jobs reaching a terminal state, by state and tier.",
	}, []string{"state", "tier"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resyncbot_job_duration_seconds",
		Help:    "Wall time spent processing one job.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 480},
	})

	queueDepthPremium = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resyncbot_queue_depth_premium",
		Help: "Jobs waiting in the premium queue.",
	})

	queueDepthFree = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resyncbot_queue_depth_free",
		Help: "Jobs waiting in the free queue.",
	})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resyncbot_jobs_running",
		Help: "Jobs currently held by a worker.",
	})

	startTime = time.Now()

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "resyncbot_uptime_seconds",
		Help: "Seconds since the process started.",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	})
)

// JobQueued records an admission.
func JobQueued(tier string) {
	jobsQueued.WithLabelValues(tier).Inc()
}

// JobDispatched records a dispatch to a worker.
func JobDispatched(tier string) {
	jobsDispatched.WithLabelValues(tier).Inc()
}

// JobFinished records a terminal transition. A zero elapsed time (cancelled
// jobs) is not added to the duration histogram.
func JobFinished(state, tier string, elapsed time.Duration) {
	jobsFinished.WithLabelValues(state, tier).Inc()
	if elapsed > 0 {
		jobDuration.Observe(elapsed.Seconds())
	}
}

// SetQueueDepth updates the queue depth gauges.
func SetQueueDepth(premium, free, running int) {
	queueDepthPremium.Set(float64(premium))
	queueDepthFree.Set(float64(free))
	jobsRunning.Set(float64(running))
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
