package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_analyses_submitted_total", Help: "Analysis runs accepted for processing"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	RunsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_runs_completed_total", Help: "Runs durably committed as completed"})
	RunsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_runs_failed_total", Help: "Runs terminated with a stage-fatal error"})
	HeartbeatRestarts = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_heartbeat_restarts_total", Help: "Supervised heartbeat loop restarts"})
	CommitRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_commit_retries_total", Help: "Completion commit attempts beyond the first"})
	SweepConverged    = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_sweep_converged_total", Help: "Stalled records converged by the reconciliation sweep"})
	StoreConflicts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "gait_store_conflicts_total", Help: "Sequence-number write conflicts observed"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "gait_queue_depth", Help: "Runs waiting in the ready queue"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "gait_runs_inflight", Help: "Runs currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			RateLimitRejects,
			RunsCompleted,
			RunsFailed,
			HeartbeatRestarts,
			CommitRetries,
			SweepConverged,
			StoreConflicts,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
