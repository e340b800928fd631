// Package metrics exposes the daemon's Prometheus instruments on a private
// registry so tests never collide on the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder collects job and stage instruments. A nil Recorder drops every
// observation so callers never need to branch on metrics being enabled.
type Recorder struct {
	registry      *prometheus.Registry
	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	activeWorkers prometheus.Gauge
}

// New builds a Recorder with its own registry, including the standard Go
// and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: registry,
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quaver_jobs_submitted_total",
			Help: "Jobs accepted by kind.",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quaver_jobs_finished_total",
			Help: "Jobs reaching a terminal status by kind and status.",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quaver_job_duration_seconds",
			Help:    "Wall time from claim to terminal status.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quaver_stage_duration_seconds",
			Help:    "External tool stage duration by stage and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage", "outcome"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quaver_stage_retries_total",
			Help: "Stage retry attempts by stage and error kind.",
		}, []string{"stage", "error_kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quaver_queue_depth",
			Help: "Jobs waiting for a worker.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quaver_active_workers",
			Help: "Workers currently executing a job.",
		}),
	}

	registry.MustRegister(
		r.jobsSubmitted,
		r.jobsFinished,
		r.jobDuration,
		r.stageDuration,
		r.stageRetries,
		r.queueDepth,
		r.activeWorkers,
	)
	return r
}

// Handler serves the registry for the /metrics endpoint.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// JobSubmitted counts an accepted submission.
func (r *Recorder) JobSubmitted(kind string) {
	if r == nil {
		return
	}
	r.jobsSubmitted.WithLabelValues(kind).Inc()
}

// JobFinished counts a terminal job and observes its processing duration.
func (r *Recorder) JobFinished(kind, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.jobsFinished.WithLabelValues(kind, status).Inc()
	r.jobDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// StageFinished observes one stage execution.
func (r *Recorder) StageFinished(stage, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// StageRetried counts a retry attempt.
func (r *Recorder) StageRetried(stage, errorKind string) {
	if r == nil {
		return
	}
	r.stageRetries.WithLabelValues(stage, errorKind).Inc()
}

// SetQueueDepth records the current number of waiting jobs.
func (r *Recorder) SetQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(depth))
}

// WorkerStarted marks a worker as busy.
func (r *Recorder) WorkerStarted() {
	if r == nil {
		return
	}
	r.activeWorkers.Inc()
}

// WorkerStopped marks a worker as idle.
func (r *Recorder) WorkerStopped() {
	if r == nil {
		return
	}
	r.activeWorkers.Dec()
}
