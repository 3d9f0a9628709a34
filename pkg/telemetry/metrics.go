// Package telemetry holds the Prometheus metrics for the voicepipe pipeline
// and a small metrics/health HTTP server embedded in each binary.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts tasks admitted through the API, by priority.
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "api",
		Name:      "tasks_submitted_total",
		Help:      "Total tasks admitted into the process queue.",
	}, []string{"priority"})

	// TasksCanceled counts cancellation requests, by whether a pending task
	// was actually removed.
	TasksCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "api",
		Name:      "tasks_canceled_total",
		Help:      "Total cancellation requests, labelled found or not_found.",
	}, []string{"result"})

	// SynthProcessed counts synthesis outcomes: success, failed_quiet
	// (reference audio below the loudness threshold) or failed.
	SynthProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "synth",
		Name:      "tasks_processed_total",
		Help:      "Total synthesis tasks processed by terminal status.",
	}, []string{"status"})

	// SynthDuration tracks synthesis latency in seconds.
	SynthDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicepipe_synth_duration_seconds",
		Help:    "Duration of a single synthesis task.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// UploadsProcessed counts delivery outcomes.
	UploadsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "upload",
		Name:      "jobs_processed_total",
		Help:      "Total upload jobs processed by terminal status.",
	}, []string{"status"})

	// CallbackAttempts counts webhook delivery activity: delivered, retried,
	// permanent (4xx rejection) and exhausted.
	CallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "callback",
		Name:      "attempts_total",
		Help:      "Callback delivery outcomes.",
	}, []string{"outcome"})

	// QueueDepth tracks the number of entries resident in each queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voicepipe",
		Name:      "queue_depth",
		Help:      "Entries currently resident in each queue.",
	}, []string{"queue"})

	// SweptFiles counts stale artifacts removed by the directory sweeper.
	SweptFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicepipe",
		Subsystem: "sweeper",
		Name:      "files_removed_total",
		Help:      "Stale local artifacts removed by the sweeper.",
	})
)
