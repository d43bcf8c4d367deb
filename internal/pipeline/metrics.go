package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	incidentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_incidents_completed_total",
		Help: "Incidents that finished processing successfully.",
	})

	incidentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_incidents_failed_total",
		Help: "Incidents that ended in the failed status.",
	})

	framesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_frames_sampled_total",
		Help: "Frames extracted from incident videos.",
	})

	framesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_frames_skipped_total",
		Help: "Frames dropped after a recoverable per-frame failure.",
	})

	vehiclesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_vehicles_detected_total",
		Help: "Vehicle detections persisted across all incidents.",
	})

	platesRecognized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadwatch_plates_recognized_total",
		Help: "License plate reads persisted across all incidents.",
	})

	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roadwatch_processing_duration_seconds",
		Help:    "Wall-clock duration of one incident processing run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
