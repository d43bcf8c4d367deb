package pipeline

import (
	"roadwatch/internal/incident"
)

// Frame is one sampled video frame
type Frame struct {
	Data      []byte  // JPEG frame data
	Timestamp float64 // Seconds from video start
	Index     int     // Sample index (0-based)
	Width     int     // Frame width in pixels
	Height    int     // Frame height in pixels
}

// VehicleDetection is a single vehicle detection on one frame, already
// filtered to the retained vehicle classes and the confidence threshold
type VehicleDetection struct {
	Class      string
	Confidence float64
	BBox       incident.BBox
	Color      string
}

// PlateRead is a single plate recognition result. The bounding box is in
// full-frame coordinates (translated back by the caller when the read came
// from a cropped region).
type PlateRead struct {
	Text       string
	Confidence float64
	BBox       incident.BBox
	Region     *string
}

// VehicleObservation pairs a detection with the plate reads obtained from
// its cropped region
type VehicleObservation struct {
	Detection VehicleDetection
	Plates    []PlateRead
}

// FrameObservation holds everything observed on a single frame
type FrameObservation struct {
	Timestamp float64
	Width     int
	Height    int
	Vehicles  []VehicleObservation
	// Plates found by whole-frame scanning, persisted without a vehicle
	// association
	Plates []PlateRead
}

// OutcomeKind tags the per-frame processing result
type OutcomeKind int

const (
	// OutcomeOk - the frame was processed; observation is populated
	OutcomeOk OutcomeKind = iota
	// OutcomeSkipped - the frame failed recoverably and was dropped
	OutcomeSkipped
)

// FrameOutcome is the tagged per-frame result fed to the aggregator.
// Stage-fatal conditions are reported as errors from the processing loop,
// never as outcomes.
type FrameOutcome struct {
	Kind        OutcomeKind
	Observation *FrameObservation // nil unless Kind == OutcomeOk
	SkipReason  string
}

// Job is one unit of work handed to the orchestrator
type Job struct {
	IncidentID string `json:"incident_id"`
	VideoPath  string `json:"video_path"`
}

// StatusEvent is published on every incident status transition
type StatusEvent struct {
	IncidentID string          `json:"incident_id"`
	Status     incident.Status `json:"status"`
	Vehicles   int             `json:"vehicles"`
	Plates     int             `json:"plates"`
}
