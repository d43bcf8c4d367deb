package pipeline

import (
	"context"

	"roadwatch/internal/incident"
)

// FrameSource produces frames from a stored video.
// Implementations must be lazy: frames are decoded incrementally, never the
// whole video at once.
type FrameSource interface {
	// Sample opens the video and returns a stream of frames at the
	// configured sampling rate, ordered by increasing timestamp.
	// Returns ErrUnreadableMedia when the source cannot be decoded.
	Sample(ctx context.Context, videoPath string) (FrameStream, error)
}

// FrameStream is a lazy, finite sequence of frames. Restart by calling
// FrameSource.Sample again.
type FrameStream interface {
	// Next returns the next frame. It returns io.EOF after the last frame,
	// ErrEmptyMedia when the source produced no frames at all, and
	// ErrFrameDecode (recoverable) for a frame that could not be extracted.
	Next() (*Frame, error)

	// Close releases the underlying decoder resources
	Close() error
}

// VehicleDetector is the vehicle detection capability. Implementations must
// be safe for concurrent use across worker tasks; detection on one frame is
// a pure function of that frame.
type VehicleDetector interface {
	// Detect returns vehicle detections on one frame, ordered by descending
	// confidence, filtered to the retained classes and the configured
	// confidence threshold, with boxes clamped to frame bounds.
	// Returns ErrDetectionUnavailable when the capability is unreachable.
	Detect(ctx context.Context, frameJPEG []byte) ([]VehicleDetection, error)

	// Healthy reports whether the capability is loaded and reachable
	Healthy() bool
}

// PlateRecognizer is the license plate recognition capability. Boxes in the
// returned reads are in the coordinate space of the input image; callers
// translate them back to full-frame coordinates for cropped inputs.
type PlateRecognizer interface {
	// Read returns plate reads from a frame or cropped region. An
	// unreadable image yields zero reads, not an error; an unreachable
	// capability returns ErrRecognitionUnavailable.
	Read(ctx context.Context, imageJPEG []byte) ([]PlateRead, error)

	// Healthy reports whether the capability is loaded and reachable
	Healthy() bool
}

// Store is the persistence interface the orchestrator drives
type Store interface {
	// GetIncident returns the incident or nil, nil when absent
	GetIncident(ctx context.Context, id string) (*incident.Incident, error)

	// SetStatus performs a compare-and-swap status update; false means the
	// current status did not match expected
	SetStatus(ctx context.Context, id string, expected, next incident.Status) (bool, error)

	// CommitResults atomically writes the final record sets together with
	// the terminal status
	CommitResults(ctx context.Context, incidentID string,
		vehicles []incident.DetectedVehicle, plates []incident.LicensePlate,
		final incident.Status) error
}

// StatusHandler receives status transition events
type StatusHandler interface {
	OnStatus(event StatusEvent)
}
