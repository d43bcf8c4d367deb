package pipeline

import (
	"errors"
)

// Sentinel errors for the processing pipeline. Stage-fatal conditions abort
// the whole run and drive the incident to failed; recoverable conditions
// cost only the frame they occurred on.
var (
	// ErrUnreadableMedia - the stored video cannot be opened or decoded at all
	ErrUnreadableMedia = errors.New("media is unreadable")

	// ErrEmptyMedia - the video decoded but produced no frames
	ErrEmptyMedia = errors.New("media produced no frames")

	// ErrDetectionUnavailable - the vehicle detection capability is not
	// loaded or not reachable
	ErrDetectionUnavailable = errors.New("vehicle detection unavailable")

	// ErrRecognitionUnavailable - the plate recognition capability is not
	// loaded or not reachable
	ErrRecognitionUnavailable = errors.New("plate recognition unavailable")

	// ErrFrameDecode - a single frame could not be extracted or decoded.
	// Recoverable: the frame is skipped and processing continues.
	ErrFrameDecode = errors.New("frame decode failed")

	// ErrFailureRateExceeded - too many frames failed recoverably; the run
	// escalates to a failure
	ErrFailureRateExceeded = errors.New("frame failure rate exceeded")
)

// IsStageFatal reports whether err must abort the processing run
func IsStageFatal(err error) bool {
	return errors.Is(err, ErrUnreadableMedia) ||
		errors.Is(err, ErrEmptyMedia) ||
		errors.Is(err, ErrDetectionUnavailable) ||
		errors.Is(err, ErrRecognitionUnavailable) ||
		errors.Is(err, ErrFailureRateExceeded)
}
