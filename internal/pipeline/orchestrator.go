package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"roadwatch/internal/incident"
	"roadwatch/internal/store"
)

// RegionCropper cuts a padded region around box out of a JPEG frame and
// returns the re-encoded crop plus the (dx, dy) offset of the crop origin in
// frame coordinates.
type RegionCropper func(frameJPEG []byte, box incident.BBox, margin float64) (crop []byte, dx, dy float64, err error)

// Thumbnailer writes a preview image for a processed video. Called
// best-effort after a successful commit.
type Thumbnailer func(frameJPEG []byte, videoPath string) error

// Options tune one orchestrator instance
type Options struct {
	// FailureRatio is the fraction of frames that may fail recoverably
	// before the run escalates to a failure. Zero means the 0.5 default.
	FailureRatio float64

	// CropMargin expands a vehicle box before cropping it for plate
	// recognition, as a fraction of the box size. Zero means the 0.1 default.
	CropMargin float64

	// ScanWholeFrame additionally runs plate recognition over the full
	// frame, catching plates outside any detected vehicle box
	ScanWholeFrame bool

	// Cropper produces per-vehicle plate crops. Nil disables per-vehicle
	// recognition; plates then come from whole-frame scanning only.
	Cropper RegionCropper

	// Thumbnail is called with the first sampled frame after a successful
	// commit. Nil disables thumbnails.
	Thumbnail Thumbnailer
}

// minFramesForRatio guards the failure-ratio check so a single early skip on
// a short video does not abort the whole run
const minFramesForRatio = 4

// Orchestrator drives one incident video through sampling, detection,
// recognition and aggregation, and owns every status transition.
// Safe for concurrent use; each Process call is an independent run.
type Orchestrator struct {
	store    Store
	source   FrameSource
	detector VehicleDetector
	reader   PlateRecognizer
	events   *EventBus
	opts     Options
}

// NewOrchestrator wires an orchestrator. events may be nil when no one
// listens for status transitions.
func NewOrchestrator(st Store, source FrameSource, detector VehicleDetector, reader PlateRecognizer, events *EventBus, opts Options) *Orchestrator {
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.CropMargin <= 0 {
		opts.CropMargin = 0.1
	}
	return &Orchestrator{
		store:    st,
		source:   source,
		detector: detector,
		reader:   reader,
		events:   events,
		opts:     opts,
	}
}

// Process runs the full pipeline for one job. Delivery is at-least-once, so
// a job whose incident is not in the pending status is acknowledged and
// dropped without touching it. Cancellation is honored at frame boundaries;
// a cancelled run ends in the failed status, never a partial commit.
func (o *Orchestrator) Process(ctx context.Context, job Job) error {
	claimed, err := o.store.SetStatus(ctx, job.IncidentID, incident.StatusPending, incident.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to claim incident %s: %w", job.IncidentID, err)
	}
	if !claimed {
		log.Printf("[Orchestrator] Incident %s is not pending, dropping duplicate dispatch", job.IncidentID)
		return nil
	}
	o.publish(StatusEvent{IncidentID: job.IncidentID, Status: incident.StatusProcessing})

	start := time.Now()
	agg := NewAggregator()
	firstFrame, runErr := o.run(ctx, job, agg)
	if runErr != nil {
		o.fail(job.IncidentID)
		log.Printf("[Orchestrator] Incident %s failed: %v", job.IncidentID, runErr)
		return runErr
	}

	vehicles, plates := agg.Finalize(job.IncidentID)
	if err := o.store.CommitResults(ctx, job.IncidentID, vehicles, plates, incident.StatusCompleted); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			// The incident left the processing status underneath us,
			// typically because it was deleted mid-run. Nothing to persist.
			log.Printf("[Orchestrator] Incident %s no longer processing, discarding results", job.IncidentID)
			return nil
		}
		o.fail(job.IncidentID)
		return fmt.Errorf("failed to commit results for %s: %w", job.IncidentID, err)
	}

	incidentsCompleted.Inc()
	vehiclesDetected.Add(float64(len(vehicles)))
	platesRecognized.Add(float64(len(plates)))
	processingDuration.Observe(time.Since(start).Seconds())

	o.publish(StatusEvent{
		IncidentID: job.IncidentID,
		Status:     incident.StatusCompleted,
		Vehicles:   len(vehicles),
		Plates:     len(plates),
	})
	log.Printf("[Orchestrator] Incident %s completed: %d vehicles, %d plates from %d frames in %v",
		job.IncidentID, len(vehicles), len(plates), agg.Frames(), time.Since(start).Round(time.Millisecond))

	if o.opts.Thumbnail != nil && firstFrame != nil {
		if err := o.opts.Thumbnail(firstFrame, job.VideoPath); err != nil {
			log.Printf("[Orchestrator] Thumbnail for %s failed: %v", job.IncidentID, err)
		}
	}
	return nil
}

// run walks the frame stream and feeds the aggregator. It returns the first
// sampled frame for thumbnailing and a non-nil error only for stage-fatal
// conditions or cancellation.
func (o *Orchestrator) run(ctx context.Context, job Job, agg *Aggregator) ([]byte, error) {
	stream, err := o.source.Sample(ctx, job.VideoPath)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var firstFrame []byte

	skip := func(reason string, cause error) error {
		agg.Record(FrameOutcome{Kind: OutcomeSkipped, SkipReason: reason})
		framesSkipped.Inc()
		log.Printf("[Orchestrator] Incident %s: skipping frame (%s): %v", job.IncidentID, reason, cause)
		if agg.Attempts() >= minFramesForRatio &&
			float64(agg.Skipped())/float64(agg.Attempts()) > o.opts.FailureRatio {
			return fmt.Errorf("%w: %d of %d frames failed", ErrFailureRateExceeded, agg.Skipped(), agg.Attempts())
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if agg.Frames() == 0 && agg.Skipped() > 0 {
					return nil, fmt.Errorf("%w: all %d frames failed", ErrFailureRateExceeded, agg.Skipped())
				}
				return firstFrame, nil
			}
			if errors.Is(err, ErrFrameDecode) {
				if serr := skip("extraction", err); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, err
		}

		framesSampled.Inc()
		if firstFrame == nil {
			firstFrame = frame.Data
		}

		obs, err := o.processFrame(ctx, frame)
		if err != nil {
			if IsStageFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			if serr := skip("processing", err); serr != nil {
				return nil, serr
			}
			continue
		}

		agg.Record(FrameOutcome{Kind: OutcomeOk, Observation: obs})
	}
}

// processFrame runs detection and recognition over a single frame
func (o *Orchestrator) processFrame(ctx context.Context, frame *Frame) (*FrameObservation, error) {
	detections, err := o.detector.Detect(ctx, frame.Data)
	if err != nil {
		return nil, err
	}

	obs := &FrameObservation{
		Timestamp: frame.Timestamp,
		Width:     frame.Width,
		Height:    frame.Height,
	}

	associated := make(map[string]bool)
	for _, d := range detections {
		vo := VehicleObservation{Detection: d}

		if o.opts.Cropper != nil {
			crop, dx, dy, cerr := o.opts.Cropper(frame.Data, d.BBox, o.opts.CropMargin)
			if cerr != nil {
				// A degenerate crop costs the plate read, not the detection
				log.Printf("[Orchestrator] Crop failed for %s detection: %v", d.Class, cerr)
				obs.Vehicles = append(obs.Vehicles, vo)
				continue
			}

			reads, rerr := o.reader.Read(ctx, crop)
			if rerr != nil {
				return nil, rerr
			}
			for _, r := range reads {
				r.BBox = r.BBox.Translate(dx, dy).Clamp(frame.Width, frame.Height)
				vo.Plates = append(vo.Plates, r)
				associated[r.Text] = true
			}
		}
		obs.Vehicles = append(obs.Vehicles, vo)
	}

	if o.opts.ScanWholeFrame {
		reads, err := o.reader.Read(ctx, frame.Data)
		if err != nil {
			return nil, err
		}
		for _, r := range reads {
			// Keep only plates not already tied to a vehicle crop
			if associated[r.Text] {
				continue
			}
			obs.Plates = append(obs.Plates, r)
		}
	}

	return obs, nil
}

// fail drives a processing incident to failed. A conflict means the incident
// was deleted or already terminal; that is not an error here.
func (o *Orchestrator) fail(incidentID string) {
	// The run context may already be cancelled; the transition still has
	// to land, so it gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := o.store.SetStatus(ctx, incidentID, incident.StatusProcessing, incident.StatusFailed)
	if err != nil {
		log.Printf("[Orchestrator] Failed to mark incident %s failed: %v", incidentID, err)
		return
	}
	if !ok {
		return
	}
	incidentsFailed.Inc()
	o.publish(StatusEvent{IncidentID: incidentID, Status: incident.StatusFailed})
}

func (o *Orchestrator) publish(event StatusEvent) {
	if o.events != nil {
		o.events.Publish(event)
	}
}
