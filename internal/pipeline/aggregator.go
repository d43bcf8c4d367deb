package pipeline

import (
	"sort"

	"github.com/google/uuid"

	"roadwatch/internal/incident"
)

// Aggregator folds per-frame observations into the final record sets.
// Observations are independent per frame; nothing here attempts to track a
// vehicle across frames, so the same physical vehicle seen on N frames
// yields N records.
type Aggregator struct {
	frames  []FrameObservation
	skipped int
}

// NewAggregator returns an empty aggregator for one processing run
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record consumes one per-frame outcome. Ok observations accumulate for
// Finalize; skipped frames only bump the failure counters.
func (a *Aggregator) Record(outcome FrameOutcome) {
	if outcome.Kind == OutcomeOk && outcome.Observation != nil {
		a.frames = append(a.frames, *outcome.Observation)
		return
	}
	a.skipped++
}

// Add records one processed frame's observation
func (a *Aggregator) Add(obs FrameObservation) {
	a.Record(FrameOutcome{Kind: OutcomeOk, Observation: &obs})
}

// Frames returns the number of processed observations so far
func (a *Aggregator) Frames() int {
	return len(a.frames)
}

// Skipped returns the number of recoverably-failed frames so far
func (a *Aggregator) Skipped() int {
	return a.skipped
}

// Attempts returns processed plus skipped frames
func (a *Aggregator) Attempts() int {
	return len(a.frames) + a.skipped
}

// Finalize mints the persisted records for an incident. Plates read from a
// vehicle's cropped region carry that vehicle's detection ID; whole-frame
// plates carry none. Records come out ordered by frame timestamp, matching
// the read-back order of the store.
func (a *Aggregator) Finalize(incidentID string) ([]incident.DetectedVehicle, []incident.LicensePlate) {
	sort.SliceStable(a.frames, func(i, j int) bool {
		return a.frames[i].Timestamp < a.frames[j].Timestamp
	})

	var vehicles []incident.DetectedVehicle
	var plates []incident.LicensePlate

	for _, f := range a.frames {
		for _, vo := range f.Vehicles {
			d := vo.Detection
			if !d.BBox.Valid(f.Width, f.Height) {
				continue
			}
			v := incident.DetectedVehicle{
				ID:             uuid.New().String(),
				IncidentID:     incidentID,
				VehicleClass:   d.Class,
				Color:          d.Color,
				Confidence:     d.Confidence,
				BBox:           d.BBox,
				FrameTimestamp: f.Timestamp,
			}
			vehicles = append(vehicles, v)

			for _, p := range vo.Plates {
				if !p.BBox.Valid(f.Width, f.Height) {
					continue
				}
				detID := v.ID
				plates = append(plates, incident.LicensePlate{
					ID:             uuid.New().String(),
					IncidentID:     incidentID,
					DetectionID:    &detID,
					Text:           p.Text,
					Confidence:     p.Confidence,
					Region:         p.Region,
					BBox:           p.BBox,
					FrameTimestamp: f.Timestamp,
				})
			}
		}

		for _, p := range f.Plates {
			if !p.BBox.Valid(f.Width, f.Height) {
				continue
			}
			plates = append(plates, incident.LicensePlate{
				ID:             uuid.New().String(),
				IncidentID:     incidentID,
				Text:           p.Text,
				Confidence:     p.Confidence,
				Region:         p.Region,
				BBox:           p.BBox,
				FrameTimestamp: f.Timestamp,
			})
		}
	}

	return vehicles, plates
}
