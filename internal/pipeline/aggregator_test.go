package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/incident"
)

func TestAggregatorAssociatesPlates(t *testing.T) {
	agg := NewAggregator()
	agg.Add(FrameObservation{
		Timestamp: 8.0,
		Width:     1920,
		Height:    1080,
		Vehicles: []VehicleObservation{{
			Detection: VehicleDetection{
				Class:      "truck",
				Confidence: 0.9,
				BBox:       incident.BBox{X1: 100, Y1: 100, X2: 600, Y2: 500},
				Color:      "white",
			},
			Plates: []PlateRead{{
				Text:       "AB1234",
				Confidence: 0.8,
				BBox:       incident.BBox{X1: 300, Y1: 420, X2: 420, Y2: 470},
			}},
		}},
	})

	vehicles, plates := agg.Finalize("inc-1")
	require.Len(t, vehicles, 1)
	require.Len(t, plates, 1)

	assert.Equal(t, "inc-1", vehicles[0].IncidentID)
	assert.NotEmpty(t, vehicles[0].ID)
	assert.Equal(t, "truck", vehicles[0].VehicleClass)
	assert.Equal(t, 8.0, vehicles[0].FrameTimestamp)

	require.NotNil(t, plates[0].DetectionID)
	assert.Equal(t, vehicles[0].ID, *plates[0].DetectionID)
	assert.Equal(t, "AB1234", plates[0].Text)
}

func TestAggregatorWholeFramePlates(t *testing.T) {
	agg := NewAggregator()
	agg.Add(FrameObservation{
		Timestamp: 3.0,
		Width:     1280,
		Height:    720,
		Plates: []PlateRead{{
			Text:       "CD5678",
			Confidence: 0.7,
			BBox:       incident.BBox{X1: 10, Y1: 10, X2: 120, Y2: 60},
		}},
	})

	vehicles, plates := agg.Finalize("inc-2")
	assert.Empty(t, vehicles)
	require.Len(t, plates, 1)
	assert.Nil(t, plates[0].DetectionID)
}

func TestAggregatorNoCrossFrameMerging(t *testing.T) {
	agg := NewAggregator()
	// The same physical vehicle seen on two frames stays two records
	for _, ts := range []float64{5.0, 6.0} {
		agg.Add(FrameObservation{
			Timestamp: ts,
			Width:     1920,
			Height:    1080,
			Vehicles: []VehicleObservation{{
				Detection: VehicleDetection{
					Class:      "car",
					Confidence: 0.8,
					BBox:       incident.BBox{X1: 100, Y1: 100, X2: 400, Y2: 300},
				},
			}},
		})
	}

	vehicles, _ := agg.Finalize("inc-3")
	require.Len(t, vehicles, 2)
	assert.NotEqual(t, vehicles[0].ID, vehicles[1].ID)
	assert.Equal(t, 5.0, vehicles[0].FrameTimestamp)
	assert.Equal(t, 6.0, vehicles[1].FrameTimestamp)
}

func TestAggregatorOrdersByTimestamp(t *testing.T) {
	agg := NewAggregator()
	for _, ts := range []float64{9.0, 2.0, 5.0} {
		agg.Add(FrameObservation{
			Timestamp: ts,
			Width:     640,
			Height:    480,
			Vehicles: []VehicleObservation{{
				Detection: VehicleDetection{
					Class:      "bus",
					Confidence: 0.6,
					BBox:       incident.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100},
				},
			}},
		})
	}

	vehicles, _ := agg.Finalize("inc-4")
	require.Len(t, vehicles, 3)
	assert.Equal(t, []float64{2.0, 5.0, 9.0}, []float64{
		vehicles[0].FrameTimestamp, vehicles[1].FrameTimestamp, vehicles[2].FrameTimestamp,
	})
}

func TestAggregatorDropsInvalidBoxes(t *testing.T) {
	agg := NewAggregator()
	agg.Add(FrameObservation{
		Timestamp: 1.0,
		Width:     640,
		Height:    480,
		Vehicles: []VehicleObservation{{
			Detection: VehicleDetection{
				Class:      "car",
				Confidence: 0.8,
				BBox:       incident.BBox{X1: 700, Y1: 0, X2: 800, Y2: 100}, // Outside the frame
			},
		}},
		Plates: []PlateRead{{
			Text:       "EF9012",
			Confidence: 0.9,
			BBox:       incident.BBox{X1: 50, Y1: 50, X2: 50, Y2: 60}, // Degenerate
		}},
	})

	vehicles, plates := agg.Finalize("inc-5")
	assert.Empty(t, vehicles)
	assert.Empty(t, plates)
}

func TestAggregatorCountsSkips(t *testing.T) {
	agg := NewAggregator()
	agg.Record(FrameOutcome{Kind: OutcomeSkipped, SkipReason: "decode"})
	agg.Record(FrameOutcome{Kind: OutcomeOk, Observation: &FrameObservation{
		Timestamp: 1.0, Width: 640, Height: 480,
	}})
	agg.Record(FrameOutcome{Kind: OutcomeSkipped, SkipReason: "detect"})

	assert.Equal(t, 1, agg.Frames())
	assert.Equal(t, 2, agg.Skipped())
	assert.Equal(t, 3, agg.Attempts())
}

func TestAggregatorEmpty(t *testing.T) {
	agg := NewAggregator()
	vehicles, plates := agg.Finalize("inc-6")
	assert.Empty(t, vehicles)
	assert.Empty(t, plates)
	assert.Equal(t, 0, agg.Frames())
}
