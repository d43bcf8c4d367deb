package incident

import (
	"time"
)

// Type classifies a reported incident
type Type string

const (
	TypeCrash    Type = "crash"
	TypePolice   Type = "police"
	TypeRoadRage Type = "road_rage"
	TypeHazard   Type = "hazard"
	TypeOther    Type = "other"
)

// Status tracks the video-processing lifecycle of an incident.
// Transitions are pending → processing → {completed, failed}; the
// terminal states are never left.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition may leave this status
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from one status to another is legal
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Incident represents one reported dashcam event
type Incident struct {
	ID          string
	UserID      string
	Type        Type
	Latitude    float64
	Longitude   float64
	OccurredAt  time.Time
	Speed       *float64
	Heading     *float64
	Description *string
	VideoPath   string
	VideoSize   int64
	Status      Status
	CreatedAt   time.Time
}

// DetectedVehicle is one vehicle observation in one frame.
// Records are created only by the aggregator and are immutable afterwards.
type DetectedVehicle struct {
	ID             string
	IncidentID     string
	VehicleClass   string
	Make           *string
	Model          *string
	Color          string
	Confidence     float64
	BBox           BBox
	FrameTimestamp float64
}

// LicensePlate is one plate read. DetectionID links the read back to the
// vehicle whose cropped region produced it; whole-frame reads carry nil.
type LicensePlate struct {
	ID             string
	IncidentID     string
	DetectionID    *string
	Text           string
	Confidence     float64
	Region         *string
	BBox           BBox
	FrameTimestamp float64
}

// vehicleClasses are the detection classes the pipeline keeps.
// Matches the COCO vehicle subset used by the detection service.
var vehicleClasses = map[string]bool{
	"car":        true,
	"truck":      true,
	"motorcycle": true,
	"bus":        true,
}

// IsVehicleClass reports whether class is one of the retained vehicle classes
func IsVehicleClass(class string) bool {
	return vehicleClasses[class]
}

// VehicleClasses returns the retained vehicle classes
func VehicleClasses() []string {
	return []string{"car", "truck", "motorcycle", "bus"}
}
