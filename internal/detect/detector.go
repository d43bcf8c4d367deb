// Package detect holds the thin adapters around the vehicle detection and
// plate recognition capabilities. Both run as sidecar inference services and
// are driven over HTTP; the adapters are safe for concurrent use from
// multiple worker tasks.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"roadwatch/internal/incident"
	"roadwatch/internal/pipeline"
)

const healthCacheTTL = 30 * time.Second

// VehicleDetector calls the object detection service for one frame at a time
type VehicleDetector struct {
	endpoint      string
	client        *http.Client
	minConfidence float64

	healthy    bool
	lastHealth time.Time
	healthMu   sync.RWMutex
}

// detectionResponse is the wire format of the detection service
type detectionResponse struct {
	Detections []struct {
		Class      string    `json:"class"`
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	} `json:"detections"`
	Count           int     `json:"count"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
	Device          string  `json:"device"`
}

// NewVehicleDetector creates a detector client. minConfidence filters
// detections before they are returned; zero means the 0.25 default.
func NewVehicleDetector(endpoint string, minConfidence float64) *VehicleDetector {
	if minConfidence <= 0 {
		minConfidence = 0.25
	}
	return &VehicleDetector{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: 10 * time.Second},
		minConfidence: minConfidence,
	}
}

// Healthy checks the detection service, caching a positive answer briefly
func (vd *VehicleDetector) Healthy() bool {
	vd.healthMu.RLock()
	if vd.healthy && time.Since(vd.lastHealth) < healthCacheTTL {
		vd.healthMu.RUnlock()
		return true
	}
	vd.healthMu.RUnlock()

	healthy := vd.probeHealth()

	vd.healthMu.Lock()
	vd.healthy = healthy
	if healthy {
		vd.lastHealth = time.Now()
	}
	vd.healthMu.Unlock()

	return healthy
}

func (vd *VehicleDetector) probeHealth() bool {
	resp, err := vd.client.Get(vd.endpoint + "/health")
	if err != nil {
		log.Printf("[Detector] Health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (vd *VehicleDetector) markUnhealthy() {
	vd.healthMu.Lock()
	vd.healthy = false
	vd.healthMu.Unlock()
}

// Detect runs vehicle detection on a single JPEG frame. Results are
// restricted to the retained vehicle classes, filtered by the confidence
// threshold, clamped to frame bounds and ordered by descending confidence.
// Each detection carries a dominant color estimate over its region.
func (vd *VehicleDetector) Detect(ctx context.Context, frameJPEG []byte) ([]pipeline.VehicleDetection, error) {
	if !vd.Healthy() {
		return nil, pipeline.ErrDetectionUnavailable
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrFrameDecode, err)
	}

	raw, err := vd.request(ctx, frameJPEG)
	if err != nil {
		vd.markUnhealthy()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}

	detections := make([]pipeline.VehicleDetection, 0, len(raw.Detections))
	var frameImg image.Image
	for _, d := range raw.Detections {
		if !incident.IsVehicleClass(d.Class) || d.Confidence < vd.minConfidence {
			continue
		}
		if len(d.BBox) < 4 {
			continue
		}
		box := incident.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		box = box.Clamp(cfg.Width, cfg.Height)
		if !box.Valid(cfg.Width, cfg.Height) {
			continue
		}

		// Decode the frame once, only when a color estimate is needed
		if frameImg == nil {
			frameImg, err = imaging.Decode(bytes.NewReader(frameJPEG))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", pipeline.ErrFrameDecode, err)
			}
		}

		detections = append(detections, pipeline.VehicleDetection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       box,
			Color:      EstimateColor(CropImage(frameImg, box)),
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	return detections, nil
}

// request posts the frame to the detection service as a multipart upload
func (vd *VehicleDetector) request(ctx context.Context, frameJPEG []byte) (*detectionResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	fw.Write(frameJPEG)
	w.WriteField("conf_threshold", fmt.Sprintf("%.2f", vd.minConfidence))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := vd.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detection failed: %s", string(body))
	}

	var result detectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ensure VehicleDetector implements the pipeline capability interface
var _ pipeline.VehicleDetector = (*VehicleDetector)(nil)
