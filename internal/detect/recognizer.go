package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"roadwatch/internal/incident"
	"roadwatch/internal/pipeline"
)

// PlateRecognizer calls the OCR service for plate text on a frame or a
// cropped vehicle region
type PlateRecognizer struct {
	endpoint      string
	client        *http.Client
	minConfidence float64
	validator     *Validator

	healthy    bool
	lastHealth time.Time
	healthMu   sync.RWMutex
}

// readResponse is the wire format of the OCR service
type readResponse struct {
	Reads []struct {
		Text       string    `json:"text"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
		Region     *string   `json:"region"`
	} `json:"reads"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// NewPlateRecognizer creates a recognizer client. validator may be nil to
// accept any read; minConfidence zero means the 0.5 default.
func NewPlateRecognizer(endpoint string, minConfidence float64, validator *Validator) *PlateRecognizer {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &PlateRecognizer{
		endpoint:      endpoint,
		client:        &http.Client{Timeout: 10 * time.Second},
		minConfidence: minConfidence,
		validator:     validator,
	}
}

// Healthy checks the OCR service, caching a positive answer briefly
func (pr *PlateRecognizer) Healthy() bool {
	pr.healthMu.RLock()
	if pr.healthy && time.Since(pr.lastHealth) < healthCacheTTL {
		pr.healthMu.RUnlock()
		return true
	}
	pr.healthMu.RUnlock()

	healthy := pr.probeHealth()

	pr.healthMu.Lock()
	pr.healthy = healthy
	if healthy {
		pr.lastHealth = time.Now()
	}
	pr.healthMu.Unlock()

	return healthy
}

func (pr *PlateRecognizer) probeHealth() bool {
	resp, err := pr.client.Get(pr.endpoint + "/health")
	if err != nil {
		log.Printf("[Recognizer] Health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (pr *PlateRecognizer) markUnhealthy() {
	pr.healthMu.Lock()
	pr.healthy = false
	pr.healthMu.Unlock()
}

// Read runs plate recognition on a JPEG image (a whole frame or a cropped
// vehicle region). Text is normalized to upper-case alphanumerics, reads
// below the confidence threshold or failing plate-format validation are
// dropped. An unreadable input yields zero reads; an unreachable capability
// returns ErrRecognitionUnavailable.
func (pr *PlateRecognizer) Read(ctx context.Context, imageJPEG []byte) ([]pipeline.PlateRead, error) {
	if len(imageJPEG) == 0 {
		return nil, nil
	}
	if !pr.Healthy() {
		return nil, pipeline.ErrRecognitionUnavailable
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageJPEG))
	if err != nil {
		// Not a decodable region; nothing to read
		return nil, nil
	}

	raw, err := pr.request(ctx, imageJPEG)
	if err != nil {
		pr.markUnhealthy()
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}

	reads := make([]pipeline.PlateRead, 0, len(raw.Reads))
	for _, r := range raw.Reads {
		text := NormalizePlateText(r.Text)
		if text == "" || r.Confidence < pr.minConfidence {
			continue
		}
		if pr.validator != nil && !pr.validator.Validate(text) {
			continue
		}
		if len(r.BBox) < 4 {
			continue
		}
		box := incident.BBox{X1: r.BBox[0], Y1: r.BBox[1], X2: r.BBox[2], Y2: r.BBox[3]}
		box = box.Clamp(cfg.Width, cfg.Height)
		if !box.Valid(cfg.Width, cfg.Height) {
			continue
		}

		reads = append(reads, pipeline.PlateRead{
			Text:       text,
			Confidence: r.Confidence,
			BBox:       box,
			Region:     r.Region,
		})
	}
	return reads, nil
}

func (pr *PlateRecognizer) request(ctx context.Context, imageJPEG []byte) (*readResponse, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="region.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	fw.Write(imageJPEG)
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.endpoint+"/read", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := pr.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("recognition failed: %s", string(body))
	}

	var result readResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NormalizePlateText upper-cases a raw OCR read and strips everything that
// is not a letter or digit
func NormalizePlateText(text string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(text) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Ensure PlateRecognizer implements the pipeline capability interface
var _ pipeline.PlateRecognizer = (*PlateRecognizer)(nil)
