package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/pipeline"
)

// encodeTestJPEG produces a real JPEG of the given size and fill color
func encodeTestJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type wireDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

func detectionServer(t *testing.T, detections []wireDetection) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		resp := map[string]any{
			"detections":        detections,
			"count":             len(detections),
			"inference_time_ms": 4.2,
			"device":            "cpu",
		}
		json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func TestDetectFiltersAndOrders(t *testing.T) {
	srv := detectionServer(t, []wireDetection{
		{Class: "car", Confidence: 0.6, BBox: []float64{10, 10, 40, 30}},
		{Class: "person", Confidence: 0.9, BBox: []float64{0, 0, 10, 10}},
		{Class: "truck", Confidence: 0.8, BBox: []float64{50, 20, 90, 60}},
		{Class: "car", Confidence: 0.1, BBox: []float64{5, 5, 20, 20}},
	})
	defer srv.Close()

	vd := NewVehicleDetector(srv.URL, 0.25)
	frame := encodeTestJPEG(t, 100, 80, color.RGBA{R: 255, A: 255})

	got, err := vd.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Descending confidence: the person and the low-confidence car are gone
	assert.Equal(t, "truck", got[0].Class)
	assert.Equal(t, "car", got[1].Class)
	assert.Greater(t, got[0].Confidence, got[1].Confidence)

	// Solid red frame, so every region estimates red
	assert.Equal(t, "red", got[0].Color)
	assert.Equal(t, "red", got[1].Color)
}

func TestDetectClampsBoxes(t *testing.T) {
	srv := detectionServer(t, []wireDetection{
		{Class: "bus", Confidence: 0.7, BBox: []float64{-10, -5, 120, 200}},
	})
	defer srv.Close()

	vd := NewVehicleDetector(srv.URL, 0.25)
	frame := encodeTestJPEG(t, 100, 80, color.White)

	got, err := vd.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].BBox.X1)
	assert.Equal(t, 0.0, got[0].BBox.Y1)
	assert.Equal(t, 100.0, got[0].BBox.X2)
	assert.Equal(t, 80.0, got[0].BBox.Y2)
}

func TestDetectDropsDegenerateBoxes(t *testing.T) {
	srv := detectionServer(t, []wireDetection{
		{Class: "car", Confidence: 0.7, BBox: []float64{50, 50, 50, 50}},
		{Class: "car", Confidence: 0.7, BBox: []float64{10, 10}},
	})
	defer srv.Close()

	vd := NewVehicleDetector(srv.URL, 0.25)
	frame := encodeTestJPEG(t, 100, 80, color.White)

	got, err := vd.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectUnavailable(t *testing.T) {
	srv := detectionServer(t, nil)
	srv.Close() // Nothing is listening anymore

	vd := NewVehicleDetector(srv.URL, 0.25)
	frame := encodeTestJPEG(t, 100, 80, color.White)

	_, err := vd.Detect(context.Background(), frame)
	assert.ErrorIs(t, err, pipeline.ErrDetectionUnavailable)
}

func TestDetectBadFrame(t *testing.T) {
	srv := detectionServer(t, nil)
	defer srv.Close()

	vd := NewVehicleDetector(srv.URL, 0.25)
	_, err := vd.Detect(context.Background(), []byte("not a jpeg"))
	assert.ErrorIs(t, err, pipeline.ErrFrameDecode)
}

func TestDetectRequestFailureMarksUnhealthy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	vd := NewVehicleDetector(srv.URL, 0.25)
	frame := encodeTestJPEG(t, 100, 80, color.White)

	_, err := vd.Detect(context.Background(), frame)
	require.Error(t, err)
	// A transient request failure is not stage-fatal
	assert.False(t, pipeline.IsStageFatal(err))
}
