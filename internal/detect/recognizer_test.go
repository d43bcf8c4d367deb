package detect

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/pipeline"
)

type wireRead struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	Region     *string   `json:"region"`
}

func ocrServer(t *testing.T, reads []wireRead) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/read", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		json.NewEncoder(w).Encode(map[string]any{
			"reads":             reads,
			"inference_time_ms": 2.1,
		})
	})
	return httptest.NewServer(mux)
}

func TestReadNormalizesAndFilters(t *testing.T) {
	srv := ocrServer(t, []wireRead{
		{Text: "ab-1234", Confidence: 0.9, BBox: []float64{5, 5, 40, 20}},
		{Text: "xy 987", Confidence: 0.2, BBox: []float64{5, 30, 40, 45}}, // Below threshold
		{Text: "!!!", Confidence: 0.9, BBox: []float64{5, 50, 40, 60}},   // Normalizes to nothing
	})
	defer srv.Close()

	pr := NewPlateRecognizer(srv.URL, 0.5, nil)
	img := encodeTestJPEG(t, 100, 80, color.White)

	got, err := pr.Read(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AB1234", got[0].Text)
	assert.Equal(t, 0.9, got[0].Confidence)
}

func TestReadAppliesValidator(t *testing.T) {
	srv := ocrServer(t, []wireRead{
		{Text: "AB1234", Confidence: 0.9, BBox: []float64{5, 5, 40, 20}},
		{Text: "HELLO", Confidence: 0.9, BBox: []float64{5, 30, 40, 45}}, // No digits
	})
	defer srv.Close()

	validator, err := NewValidator("generic")
	require.NoError(t, err)

	pr := NewPlateRecognizer(srv.URL, 0.5, validator)
	img := encodeTestJPEG(t, 100, 80, color.White)

	got, err := pr.Read(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AB1234", got[0].Text)
}

func TestReadClampsBoxes(t *testing.T) {
	region := "eu"
	srv := ocrServer(t, []wireRead{
		{Text: "AB1234", Confidence: 0.9, BBox: []float64{-3, -3, 120, 95}, Region: &region},
	})
	defer srv.Close()

	pr := NewPlateRecognizer(srv.URL, 0.5, nil)
	img := encodeTestJPEG(t, 100, 80, color.White)

	got, err := pr.Read(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.0, got[0].BBox.X1)
	assert.Equal(t, 100.0, got[0].BBox.X2)
	assert.Equal(t, 80.0, got[0].BBox.Y2)
	require.NotNil(t, got[0].Region)
	assert.Equal(t, "eu", *got[0].Region)
}

func TestReadEmptyInput(t *testing.T) {
	pr := NewPlateRecognizer("http://localhost:0", 0.5, nil)
	got, err := pr.Read(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadUndecodableImage(t *testing.T) {
	srv := ocrServer(t, nil)
	defer srv.Close()

	pr := NewPlateRecognizer(srv.URL, 0.5, nil)

	// An unreadable crop yields zero reads, not an error
	got, err := pr.Read(context.Background(), []byte("not an image"))
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadUnavailable(t *testing.T) {
	srv := ocrServer(t, nil)
	srv.Close()

	pr := NewPlateRecognizer(srv.URL, 0.5, nil)
	img := encodeTestJPEG(t, 100, 80, color.White)

	_, err := pr.Read(context.Background(), img)
	assert.ErrorIs(t, err, pipeline.ErrRecognitionUnavailable)
}

func TestNormalizePlateText(t *testing.T) {
	cases := map[string]string{
		"ab-1234":   "AB1234",
		" xy 98 7 ": "XY987",
		"AB•1234":   "AB1234",
		"":          "",
		"!!!":       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePlateText(in), "input %q", in)
	}
}
