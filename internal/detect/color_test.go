package detect

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadwatch/internal/incident"
)

func TestEstimateColor(t *testing.T) {
	cases := []struct {
		name string
		fill color.Color
		want string
	}{
		{"white", color.RGBA{255, 255, 255, 255}, "white"},
		{"black", color.RGBA{10, 10, 10, 255}, "black"},
		{"red", color.RGBA{200, 30, 30, 255}, "red"},
		{"green", color.RGBA{30, 200, 30, 255}, "green"},
		{"blue", color.RGBA{30, 30, 200, 255}, "blue"},
		{"yellow", color.RGBA{220, 220, 30, 255}, "yellow"},
		{"gray", color.RGBA{128, 128, 128, 255}, "gray"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := encodeTestJPEG(t, 40, 40, c.fill)
			img, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, c.want, EstimateColor(img))
		})
	}
}

func TestEstimateColorNil(t *testing.T) {
	assert.Equal(t, "unknown", EstimateColor(nil))
}

func TestCropRegion(t *testing.T) {
	frame := encodeTestJPEG(t, 100, 80, color.White)
	box := incident.BBox{X1: 20, Y1: 20, X2: 60, Y2: 60}

	crop, dx, dy, err := CropRegion(frame, box, 0.1)
	require.NoError(t, err)
	assert.NotEmpty(t, crop)

	// The margin pushes the origin above and left of the box
	assert.InDelta(t, 16, dx, 1e-9)
	assert.InDelta(t, 16, dy, 1e-9)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestCropRegionClampsToFrame(t *testing.T) {
	frame := encodeTestJPEG(t, 100, 80, color.White)
	box := incident.BBox{X1: 0, Y1: 0, X2: 100, Y2: 80}

	crop, dx, dy, err := CropRegion(frame, box, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, dx)
	assert.Equal(t, 0.0, dy)

	img, err := imaging.Decode(bytes.NewReader(crop))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}

func TestCropRegionBadFrame(t *testing.T) {
	_, _, _, err := CropRegion([]byte("junk"), incident.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, 0.1)
	assert.Error(t, err)
}
