package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for y := 0; y < 720; y++ {
		for x := 0; x < 1280; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 60, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")

	require.NoError(t, WriteThumbnail(buf.Bytes(), videoPath))

	out := filepath.Join(dir, "thumbnail.jpg")
	thumb, err := imaging.Open(out)
	require.NoError(t, err)

	// Width is fixed, aspect ratio preserved
	assert.Equal(t, 320, thumb.Bounds().Dx())
	assert.Equal(t, 180, thumb.Bounds().Dy())
}

func TestWriteThumbnailBadFrame(t *testing.T) {
	dir := t.TempDir()
	err := WriteThumbnail([]byte("not a jpeg"), filepath.Join(dir, "video.mp4"))
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "thumbnail.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}
