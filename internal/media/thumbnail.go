// Package media holds small helpers around stored incident videos.
package media

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const thumbnailWidth = 320

// WriteThumbnail saves a preview image next to the video, built from one
// sampled frame. The file is named thumbnail.jpg in the video's directory.
func WriteThumbnail(frameJPEG []byte, videoPath string) error {
	img, err := imaging.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	// Height 0 keeps the aspect ratio
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	out := filepath.Join(filepath.Dir(videoPath), "thumbnail.jpg")
	if err := imaging.Save(thumb, out, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return nil
}
