package detect

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"roadwatch/internal/incident"
)

// CropImage extracts the region of img covered by box. Coordinates are
// truncated to pixels; the crop is clipped to the image bounds.
func CropImage(img image.Image, box incident.BBox) image.Image {
	r := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2))
	return imaging.Crop(img, r)
}

// CropRegion cuts a padded region around box out of a JPEG frame and
// re-encodes it. It returns the encoded crop and the (dx, dy) offset of the
// crop origin in frame coordinates, so boxes found inside the crop can be
// translated back with BBox.Translate(dx, dy). margin expands the box on
// every side before clamping to the frame.
func CropRegion(frameJPEG []byte, box incident.BBox, margin float64) ([]byte, float64, float64, error) {
	img, err := imaging.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode frame for crop: %w", err)
	}

	b := img.Bounds()
	region := box.Expand(margin).Clamp(b.Dx(), b.Dy())
	if !region.Valid(b.Dx(), b.Dy()) {
		return nil, 0, 0, fmt.Errorf("region %v degenerate after clamping", region)
	}

	crop := CropImage(img, region)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), region.X1, region.Y1, nil
}
