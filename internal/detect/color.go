package detect

import (
	"image"

	"golang.org/x/image/draw"
)

// EstimateColor returns a best-effort dominant color name for an image
// region. The region is downscaled first so the average is cheap and noise
// tolerant; the bucket thresholds follow the usual dashcam palette.
func EstimateColor(img image.Image) string {
	if img == nil {
		return "unknown"
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return "unknown"
	}

	small := image.NewRGBA(image.Rect(0, 0, 32, 32))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, b, draw.Src, nil)

	var sumR, sumG, sumB uint64
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			r, g, bl, _ := small.At(x, y).RGBA()
			sumR += uint64(r >> 8)
			sumG += uint64(g >> 8)
			sumB += uint64(bl >> 8)
		}
	}
	n := uint64(32 * 32)
	return classifyColor(float64(sumR/n), float64(sumG/n), float64(sumB/n))
}

func classifyColor(r, g, b float64) string {
	switch {
	case r > 200 && g > 200 && b > 200:
		return "white"
	case r < 50 && g < 50 && b < 50:
		return "black"
	case r > 150 && g < 100 && b < 100:
		return "red"
	case r < 100 && g > 150 && b < 100:
		return "green"
	case r < 100 && g < 100 && b > 150:
		return "blue"
	case r > 150 && g > 150 && b < 100:
		return "yellow"
	case r > 100 && g > 100 && b > 100:
		return "gray"
	default:
		return "other"
	}
}
