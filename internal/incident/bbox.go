package incident

// BBox is a bounding box in frame pixel space.
// A well-formed box has X1 < X2 and Y1 < Y2 with all four coordinates
// inside the source frame.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box is well-formed within a width x height frame
func (b BBox) Valid(width, height int) bool {
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return false
	}
	if b.X1 < 0 || b.Y1 < 0 {
		return false
	}
	return b.X2 <= float64(width) && b.Y2 <= float64(height)
}

// Clamp returns the box constrained to frame bounds
func (b BBox) Clamp(width, height int) BBox {
	c := b
	if c.X1 < 0 {
		c.X1 = 0
	}
	if c.Y1 < 0 {
		c.Y1 = 0
	}
	if c.X2 > float64(width) {
		c.X2 = float64(width)
	}
	if c.Y2 > float64(height) {
		c.Y2 = float64(height)
	}
	return c
}

// Translate returns the box shifted by (dx, dy). Used to map boxes reported
// in cropped-region coordinates back to full-frame coordinates.
func (b BBox) Translate(dx, dy float64) BBox {
	return BBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Expand grows the box by margin (a fraction of its width/height) on each side
func (b BBox) Expand(margin float64) BBox {
	dx := (b.X2 - b.X1) * margin
	dy := (b.Y2 - b.Y1) * margin
	return BBox{X1: b.X1 - dx, Y1: b.Y1 - dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Width returns the horizontal extent of the box
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }
