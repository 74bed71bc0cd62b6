package model

import "fmt"

// Mode selects how detections are produced and drawn.
type Mode string

const (
	// ModeSeg draws polygon outlines in addition to boxes.
	ModeSeg Mode = "seg"
	// ModeBBox draws bounding boxes only.
	ModeBBox Mode = "bbox"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSeg, ModeBBox:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (want \"seg\" or \"bbox\")", s)
}

// Polygon is an ordered sequence of (x, y) points in pixel coordinates.
type Polygon [][2]float64

// Detection is one located person instance. Polygons is populated only when
// the detector ran in segmentation mode; box-only detections carry nil.
type Detection struct {
	ID       int        `json:"id"`
	Score    float64    `json:"score"`
	Box      [4]float64 `json:"bbox"` // x1, y1, x2, y2
	Polygons []Polygon  `json:"polygons,omitempty"`
}

// Width returns the box width in pixels.
func (d Detection) Width() float64 { return d.Box[2] - d.Box[0] }

// Height returns the box height in pixels.
func (d Detection) Height() float64 { return d.Box[3] - d.Box[1] }

// Degenerate reports whether the box has no area and should be skipped
// when drawing.
func (d Detection) Degenerate() bool { return d.Width() <= 0 || d.Height() <= 0 }
