// Package annotate burns detection boxes, polygon outlines and labels into a
// copy of an image. The input image is never modified.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"peoplecounter/internal/model"
)

// Options control how detections are drawn.
type Options struct {
	Thickness int
	ShowLabel bool
}

const (
	labelFontScale  = 0.55
	bannerFontScale = 0.9
	fillAlpha       = 0.25
	bannerAlpha     = 0.4
	bannerPad       = 10
)

var white = color.RGBA{R: 255, G: 255, B: 255}

// Draw returns a new image with all non-degenerate detections drawn on it:
// a box per detection, polygon outlines with a translucent fill when the
// detection carries them, optional labels, and a total-count banner.
func Draw(img image.Image, detections []model.Detection, opts Options) (image.Image, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	thickness := opts.Thickness
	if thickness <= 0 {
		thickness = 3
	}

	count := 0
	for i, det := range detections {
		if det.Degenerate() {
			continue
		}
		count++
		c := colorForIndex(i)

		rect := image.Rect(int(det.Box[0]), int(det.Box[1]), int(det.Box[2]), int(det.Box[3]))
		gocv.Rectangle(&mat, rect, c, thickness)

		if len(det.Polygons) > 0 {
			drawPolygons(&mat, det.Polygons, c, thickness)
		}

		if opts.ShowLabel {
			label := fmt.Sprintf("Person #%d (%.2f)", count, det.Score)
			drawLabel(&mat, label, rect.Min, c)
		}
	}

	drawBanner(&mat, fmt.Sprintf("People total: %d", count))

	out, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert annotated image: %w", err)
	}
	return out, nil
}

// drawPolygons outlines each polygon and blends a translucent fill over the
// covered area.
func drawPolygons(mat *gocv.Mat, polys []model.Polygon, c color.RGBA, thickness int) {
	var ptSets [][]image.Point
	for _, poly := range polys {
		if len(poly) < 3 {
			continue
		}
		pts := make([]image.Point, 0, len(poly))
		for _, p := range poly {
			pts = append(pts, image.Pt(int(p[0]), int(p[1])))
		}
		ptSets = append(ptSets, pts)
	}
	if len(ptSets) == 0 {
		return
	}

	pv := gocv.NewPointsVectorFromPoints(ptSets)
	defer pv.Close()

	overlay := mat.Clone()
	defer overlay.Close()
	gocv.FillPoly(&overlay, pv, c)
	gocv.Polylines(mat, pv, true, c, thickness)
	gocv.AddWeighted(overlay, fillAlpha, *mat, 1-fillAlpha, 0, mat)
}

// drawLabel paints a filled background strip above the box origin with the
// label text in white.
func drawLabel(mat *gocv.Mat, label string, origin image.Point, c color.RGBA) {
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, labelFontScale, 2)
	y := origin.Y - size.Y - 6
	if y < 0 {
		y = 0
	}
	bg := image.Rect(origin.X, y, origin.X+size.X+8, y+size.Y+6)
	gocv.Rectangle(mat, bg, c, -1)
	gocv.PutText(mat, label, image.Pt(origin.X+4, y+size.Y+1),
		gocv.FontHersheySimplex, labelFontScale, white, 2)
}

// drawBanner blends a dark box in the top-left corner with the total count.
func drawBanner(mat *gocv.Mat, label string) {
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, bannerFontScale, 2)
	x, y := 12, 12
	bg := image.Rect(x, y, x+size.X+2*bannerPad, y+size.Y+2*bannerPad)

	overlay := mat.Clone()
	defer overlay.Close()
	gocv.Rectangle(&overlay, bg, color.RGBA{}, -1)
	gocv.AddWeighted(overlay, bannerAlpha, *mat, 1-bannerAlpha, 0, mat)

	gocv.PutText(mat, label, image.Pt(x+bannerPad, y+size.Y+bannerPad-2),
		gocv.FontHersheySimplex, bannerFontScale, white, 2)
}

// colorForIndex returns a stable, index-derived color so reruns draw the
// same palette.
func colorForIndex(idx int) color.RGBA {
	seed := uint32(idx) + 12345
	next := func() uint8 {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		return uint8(seed % 206)
	}
	// keep channels away from pure white so labels stay readable
	return color.RGBA{R: next(), G: next(), B: next(), A: 255}
}
