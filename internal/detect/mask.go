package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"peoplecounter/internal/model"
)

// maskDecoder turns per-detection mask coefficients and the model's prototype
// tensor into pixel-space polygons. The seg head emits a (1, 32, H, W) proto
// output; a detection's mask is the sigmoid of its 32 coefficients multiplied
// against the proto planes, cropped to the detection box.
type maskDecoder struct {
	proto  gocv.Mat // 32 x (protoH*protoW)
	protoH int
	protoW int
}

func newMaskDecoder(output *gocv.Mat) *maskDecoder {
	size := output.Size()
	return &maskDecoder{
		proto:  output.Reshape(1, size[1]),
		protoH: size[2],
		protoW: size[3],
	}
}

func (m *maskDecoder) Close() {
	m.proto.Close()
}

// polygons decodes the mask for one detection and traces its outer contours.
// row is the full output row for the detection; its trailing columns hold the
// mask coefficients. box is in letterbox space.
func (m *maskDecoder) polygons(row gocv.Mat, box image.Rectangle, lb letterboxInfo, w, h int) ([]model.Polygon, error) {
	cols := row.Cols()
	coeffs := row.ColRange(cols-maskCoefficients, cols)
	defer coeffs.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	logits := gocv.NewMat()
	defer logits.Close()
	gocv.Gemm(coeffs, m.proto, 1, empty, 0, &logits, 0)
	if logits.Total() != m.protoH*m.protoW {
		return nil, fmt.Errorf("unexpected mask size %d", logits.Total())
	}

	plane := logits.Reshape(1, m.protoH)
	defer plane.Close()

	// sigmoid(x) >= 0.5 is exactly x >= 0, so threshold the logits directly
	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(plane, &bin, 0, 255, gocv.ThresholdBinary)

	bin8 := gocv.NewMat()
	defer bin8.Close()
	bin.ConvertTo(&bin8, gocv.MatTypeCV8U)

	// keep only the mask area inside the detection box
	sx := float64(m.protoW) / float64(inputSize)
	region := image.Rect(
		int(float64(box.Min.X)*sx), int(float64(box.Min.Y)*sx),
		int(float64(box.Max.X)*sx)+1, int(float64(box.Max.Y)*sx)+1,
	).Intersect(image.Rect(0, 0, m.protoW, m.protoH))
	if region.Empty() {
		return nil, nil
	}

	cropped := gocv.Zeros(m.protoH, m.protoW, gocv.MatTypeCV8U)
	defer cropped.Close()
	src := bin8.Region(region)
	dst := cropped.Region(region)
	src.CopyTo(&dst)
	src.Close()
	dst.Close()

	contours := gocv.FindContours(cropped, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var polys []model.Polygon
	for i := 0; i < contours.Size(); i++ {
		pts := contours.At(i).ToPoints()
		if len(pts) < 3 {
			continue
		}
		poly := make(model.Polygon, 0, len(pts))
		for _, p := range pts {
			lx := float64(p.X) / sx
			ly := float64(p.Y) / sx
			poly = append(poly, [2]float64{lb.unpadX(lx, w), lb.unpadY(ly, h)})
		}
		polys = append(polys, poly)
	}
	return polys, nil
}
