package detect

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
)

const (
	inputSize        = 640
	personClassIndex = 0
	nmsThreshold     = 0.45
	maskCoefficients = 32
)

// YOLODetector runs YOLOv8 ONNX models through the OpenCV DNN module.
// Box-only and segmentation variants are loaded lazily, once each, and
// reused across calls.
type YOLODetector struct {
	mu       sync.Mutex // gocv.Net forward passes are not goroutine-safe
	nets     map[model.Mode]*gocv.Net
	modelDir string
	device   string
	log      *logger.Logger
}

// NewYOLODetector creates a detector loading weights from modelDir and
// running on the requested device ("cpu", "cuda", "cuda:N", "mps").
func NewYOLODetector(modelDir, device string, log *logger.Logger) *YOLODetector {
	return &YOLODetector{
		nets:     make(map[model.Mode]*gocv.Net),
		modelDir: modelDir,
		device:   device,
		log:      log,
	}
}

// Close releases all loaded networks.
func (d *YOLODetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for mode, net := range d.nets {
		net.Close()
		delete(d.nets, mode)
	}
}

// net returns the network for the given mode, loading it on first use.
// Caller must hold d.mu.
func (d *YOLODetector) net(mode model.Mode) (*gocv.Net, error) {
	if net, ok := d.nets[mode]; ok {
		return net, nil
	}

	path, err := EnsureModel(d.modelDir, mode)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", path)
	}
	applyDevice(&net, d.device, d.log)

	d.nets[mode] = &net
	return &net, nil
}

// Detect runs the model and returns person detections with confidence at or
// above opts.Confidence, ordered by descending confidence.
func (d *YOLODetector) Detect(img image.Image, opts Options) ([]model.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	net, err := d.net(opts.Mode)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, &InferenceError{Err: fmt.Errorf("failed to convert image: %w", err)}
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &InferenceError{Err: fmt.Errorf("image is empty")}
	}

	lb := letterboxParams(mat.Cols(), mat.Rows(), inputSize)
	padded, err := letterbox(mat, lb)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	defer padded.Close()

	blob := gocv.BlobFromImage(padded, 1.0/255.0, image.Pt(inputSize, inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	net.SetInput(blob, "")

	layers := []string{"output0"}
	if opts.Mode == model.ModeSeg {
		layers = []string{"output0", "output1"}
	}
	outputs := net.ForwardLayers(layers)
	if len(outputs) == 0 {
		return nil, &InferenceError{Err: fmt.Errorf("model produced no output")}
	}
	defer func() {
		for _, output := range outputs {
			output.Close()
		}
	}()

	// Ultralytics exports are (1, attrs, anchors); rows must be anchors.
	gocv.TransposeND(outputs[0], []int{0, 2, 1}, &outputs[0])

	rows := outputs[0].Reshape(1, outputs[0].Size()[1])
	defer rows.Close()

	cols := rows.Cols()
	classCols := cols - 4
	if opts.Mode == model.ModeSeg {
		classCols = cols - 4 - maskCoefficients
	}
	if classCols <= personClassIndex {
		return nil, &InferenceError{Err: fmt.Errorf("unexpected model output shape %dx%d", rows.Rows(), cols)}
	}

	var boxes []image.Rectangle
	var confidences []float32
	var coeffRows []int
	for i := 0; i < rows.Rows(); i++ {
		func() {
			row := rows.RowRange(i, i+1)
			defer row.Close()
			scores := row.ColRange(4, 4+classCols)
			defer scores.Close()
			_, confidence, _, classID := gocv.MinMaxLoc(scores)
			if classID.X != personClassIndex || confidence < float32(opts.Confidence) {
				return
			}
			// cx, cy, w, h in letterbox space
			cx, cy := row.GetFloatAt(0, 0), row.GetFloatAt(0, 1)
			halfW, halfH := row.GetFloatAt(0, 2)/2, row.GetFloatAt(0, 3)/2
			boxes = append(boxes, image.Rect(int(cx-halfW), int(cy-halfH), int(cx+halfW), int(cy+halfH)))
			confidences = append(confidences, confidence)
			coeffRows = append(coeffRows, i)
		}()
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, float32(opts.Confidence), nmsThreshold)

	var masks *maskDecoder
	if opts.Mode == model.ModeSeg && len(outputs) > 1 {
		masks = newMaskDecoder(&outputs[1])
		defer masks.Close()
	}

	detections := make([]model.Detection, 0, len(indices))
	for n, j := range indices {
		det := model.Detection{
			ID:    n + 1,
			Score: float64(confidences[j]),
			Box:   lb.rectToImage(boxes[j], mat.Cols(), mat.Rows()),
		}
		if masks != nil {
			coeffs := rows.RowRange(coeffRows[j], coeffRows[j]+1)
			polys, err := masks.polygons(coeffs, boxes[j], lb, mat.Cols(), mat.Rows())
			coeffs.Close()
			if err != nil {
				return nil, &InferenceError{Err: err}
			}
			det.Polygons = polys
		}
		detections = append(detections, det)
	}

	return detections, nil
}

// letterboxInfo describes the aspect-preserving resize and padding applied
// before inference.
type letterboxInfo struct {
	scale      float64
	padX, padY int
	resizedW   int
	resizedH   int
}

func letterboxParams(w, h, size int) letterboxInfo {
	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	if scale > 1 {
		scale = 1
	}
	rw, rh := int(float64(w)*scale), int(float64(h)*scale)
	return letterboxInfo{
		scale:    scale,
		padX:     (size - rw) / 2,
		padY:     (size - rh) / 2,
		resizedW: rw,
		resizedH: rh,
	}
}

func letterbox(mat gocv.Mat, lb letterboxInfo) (gocv.Mat, error) {
	resized := gocv.NewMat()
	gocv.Resize(mat, &resized, image.Pt(lb.resizedW, lb.resizedH), 0, 0, gocv.InterpolationLinear)
	defer resized.Close()

	padded := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &padded,
		lb.padY, inputSize-lb.resizedH-lb.padY,
		lb.padX, inputSize-lb.resizedW-lb.padX,
		gocv.BorderConstant, color.RGBA{R: 114, G: 114, B: 114})
	if padded.Empty() {
		return padded, fmt.Errorf("failed to letterbox image")
	}
	return padded, nil
}

// rectToImage maps a letterbox-space rectangle back into original image
// coordinates, clamped to the image bounds.
func (lb letterboxInfo) rectToImage(r image.Rectangle, w, h int) [4]float64 {
	x1 := lb.unpadX(float64(r.Min.X), w)
	y1 := lb.unpadY(float64(r.Min.Y), h)
	x2 := lb.unpadX(float64(r.Max.X), w)
	y2 := lb.unpadY(float64(r.Max.Y), h)
	return [4]float64{x1, y1, x2, y2}
}

func (lb letterboxInfo) unpadX(x float64, w int) float64 {
	return clamp((x-float64(lb.padX))/lb.scale, 0, float64(w))
}

func (lb letterboxInfo) unpadY(y float64, h int) float64 {
	return clamp((y-float64(lb.padY))/lb.scale, 0, float64(h))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
