// Package detect wraps a pretrained YOLOv8 model and restricts its output to
// person detections above a confidence threshold.
package detect

import (
	"fmt"
	"image"

	"peoplecounter/internal/model"
)

// Options are the per-call detection parameters.
type Options struct {
	Mode       model.Mode
	Confidence float64
}

// Detector produces person detections for an image. Implementations must be
// safe for concurrent use.
type Detector interface {
	Detect(img image.Image, opts Options) ([]model.Detection, error)
}

// InferenceError signals that the underlying model could not be loaded or run.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference failed: %v", e.Err) }

func (e *InferenceError) Unwrap() error { return e.Err }
