package detect

import (
	"image"
	"math"
	"testing"

	"peoplecounter/internal/model"
)

func TestLetterboxParams(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		scale        float64
		padX, padY   int
		resW, resH   int
	}{
		{"wide", 1280, 720, 0.5, 0, 140, 640, 360},
		{"tall", 720, 1280, 0.5, 140, 0, 360, 640},
		{"square", 640, 640, 1, 0, 0, 640, 640},
		{"small is not upscaled", 320, 240, 1, 160, 200, 320, 240},
	}

	for _, tt := range tests {
		lb := letterboxParams(tt.w, tt.h, inputSize)
		if math.Abs(lb.scale-tt.scale) > 1e-9 {
			t.Errorf("%s: scale = %v, expected %v", tt.name, lb.scale, tt.scale)
		}
		if lb.padX != tt.padX || lb.padY != tt.padY {
			t.Errorf("%s: pad = (%d,%d), expected (%d,%d)", tt.name, lb.padX, lb.padY, tt.padX, tt.padY)
		}
		if lb.resizedW != tt.resW || lb.resizedH != tt.resH {
			t.Errorf("%s: resized = %dx%d, expected %dx%d", tt.name, lb.resizedW, lb.resizedH, tt.resW, tt.resH)
		}
	}
}

func TestRectToImage(t *testing.T) {
	// 1280x720 letterboxed to 640x640: scale 0.5, padY 140
	lb := letterboxParams(1280, 720, inputSize)

	box := lb.rectToImage(image.Rect(100, 240, 300, 440), 1280, 720)
	want := [4]float64{200, 200, 600, 600}
	for i := range box {
		if math.Abs(box[i]-want[i]) > 1e-9 {
			t.Fatalf("rectToImage = %v, expected %v", box, want)
		}
	}
}

func TestRectToImage_ClampsToBounds(t *testing.T) {
	lb := letterboxParams(1280, 720, inputSize)

	box := lb.rectToImage(image.Rect(-50, 0, 10000, 10000), 1280, 720)
	if box[0] != 0 || box[1] != 0 {
		t.Errorf("negative coordinates should clamp to 0, got %v", box)
	}
	if box[2] != 1280 || box[3] != 720 {
		t.Errorf("overflowing coordinates should clamp to image size, got %v", box)
	}
}

func TestModelFile(t *testing.T) {
	if got := ModelFile(model.ModeSeg); got != "yolov8n-seg.onnx" {
		t.Errorf("seg model file = %q", got)
	}
	if got := ModelFile(model.ModeBBox); got != "yolov8n.onnx" {
		t.Errorf("bbox model file = %q", got)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{0, 0, 10, 0},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%v, %v, %v) = %v, expected %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
