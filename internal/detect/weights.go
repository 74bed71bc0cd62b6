package detect

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"peoplecounter/internal/model"
)

// defaultWeightsBaseURL is where model files are fetched from on first use.
// Override with the MODEL_BASE_URL environment variable, or drop exported
// ONNX files into the model directory yourself.
const defaultWeightsBaseURL = "https://github.com/ultralytics/assets/releases/download/v8.2.0"

// ModelFile returns the ONNX filename for a mode.
func ModelFile(mode model.Mode) string {
	if mode == model.ModeSeg {
		return "yolov8n-seg.onnx"
	}
	return "yolov8n.onnx"
}

// EnsureModel returns the path to the weights file for the given mode,
// downloading it into dir when missing.
func EnsureModel(dir string, mode model.Mode) (string, error) {
	path := filepath.Join(dir, ModelFile(mode))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	base := os.Getenv("MODEL_BASE_URL")
	if base == "" {
		base = defaultWeightsBaseURL
	}
	url := base + "/" + ModelFile(mode)

	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to download model from %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download model from %s: status %d (export %s manually into %s)",
			url, resp.StatusCode, ModelFile(mode), dir)
	}

	// write to a temp name first so a partial download never looks usable
	tmp, err := os.CreateTemp(dir, ModelFile(mode)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create model file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move model file into place: %w", err)
	}
	return path, nil
}
