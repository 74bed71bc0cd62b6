// Package export serializes run metadata to JSON documents and detection
// boxes to CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"peoplecounter/internal/model"
)

// SerializationError signals a failed document or table write.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// MarshalMetadata renders the full metadata document. Output is byte-stable
// for equal input.
func MarshalMetadata(meta model.RunMetadata) ([]byte, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, &SerializationError{Path: meta.Input, Err: err}
	}
	return append(data, '\n'), nil
}

// summary shadows the embedded Detections field so the per-detection list is
// omitted from the stored document, which keeps only the run parameters.
type summary struct {
	model.RunMetadata
	Detections []model.Detection `json:"detections,omitempty"`
}

// MarshalSummary renders the metadata without the detection list, the form
// persisted into the database metadata column.
func MarshalSummary(meta model.RunMetadata) ([]byte, error) {
	data, err := json.Marshal(summary{RunMetadata: meta})
	if err != nil {
		return nil, &SerializationError{Path: meta.Input, Err: err}
	}
	return data, nil
}

// WriteJSON writes the full metadata document to path.
func WriteJSON(meta model.RunMetadata, path string) error {
	data, err := MarshalMetadata(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	return nil
}

// WriteCSV writes one row per detection with its box coordinates and score.
func WriteCSV(detections []model.Detection, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "score", "x1", "y1", "x2", "y2"}); err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	for _, det := range detections {
		row := []string{
			strconv.Itoa(det.ID),
			formatFloat(det.Score),
			formatFloat(det.Box[0]),
			formatFloat(det.Box[1]),
			formatFloat(det.Box[2]),
			formatFloat(det.Box[3]),
		}
		if err := w.Write(row); err != nil {
			return &SerializationError{Path: path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &SerializationError{Path: path, Err: err}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
