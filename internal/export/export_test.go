package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"peoplecounter/internal/model"
)

func sampleMetadata() model.RunMetadata {
	return model.RunMetadata{
		Input:               "beach.jpg",
		OutputImage:         "beach_marked.jpg",
		Mode:                model.ModeSeg,
		ConfidenceThreshold: 0.25,
		Thickness:           3,
		ShowLabel:           true,
		Device:              "cpu",
		Count:               2,
		Detections: []model.Detection{
			{ID: 1, Score: 0.91, Box: [4]float64{10.5, 20, 110, 220}, Polygons: []model.Polygon{{{10, 20}, {110, 20}, {60, 220}}}},
			{ID: 2, Score: 0.4, Box: [4]float64{200, 30, 280, 190}},
		},
	}
}

func TestWriteJSON_Deterministic(t *testing.T) {
	dir := t.TempDir()
	meta := sampleMetadata()

	first := filepath.Join(dir, "first.json")
	second := filepath.Join(dir, "second.json")
	if err := WriteJSON(meta, first); err != nil {
		t.Fatalf("first WriteJSON failed: %v", err)
	}
	if err := WriteJSON(meta, second); err != nil {
		t.Fatalf("second WriteJSON failed: %v", err)
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Error("identical metadata should produce byte-identical documents")
	}
}

func TestWriteJSON_Content(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	if err := WriteJSON(sampleMetadata(), path); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var decoded model.RunMetadata
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("document is not valid JSON: %v", err)
	}
	if decoded.Count != 2 || len(decoded.Detections) != 2 {
		t.Errorf("decoded count=%d detections=%d, expected 2 and 2", decoded.Count, len(decoded.Detections))
	}
	if len(decoded.Detections[0].Polygons) != 1 {
		t.Error("seg-mode detection should keep its polygons")
	}
	if decoded.Detections[1].Polygons != nil {
		t.Error("box-only detection should have no polygons")
	}
}

func TestMarshalSummary_OmitsDetections(t *testing.T) {
	data, err := MarshalSummary(sampleMetadata())
	if err != nil {
		t.Fatalf("MarshalSummary failed: %v", err)
	}
	if strings.Contains(string(data), "detections") {
		t.Errorf("summary should omit the detection list: %s", data)
	}
	if !strings.Contains(string(data), `"count":2`) {
		t.Errorf("summary should keep the count: %s", data)
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxes.csv")
	if err := WriteCSV(sampleMetadata().Detections, path); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "id,score,x1,y1,x2,y2" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1,0.91,10.5,20,110,220" {
		t.Errorf("first row = %q", lines[1])
	}
}

func TestWriteCSV_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := WriteCSV(nil, path); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "id,score,x1,y1,x2,y2" {
		t.Errorf("empty CSV should contain only the header, got %q", data)
	}
}
