// Package pipeline ties the loader, detector, annotator, exporter and store
// together into the single-image processing flow shared by the CLI and the
// HTTP service.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"peoplecounter/internal/annotate"
	"peoplecounter/internal/detect"
	"peoplecounter/internal/export"
	"peoplecounter/internal/imageio"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
	"peoplecounter/internal/repository"
)

// Params are the per-run pipeline settings.
type Params struct {
	Mode         model.Mode
	Confidence   float64
	Thickness    int
	ShowLabel    bool
	Device       string
	ExportCSV    bool
	StoreResults bool
	OutputDir    string // empty: next to the input file
}

// Result describes one processed image.
type Result struct {
	Meta            model.RunMetadata
	OutputImagePath string
	JSONPath        string
	CSVPath         string

	// Storage outcome. Stored is false when no store is configured or the
	// store was unreachable; Duplicate marks a dedup hit.
	Stored    bool
	Duplicate bool
	StoreID   int64

	// AnnotatedJPEG is set on the byte-oriented path used by the HTTP
	// service.
	AnnotatedJPEG []byte
}

// Processor owns the detector and optional store. Construct one explicitly
// and share it; there is no package-level model state.
type Processor struct {
	detector detect.Detector
	store    repository.ImageRepository // nil disables persistence
	log      *logger.Logger
}

// New creates a Processor. store may be nil.
func New(detector detect.Detector, store repository.ImageRepository, log *logger.Logger) *Processor {
	return &Processor{detector: detector, store: store, log: log}
}

// Hash returns the dedup key for raw input bytes: a SHA-256 hex digest
// computed before any decoding, so dedup is independent of run parameters.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ProcessFile runs the full pipeline for one file on disk, writing the
// annotated image, the JSON document and optionally the CSV next to it (or
// into params.OutputDir).
func (p *Processor) ProcessFile(path string, params Params) (*Result, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}

	detections, err := p.detector.Detect(img, detect.Options{Mode: params.Mode, Confidence: params.Confidence})
	if err != nil {
		return nil, err
	}

	annotated, err := annotate.Draw(img, detections, annotate.Options{
		Thickness: params.Thickness,
		ShowLabel: params.ShowLabel,
	})
	if err != nil {
		return nil, err
	}

	outDir := params.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(path)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath, err := imageio.Save(annotated, filepath.Join(outDir, stem+"_marked"+strings.ToLower(filepath.Ext(path))))
	if err != nil {
		return nil, err
	}

	meta := model.RunMetadata{
		Input:               path,
		OutputImage:         outPath,
		Mode:                params.Mode,
		ConfidenceThreshold: params.Confidence,
		Thickness:           params.Thickness,
		ShowLabel:           params.ShowLabel,
		Device:              params.Device,
		Count:               len(detections),
		Detections:          detections,
	}

	result := &Result{Meta: meta, OutputImagePath: outPath}

	result.JSONPath = filepath.Join(outDir, stem+"_marked_meta.json")
	if err := export.WriteJSON(meta, result.JSONPath); err != nil {
		return nil, err
	}

	if params.ExportCSV {
		result.CSVPath = filepath.Join(outDir, stem+"_marked_boxes.csv")
		if err := export.WriteCSV(detections, result.CSVPath); err != nil {
			return nil, err
		}
	}

	if p.store != nil && params.StoreResults {
		p.storeFileResult(path, outPath, meta, result)
	}

	return result, nil
}

// storeFileResult persists the record, degrading to a logged warning when
// the store misbehaves so image processing itself never fails on storage.
func (p *Processor) storeFileResult(inputPath, outputPath string, meta model.RunMetadata, result *Result) {
	inputBytes, err := os.ReadFile(inputPath)
	if err != nil {
		p.warn("failed to read input for storage: %v", err)
		return
	}
	outputBytes, err := os.ReadFile(outputPath)
	if err != nil {
		p.warn("failed to read output for storage: %v", err)
		return
	}

	id, duplicate, err := p.persist(inputBytes, outputBytes, filepath.Base(inputPath), filepath.Base(outputPath), meta)
	if err != nil {
		p.warn("failed to store result for %s: %v", inputPath, err)
		return
	}
	result.Stored = true
	result.Duplicate = duplicate
	result.StoreID = id
}

// persist inserts a record, falling back to lookup when a concurrent insert
// won the race on the hash constraint.
func (p *Processor) persist(inputBytes, outputBytes []byte, inputName, outputName string, meta model.RunMetadata) (int64, bool, error) {
	summary, err := export.MarshalSummary(meta)
	if err != nil {
		return 0, false, err
	}

	hash := Hash(inputBytes)
	id, err := p.store.Insert(&model.ImageRecord{
		InputFilename:  inputName,
		OutputFilename: outputName,
		Metadata:       summary,
		InputImage:     inputBytes,
		OutputImage:    outputBytes,
		Hash:           hash,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		existing, lookupErr := p.store.Lookup(hash)
		if lookupErr != nil {
			return 0, false, lookupErr
		}
		return existing, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// ProcessBytes runs the pipeline for in-memory image bytes (the HTTP path).
// When a store is configured the content hash is checked first and a dedup
// hit returns the previously stored result without reprocessing.
func (p *Processor) ProcessBytes(data []byte, filename string, params Params) (*Result, error) {
	if len(data) == 0 {
		return nil, &imageio.LoadError{Err: fmt.Errorf("empty input")}
	}

	if p.store != nil && params.StoreResults {
		if res, ok := p.lookupExisting(data); ok {
			return res, nil
		}
	}

	img, err := imageio.Decode(data)
	if err != nil {
		return nil, err
	}

	detections, err := p.detector.Detect(img, detect.Options{Mode: params.Mode, Confidence: params.Confidence})
	if err != nil {
		return nil, err
	}

	annotated, err := annotate.Draw(img, detections, annotate.Options{
		Thickness: params.Thickness,
		ShowLabel: params.ShowLabel,
	})
	if err != nil {
		return nil, err
	}

	annotatedBytes, err := imageio.EncodeJPEG(annotated)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	outputName := stem + "_marked.jpg"

	meta := model.RunMetadata{
		Input:               filepath.Base(filename),
		OutputImage:         outputName,
		Mode:                params.Mode,
		ConfidenceThreshold: params.Confidence,
		Thickness:           params.Thickness,
		ShowLabel:           params.ShowLabel,
		Device:              params.Device,
		Count:               len(detections),
		Detections:          detections,
	}

	result := &Result{Meta: meta, AnnotatedJPEG: annotatedBytes}

	if p.store != nil && params.StoreResults {
		id, duplicate, err := p.persist(data, annotatedBytes, filepath.Base(filename), outputName, meta)
		if err != nil {
			p.warn("failed to store result for %s: %v", filename, err)
		} else {
			result.Stored = true
			result.Duplicate = duplicate
			result.StoreID = id
		}
	}

	return result, nil
}

// lookupExisting returns the stored result for already-seen input bytes.
func (p *Processor) lookupExisting(data []byte) (*Result, bool) {
	rec, err := p.store.GetByHash(Hash(data))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		p.warn("dedup lookup failed: %v", err)
		return nil, false
	}

	var meta model.RunMetadata
	if len(rec.Metadata) > 0 {
		if err := json.Unmarshal(rec.Metadata, &meta); err != nil {
			p.warn("failed to decode stored metadata for id %d: %v", rec.ID, err)
		}
	}

	return &Result{
		Meta:          meta,
		Stored:        true,
		Duplicate:     true,
		StoreID:       rec.ID,
		AnnotatedJPEG: rec.OutputImage,
	}, true
}

func (p *Processor) warn(format string, v ...interface{}) {
	if p.log != nil {
		p.log.Warning(format, v...)
	}
}
