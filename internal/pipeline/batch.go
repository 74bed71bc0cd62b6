package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"peoplecounter/internal/imageio"
)

// FileError records one failed file in a batch run.
type FileError struct {
	File string
	Err  error
}

// Summary aggregates a batch run.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	People    int
	Results   []*Result
	Failures  []FileError
}

// RunBatch processes every first-level image file in dir. A failure on one
// file is recorded and the run continues with the next file. Output goes to
// params.OutputDir, defaulting to dir/out.
func (p *Processor) RunBatch(dir string, params Params) (*Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !imageio.IsImageFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no *.jpg/*.jpeg/*.png images found in %s", dir)
	}

	if params.OutputDir == "" {
		params.OutputDir = filepath.Join(dir, "out")
	}

	summary := &Summary{}
	for _, file := range files {
		summary.Attempted++
		result, err := p.ProcessFile(file, params)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, FileError{File: file, Err: err})
			if p.log != nil {
				p.log.Error("Failed to process %s: %v", file, err)
			}
			continue
		}
		summary.Succeeded++
		summary.People += result.Meta.Count
		summary.Results = append(summary.Results, result)
		if p.log != nil {
			p.log.Info("Processed %s: %d person(s) -> %s", filepath.Base(file), result.Meta.Count, result.OutputImagePath)
		}
	}

	return summary, nil
}
