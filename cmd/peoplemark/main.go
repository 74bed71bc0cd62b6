// Command peoplemark detects and marks people in a single image or in every
// image of a directory (non-recursive).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/detect"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var (
		input     = flag.String("input", "", "image file (jpg/png) or directory of images (required)")
		outputDir = flag.String("output-dir", "", "output directory (default: next to the input)")
		modeFlag  = flag.String("mode", "seg", "annotation mode: seg (outlines) or bbox (boxes only)")
		conf      = flag.Float64("conf", 0.25, "minimum detection confidence (0..1)")
		thickness = flag.Int("thickness", 3, "line thickness for drawing")
		label     = flag.Bool("label", true, "draw index/confidence labels")
		device    = flag.String("device", cfg.Device, `inference device: "cpu", "cuda", "cuda:0", "mps"`)
		exportCSV = flag.Bool("csv", true, "export a CSV with detection boxes")
		dbStore   = flag.Bool("db-store", cfg.DBConfigured(), "store results in the configured database")
		modelDir  = flag.String("model-dir", cfg.ModelDir, "directory holding the ONNX model files")
	)
	flag.Parse()

	if *input == "" {
		log.Fatalf("usage: %s -input image.jpg|dir [-mode seg|bbox] [-conf 0.35] [-output-dir out] [-device cuda]", filepath.Base(os.Args[0]))
	}

	mode, err := model.ParseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}
	if *conf < 0 || *conf > 1 {
		log.Fatalf("-conf must be between 0 and 1, got %g", *conf)
	}

	logg, err := logger.New(cfg.LogDirectory)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	var store repository.ImageRepository
	if *dbStore {
		if !cfg.DBConfigured() {
			fmt.Fprintln(os.Stderr, "Warning: -db-store set but no database configured, skipping storage")
		} else {
			driver, dsn := cfg.StoreDSN()
			st, err := sqlstore.Open(driver, dsn)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: database unavailable, skipping storage: %v\n", err)
			} else {
				store = st
				defer st.Close()
			}
		}
	}

	detector := detect.NewYOLODetector(*modelDir, *device, logg)
	defer detector.Close()

	proc := pipeline.New(detector, store, logg)
	params := pipeline.Params{
		Mode:         mode,
		Confidence:   *conf,
		Thickness:    *thickness,
		ShowLabel:    *label,
		Device:       *device,
		ExportCSV:    *exportCSV,
		StoreResults: store != nil,
		OutputDir:    *outputDir,
	}

	info, err := os.Stat(*input)
	if err != nil {
		log.Fatalf("Input not found: %v", err)
	}

	if info.IsDir() {
		runBatch(proc, *input, params)
		return
	}
	runSingle(proc, *input, params)
}

func runSingle(proc *pipeline.Processor, input string, params pipeline.Params) {
	result, err := proc.ProcessFile(input, params)
	if err != nil {
		log.Fatalf("Failed to process %s: %v", input, err)
	}

	fmt.Printf("People detected: %d\n", result.Meta.Count)
	fmt.Printf("Annotated image: %s\n", result.OutputImagePath)
	fmt.Printf("Metadata JSON: %s\n", result.JSONPath)
	if result.CSVPath != "" {
		fmt.Printf("CSV: %s\n", result.CSVPath)
	}
	if result.Stored {
		if result.Duplicate {
			fmt.Printf("Already stored in DB with id=%d\n", result.StoreID)
		} else {
			fmt.Printf("Stored in DB with id=%d\n", result.StoreID)
		}
	}
}

func runBatch(proc *pipeline.Processor, dir string, params pipeline.Params) {
	if params.OutputDir == "" {
		params.OutputDir = filepath.Join(dir, "out")
	}
	summary, err := proc.RunBatch(dir, params)
	if err != nil {
		log.Fatal(err)
	}

	for _, r := range summary.Results {
		line := fmt.Sprintf("OK: %s -> %d person(s) | %s", filepath.Base(r.Meta.Input), r.Meta.Count, r.OutputImagePath)
		if r.Stored {
			line += fmt.Sprintf(" | DB id=%d", r.StoreID)
		}
		fmt.Println(line)
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(os.Stderr, "ERROR: %s -> %v\n", filepath.Base(f.File), f.Err)
	}

	fmt.Printf("\nSummary:\n")
	fmt.Printf("Images processed: %d\n", summary.Succeeded)
	fmt.Printf("People detected (total): %d\n", summary.People)
	fmt.Printf("Failures: %d\n", summary.Failed)
	fmt.Printf("Outputs in: %s\n", params.OutputDir)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}
