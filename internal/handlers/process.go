package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/detect"
	"peoplecounter/internal/imageio"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/services/websocket"
)

const maxUploadSize = 32 << 20

// ProcessImageHandler accepts a multipart image upload, runs the detection
// pipeline and returns the annotated JPEG. Response headers carry the
// storage id, the duplicate flag and the person count.
func ProcessImageHandler(proc *pipeline.Processor, hub *websocket.HubService, cfg *config.Config, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			http.Error(w, "Invalid multipart form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil || len(data) == 0 {
			http.Error(w, "Empty file", http.StatusBadRequest)
			return
		}

		q := r.URL.Query()
		mode := model.ModeSeg
		if s := q.Get("mode"); s != "" {
			if mode, err = model.ParseMode(s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		conf := 0.25
		if s := q.Get("conf"); s != "" {
			conf, err = strconv.ParseFloat(s, 64)
			if err != nil || conf < 0 || conf > 1 {
				http.Error(w, "conf must be a number between 0 and 1", http.StatusBadRequest)
				return
			}
		}

		filename := header.Filename
		if filename == "" {
			filename = "uploaded.jpg"
		}

		result, err := proc.ProcessBytes(data, filename, pipeline.Params{
			Mode:         mode,
			Confidence:   conf,
			Thickness:    3,
			ShowLabel:    true,
			Device:       cfg.Device,
			StoreResults: true,
		})
		if err != nil {
			var loadErr *imageio.LoadError
			if errors.As(err, &loadErr) {
				log.Warning("Rejected upload %s: %v", filename, err)
				http.Error(w, "Unreadable or invalid image", http.StatusBadRequest)
				return
			}
			var infErr *detect.InferenceError
			if errors.As(err, &infErr) {
				log.Error("Inference failed for %s: %v", filename, err)
				http.Error(w, "Inference failed", http.StatusInternalServerError)
				return
			}
			log.Error("Processing failed for %s: %v", filename, err)
			http.Error(w, "Processing failed", http.StatusInternalServerError)
			return
		}

		if hub != nil {
			hub.BroadcastEvent(websocket.ProcessedEvent{
				ID:        result.StoreID,
				Filename:  filename,
				Count:     result.Meta.Count,
				Duplicate: result.Duplicate,
			})
		}

		if result.Stored {
			w.Header().Set("X-Image-Id", strconv.FormatInt(result.StoreID, 10))
		} else {
			w.Header().Set("X-Image-Id", "")
		}
		w.Header().Set("X-Duplicate", strconv.FormatBool(result.Duplicate))
		w.Header().Set("X-Count", strconv.Itoa(result.Meta.Count))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(result.AnnotatedJPEG)
	}
}
