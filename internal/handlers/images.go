package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"peoplecounter/internal/logger"
	"peoplecounter/internal/repository"
)

// imageInfo is one entry in the paginated image listing.
type imageInfo struct {
	ID            int64           `json:"id"`
	CreatedAt     string          `json:"created_at"`
	InputFilename string          `json:"input_filename"`
	Metadata      json.RawMessage `json:"metadata"`
}

// imageList is the response payload for the listing endpoint.
type imageList struct {
	Images  []imageInfo `json:"images"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

// GetImageHandler serves the stored annotated image bytes by record id.
func GetImageHandler(store repository.ImageRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
			return
		}

		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid image id", http.StatusBadRequest)
			return
		}

		data, err := store.FetchOutput(id)
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Failed to fetch image %d: %v", id, err)
			http.Error(w, "Storage error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	}
}

// ListImagesHandler returns a paginated listing of stored records with
// minimal metadata. Without a configured store the listing is empty.
func ListImagesHandler(store repository.ImageRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		perPage := atoiDefault(q.Get("per_page"), 20)

		resp := imageList{Images: []imageInfo{}, Page: page, PerPage: perPage}

		if store != nil {
			records, err := store.List(page, perPage)
			if err != nil {
				log.Error("Failed to list images: %v", err)
				http.Error(w, "Storage error", http.StatusInternalServerError)
				return
			}
			for _, rec := range records {
				meta := json.RawMessage(rec.Metadata)
				if len(meta) == 0 {
					meta = json.RawMessage("{}")
				}
				resp.Images = append(resp.Images, imageInfo{
					ID:            rec.ID,
					CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
					InputFilename: rec.InputFilename,
					Metadata:      meta,
				})
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// PatchImageMetadataHandler merges the request body into the stored metadata
// document for an image. Shallow merge; request keys win.
func PatchImageMetadataHandler(store repository.ImageRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
			return
		}

		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid image id", http.StatusBadRequest)
			return
		}

		var patch map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}

		merged, err := store.MergeMetadata(id, patch)
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Failed to update metadata for %d: %v", id, err)
			http.Error(w, "Storage error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":       id,
			"metadata": json.RawMessage(merged),
		})
	}
}

// HealthHandler reports basic liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
