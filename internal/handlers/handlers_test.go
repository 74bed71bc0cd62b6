package handlers_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"peoplecounter/internal/config"
	"peoplecounter/internal/detect"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/model"
	"peoplecounter/internal/pipeline"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/repository/sqlstore"
	"peoplecounter/internal/routes"
)

type stubDetector struct {
	detections []model.Detection
	err        error
}

func (s *stubDetector) Detect(img image.Image, opts detect.Options) ([]model.Detection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.detections, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:        8000,
		Device:      "cpu",
		CORSOrigins: []string{"http://localhost:8501"},
		StaticDir:   t.TempDir(),
	}
}

func newTestServer(t *testing.T, det detect.Detector, store repository.ImageRepository, cfg *config.Config) http.Handler {
	t.Helper()
	log, err := logger.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	proc := pipeline.New(det, store, log)
	return routes.SetupRoutes(proc, store, nil, cfg, log)
}

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartUpload(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postProcess(t *testing.T, handler http.Handler, target string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, "file", "upload.png", data)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestProcessThenFetch(t *testing.T) {
	store := openTestStore(t)
	det := &stubDetector{detections: []model.Detection{
		{ID: 1, Score: 0.88, Box: [4]float64{5, 5, 40, 45}},
	}}
	handler := newTestServer(t, det, store, testConfig(t))

	rec := postProcess(t, handler, "/process?mode=bbox&conf=0.5", pngBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /process = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("X-Duplicate"); got != "false" {
		t.Errorf("X-Duplicate = %q", got)
	}
	if got := rec.Header().Get("X-Count"); got != "1" {
		t.Errorf("X-Count = %q", got)
	}

	id, err := strconv.ParseInt(rec.Header().Get("X-Image-Id"), 10, 64)
	if err != nil {
		t.Fatalf("X-Image-Id = %q: %v", rec.Header().Get("X-Image-Id"), err)
	}

	// the stored bytes must round-trip exactly
	req := httptest.NewRequest(http.MethodGet, "/images/"+strconv.FormatInt(id, 10), nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET /images/%d = %d", id, getRec.Code)
	}
	if !bytes.Equal(getRec.Body.Bytes(), rec.Body.Bytes()) {
		t.Error("fetched bytes differ from the processed response")
	}
}

func TestProcess_DuplicateUpload(t *testing.T) {
	store := openTestStore(t)
	handler := newTestServer(t, &stubDetector{}, store, testConfig(t))

	data := pngBytes(t)
	first := postProcess(t, handler, "/process", data)
	if first.Code != http.StatusOK {
		t.Fatalf("first upload = %d", first.Code)
	}
	second := postProcess(t, handler, "/process?conf=0.9", data)
	if second.Code != http.StatusOK {
		t.Fatalf("second upload = %d", second.Code)
	}

	if got := second.Header().Get("X-Duplicate"); got != "true" {
		t.Errorf("X-Duplicate = %q, expected true", got)
	}
	if first.Header().Get("X-Image-Id") != second.Header().Get("X-Image-Id") {
		t.Errorf("duplicate upload mapped to a different id: %q vs %q",
			first.Header().Get("X-Image-Id"), second.Header().Get("X-Image-Id"))
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("duplicate upload should return the originally stored bytes")
	}
}

func TestProcess_BadRequests(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	tests := []struct {
		name   string
		target string
		data   []byte
	}{
		{"invalid image bytes", "/process", []byte("definitely not an image")},
		{"unknown mode", "/process?mode=pose", nil},
		{"conf out of range", "/process?conf=1.5", nil},
		{"conf not a number", "/process?conf=abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			if data == nil {
				data = pngBytes(t)
			}
			rec := postProcess(t, handler, tt.target, data)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, expected 400", rec.Code)
			}
		})
	}
}

func TestProcess_MissingFileField(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	body, contentType := multipartUpload(t, "image", "upload.png", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400", rec.Code)
	}
}

func TestProcess_WithoutStore(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	rec := postProcess(t, handler, "/process", pngBytes(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Image-Id"); got != "" {
		t.Errorf("X-Image-Id = %q, expected empty without storage", got)
	}
	if got := rec.Header().Get("X-Duplicate"); got != "false" {
		t.Errorf("X-Duplicate = %q", got)
	}
}

func TestGetImage_NotFound(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, openTestStore(t), testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/images/12345", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestGetImage_InvalidID(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, openTestStore(t), testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/images/abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400", rec.Code)
	}
}

func TestGetImage_StorageNotConfigured(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/images/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, expected 503", rec.Code)
	}
}

func TestListImages(t *testing.T) {
	store := openTestStore(t)
	handler := newTestServer(t, &stubDetector{}, store, testConfig(t))

	if rec := postProcess(t, handler, "/process", pngBytes(t)); rec.Code != http.StatusOK {
		t.Fatalf("upload = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/images?page=1&per_page=5", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Images []struct {
			ID            int64           `json:"id"`
			CreatedAt     string          `json:"created_at"`
			InputFilename string          `json:"input_filename"`
			Metadata      json.RawMessage `json:"metadata"`
		} `json:"images"`
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Page != 1 || resp.PerPage != 5 {
		t.Errorf("pagination echoed as page=%d per_page=%d", resp.Page, resp.PerPage)
	}
	if len(resp.Images) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Images))
	}
	if resp.Images[0].InputFilename != "upload.png" {
		t.Errorf("input_filename = %q", resp.Images[0].InputFilename)
	}
	if len(resp.Images[0].Metadata) == 0 {
		t.Error("metadata document missing")
	}
}

func TestListImages_EmptyWithoutStore(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/images", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"images":[]`)) {
		t.Errorf("expected empty listing, got %s", rec.Body.String())
	}
}

func TestPatchMetadata(t *testing.T) {
	store := openTestStore(t)
	cfg := testConfig(t)
	cfg.APIKey = "sekrit"
	handler := newTestServer(t, &stubDetector{}, store, cfg)

	upload := postProcess(t, handler, "/process", pngBytes(t))
	if upload.Code != http.StatusOK {
		t.Fatalf("upload = %d", upload.Code)
	}
	id := upload.Header().Get("X-Image-Id")

	patch := bytes.NewBufferString(`{"reviewed": true, "count": 99}`)
	req := httptest.NewRequest(http.MethodPatch, "/images/"+id, patch)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("PATCH without key = %d, expected 401", rec.Code)
	}

	patch = bytes.NewBufferString(`{"reviewed": true, "count": 99}`)
	req = httptest.NewRequest(http.MethodPatch, "/images/"+id, patch)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH with key = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID       int64                  `json:"id"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Metadata["reviewed"] != true {
		t.Error("patched key missing from merged metadata")
	}
	if got, ok := resp.Metadata["count"].(float64); !ok || got != 99 {
		t.Errorf("patch should win over stored keys, count = %v", resp.Metadata["count"])
	}
	if _, ok := resp.Metadata["mode"]; !ok {
		t.Error("untouched stored keys should survive the merge")
	}
}

func TestPatchMetadata_UnknownID(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, openTestStore(t), testConfig(t))

	req := httptest.NewRequest(http.MethodPatch, "/images/9999", bytes.NewBufferString(`{"a":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, expected 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, &stubDetector{}, nil, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"status":"ok"`)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
