package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"shopmedia/internal/ingest"
	"shopmedia/internal/storage"
	"shopmedia/internal/ui"
)

const (
	fieldSingle   = "image"
	fieldMultiple = "images"

	msgNoFile       = "파일 없음"
	msgUploadFailed = "업로드 실패"
)

type errorResponse struct {
	Error    string          `json:"error"`
	Details  string          `json:"details,omitempty"`
	Failures []ingest.Result `json:"failures,omitempty"`
}

type singleResponse struct {
	ImageURL string `json:"imageUrl"`
}

type multipleResponse struct {
	ImageURLs []string        `json:"imageUrls"`
	Failures  []ingest.Result `json:"failures"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// parseFiles reads the multipart form and returns the files submitted under
// field. A request that is not multipart carries no files.
func parseFiles(w http.ResponseWriter, r *http.Request, field string) ([]*multipart.FileHeader, bool) {
	err := r.ParseMultipartForm(multipartMemory)
	switch {
	case err == nil:
	case errors.Is(err, http.ErrNotMultipart):
		return nil, true
	default:
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large",
				fmt.Sprintf("limit is %d bytes", maxBytes.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return nil, false
	}

	return r.MultipartForm.File[field], true
}

func incomingFile(fh *multipart.FileHeader) ingest.IncomingFile {
	return ingest.IncomingFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("Error removing multipart temp files", "error", err)
		}
	}
}

func statusFor(kind ingest.ErrorKind) int {
	if kind == ingest.KindStorageWriteFailed {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (s *Server) handleUploadSingle(w http.ResponseWriter, r *http.Request) {
	files, ok := parseFiles(w, r, fieldSingle)
	defer cleanupForm(r)
	if !ok {
		return
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, msgNoFile, "")
		return
	}

	res := s.ingest.IngestOne(r.Context(), s.resolver.Origin(r), incomingFile(files[0]))
	if res.Stored() {
		writeJSON(w, http.StatusOK, singleResponse{ImageURL: res.Object.URL})
		return
	}

	switch res.Failure.Kind {
	case ingest.KindNoFileProvided:
		writeError(w, http.StatusBadRequest, msgNoFile, "")
	case ingest.KindValidationFailed:
		writeError(w, http.StatusBadRequest, res.Failure.Message, "")
	default:
		writeError(w, http.StatusInternalServerError, msgUploadFailed, res.Failure.Message)
	}
}

func (s *Server) handleUploadMultiple(w http.ResponseWriter, r *http.Request) {
	headers, ok := parseFiles(w, r, fieldMultiple)
	defer cleanupForm(r)
	if !ok {
		return
	}
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, msgNoFile, "")
		return
	}
	if len(headers) > s.opts.MaxFiles {
		writeError(w, http.StatusBadRequest, "too many files",
			fmt.Sprintf("at most %d files per request, got %d", s.opts.MaxFiles, len(headers)))
		return
	}

	files := make([]ingest.IncomingFile, len(headers))
	for i, fh := range headers {
		files[i] = incomingFile(fh)
	}

	results := s.ingest.IngestMany(r.Context(), s.resolver.Origin(r), files)
	urls := ingest.URLs(results)
	failures := ingest.Failures(results)

	if len(failures) == 0 {
		writeJSON(w, http.StatusOK, multipleResponse{ImageURLs: urls, Failures: []ingest.Result{}})
		return
	}

	slog.Warn("Batch upload had failures",
		"stored", len(urls),
		"failed", len(failures),
		"policy", s.opts.Policy,
	)

	if s.opts.Policy == ingest.PolicyFailFast {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgUploadFailed, Failures: failures})
		return
	}

	if len(urls) > 0 {
		writeJSON(w, http.StatusOK, multipleResponse{ImageURLs: urls, Failures: failures})
		return
	}

	status := http.StatusBadRequest
	for _, f := range failures {
		if statusFor(f.Failure.Kind) == http.StatusInternalServerError {
			status = http.StatusInternalServerError
			break
		}
	}
	writeJSON(w, status, errorResponse{Error: msgUploadFailed, Failures: failures})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !storage.ValidKey(key) {
		http.NotFound(w, r)
		return
	}

	f, err := s.opts.Static.Open(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, storage.ErrInvalidKey) {
			slog.Error("Error opening stored upload", "key", key, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, key, info.ModTime(), f)
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}

	uploads, err := s.opts.Catalog.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("Error listing uploads", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list uploads", "")
		return
	}

	origin := s.resolver.Origin(r)
	for i := range uploads {
		uploads[i] = uploads[i].WithOrigin(origin)
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.opts.Catalog.Recent(r.Context(), 0)
	if err != nil {
		slog.Error("Error listing uploads", "error", err)
		http.Error(w, "could not list uploads", http.StatusInternalServerError)
		return
	}

	origin := s.resolver.Origin(r)
	for i := range uploads {
		uploads[i] = uploads[i].WithOrigin(origin)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := ui.GalleryPage(uploads, s.ingest.MaxFileSize(), s.now())
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("Error rendering gallery", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": s.ingest.Backend(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Shop backend API running...\n")
}
