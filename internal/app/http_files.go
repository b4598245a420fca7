package app

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"

	"yaw/api/internal/blob"
)

const (
	maxImageBytes = 10 << 20
	maxFileBytes  = 25 << 20
)

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	merged, err := s.service.settings.General()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request, _ Session) {
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if err := s.service.settings.UpdateGeneral(body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	merged, err := s.service.settings.General()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}

// handleGetBlob returns the stored document byte for byte.
func (s *HTTPServer) handleGetBlob(w http.ResponseWriter, r *http.Request, name string) {
	raw, err := s.service.settings.ReadBlob(name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *HTTPServer) handlePutBlob(w http.ResponseWriter, r *http.Request, name string) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Request body too large", nil)
		return
	}
	if err := s.service.settings.WriteBlob(name, raw); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Settings saved successfully"})
}

func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request, _ Session) {
	file, header, cleanup, ok := s.formFile(w, r, "file", maxImageBytes)
	if !ok {
		return
	}
	defer cleanup()

	url, err := s.service.uploads.SaveImage(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

// handleUploadFile stores a page attachment in the content store.
func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request, _ Session) {
	file, header, cleanup, ok := s.formFile(w, r, "file", maxFileBytes)
	if !ok {
		return
	}
	defer cleanup()

	url, err := s.service.SaveAttachment(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

// formFile parses a multipart body of at most limit bytes and opens field.
// On failure the response has been written.
func (s *HTTPServer) formFile(w http.ResponseWriter, r *http.Request, field string, limit int64) (multipart.File, *multipart.FileHeader, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<10)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid multipart form", nil)
		return nil, nil, nil, false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		_ = r.MultipartForm.RemoveAll()
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "No file uploaded", nil)
		return nil, nil, nil, false
	}
	cleanup := func() {
		_ = file.Close()
		_ = r.MultipartForm.RemoveAll()
	}
	return file, header, cleanup, true
}

func (s *HTTPServer) handleServeUpload(w http.ResponseWriter, r *http.Request, key string) {
	body, object, err := s.service.uploads.Open(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	s.writeObject(w, r, body, object)
}

func (s *HTTPServer) handleServeContent(w http.ResponseWriter, r *http.Request, key string) {
	if s.service.attached == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	body, object, err := s.service.attached.Open(r.Context(), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer body.Close()
	s.writeObject(w, r, body, object)
}

func (s *HTTPServer) writeObject(w http.ResponseWriter, r *http.Request, body io.Reader, object blob.Object) {
	contentType := object.ContentType
	if contentType == "" {
		contentType = blob.ContentType(object.Key)
	}
	w.Header().Set("Content-Type", contentType)
	if !blob.Inline(contentType) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(object.Key)))
	}
	if object.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(object.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("stream object", zap.String("key", object.Key), zap.Error(err))
	}
}
