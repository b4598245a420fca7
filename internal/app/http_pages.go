package app

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"yaw/api/internal/export"
	"yaw/api/internal/pagetree"
)

func (s *HTTPServer) handleFileStructure(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.tree.Snapshot(r.Context(), s.signedIn(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleFileContent(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path is required", nil)
		return
	}
	content, err := s.service.tree.ReadPage(r.Context(), path, s.signedIn(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

// handlePages returns the page tree from meta.json, ids included, as the
// caller may see it.
func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.service.tree.Pages(r.Context(), s.signedIn(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		ParentPath string `json:"parentPath"`
		Name       string `json:"name"`
		Type       string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	node, err := s.service.tree.Create(r.Context(), body.ParentPath, body.Name, body.Type)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": fmt.Sprintf("%s created successfully", itemLabel(body.Type)),
		"item":    node,
	})
}

func (s *HTTPServer) handleRenameItem(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		OldPath string `json:"oldPath"`
		NewName string `json:"newName"`
		Type    string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.OldPath) == "" || strings.TrimSpace(body.NewName) == "" || body.Type == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Missing required parameters", nil)
		return
	}
	node, err := s.service.tree.Rename(r.Context(), body.OldPath, body.NewName, body.Type)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%s renamed successfully", itemLabel(body.Type)),
		"item":    node,
	})
}

func (s *HTTPServer) handleDeleteItem(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Path) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path is required", nil)
		return
	}
	if err := s.service.tree.SoftDelete(r.Context(), body.Path); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%s moved to trash", itemLabel(body.Type)),
	})
}

func (s *HTTPServer) handleDeletedItems(w http.ResponseWriter, r *http.Request, _ Session) {
	items, err := s.service.tree.Deleted(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deletedItems": items})
}

func (s *HTTPServer) handleRestoreItems(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Items  []string `json:"items"`
		Paths  []string `json:"paths"`
		Target string   `json:"target"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	paths := append(body.Items, body.Paths...)
	if err := s.service.tree.Restore(r.Context(), paths, strings.TrimSpace(body.Target)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Restored %d item(s)", len(paths)),
	})
}

// handleReorder moves a page under another folder or to the top level.
func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		SourcePath string `json:"sourcePath"`
		TargetPath string `json:"targetPath"`
		MoveToRoot bool   `json:"moveToRoot"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.SourcePath) == "" || (!body.MoveToRoot && strings.TrimSpace(body.TargetPath) == "") {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "sourcePath and targetPath are required", nil)
		return
	}
	node, err := s.service.tree.Move(r.Context(), body.SourcePath, body.TargetPath, body.MoveToRoot)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "item": node})
}

// handleImportMarkdown adds an uploaded Markdown file as a new page.
func (s *HTTPServer) handleImportMarkdown(w http.ResponseWriter, r *http.Request, _ Session) {
	file, header, cleanup, ok := s.formFile(w, r, "file", maxImportBytes)
	if !ok {
		return
	}
	defer cleanup()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "Could not read file", nil)
		return
	}
	node, err := s.service.tree.Import(r.Context(), pagetree.ImportRequest{
		Target:   r.FormValue("targetLocation"),
		Filename: header.Filename,
		Content:  string(content),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "item": node})
}

func (s *HTTPServer) handleUpdateSortOrder(w http.ResponseWriter, r *http.Request, _ Session) {
	var body pagetree.SwapRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if err := s.service.tree.SwapSortOrder(r.Context(), body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleUpdateFile(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		OldPath string  `json:"oldPath"`
		NewPath string  `json:"newPath"`
		Content *string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.NewPath) == "" || body.Content == nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "newPath and content are required", nil)
		return
	}
	if err := s.service.tree.WriteFile(r.Context(), body.OldPath, body.NewPath, *body.Content); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "File updated successfully"})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path is required", nil)
		return
	}
	if err := s.service.Visible(r.Context(), path, s.signedIn(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	commits, err := s.service.PageHistory(path, queryInt(r, "limit", 50))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "commits": commits})
}

func (s *HTTPServer) handleHistoryFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if path == "" || hash == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path and hash are required", nil)
		return
	}
	if err := s.service.Visible(r.Context(), path, s.signedIn(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	content, err := s.service.PageAt(hash, path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "hash": hash, "content": content})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.Search(r.Context(), r.URL.Query().Get("term"), s.signedIn(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	path := strings.TrimSpace(query.Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path is required", nil)
		return
	}
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(query.Get("format"))))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.service.Visible(r.Context(), path, s.signedIn(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := s.service.Export(r.Context(), export.Request{
		Path:    path,
		Format:  format,
		Version: strings.TrimSpace(query.Get("version")),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

const maxImportBytes = 5 << 20

func itemLabel(kind string) string {
	if kind == pagetree.KindFolder {
		return "Folder"
	}
	return "File"
}
