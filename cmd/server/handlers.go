package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	script "github.com/Mkas1988/digital-script"
)

type handler struct {
	engine script.Engine
}

func newHandler(e script.Engine) *handler {
	return &handler{engine: e}
}

// POST /documents
// Accepts a multipart PDF upload or JSON naming a blob store object.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first.
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to read upload")
				slog.Error("reading uploaded file", "error", err)
				return
			}

			h.ingest(ctx, w, script.IngestRequest{
				OwnerID:  ownerID(r),
				Filename: filepath.Base(header.Filename),
				Data:     data,
			})
			return
		}
	}

	// JSON body naming a stored object.
	var req struct {
		OwnerID    string `json:"owner_id"`
		Filename   string `json:"filename"`
		SourcePath string `json:"source_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'source_path'")
		return
	}
	if req.SourcePath == "" {
		writeError(w, http.StatusBadRequest, "source_path is required")
		return
	}
	if req.Filename == "" {
		req.Filename = filepath.Base(req.SourcePath)
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID(r)
	}

	h.ingest(ctx, w, script.IngestRequest{
		OwnerID:    req.OwnerID,
		Filename:   req.Filename,
		SourcePath: req.SourcePath,
	})
}

func (h *handler) ingest(ctx context.Context, w http.ResponseWriter, req script.IngestRequest) {
	res, err := h.engine.IngestDocument(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, script.ErrTextExtraction) || errors.Is(err, script.ErrDownload) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "ingestion failed")
		slog.Error("ingest error", "filename", req.Filename, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context(), ownerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GET /documents/{id}/sections
func (h *handler) handleGetSections(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	sections, err := h.engine.GetSections(r.Context(), id)
	if err != nil {
		if errors.Is(err, script.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load sections")
		slog.Error("get sections error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

// GET /documents/{id}/images
func (h *handler) handleGetImages(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	images, err := h.engine.GetImages(r.Context(), id)
	if err != nil {
		if errors.Is(err, script.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load images")
		slog.Error("get images error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": images})
}

// GET /documents/{id}/export
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="gliederung_%d.xlsx"`, id))

	if err := h.engine.ExportOutline(r.Context(), id, w); err != nil {
		if errors.Is(err, script.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		slog.Error("export error", "document_id", id, "error", err)
	}
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, script.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit < 0 || req.Limit > 100 {
		req.Limit = 0 // use default
	}

	matches, err := h.engine.Search(ctx, req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, script.ErrInvalidConfig) {
			writeError(w, http.StatusNotImplemented, "search requires an embedding provider")
			return
		}
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerID identifies the caller. A reverse proxy in front of the server
// sets X-Owner-ID after authentication; absent that, everything belongs
// to a single default owner.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return "default"
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
