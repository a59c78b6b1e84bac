package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/upload"
)

// UploadHandler serves the chunked upload endpoints.
type UploadHandler struct {
	sessions  *upload.SessionStore
	finalizer *upload.Finalizer

	// maxChunkSize caps one chunk request body. Requests exceeding it fail
	// with 413 before the body is fully buffered.
	maxChunkSize int64

	validate *validator.Validate
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler(sessions *upload.SessionStore, finalizer *upload.Finalizer, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{
		sessions:     sessions,
		finalizer:    finalizer,
		maxChunkSize: maxChunkSize,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Initiate handles POST /uploads/initiate.
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req upload.InitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		BadRequest(w, "Missing or invalid upload fields")
		return
	}

	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, req.GuildID); err != nil {
		WriteError(w, err)
		return
	}

	uploadID, err := h.sessions.Initiate(req)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"uploadId": uploadID})
}

// Chunk handles POST /uploads/chunk?uploadId=...&index=n with a raw
// application/octet-stream body.
//
// The body is read through a hard cap: a chunk whose buffered bytes exceed
// the limit aborts with 413 before SaveChunk is ever called, and the
// session keeps its previous state.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("uploadId")
	indexStr := r.URL.Query().Get("index")
	if uploadID == "" || indexStr == "" {
		BadRequest(w, "uploadId and index are required")
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		BadRequest(w, "index must be a non-negative integer")
		return
	}

	session, err := h.sessions.GetMetadata(uploadID)
	if err != nil {
		WriteError(w, err)
		return
	}
	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, session.GuildID); err != nil {
		WriteError(w, err)
		return
	}

	if r.ContentLength > h.maxChunkSize {
		PayloadTooLarge(w, "Chunk exceeds maximum size")
		return
	}

	// Read one byte past the cap so oversized chunks with an absent or
	// lying Content-Length are still rejected.
	buf, err := io.ReadAll(io.LimitReader(r.Body, h.maxChunkSize+1))
	if err != nil {
		BadRequest(w, "Failed to read chunk body")
		return
	}
	if int64(len(buf)) > h.maxChunkSize {
		PayloadTooLarge(w, "Chunk exceeds maximum size")
		return
	}

	if err := h.sessions.SaveChunk(uploadID, index, buf); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "index": index})
}

// Finalize handles POST /uploads/finalize.
func (h *UploadHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UploadID string `json:"uploadId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.UploadID == "" {
		BadRequest(w, "uploadId is required")
		return
	}

	session, err := h.sessions.GetMetadata(req.UploadID)
	if err != nil {
		WriteError(w, err)
		return
	}
	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, session.GuildID); err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.finalizer.Finalize(r.Context(), req.UploadID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"filePath":  result.StorageKey,
		"checksums": result.Checksums,
	})
}

// Progress handles GET /uploads/{uploadId}/progress.
func (h *UploadHandler) Progress(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	progress, err := h.sessions.GetProgress(uploadID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// Cancel handles DELETE /uploads/{uploadId}. Always succeeds; cancelling an
// unknown upload is a no-op.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	if session, err := h.sessions.GetMetadata(uploadID); err == nil {
		ac, _ := middleware.FromContext(r.Context())
		if err := authz.RequireGuildMembership(ac, session.GuildID); err != nil {
			WriteError(w, err)
			return
		}
	}

	h.sessions.Cancel(uploadID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
