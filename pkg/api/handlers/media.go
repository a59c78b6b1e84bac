package handlers

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/gallery"
	"github.com/pictorhq/pictor/pkg/store/object"
	"github.com/pictorhq/pictor/pkg/upload"
)

// datePattern matches the yyyy-mm-dd storage path segment.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// MediaHandler streams stored objects back to clients.
type MediaHandler struct {
	galleries *gallery.Service
	objects   object.Store
}

// NewMediaHandler creates the media handler.
func NewMediaHandler(galleries *gallery.Service, objects object.Store) *MediaHandler {
	return &MediaHandler{galleries: galleries, objects: objects}
}

// Stream handles GET /media/{gallery}/{date}/* with a guildId query
// parameter. The gallery segment accepts both the raw name and the slug;
// the stored key always uses the slug.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guildId")
	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, guildID); err != nil {
		WriteError(w, err)
		return
	}

	galleryName := chi.URLParam(r, "gallery")
	date := chi.URLParam(r, "date")
	fileName := chi.URLParam(r, "*")
	if !datePattern.MatchString(date) {
		BadRequest(w, "Invalid date segment")
		return
	}
	fileName = upload.SanitizeFileName(fileName)

	slug, err := h.galleries.ResolveFolder(r.Context(), guildID, galleryName)
	if errors.Is(err, gallery.ErrNotFound) {
		NotFound(w, "Gallery not found")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	key := slug + "/uploads/" + date + "/" + fileName
	body, info, err := h.objects.Get(r.Context(), key)
	if object.IsNotFound(err) {
		NotFound(w, "Object not found")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	defer body.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")

	if _, err := io.Copy(w, body); err != nil {
		// Headers are already sent; all we can do is log.
		logger.Debug("media stream interrupted", logger.Key(key), logger.Err(err))
	}
}
