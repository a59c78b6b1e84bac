package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/gallery"
	"github.com/pictorhq/pictor/pkg/gradient"
)

// GalleryHandler serves gallery CRUD and item listings.
type GalleryHandler struct {
	galleries *gallery.Service
	gradients *gradient.Meta
}

// NewGalleryHandler creates the gallery handler. gradients may be nil; item
// listings then omit gradient metadata.
func NewGalleryHandler(galleries *gallery.Service, gradients *gradient.Meta) *GalleryHandler {
	return &GalleryHandler{galleries: galleries, gradients: gradients}
}

// galleryItem is an item listing entry with optional gradient metadata.
type galleryItem struct {
	gallery.Item
	Gradient *gradient.Record `json:"gradient,omitempty"`
}

// List handles GET /guilds/{guildId}/galleries.
func (h *GalleryHandler) List(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildId")
	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, guildID); err != nil {
		WriteError(w, err)
		return
	}

	galleries, err := h.galleries.ListGalleries(r.Context(), guildID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"galleries": galleries})
}

// Create handles POST /guilds/{guildId}/galleries.
func (h *GalleryHandler) Create(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildId")
	ac, _ := middleware.FromContext(r.Context())
	if !ac.AdminOf(guildID) {
		WriteError(w, authz.Denied("create-gallery", guildID, "Guild admin required"))
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	g, err := h.galleries.CreateGallery(r.Context(), guildID, req.Name)
	if errors.Is(err, gallery.ErrExists) {
		BadRequest(w, "A gallery with that name already exists")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// Delete handles DELETE /guilds/{guildId}/galleries/{name}.
func (h *GalleryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildId")
	name := chi.URLParam(r, "name")
	ac, _ := middleware.FromContext(r.Context())
	if !ac.AdminOf(guildID) {
		WriteError(w, authz.Denied("delete-gallery", guildID, "Guild admin required"))
		return
	}

	err := h.galleries.DeleteGallery(r.Context(), guildID, name)
	if errors.Is(err, gallery.ErrNotFound) {
		NotFound(w, "Gallery not found")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Items handles GET /guilds/{guildId}/galleries/{name}/items. Each item
// carries its gradient record when one exists.
func (h *GalleryHandler) Items(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildId")
	name := chi.URLParam(r, "name")
	ac, _ := middleware.FromContext(r.Context())
	if err := authz.RequireGuildMembership(ac, guildID); err != nil {
		WriteError(w, err)
		return
	}

	items, err := h.galleries.ListItems(r.Context(), guildID, name)
	if errors.Is(err, gallery.ErrNotFound) {
		NotFound(w, "Gallery not found")
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	out := make([]galleryItem, len(items))
	for i, item := range items {
		out[i] = galleryItem{Item: item}
	}

	if h.gradients != nil && len(items) > 0 {
		keys := make([]string, len(items))
		for i, item := range items {
			keys[i] = item.Key
		}
		records, err := h.gradients.GetMany(r.Context(), keys)
		if err == nil {
			for i := range out {
				out[i].Gradient = records[out[i].Key]
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
