package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/request"
)

// RequestHandler serves the user request lifecycle endpoints. Every
// operation checks its capability predicate before touching the service, so
// a denied caller never causes a side effect.
type RequestHandler struct {
	requests *request.Service
	validate *validator.Validate
}

// NewRequestHandler creates the request handler.
func NewRequestHandler(requests *request.Service) *RequestHandler {
	return &RequestHandler{
		requests: requests,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func target(r *request.UserRequest) authz.RequestTarget {
	return authz.RequestTarget{
		ID:      r.ID,
		GuildID: r.GuildID,
		UserID:  r.UserID,
		Status:  string(r.Status),
	}
}

// Create handles POST /requests.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	var body struct {
		GuildID     string `json:"guildId"`
		Title       string `json:"title"`
		Description string `json:"description"`
		GalleryID   string `json:"galleryId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if !authz.CanCreateRequest(ac, body.GuildID) {
		WriteError(w, authz.Denied("create-request", body.GuildID, "Guild admin required"))
		return
	}

	in := request.CreateInput{
		GuildID:     body.GuildID,
		UserID:      ac.UserID,
		Title:       body.Title,
		Description: body.Description,
		GalleryID:   body.GalleryID,
	}
	if err := h.validate.Struct(in); err != nil {
		BadRequest(w, "Missing or invalid request fields")
		return
	}

	created, err := h.requests.Create(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /requests?guildId=...
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())
	if !authz.CanListRequests(ac) {
		WriteError(w, authz.Denied("list-requests", "", "Admin required"))
		return
	}

	guildID := r.URL.Query().Get("guildId")
	if err := authz.RequireGuildMembership(ac, guildID); err != nil {
		WriteError(w, err)
		return
	}

	list, err := h.requests.ListByGuild(r.Context(), guildID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

// Get handles GET /requests/{id}.
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanViewRequest(ac, target(req)) {
		WriteError(w, authz.Denied("view-request", req.ID, "You cannot view this request"))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Cancel handles POST /requests/{id}/cancel. Owner-only, open requests
// only.
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanCancelRequest(ac, target(req)) {
		WriteError(w, authz.Denied("cancel-request", req.ID, "Only the owner may cancel an open request"))
		return
	}

	updated, err := h.requests.Cancel(r.Context(), req.ID, ac.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ChangeStatus handles POST /requests/{id}/status.
func (h *RequestHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanChangeRequestStatus(ac, target(req)) {
		WriteError(w, authz.Denied("change-request-status", req.ID, "Super admin required"))
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Status == "" {
		BadRequest(w, "status is required")
		return
	}

	updated, err := h.requests.ChangeStatus(r.Context(), req.ID, request.Status(body.Status), ac.UserID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /requests/{id}.
func (h *RequestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanDeleteRequest(ac, target(req)) {
		WriteError(w, authz.Denied("delete-request", req.ID, "Super admin required"))
		return
	}

	if err := h.requests.Delete(r.Context(), req.ID); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// AddComment handles POST /requests/{id}/comments.
func (h *RequestHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanCommentOnRequest(ac, target(req)) {
		WriteError(w, authz.Denied("comment-on-request", req.ID, "You cannot comment on this request"))
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Content == "" {
		BadRequest(w, "content is required")
		return
	}

	comment, err := h.requests.AddComment(r.Context(), req.ID, ac.UserID, body.Content)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// ListComments handles GET /requests/{id}/comments.
func (h *RequestHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.FromContext(r.Context())

	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if !authz.CanViewRequest(ac, target(req)) {
		WriteError(w, authz.Denied("view-request", req.ID, "You cannot view this request"))
		return
	}

	comments, err := h.requests.ListComments(r.Context(), req.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}
