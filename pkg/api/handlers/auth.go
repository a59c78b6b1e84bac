package handlers

import (
	"net/http"

	"github.com/pictorhq/pictor/pkg/api/middleware"
	"github.com/pictorhq/pictor/pkg/session"
)

// AuthHandler serves the identity endpoints.
type AuthHandler struct {
	sessions *session.Store
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(sessions *session.Store) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.FromContext(r.Context())
	if !ok {
		Unauthorized(w, "No session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       ac.UserID,
		"username": ac.Username,
		"isAdmin":  ac.IsAdmin,
		"guilds":   ac.GuildIDs,
	})
}

// Logout handles POST /auth/logout: the session record is deleted and the
// cookie cleared.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			InternalError(w, "")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
