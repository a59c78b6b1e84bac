// Package middleware provides the session authentication layer for the
// Pictor API.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/session"
)

type contextKey string

const authContextKey contextKey = "pictor-auth-context"

// FromContext extracts the authenticated context. The second return is
// false when the request never passed through SessionAuth.
func FromContext(ctx context.Context) (authz.Context, bool) {
	ac, ok := ctx.Value(authContextKey).(authz.Context)
	return ac, ok
}

// WithAuthContext injects an authenticated context. Used by tests to skip
// session resolution.
func WithAuthContext(ctx context.Context, ac authz.Context) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// SessionAuth resolves the session id from the request and injects the
// authorization context. Requests without a valid session get 401.
//
// The id is taken from the session cookie, falling back to a bearer token
// for non-browser clients.
func SessionAuth(sessions *session.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := sessionID(r)
			if id == "" {
				writeUnauthorized(w, "No session")
				return
			}

			sess, err := sessions.Get(r.Context(), id)
			if errors.Is(err, session.ErrNotFound) {
				writeUnauthorized(w, "Session expired or unknown")
				return
			}
			if err != nil {
				http.Error(w, "session lookup failed", http.StatusInternalServerError)
				return
			}

			ctx := WithAuthContext(r.Context(), sess.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionID(r *http.Request) string {
	if c, err := r.Cookie(session.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  "Unauthorized",
		"status": http.StatusUnauthorized,
		"detail": detail,
	})
}
