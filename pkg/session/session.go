// Package session stores authenticated sessions in the MetaStore. Session
// identifiers are opaque; the external OAuth collaborator creates them and
// hands the id to the client as a cookie.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/authz"
	"github.com/pictorhq/pictor/pkg/store/meta"
)

// TTL is how long a session lives without refresh.
const TTL = 7 * 24 * time.Hour

// CookieName is the session cookie the API reads.
const CookieName = "pictor_session"

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is the stored identity record.
type Session struct {
	UserID       string   `json:"userId"`
	Username     string   `json:"username"`
	IsAdmin      bool     `json:"isAdmin"`
	IsSuperAdmin bool     `json:"isSuperAdmin"`
	GuildIDs     []string `json:"guildIds"`
	CreatedAt    int64    `json:"createdAt"` // epoch ms
}

// Context converts the session into the authorization context handlers
// evaluate predicates against.
func (s *Session) Context() authz.Context {
	return authz.Context{
		UserID:       s.UserID,
		Username:     s.Username,
		IsAdmin:      s.IsAdmin,
		IsSuperAdmin: s.IsSuperAdmin,
		GuildIDs:     s.GuildIDs,
	}
}

const keyPrefix = "session:"

func sessionKey(id string) string { return keyPrefix + id }

// Store persists sessions in the MetaStore.
type Store struct {
	store meta.Store
	now   func() time.Time
}

// NewStore creates the session store.
func NewStore(store meta.Store) *Store {
	return &Store{store: store, now: time.Now}
}

// Create persists a new session and returns its opaque id.
func (s *Store) Create(ctx context.Context, sess Session) (string, error) {
	id := uuid.New().String()
	sess.CreatedAt = s.now().UnixMilli()
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, sessionKey(id), string(raw), TTL); err != nil {
		return "", err
	}
	return id, nil
}

// Get resolves a session id, refreshing its TTL. Unknown, expired, and
// unparseable sessions all surface as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	raw, err := s.store.Get(ctx, sessionKey(id))
	if errors.Is(err, meta.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if jsonErr := json.Unmarshal([]byte(raw), &sess); jsonErr != nil || sess.UserID == "" {
		logger.Warn("discarding unparseable session record")
		return nil, ErrNotFound
	}

	if err := s.store.Expire(ctx, sessionKey(id), TTL); err != nil {
		logger.Warn("failed to refresh session TTL", logger.Err(err))
	}
	return &sess, nil
}

// Delete removes a session. Idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.store.Del(ctx, sessionKey(id))
}
