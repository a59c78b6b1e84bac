// Package request implements guild-scoped user requests: durable records
// with a small status machine and a comment trail, persisted in the
// MetaStore.
package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/store/meta"
)

// Status is the user request lifecycle state.
type Status string

const (
	StatusOpen      Status = "open"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
	StatusClosed    Status = "closed"
)

// transitions lists every legal (from, to) pair. Everything else is an
// InvalidTransitionError.
var transitions = map[Status][]Status{
	StatusOpen:     {StatusCancelled, StatusApproved, StatusDenied},
	StatusApproved: {StatusClosed},
	StatusDenied:   {StatusClosed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is a status change the machine forbids.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid status transition from %s to %s", e.From, e.To)
}

// ErrNotFound is returned when a request or comment does not exist.
var ErrNotFound = errors.New("request not found")

// UserRequest is one guild-scoped request record.
type UserRequest struct {
	ID          string `json:"id"`
	GuildID     string `json:"guildId"`
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	GalleryID   string `json:"galleryId,omitempty"`
	Status      Status `json:"status"`
	CreatedAt   int64  `json:"createdAt"` // epoch ms
	UpdatedAt   int64  `json:"updatedAt"` // epoch ms
	ClosedAt    int64  `json:"closedAt,omitempty"`
	ClosedBy    string `json:"closedBy,omitempty"`
}

// Comment is one entry in a request's comment trail.
type Comment struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"` // epoch ms
}

// CreateInput is the validated shape for opening a request.
type CreateInput struct {
	GuildID     string `json:"guildId"     validate:"required"`
	UserID      string `json:"userId"      validate:"required"`
	Title       string `json:"title"       validate:"required,max=200"`
	Description string `json:"description" validate:"max=4000"`
	GalleryID   string `json:"galleryId"   validate:"omitempty,max=200"`
}

// MetaStore key layout.
const (
	requestKeyPrefix = "request:"
	guildIndexPrefix = "requests:guild:"
)

func requestKey(id string) string   { return requestKeyPrefix + id }
func guildIndexKey(g string) string { return guildIndexPrefix + g }
func commentsKey(id string) string  { return requestKeyPrefix + id + ":comments" }

// Service persists user requests and enforces the status machine.
type Service struct {
	store meta.Store
	now   func() time.Time
}

// NewService creates the request service.
func NewService(store meta.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create opens a new request in status open and indexes it under its guild.
func (s *Service) Create(ctx context.Context, in CreateInput) (*UserRequest, error) {
	now := s.now().UnixMilli()
	r := &UserRequest{
		ID:          uuid.New().String(),
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		Title:       in.Title,
		Description: in.Description,
		GalleryID:   in.GalleryID,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.RPush(ctx, guildIndexKey(r.GuildID), r.ID); err != nil {
		return nil, fmt.Errorf("failed to index request: %w", err)
	}
	logger.Info("user request created", "request_id", r.ID, logger.GuildID(r.GuildID))
	return r, nil
}

// Get loads one request. Records that fail schema parsing are treated as
// absent.
func (s *Service) Get(ctx context.Context, id string) (*UserRequest, error) {
	raw, err := s.store.Get(ctx, requestKey(id))
	if errors.Is(err, meta.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r UserRequest
	if jsonErr := json.Unmarshal([]byte(raw), &r); jsonErr != nil || r.ID == "" {
		logger.Warn("discarding unparseable request record", "request_id", id)
		return nil, ErrNotFound
	}
	return &r, nil
}

// ListByGuild returns the guild's requests in creation order. Ids whose
// record has disappeared are skipped.
func (s *Service) ListByGuild(ctx context.Context, guildID string) ([]*UserRequest, error) {
	ids, err := s.store.LRange(ctx, guildIndexKey(guildID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]*UserRequest, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ChangeStatus applies one status machine step. Moving to closed records
// who closed the request and when.
func (s *Service) ChangeStatus(ctx context.Context, id string, to Status, actorID string) (*UserRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, to) {
		return nil, &InvalidTransitionError{From: r.Status, To: to}
	}

	now := s.now().UnixMilli()
	r.Status = to
	r.UpdatedAt = now
	if to == StatusClosed {
		r.ClosedAt = now
		r.ClosedBy = actorID
	}
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("user request status changed", "request_id", id, "status", string(to))
	return r, nil
}

// Cancel is the owner-facing shorthand for moving an open request to
// cancelled.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*UserRequest, error) {
	return s.ChangeStatus(ctx, id, StatusCancelled, actorID)
}

// Delete removes the request, its guild index entry, and its comments.
func (s *Service) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.LRem(ctx, guildIndexKey(r.GuildID), 0, id); err != nil {
		return err
	}
	if err := s.store.Del(ctx, commentsKey(id)); err != nil {
		return err
	}
	return s.store.Del(ctx, requestKey(id))
}

// AddComment appends to the request's comment trail.
func (s *Service) AddComment(ctx context.Context, requestID, userID, content string) (*Comment, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	c := &Comment{
		ID:        uuid.New().String(),
		RequestID: requestID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now().UnixMilli(),
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if err := s.store.RPush(ctx, commentsKey(requestID), string(raw)); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns the comment trail in append order.
func (s *Service) ListComments(ctx context.Context, requestID string) ([]*Comment, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	raws, err := s.store.LRange(ctx, commentsKey(requestID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]*Comment, 0, len(raws))
	for _, raw := range raws {
		var c Comment
		if jsonErr := json.Unmarshal([]byte(raw), &c); jsonErr != nil || c.ID == "" {
			continue
		}
		out = append(out, &c)
	}
	return out, nil
}

func (s *Service) put(ctx context.Context, r *UserRequest) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, requestKey(r.ID), string(raw), 0)
}

// SetClock replaces the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
