// Package gallery manages guild settings and the galleries inside them.
//
// A gallery is a named collection of stored objects within a guild. Its
// durable state lives in the guild settings JSON under
// guilds:<guildId>:settings in the meta store; object bytes live under the
// gallery's slug prefix in the object store.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/store/meta"
	"github.com/pictorhq/pictor/pkg/store/object"
)

// SettingsTTL is the guild settings retention; refreshed on every read and
// write so active guilds never expire.
const SettingsTTL = 90 * 24 * time.Hour

// ErrNotFound is returned when a guild or gallery does not exist.
var ErrNotFound = errors.New("gallery: not found")

// ErrExists is returned when creating a gallery whose slug is already taken.
var ErrExists = errors.New("gallery: already exists")

// Gallery is one named collection within a guild.
type Gallery struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	ItemCount int64  `json:"itemCount"`
	CreatedAt int64  `json:"createdAt"` // epoch ms
}

// Settings is the per-guild settings document.
type Settings struct {
	GuildID   string    `json:"guildId"`
	Galleries []Gallery `json:"galleries"`
	UpdatedAt int64     `json:"updatedAt"` // epoch ms
}

// Item is one stored object inside a gallery listing.
type Item struct {
	Key           string    `json:"key"`
	ContentLength int64     `json:"size"`
	LastModified  time.Time `json:"lastModified"`
}

// Slug normalizes a gallery name for use as a storage key segment:
// lowercased, runs of non-alphanumerics collapsed to a single dash, dashes
// trimmed. An empty result falls back to the literal "gallery".
func Slug(name string) string {
	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "gallery"
	}
	return out
}

// Service provides gallery CRUD and listing over the meta and object stores.
type Service struct {
	meta    meta.Store
	objects object.Store

	now func() time.Time
}

// NewService creates a gallery service.
func NewService(metaStore meta.Store, objects object.Store) *Service {
	return &Service{meta: metaStore, objects: objects, now: time.Now}
}

func settingsKey(guildID string) string {
	return fmt.Sprintf("guilds:%s:settings", guildID)
}

// GetSettings loads the guild settings, refreshing their TTL. A missing or
// unparseable record yields empty settings, never an error: corrupt state is
// treated as absent.
func (s *Service) GetSettings(ctx context.Context, guildID string) (Settings, error) {
	key := settingsKey(guildID)
	raw, err := s.meta.Get(ctx, key)
	if errors.Is(err, meta.ErrNotFound) {
		return Settings{GuildID: guildID}, nil
	}
	if err != nil {
		return Settings{}, err
	}

	var settings Settings
	if jsonErr := json.Unmarshal([]byte(raw), &settings); jsonErr != nil {
		logger.Warn("discarding unparseable guild settings", logger.GuildID(guildID))
		return Settings{GuildID: guildID}, nil
	}

	if err := s.meta.Expire(ctx, key, SettingsTTL); err != nil {
		logger.Warn("failed to refresh settings TTL", logger.GuildID(guildID), logger.Err(err))
	}
	settings.GuildID = guildID
	return settings, nil
}

func (s *Service) putSettings(ctx context.Context, settings Settings) error {
	settings.UpdatedAt = s.now().UnixMilli()
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.meta.Set(ctx, settingsKey(settings.GuildID), string(raw), SettingsTTL)
}

// CreateGallery adds a gallery to the guild. Names that normalize to an
// existing slug conflict with ErrExists.
func (s *Service) CreateGallery(ctx context.Context, guildID, name string) (Gallery, error) {
	settings, err := s.GetSettings(ctx, guildID)
	if err != nil {
		return Gallery{}, err
	}

	slug := Slug(name)
	for _, g := range settings.Galleries {
		if g.Slug == slug {
			return Gallery{}, ErrExists
		}
	}

	g := Gallery{
		Name:      name,
		Slug:      slug,
		CreatedAt: s.now().UnixMilli(),
	}
	settings.Galleries = append(settings.Galleries, g)

	if err := s.putSettings(ctx, settings); err != nil {
		return Gallery{}, err
	}
	logger.Info("gallery created", logger.GuildID(guildID), logger.Gallery(name), "slug", slug)
	return g, nil
}

// ListGalleries returns all galleries in the guild.
func (s *Service) ListGalleries(ctx context.Context, guildID string) ([]Gallery, error) {
	settings, err := s.GetSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return settings.Galleries, nil
}

// DeleteGallery removes a gallery record. Stored objects are left in place;
// they become unreachable and can be cleaned up out of band.
func (s *Service) DeleteGallery(ctx context.Context, guildID, name string) error {
	settings, err := s.GetSettings(ctx, guildID)
	if err != nil {
		return err
	}

	slug := Slug(name)
	kept := settings.Galleries[:0]
	found := false
	for _, g := range settings.Galleries {
		if g.Slug == slug {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	if !found {
		return ErrNotFound
	}
	settings.Galleries = kept
	return s.putSettings(ctx, settings)
}

// ResolveFolder maps a raw gallery name to its storage slug. Lookup iterates
// known galleries and compares slugs, so both the raw name and the slug
// itself resolve.
func (s *Service) ResolveFolder(ctx context.Context, guildID, galleryName string) (string, error) {
	settings, err := s.GetSettings(ctx, guildID)
	if err != nil {
		return "", err
	}

	slug := Slug(galleryName)
	for _, g := range settings.Galleries {
		if g.Slug == slug {
			return g.Slug, nil
		}
	}
	return "", ErrNotFound
}

// IncrementItemCount bumps the stored item count for a gallery by one.
func (s *Service) IncrementItemCount(ctx context.Context, guildID, galleryName string) error {
	settings, err := s.GetSettings(ctx, guildID)
	if err != nil {
		return err
	}

	slug := Slug(galleryName)
	for i := range settings.Galleries {
		if settings.Galleries[i].Slug == slug {
			settings.Galleries[i].ItemCount++
			return s.putSettings(ctx, settings)
		}
	}
	return ErrNotFound
}

// ListItems enumerates stored objects under the gallery's upload prefix.
func (s *Service) ListItems(ctx context.Context, guildID, galleryName string) ([]Item, error) {
	slug, err := s.ResolveFolder(ctx, guildID, galleryName)
	if err != nil {
		return nil, err
	}

	infos, err := s.objects.ListPrefix(ctx, slug+"/uploads/")
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(infos))
	for _, info := range infos {
		items = append(items, Item{
			Key:           info.Key,
			ContentLength: info.ContentLength,
			LastModified:  info.LastModified,
		})
	}
	return items, nil
}
