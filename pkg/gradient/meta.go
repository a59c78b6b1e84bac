package gradient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/store/meta"
)

// RecordTTL is the gradient record retention, refreshed on read and write.
const RecordTTL = 30 * 24 * time.Hour

// Meta is the idempotent state machine over per-object gradient records.
//
// The one ordering rule that matters: a completed record never regresses.
// MarkPending on a completed record is a no-op, so a re-enqueued job for an
// already-processed object cannot wipe a good gradient.
type Meta struct {
	store meta.Store
	now   func() time.Time
}

// NewMeta creates the gradient record accessor.
func NewMeta(store meta.Store) *Meta {
	return &Meta{store: store, now: time.Now}
}

// Get loads the record for a storage key, refreshing its TTL. Records that
// fail schema parsing are treated as absent.
func (m *Meta) Get(ctx context.Context, storageKey string) (*Record, error) {
	raw, err := m.store.Get(ctx, recordKey(storageKey))
	if errors.Is(err, meta.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if jsonErr := json.Unmarshal([]byte(raw), &rec); jsonErr != nil || rec.Status == "" {
		logger.Warn("discarding unparseable gradient record", logger.Key(storageKey))
		return nil, nil
	}

	if err := m.store.Expire(ctx, recordKey(storageKey), RecordTTL); err != nil {
		logger.Warn("failed to refresh gradient record TTL", logger.Key(storageKey), logger.Err(err))
	}
	return &rec, nil
}

// GetMany batch-loads records via a multi-key lookup. The result maps
// storage keys to records; absent and unparseable records are omitted.
func (m *Meta) GetMany(ctx context.Context, storageKeys []string) (map[string]*Record, error) {
	if len(storageKeys) == 0 {
		return map[string]*Record{}, nil
	}

	keys := make([]string, len(storageKeys))
	for i, sk := range storageKeys {
		keys[i] = recordKey(sk)
	}

	values, err := m.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Record, len(storageKeys))
	for i, val := range values {
		if val == nil {
			continue
		}
		var rec Record
		if jsonErr := json.Unmarshal([]byte(*val), &rec); jsonErr != nil || rec.Status == "" {
			continue
		}
		out[storageKeys[i]] = &rec
	}
	return out, nil
}

// MarkPending initializes or resets a record to pending. No-op when the
// current record is completed.
func (m *Meta) MarkPending(ctx context.Context, storageKey string) error {
	rec, err := m.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == StatusCompleted {
		return nil
	}

	now := m.now().UnixMilli()
	if rec == nil {
		rec = &Record{CreatedAt: now}
	}
	rec.Status = StatusPending
	rec.UpdatedAt = now
	return m.put(ctx, storageKey, rec)
}

// MarkProcessing moves an existing record to processing. No-op when no
// record exists.
func (m *Meta) MarkProcessing(ctx context.Context, storageKey string) error {
	rec, err := m.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	rec.Status = StatusProcessing
	rec.UpdatedAt = m.now().UnixMilli()
	return m.put(ctx, storageKey, rec)
}

// MarkCompleted writes the finished gradient, unconditionally.
func (m *Meta) MarkCompleted(ctx context.Context, storageKey string, g *Gradient) error {
	rec, err := m.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	now := m.now().UnixMilli()
	if rec == nil {
		rec = &Record{CreatedAt: now}
	}
	rec.Status = StatusCompleted
	rec.Gradient = g
	rec.LastError = ""
	rec.UpdatedAt = now
	return m.put(ctx, storageKey, rec)
}

// MarkFailed records a terminal failure, unconditionally.
func (m *Meta) MarkFailed(ctx context.Context, storageKey string, cause error) error {
	rec, err := m.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	now := m.now().UnixMilli()
	if rec == nil {
		rec = &Record{CreatedAt: now}
	}
	rec.Status = StatusFailed
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.UpdatedAt = now
	return m.put(ctx, storageKey, rec)
}

// Delete removes the record.
func (m *Meta) Delete(ctx context.Context, storageKey string) error {
	return m.store.Del(ctx, recordKey(storageKey))
}

// SetAttempts records the attempt counter on the record, if one exists.
func (m *Meta) SetAttempts(ctx context.Context, storageKey string, attempts int) error {
	rec, err := m.Get(ctx, storageKey)
	if err != nil || rec == nil {
		return err
	}
	rec.Attempts = attempts
	rec.UpdatedAt = m.now().UnixMilli()
	return m.put(ctx, storageKey, rec)
}

func (m *Meta) put(ctx context.Context, storageKey string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, recordKey(storageKey), string(raw), RecordTTL)
}
