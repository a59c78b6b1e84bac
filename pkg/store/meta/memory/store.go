// Package memory provides an in-memory implementation of meta.Store.
// It mirrors redis semantics closely enough for worker and service tests:
// per-key TTL with lazy expiry, list and sorted-set operations, a polling
// BLMove, and an atomic MoveDelayed. All data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pictorhq/pictor/pkg/store/meta"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type zmember struct {
	member string
	score  float64
}

// MetaStore is a thread-safe in-memory meta.Store.
type MetaStore struct {
	mu      sync.Mutex
	strings map[string]*entry
	lists   map[string][]string
	zsets   map[string][]zmember
}

var _ meta.Store = (*MetaStore)(nil)

// New creates an empty in-memory meta store.
func New() *MetaStore {
	return &MetaStore{
		strings: make(map[string]*entry),
		lists:   make(map[string][]string),
		zsets:   make(map[string][]zmember),
	}
}

// expireLocked drops the string entry if its TTL has passed.
func (s *MetaStore) expireLocked(key string) {
	if e, ok := s.strings[key]; ok {
		if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
			delete(s.strings, key)
		}
	}
}

func (s *MetaStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	e, ok := s.strings[key]
	if !ok {
		return "", meta.ErrNotFound
	}
	return e.value, nil
}

func (s *MetaStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.strings[key] = e
	return nil
}

func (s *MetaStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.strings[key] = e
	return true, nil
}

func (s *MetaStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.strings, key)
		delete(s.lists, key)
		delete(s.zsets, key)
	}
	return nil
}

func (s *MetaStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return true, nil
	}
	if l, ok := s.lists[key]; ok && len(l) > 0 {
		return true, nil
	}
	if z, ok := s.zsets[key]; ok && len(z) > 0 {
		return true, nil
	}
	return false, nil
}

func (s *MetaStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if e, ok := s.strings[key]; ok {
		if ttl > 0 {
			e.expiresAt = time.Now().Add(ttl)
		} else {
			e.expiresAt = time.Time{}
		}
	}
	return nil
}

func (s *MetaStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*string, len(keys))
	for i, key := range keys {
		s.expireLocked(key)
		if e, ok := s.strings[key]; ok {
			val := e.value
			out[i] = &val
		}
	}
	return out, nil
}

func (s *MetaStore) RPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MetaStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}

	// Redis index semantics: negative counts from the tail, out-of-range
	// is clamped.
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MetaStore) LRem(ctx context.Context, key string, count int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	removed := int64(0)
	out := list[:0]
	for _, v := range list {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = out
	}
	return nil
}

func (s *MetaStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

// BLMove polls for the head of src, moving it to the tail of dst. The pop
// and push happen under one lock acquisition, matching redis atomicity.
func (s *MetaStore) BLMove(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if list := s.lists[src]; len(list) > 0 {
			val := list[0]
			if len(list) == 1 {
				delete(s.lists, src)
			} else {
				s.lists[src] = list[1:]
			}
			s.lists[dst] = append(s.lists[dst], val)
			s.mu.Unlock()
			return val, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return "", meta.ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *MetaStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zset := s.zsets[key]
	for i := range zset {
		if zset[i].member == member {
			zset[i].score = score
			return nil
		}
	}
	s.zsets[key] = append(zset, zmember{member: member, score: score})
	return nil
}

func (s *MetaStore) ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []zmember
	for _, zm := range s.zsets[key] {
		if zm.score <= max {
			matched = append(matched, zm)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].score < matched[j].score })

	out := make([]string, len(matched))
	for i, zm := range matched {
		out[i] = zm.member
	}
	return out, nil
}

func (s *MetaStore) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MetaStore) MoveDelayed(ctx context.Context, zsetKey, listKey string, members []string) error {
	if len(members) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(members))
	for _, m := range members {
		want[m] = true
	}

	zset := s.zsets[zsetKey]
	kept := zset[:0]
	for _, zm := range zset {
		if !want[zm.member] {
			kept = append(kept, zm)
		}
	}
	if len(kept) == 0 {
		delete(s.zsets, zsetKey)
	} else {
		s.zsets[zsetKey] = kept
	}

	s.lists[listKey] = append(s.lists[listKey], members...)
	return nil
}

func (s *MetaStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MetaStore) Close() error {
	return nil
}
