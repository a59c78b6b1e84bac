// Package meta defines the durable key/value store backing all non-object
// state: guild settings, gradient records, the gradient job queues, user
// requests, and sessions.
//
// The interface is a typed slice of redis: strings with TTL, lists, sorted
// sets, and one transactional compound (MoveDelayed) that the delayed-job
// promoter needs. The redis subpackage is the production backend; the memory
// subpackage mirrors the semantics for tests.
package meta

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist, and by BLMove when the
// timeout elapses with the source list empty.
var ErrNotFound = errors.New("meta: key not found")

// Store provides typed access to the durable key/value store.
//
// All single operations are atomic. Multi-step mutations that must be atomic
// go through MoveDelayed, which the backend executes in one MULTI/EXEC.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value at key only if the key is absent, atomically.
	// Returns true when the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire refreshes the TTL on key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// MGet returns values for keys in order; missing keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	// RPush appends values to the list at key.
	RPush(ctx context.Context, key string, values ...string) error

	// LRange returns list elements in [start, stop] (inclusive, negative
	// indexes count from the tail, redis semantics).
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LRem removes count occurrences of value from the list (count == 0
	// removes all occurrences).
	LRem(ctx context.Context, key string, count int64, value string) error

	// LLen returns the list length. Missing keys count as empty.
	LLen(ctx context.Context, key string) (int64, error)

	// BLMove blocks up to timeout waiting to pop the head of src and push
	// it onto the tail of dst, atomically. Returns ErrNotFound on timeout.
	BLMove(ctx context.Context, src, dst string, timeout time.Duration) (string, error)

	// ZAdd adds member to the sorted set at key with the given score.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRangeByScore returns members with score <= max, ascending.
	ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error)

	// ZCard returns the cardinality of the sorted set.
	ZCard(ctx context.Context, key string) (int64, error)

	// MoveDelayed atomically removes members from the sorted set at zsetKey
	// and appends them to the list at listKey (ZREM + RPUSH in one
	// MULTI/EXEC). A no-op when members is empty.
	MoveDelayed(ctx context.Context, zsetKey, listKey string, members []string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
