// Package redis implements meta.Store on a redis server via go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pictorhq/pictor/pkg/store/meta"
)

// Config contains redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// MetaStore implements meta.Store backed by redis.
type MetaStore struct {
	client *redis.Client
}

var _ meta.Store = (*MetaStore)(nil)

// New connects to redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*MetaStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &MetaStore{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *MetaStore {
	return &MetaStore{client: client}
}

func (s *MetaStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", meta.ErrNotFound
	}
	return val, err
}

func (s *MetaStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *MetaStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *MetaStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *MetaStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *MetaStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *MetaStore) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			val := str
			out[i] = &val
		}
	}
	return out, nil
}

func (s *MetaStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, key, args...).Err()
}

func (s *MetaStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *MetaStore) LRem(ctx context.Context, key string, count int64, value string) error {
	return s.client.LRem(ctx, key, count, value).Err()
}

func (s *MetaStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

// BLMove blocks on redis BLMOVE, popping from the head of src and pushing to
// the tail of dst. Timeout expiry maps to meta.ErrNotFound.
func (s *MetaStore) BLMove(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	val, err := s.client.BLMove(ctx, src, dst, "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", meta.ErrNotFound
	}
	return val, err
}

func (s *MetaStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *MetaStore) ZRangeByScore(ctx context.Context, key string, max float64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

func (s *MetaStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

// MoveDelayed removes members from the sorted set and appends them to the
// list in a single MULTI/EXEC so a crash cannot drop jobs between the two.
func (s *MetaStore) MoveDelayed(ctx context.Context, zsetKey, listKey string, members []string) error {
	if len(members) == 0 {
		return nil
	}

	zmembers := make([]interface{}, len(members))
	lmembers := make([]interface{}, len(members))
	for i, m := range members {
		zmembers[i] = m
		lmembers[i] = m
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, zsetKey, zmembers...)
	pipe.RPush(ctx, listKey, lmembers...)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *MetaStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *MetaStore) Close() error {
	return s.client.Close()
}
