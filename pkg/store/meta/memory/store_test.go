package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictorhq/pictor/pkg/store/meta"
)

func TestStrings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, meta.ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Del(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, meta.ErrNotFound)
}

func TestSetNX(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	created, err := s.SetNX(ctx, "k", "first", 0)
	require.NoError(t, err)
	assert.True(t, created)

	// A present key wins: the second write is refused and the value stays.
	created, err = s.SetNX(ctx, "k", "second", 0)
	require.NoError(t, err)
	assert.False(t, created)
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	// An expired key counts as absent.
	created, err = s.SetNX(ctx, "t", "v", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, created)
	time.Sleep(20 * time.Millisecond)
	created, err = s.SetNX(ctx, "t", "w", 0)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Millisecond))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, meta.ErrNotFound)

	// Expire refreshes a live key.
	require.NoError(t, s.Set(ctx, "j", "v", 10*time.Millisecond))
	require.NoError(t, s.Expire(ctx, "j", time.Minute))
	time.Sleep(20 * time.Millisecond)
	_, err = s.Get(ctx, "j")
	assert.NoError(t, err)
}

func TestMGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "c", "3", 0))

	vals, err := s.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.NotNil(t, vals[0])
	assert.Equal(t, "1", *vals[0])
	assert.Nil(t, vals[1], "missing key yields nil")
	require.NotNil(t, vals[2])
	assert.Equal(t, "3", *vals[2])
}

func TestListOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.RPush(ctx, "l", "a", "b", "c", "b"))

	n, err := s.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	all, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "b"}, all)

	// Negative indexes count from the tail.
	tail, err := s.LRange(ctx, "l", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, tail)

	// count 0 removes every occurrence.
	require.NoError(t, s.LRem(ctx, "l", 0, "b"))
	all, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, all)
}

func TestBLMove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.RPush(ctx, "src", "x", "y"))

	val, err := s.BLMove(ctx, "src", "dst", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "x", val, "pops the head")

	dst, err := s.LRange(ctx, "dst", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, dst)
}

func TestBLMove_TimesOut(t *testing.T) {
	t.Parallel()

	_, err := New().BLMove(context.Background(), "empty", "dst", 20*time.Millisecond)
	assert.ErrorIs(t, err, meta.ErrNotFound)
}

func TestBLMove_WakesOnPush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.RPush(ctx, "src", "late")
	}()

	val, err := s.BLMove(ctx, "src", "dst", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", val)
}

func TestSortedSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.ZAdd(ctx, "z", 30, "c"))
	require.NoError(t, s.ZAdd(ctx, "z", 10, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 20, "b"))

	n, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	due, err := s.ZRangeByScore(ctx, "z", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, due, "score order, max inclusive")

	// Re-adding a member updates its score in place.
	require.NoError(t, s.ZAdd(ctx, "z", 5, "c"))
	due, err = s.ZRangeByScore(ctx, "z", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, due)
}

func TestMoveDelayed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, s.ZAdd(ctx, "z", 2, "b"))
	require.NoError(t, s.ZAdd(ctx, "z", 3, "c"))

	require.NoError(t, s.MoveDelayed(ctx, "z", "l", []string{"a", "b"}))

	list, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)

	n, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "moved members leave the zset")

	// Empty member set is a no-op.
	require.NoError(t, s.MoveDelayed(ctx, "z", "l", nil))
}
