package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	objmem "github.com/pictorhq/pictor/pkg/store/object/memory"
)

// stubResolver implements GalleryResolver with canned responses.
type stubResolver struct {
	slug       string
	err        error
	increments int
}

func (r *stubResolver) ResolveFolder(ctx context.Context, guildID, galleryName string) (string, error) {
	return r.slug, r.err
}

func (r *stubResolver) IncrementItemCount(ctx context.Context, guildID, galleryName string) error {
	r.increments++
	return nil
}

// stubEnqueuer records gradient enqueue calls.
type stubEnqueuer struct {
	keys []string
}

func (e *stubEnqueuer) EnqueueGradient(ctx context.Context, guildID, galleryName, storageKey, itemID string) (string, error) {
	e.keys = append(e.keys, storageKey)
	return "gradient-test", nil
}

func setupFinalizer(t *testing.T, objects *objmem.ObjectStore) (*SessionStore, *Finalizer, *stubResolver, *stubEnqueuer) {
	t.Helper()

	store := NewSessionStore()
	resolver := &stubResolver{slug: "summer-trip"}
	enqueuer := &stubEnqueuer{}
	finalizer := NewFinalizer(store, objects, resolver, enqueuer)
	finalizer.SetClock(func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	})
	return store, finalizer, resolver, enqueuer
}

func TestFinalize_HappyPath(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	store, finalizer, resolver, enqueuer := setupFinalizer(t, objects)

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "p.jpg",
		FileType:    "image/jpeg",
		GalleryName: "Summer Trip",
		GuildID:     "guild-1",
		TotalSize:   12,
	})
	require.NoError(t, err)

	// Four chunks of three bytes, delivered out of order.
	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc"), []byte("ddd")}
	for _, idx := range []int{2, 0, 3, 1} {
		require.NoError(t, store.SaveChunk(uploadID, idx, chunks[idx]))
	}

	result, err := finalizer.Finalize(context.Background(), uploadID)
	require.NoError(t, err)

	wantKey := "summer-trip/uploads/2026-08-24/p.jpg"
	assert.Equal(t, wantKey, result.StorageKey)

	data, ok := objects.Bytes(wantKey)
	require.True(t, ok)
	assert.Equal(t, []byte("aaabbbcccddd"), data)

	// Gradient job enqueued for the stored key, item count bumped.
	assert.Equal(t, []string{wantKey}, enqueuer.keys)
	assert.Equal(t, 1, resolver.increments)

	progress, err := store.GetProgress(uploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, progress.Status)
	assert.Equal(t, 1, progress.Progress.ProcessedFiles)

	// Session is gone; only the progress record remains.
	_, err = store.GetMetadata(uploadID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestFinalize_ChecksumTamperRollsBack(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	objects.TamperCRC32 = "AAAAAA=="
	store, finalizer, _, enqueuer := setupFinalizer(t, objects)

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "p.jpg",
		FileType:    "image/jpeg",
		GalleryName: "Summer Trip",
		GuildID:     "guild-1",
		TotalSize:   3,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("abc")))

	_, err = finalizer.Finalize(context.Background(), uploadID)
	require.Error(t, err)
	assert.Equal(t, KindChecksumMismatch, KindOf(err))
	assert.Contains(t, err.Error(), "Checksum mismatch")

	// The remote object was deleted and no gradient job was enqueued.
	assert.False(t, objects.Exists("summer-trip/uploads/2026-08-24/p.jpg"))
	assert.Empty(t, enqueuer.keys)

	progress, err := store.GetProgress(uploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.Contains(t, progress.Error, "Checksum")
}

func TestFinalize_MissingChecksumIsTolerated(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	objects.DropCRC32 = true
	store, finalizer, _, _ := setupFinalizer(t, objects)

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "p.jpg",
		FileType:    "image/jpeg",
		GalleryName: "Summer Trip",
		GuildID:     "guild-1",
		TotalSize:   3,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("abc")))

	_, err = finalizer.Finalize(context.Background(), uploadID)
	require.NoError(t, err)
	assert.True(t, objects.Exists("summer-trip/uploads/2026-08-24/p.jpg"))
}

func TestFinalize_UnsupportedFileType(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	store, finalizer, _, enqueuer := setupFinalizer(t, objects)

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "malware.exe",
		FileType:    "application/x-msdownload",
		GalleryName: "Summer Trip",
		GuildID:     "guild-1",
		TotalSize:   3,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("abc")))

	_, err = finalizer.Finalize(context.Background(), uploadID)
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Empty(t, enqueuer.keys)

	progress, err := store.GetProgress(uploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
}

func TestFinalize_GalleryNotFound(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	store, finalizer, resolver, _ := setupFinalizer(t, objects)
	resolver.slug = ""
	resolver.err = context.DeadlineExceeded // any resolver error means no gallery

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "p.jpg",
		FileType:    "image/jpeg",
		GalleryName: "Nope",
		GuildID:     "guild-1",
		TotalSize:   3,
	})
	require.NoError(t, err)

	_, err = finalizer.Finalize(context.Background(), uploadID)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	progress, err := store.GetProgress(uploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
	assert.Equal(t, "Gallery not found", progress.Error)
}

func TestFinalize_SizeMismatchFailsSession(t *testing.T) {
	t.Parallel()

	objects := objmem.New()
	store, finalizer, _, _ := setupFinalizer(t, objects)

	uploadID, err := store.Initiate(InitiateRequest{
		FileName:    "p.jpg",
		FileType:    "image/jpeg",
		GalleryName: "Summer Trip",
		GuildID:     "guild-1",
		TotalSize:   100,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("abc")))

	_, err = finalizer.Finalize(context.Background(), uploadID)
	require.Error(t, err)
	assert.Equal(t, KindSizeMismatch, KindOf(err))

	progress, err := store.GetProgress(uploadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, progress.Status)
}
