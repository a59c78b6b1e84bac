package gallery

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metamem "github.com/pictorhq/pictor/pkg/store/meta/memory"
	"github.com/pictorhq/pictor/pkg/store/object"
	objmem "github.com/pictorhq/pictor/pkg/store/object/memory"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want string
	}{
		{"Summer Trip", "summer-trip"},
		{"summer-trip", "summer-trip"},
		{"  My   Gallery!  ", "my-gallery"},
		{"Été 2026", "t-2026"},
		{"UPPER", "upper"},
		{"---", "gallery"},
		{"", "gallery"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Slug(tc.name), "Slug(%q)", tc.name)
	}
}

func newTestService(t *testing.T) (*Service, *objmem.ObjectStore) {
	t.Helper()
	objects := objmem.New()
	return NewService(metamem.New(), objects), objects
}

func TestCreateGallery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)

	g, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)
	assert.Equal(t, "Summer Trip", g.Name)
	assert.Equal(t, "summer-trip", g.Slug)
	assert.Zero(t, g.ItemCount)
	assert.NotZero(t, g.CreatedAt)

	list, err := svc.ListGalleries(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "summer-trip", list[0].Slug)
}

func TestCreateGallery_SlugConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)

	// A different raw name that normalizes to the same slug conflicts.
	_, err = svc.CreateGallery(ctx, "g1", "summer   trip")
	assert.ErrorIs(t, err, ErrExists)

	// The same name in another guild does not.
	_, err = svc.CreateGallery(ctx, "g2", "Summer Trip")
	assert.NoError(t, err)
}

func TestDeleteGallery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteGallery(ctx, "g1", "Summer Trip"))

	list, err := svc.ListGalleries(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, svc.DeleteGallery(ctx, "g1", "Summer Trip"), ErrNotFound)
}

func TestResolveFolder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)

	// Both the raw name and the slug resolve to the slug.
	slug, err := svc.ResolveFolder(ctx, "g1", "Summer Trip")
	require.NoError(t, err)
	assert.Equal(t, "summer-trip", slug)

	slug, err = svc.ResolveFolder(ctx, "g1", "summer-trip")
	require.NoError(t, err)
	assert.Equal(t, "summer-trip", slug)

	_, err = svc.ResolveFolder(ctx, "g1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.ResolveFolder(ctx, "g2", "Summer Trip")
	assert.ErrorIs(t, err, ErrNotFound, "galleries are guild-scoped")
}

func TestIncrementItemCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)

	require.NoError(t, svc.IncrementItemCount(ctx, "g1", "Summer Trip"))
	require.NoError(t, svc.IncrementItemCount(ctx, "g1", "summer-trip"))

	list, err := svc.ListGalleries(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ItemCount)

	assert.ErrorIs(t, svc.IncrementItemCount(ctx, "g1", "nope"), ErrNotFound)
}

func TestListItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, objects := newTestService(t)

	_, err := svc.CreateGallery(ctx, "g1", "Summer Trip")
	require.NoError(t, err)

	put := func(key, body string) {
		err := objects.Put(ctx, key, bytes.NewReader([]byte(body)), object.PutOptions{
			ContentType:   "image/jpeg",
			ContentLength: int64(len(body)),
		})
		require.NoError(t, err)
	}
	put("summer-trip/uploads/2026-08-24/a.jpg", "aaa")
	put("summer-trip/uploads/2026-08-24/b.jpg", "bbbb")
	put("other-gallery/uploads/2026-08-24/c.jpg", "ccc")

	items, err := svc.ListItems(ctx, "g1", "Summer Trip")
	require.NoError(t, err)
	require.Len(t, items, 2)

	keys := []string{items[0].Key, items[1].Key}
	assert.Contains(t, keys, "summer-trip/uploads/2026-08-24/a.jpg")
	assert.Contains(t, keys, "summer-trip/uploads/2026-08-24/b.jpg")

	_, err = svc.ListItems(ctx, "g1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSettings_CorruptRecordTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	svc := NewService(store, objmem.New())

	require.NoError(t, store.Set(ctx, settingsKey("g1"), "{not json", 0))

	settings, err := svc.GetSettings(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", settings.GuildID)
	assert.Empty(t, settings.Galleries)
}
