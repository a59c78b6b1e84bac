package upload

import (
	"crypto/md5"
	"encoding/base64"
	"hash/crc32"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deliverChunks saves the given chunks in the order of deliverOrder.
func deliverChunks(t *testing.T, store *SessionStore, uploadID string, chunks [][]byte, deliverOrder []int) {
	t.Helper()
	for _, idx := range deliverOrder {
		require.NoError(t, store.SaveChunk(uploadID, idx, chunks[idx]))
	}
}

func TestAssemble_OutOfOrderDelivery(t *testing.T) {
	t.Parallel()

	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc"), []byte("ddd")}
	want := []byte("aaabbbcccddd")

	// Every delivery order must produce the same file.
	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{2, 0, 3, 1},
		{1, 3, 0, 2},
	}

	for _, order := range orders {
		store := NewSessionStore()
		uploadID := initiateTestSession(t, store, int64(len(want)))
		deliverChunks(t, store, uploadID, chunks, order)

		session, err := store.GetMetadata(uploadID)
		require.NoError(t, err)

		path, sums, err := NewAssembler(store).Assemble(session)
		require.NoError(t, err, "order %v", order)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, "order %v", order)
		assert.Equal(t, int64(len(want)), sums.ByteLength)

		_ = os.Remove(path)
	}
}

func TestAssemble_ChecksumsMatchStreamedDigests(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox jumps over the lazy dog")
	store := NewSessionStore()
	uploadID := initiateTestSession(t, store, int64(len(data)))
	require.NoError(t, store.SaveChunk(uploadID, 0, data))

	session, err := store.GetMetadata(uploadID)
	require.NoError(t, err)

	path, sums, err := NewAssembler(store).Assemble(session)
	require.NoError(t, err)
	defer os.Remove(path)

	crc := crc32.NewIEEE()
	_, _ = crc.Write(data)
	assert.Equal(t, EncodeCRC32(crc), sums.CRC32Base64)

	md5sum := md5.Sum(data)
	assert.Equal(t, base64.StdEncoding.EncodeToString(md5sum[:]), sums.MD5Base64)
}

func TestAssemble_MissingChunkFailsOutOfOrder(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	uploadID := initiateTestSession(t, store, 9)
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("aaa")))
	require.NoError(t, store.SaveChunk(uploadID, 2, []byte("ccc"))) // gap at 1

	session, err := store.GetMetadata(uploadID)
	require.NoError(t, err)

	_, _, err = NewAssembler(store).Assemble(session)
	require.Error(t, err)
	assert.Equal(t, KindOutOfOrder, KindOf(err))

	// Failed assembly releases the session.
	_, err = store.GetMetadata(uploadID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestAssemble_NoChunks(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	uploadID := initiateTestSession(t, store, 3)

	session, err := store.GetMetadata(uploadID)
	require.NoError(t, err)

	_, _, err = NewAssembler(store).Assemble(session)
	require.Error(t, err)
	assert.Equal(t, KindOutOfOrder, KindOf(err))
}

func TestAssemble_SizeMismatch(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	uploadID := initiateTestSession(t, store, 100) // declared 100, delivering 3
	require.NoError(t, store.SaveChunk(uploadID, 0, []byte("abc")))

	session, err := store.GetMetadata(uploadID)
	require.NoError(t, err)

	path, _, err := NewAssembler(store).Assemble(session)
	require.Error(t, err)
	assert.Equal(t, KindSizeMismatch, KindOf(err))
	assert.Empty(t, path)
}

func TestAssemble_ZipSignature(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content []byte
		wantErr bool
	}{
		{"valid local header", []byte{'P', 'K', 0x03, 0x04, 0x00, 0x00}, false},
		{"valid empty archive", []byte{'P', 'K', 0x05, 0x06, 0x00, 0x00}, false},
		{"valid spanned archive", []byte{'P', 'K', 0x07, 0x08, 0x00, 0x00}, false},
		{"not a zip", []byte("GIF89axxxx"), true},
		{"bad third byte", []byte{'P', 'K', 0x01, 0x04, 0x00, 0x00}, true},
		{"too short", []byte{'P', 'K'}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewSessionStore()
			uploadID, err := store.Initiate(InitiateRequest{
				FileName:    "bundle.zip",
				FileType:    "application/zip",
				GalleryName: "g",
				GuildID:     "guild-1",
				TotalSize:   int64(len(tc.content)),
			})
			require.NoError(t, err)
			defer store.Cancel(uploadID)

			require.NoError(t, store.SaveChunk(uploadID, 0, tc.content))
			session, err := store.GetMetadata(uploadID)
			require.NoError(t, err)

			path, _, err := NewAssembler(store).Assemble(session)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindInvalidArchive, KindOf(err))
			} else {
				require.NoError(t, err)
				_ = os.Remove(path)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "photo.jpg", SanitizeFileName("photo.jpg"))
	assert.Equal(t, "passwd", SanitizeFileName("../../etc/passwd"))
	assert.Equal(t, "dirnotes.txt", SanitizeFileName(`dir\notes.txt`))
	assert.Equal(t, "ab", SanitizeFileName(`a<>:"|?*b`))
	assert.Equal(t, "trimmed", SanitizeFileName("trimmed . "))

	// Degenerate names fall back to a uuid, never empty or dot names.
	for _, bad := range []string{"", ".", "..", "???"} {
		got := SanitizeFileName(bad)
		assert.NotEmpty(t, got)
		assert.NotEqual(t, ".", got)
		assert.NotEqual(t, "..", got)
	}
}
