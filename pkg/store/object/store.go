// Package object defines the object storage abstraction used for gallery
// media.
//
// The interface is deliberately narrow: the upload pipeline needs put with a
// checksum hint, streamed get, checksum readback, idempotent delete, and
// prefix listing. Backends live in subpackages (s3 for production, memory
// for tests) and must return typed StoreErrors so callers can distinguish a
// missing object from a transport failure.
package object

import (
	"context"
	"io"
	"time"
)

// Store provides access to an S3-compatible object store.
//
// Thread safety: implementations must be safe for concurrent use. Writes to
// the same key are last-writer-wins; the store performs no locking.
type Store interface {
	// Put uploads the body under the given key. When opts.CRC32Base64 is
	// set it is forwarded to the backend as an integrity hint which the
	// backend echoes back on checksum reads.
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) error

	// Get returns a streamed reader for the object plus its metadata.
	// The caller must close the reader. A missing key fails with
	// KindNotFound, distinct from transport errors.
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)

	// GetChecksums reads the stored integrity metadata for a key.
	// A backend that does not track checksums returns an empty Checksums
	// value with no error.
	GetChecksums(ctx context.Context, key string) (Checksums, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPrefix enumerates objects under the given key prefix.
	ListPrefix(ctx context.Context, prefix string) ([]Info, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// PutOptions carries per-upload metadata.
type PutOptions struct {
	ContentType   string
	ContentLength int64
	// CRC32Base64 is the base64-encoded big-endian IEEE CRC32 of the body.
	CRC32Base64 string
}

// Info describes a stored object.
type Info struct {
	Key           string
	ContentType   string
	ContentLength int64
	LastModified  time.Time
}

// Checksums holds the integrity metadata a backend stores alongside an
// object. Nil fields mean the backend did not record that checksum.
type Checksums struct {
	CRC32Base64 *string
}
