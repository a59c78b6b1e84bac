package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently so the
// same concept is queryable under one name across the whole backend.
const (
	// Uploads
	KeyUploadID = "upload_id" // chunked upload session identifier
	KeyChunk    = "chunk"     // chunk index within an upload
	KeyFilename = "filename"  // sanitized file name
	KeySize     = "size"      // byte size

	// Organization
	KeyGuildID = "guild_id" // tenant identifier
	KeyGallery = "gallery"  // gallery name
	KeySlug    = "slug"     // normalized gallery slug

	// Object storage
	KeyBucket = "bucket" // S3 bucket name
	KeyKey    = "key"    // object key / storage key

	// Gradient worker
	KeyJobID      = "job_id"      // gradient job identifier
	KeyAttempt    = "attempt"     // processing attempt number
	KeyMaxRetries = "max_retries" // retry bound

	// HTTP
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// UploadID returns a slog.Attr for an upload session identifier
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// Chunk returns a slog.Attr for a chunk index
func Chunk(i int) slog.Attr {
	return slog.Int(KeyChunk, i)
}

// Filename returns a slog.Attr for a file name
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Size returns a slog.Attr for a byte size
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// GuildID returns a slog.Attr for a guild identifier
func GuildID(id string) slog.Attr {
	return slog.String(KeyGuildID, id)
}

// Gallery returns a slog.Attr for a gallery name
func Gallery(name string) slog.Attr {
	return slog.String(KeyGallery, name)
}

// Key returns a slog.Attr for an object storage key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// JobID returns a slog.Attr for a gradient job identifier
func JobID(id string) slog.Attr {
	return slog.String(KeyJobID, id)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
