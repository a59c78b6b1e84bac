package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/store/object"
)

// AllowedImageTypes is the set of MIME types the finalize pipeline accepts.
var AllowedImageTypes = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
	"image/bmp":     true,
	"image/tiff":    true,
	"image/x-icon":  true,
}

// GalleryResolver resolves gallery names to storage slugs and tracks item
// counts. Implemented by the gallery service.
type GalleryResolver interface {
	ResolveFolder(ctx context.Context, guildID, galleryName string) (slug string, err error)
	IncrementItemCount(ctx context.Context, guildID, galleryName string) error
}

// GradientEnqueuer schedules asynchronous gradient extraction for a stored
// object. Implemented by the gradient worker.
type GradientEnqueuer interface {
	EnqueueGradient(ctx context.Context, guildID, galleryName, storageKey, itemID string) (string, error)
}

// Result is returned by a successful finalize.
type Result struct {
	StorageKey string    `json:"filePath"`
	Checksums  Checksums `json:"checksums"`
}

// Finalizer orchestrates assembled-file -> object store -> checksum
// verification -> gradient enqueue -> item count update.
type Finalizer struct {
	sessions  *SessionStore
	assembler *Assembler
	objects   object.Store
	galleries GalleryResolver
	gradients GradientEnqueuer

	// now is a clock hook for tests (controls the date path segment).
	now func() time.Time
}

// NewFinalizer wires the finalize pipeline. gradients may be nil when the
// worker is disabled entirely.
func NewFinalizer(
	sessions *SessionStore,
	objects object.Store,
	galleries GalleryResolver,
	gradients GradientEnqueuer,
) *Finalizer {
	return &Finalizer{
		sessions:  sessions,
		assembler: NewAssembler(sessions),
		objects:   objects,
		galleries: galleries,
		gradients: gradients,
		now:       time.Now,
	}
}

// SetClock replaces the pipeline clock. Test hook.
func (f *Finalizer) SetClock(now func() time.Time) { f.now = now }

// Finalize runs the full pipeline for an assembled upload session.
//
// Failure semantics: on any error the assembled temp file and the in-memory
// session are both released, the progress record is marked failed with a
// human-readable message, and a remote object whose checksum failed
// verification is deleted before returning.
func (f *Finalizer) Finalize(ctx context.Context, uploadID string) (Result, error) {
	session, err := f.sessions.GetMetadata(uploadID)
	if err != nil {
		return Result{}, err
	}

	slug, err := f.galleries.ResolveFolder(ctx, session.GuildID, session.GalleryName)
	if err != nil {
		f.fail(uploadID, "Gallery not found")
		return Result{}, WrapError(KindNotFound, "gallery not found", err)
	}

	if !AllowedImageTypes[session.FileType] {
		f.fail(uploadID, fmt.Sprintf("Unsupported file type: %s", session.FileType))
		f.sessions.Cleanup(uploadID)
		return Result{}, NewError(KindInvalidInput, fmt.Sprintf("unsupported file type %q", session.FileType))
	}

	f.sessions.UpdateProgress(uploadID, StatusProcessing, PhaseServerAssemble, Counters{})

	assembled, sums, err := f.assembler.Assemble(session)
	if err != nil {
		// Assemble already removed its partial output and the session.
		f.fail(uploadID, err.Error())
		return Result{}, err
	}

	f.sessions.UpdateProgress(uploadID, StatusProcessing, PhaseServerUpload, Counters{
		TotalFiles: 1,
	})

	date := f.now().UTC().Format("2006-01-02")
	storageKey := fmt.Sprintf("%s/uploads/%s/%s", slug, date, session.FileName)

	if err := f.putObject(ctx, storageKey, assembled, session.FileType, sums); err != nil {
		_ = os.Remove(assembled)
		f.fail(uploadID, "Upload to storage failed")
		f.sessions.Cleanup(uploadID)
		return Result{}, err
	}

	// The assembled temp file is no longer needed regardless of how
	// verification goes.
	_ = os.Remove(assembled)

	if err := f.verifyChecksum(ctx, storageKey, sums.CRC32Base64); err != nil {
		f.fail(uploadID, fmt.Sprintf("Checksum verification failed for %s", session.FileName))
		f.sessions.Cleanup(uploadID)
		return Result{}, err
	}

	f.enqueueGradient(ctx, session, storageKey)

	f.sessions.MarkCompleted(uploadID, Counters{ProcessedFiles: 1})
	f.sessions.Cleanup(uploadID)

	if err := f.galleries.IncrementItemCount(ctx, session.GuildID, session.GalleryName); err != nil {
		logger.Warn("failed to increment gallery item count",
			logger.GuildID(session.GuildID),
			logger.Gallery(session.GalleryName),
			logger.Err(err),
		)
	}

	logger.Info("upload finalized",
		logger.UploadID(uploadID),
		logger.Key(storageKey),
		logger.Size(sums.ByteLength),
	)
	return Result{StorageKey: storageKey, Checksums: sums}, nil
}

// putObject streams the assembled file into the object store with the local
// CRC32 as an integrity hint.
func (f *Finalizer) putObject(ctx context.Context, key, path, contentType string, sums Checksums) error {
	file, err := os.Open(path)
	if err != nil {
		return WrapError(KindInternal, "failed to open assembled file", err)
	}
	defer file.Close()

	return f.objects.Put(ctx, key, file, object.PutOptions{
		ContentType:   contentType,
		ContentLength: sums.ByteLength,
		CRC32Base64:   sums.CRC32Base64,
	})
}

// verifyChecksum round-trips the CRC32 through the object store. A backend
// that stored no checksum is tolerated with a warning; a mismatch deletes
// the remote object and fails hard.
func (f *Finalizer) verifyChecksum(ctx context.Context, key, localCRC string) error {
	remote, err := f.objects.GetChecksums(ctx, key)
	if err != nil {
		logger.Warn("checksum readback failed", logger.Key(key), logger.Err(err))
		return nil
	}
	if remote.CRC32Base64 == nil {
		logger.Warn("object store returned no checksum, skipping verification",
			logger.Key(key))
		return nil
	}
	if *remote.CRC32Base64 != localCRC {
		logger.Error("checksum mismatch, deleting remote object",
			logger.Key(key),
			"local_crc32", localCRC,
			"remote_crc32", *remote.CRC32Base64,
		)
		if delErr := f.objects.Delete(ctx, key); delErr != nil {
			logger.Error("failed to delete corrupted object", logger.Key(key), logger.Err(delErr))
		}
		return NewError(KindChecksumMismatch, fmt.Sprintf(
			"Checksum mismatch: local %s, remote %s", localCRC, *remote.CRC32Base64))
	}
	return nil
}

// enqueueGradient is fire-and-forget: a scheduling failure is logged but
// never fails the upload.
func (f *Finalizer) enqueueGradient(ctx context.Context, session Session, storageKey string) {
	if f.gradients == nil {
		return
	}
	jobID, err := f.gradients.EnqueueGradient(ctx, session.GuildID, session.GalleryName, storageKey, session.FileName)
	if err != nil {
		logger.Warn("failed to enqueue gradient job", logger.Key(storageKey), logger.Err(err))
		return
	}
	if jobID != "" {
		logger.Debug("gradient job enqueued", logger.JobID(jobID), logger.Key(storageKey))
	}
}

func (f *Finalizer) fail(uploadID, msg string) {
	f.sessions.MarkFailed(uploadID, msg)
}
