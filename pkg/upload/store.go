package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pictorhq/pictor/internal/logger"
)

const (
	// SessionTTL is how long an idle session survives before the reaper
	// removes it and its staging directory.
	SessionTTL = 24 * time.Hour

	// ProgressRetention is how long a terminal progress record stays
	// readable after completedAt.
	ProgressRetention = 5 * time.Minute

	// stagingPrefix names staging directories under the OS temp dir.
	stagingPrefix = "chunked-upload-"
)

// SessionStore holds in-flight upload sessions and their progress records in
// process memory. Sessions and progress are separate maps keyed by uploadId;
// there are no back-pointers between them.
//
// Readers of progress may run concurrently with the single writer per
// uploadId. The store guards its maps with an RWMutex but does not serialize
// concurrent mutations of the same session; that is caller discipline.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	progress map[string]*Progress

	// now is a clock hook for tests.
	now func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		progress: make(map[string]*Progress),
		now:      time.Now,
	}
}

// Initiate allocates a new session: uuid, staging directory (0700), and a
// pending/client-upload progress record.
func (s *SessionStore) Initiate(req InitiateRequest) (string, error) {
	uploadID := uuid.NewString()
	tempDir := filepath.Join(os.TempDir(), stagingPrefix+uploadID)

	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return "", WrapError(KindInternal, "failed to create staging directory", err)
	}

	session := &Session{
		UploadID:    uploadID,
		FileName:    SanitizeFileName(req.FileName),
		FileType:    req.FileType,
		GalleryName: req.GalleryName,
		GuildID:     req.GuildID,
		TempDir:     tempDir,
		TotalSize:   req.TotalSize,
		CreatedAt:   s.now().UnixMilli(),
	}

	s.mu.Lock()
	s.sessions[uploadID] = session
	s.progress[uploadID] = &Progress{
		Status: StatusPending,
		Phase:  PhaseClientUpload,
		Progress: Counters{
			TotalBytes: req.TotalSize,
		},
	}
	s.mu.Unlock()

	logger.Debug("upload session initiated",
		logger.UploadID(uploadID),
		logger.Filename(session.FileName),
		logger.Size(req.TotalSize),
	)
	return uploadID, nil
}

// SaveChunk writes chunk data atomically into the staging directory as
// chunk-<index> and advances uploadedBytes. Fails with KindNotFound when the
// session is unknown or its staging directory is gone.
func (s *SessionStore) SaveChunk(uploadID string, index int, buf []byte) error {
	s.mu.RLock()
	session, ok := s.sessions[uploadID]
	s.mu.RUnlock()
	if !ok {
		return NewError(KindNotFound, "upload session not found")
	}

	if _, err := os.Stat(session.TempDir); err != nil {
		return WrapError(KindNotFound, "staging directory missing", err)
	}

	// Write-then-rename so a crashed write never leaves a partial chunk
	// under the final name.
	final := filepath.Join(session.TempDir, fmt.Sprintf("chunk-%d", index))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return WrapError(KindInternal, "failed to write chunk", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return WrapError(KindInternal, "failed to commit chunk", err)
	}

	s.mu.Lock()
	if p, ok := s.progress[uploadID]; ok && !p.Status.Terminal() {
		p.Status = StatusUploading
		p.Progress.UploadedBytes += int64(len(buf))
	}
	s.mu.Unlock()
	return nil
}

// GetMetadata returns a copy of the session, or KindNotFound.
func (s *SessionStore) GetMetadata(uploadID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[uploadID]
	if !ok {
		return Session{}, NewError(KindNotFound, "upload session not found")
	}
	return *session, nil
}

// GetProgress returns a copy of the progress record, or KindNotFound.
// Terminal records older than ProgressRetention are treated as absent.
func (s *SessionStore) GetProgress(uploadID string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[uploadID]
	if !ok {
		return Progress{}, NewError(KindNotFound, "upload progress not found")
	}
	if p.Status.Terminal() && p.CompletedAt > 0 {
		cutoff := s.now().Add(-ProgressRetention).UnixMilli()
		if p.CompletedAt < cutoff {
			return Progress{}, NewError(KindNotFound, "upload progress expired")
		}
	}
	return *p, nil
}

// UpdateProgress merges the partial update into the record. The first
// transition into a terminal status stamps CompletedAt; after that the
// record is immutable.
func (s *SessionStore) UpdateProgress(uploadID string, status Status, phase Phase, partial Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[uploadID]
	if !ok {
		return
	}
	if p.Status.Terminal() {
		return
	}

	p.Status = status
	if phase != "" {
		p.Phase = phase
	}
	mergeCounters(&p.Progress, partial)

	if status.Terminal() && p.CompletedAt == 0 {
		p.CompletedAt = s.now().UnixMilli()
	}
}

// MarkCompleted transitions the upload to completed.
func (s *SessionStore) MarkCompleted(uploadID string, partial Counters) {
	s.UpdateProgress(uploadID, StatusCompleted, "", partial)
}

// MarkFailed transitions the upload to failed with a single human-readable
// error string.
func (s *SessionStore) MarkFailed(uploadID string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[uploadID]
	if !ok || p.Status.Terminal() {
		return
	}
	p.Status = StatusFailed
	p.Error = errMsg
	if p.CompletedAt == 0 {
		p.CompletedAt = s.now().UnixMilli()
	}
}

// Cleanup removes the session and its staging directory. Idempotent; the
// progress record survives so late pollers still observe the outcome.
func (s *SessionStore) Cleanup(uploadID string) {
	s.mu.Lock()
	session, ok := s.sessions[uploadID]
	delete(s.sessions, uploadID)
	s.mu.Unlock()

	if ok {
		if err := os.RemoveAll(session.TempDir); err != nil {
			logger.Warn("failed to remove staging directory",
				logger.UploadID(uploadID), logger.Err(err))
		}
	}
}

// Cancel removes session, staging directory, and progress record.
func (s *SessionStore) Cancel(uploadID string) {
	s.Cleanup(uploadID)
	s.mu.Lock()
	delete(s.progress, uploadID)
	s.mu.Unlock()
}

// CleanupExpired reaps sessions older than SessionTTL and terminal progress
// records past ProgressRetention. Intended to run on a periodic ticker.
func (s *SessionStore) CleanupExpired() {
	now := s.now()
	sessionCutoff := now.Add(-SessionTTL).UnixMilli()
	progressCutoff := now.Add(-ProgressRetention).UnixMilli()

	s.mu.Lock()
	var expired []string
	for id, session := range s.sessions {
		if session.CreatedAt < sessionCutoff {
			expired = append(expired, id)
		}
	}
	for id, p := range s.progress {
		if p.Status.Terminal() && p.CompletedAt > 0 && p.CompletedAt < progressCutoff {
			delete(s.progress, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		logger.Info("reaping expired upload session", logger.UploadID(id))
		s.Cleanup(id)
		s.mu.Lock()
		delete(s.progress, id)
		s.mu.Unlock()
	}
}

// SetClock replaces the store's clock. Test hook.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func mergeCounters(dst *Counters, src Counters) {
	if src.TotalBytes != 0 {
		dst.TotalBytes = src.TotalBytes
	}
	if src.UploadedBytes != 0 {
		dst.UploadedBytes = src.UploadedBytes
	}
	if src.TotalFiles != 0 {
		dst.TotalFiles = src.TotalFiles
	}
	if src.ProcessedFiles != 0 {
		dst.ProcessedFiles = src.ProcessedFiles
	}
}
