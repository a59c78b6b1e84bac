// Package upload implements the chunked upload engine: in-memory session
// tracking, chunk assembly with integrity verification, and the finalize
// pipeline that moves an assembled file into object storage.
package upload

import (
	"errors"
	"fmt"
)

// Status is the observable lifecycle state of an upload.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Phase names the stage of the upload pipeline currently running.
type Phase string

const (
	PhaseClientUpload     Phase = "client-upload"
	PhaseServerAssemble   Phase = "server-assemble"
	PhaseServerZipExtract Phase = "server-zip-extract"
	PhaseServerUpload     Phase = "server-upload"
)

// Session is the in-memory record of an in-flight chunked upload.
//
// Invariants: TempDir exists iff the session is live; one session never sees
// another session's files. A single request handler mutates a given session
// at a time (caller discipline); the store does not serialize writers.
type Session struct {
	UploadID    string
	FileName    string // sanitized, basename only
	FileType    string // declared MIME type
	GalleryName string
	GuildID     string
	TempDir     string // private staging directory, mode 0700
	TotalSize   int64
	CreatedAt   int64 // epoch ms
}

// Counters are the byte/file counts reported under Progress.
// A zero value means unknown.
type Counters struct {
	TotalBytes     int64 `json:"totalBytes,omitempty"`
	UploadedBytes  int64 `json:"uploadedBytes,omitempty"`
	TotalFiles     int   `json:"totalFiles,omitempty"`
	ProcessedFiles int   `json:"processedFiles,omitempty"`
}

// Progress is the client-observable state of an upload.
//
// Once Status is terminal, neither Status nor Error may change and
// CompletedAt is set exactly once. The record is retained five minutes past
// the terminal transition, then reaped.
type Progress struct {
	Status      Status   `json:"status"`
	Phase       Phase    `json:"phase"`
	Progress    Counters `json:"progress"`
	Error       string   `json:"error,omitempty"`
	CompletedAt int64    `json:"completedAt,omitempty"` // epoch ms
}

// Checksums holds the digests computed while assembling a file.
type Checksums struct {
	ByteLength  int64  `json:"byteLength"`
	CRC32Base64 string `json:"crc32"`
	MD5Base64   string `json:"md5"`
}

// InitiateRequest is the boundary message opening a session.
type InitiateRequest struct {
	FileName    string `json:"fileName" validate:"required"`
	FileType    string `json:"fileType" validate:"required"`
	GalleryName string `json:"galleryName" validate:"required"`
	GuildID     string `json:"guildId" validate:"required"`
	TotalSize   int64  `json:"totalSize" validate:"required,gt=0"`
}

// ErrorKind categorizes upload engine failures. The API boundary maps kinds
// to HTTP statuses (see api package).
type ErrorKind int

const (
	// KindNotFound: unknown session or missing staging directory.
	KindNotFound ErrorKind = iota

	// KindInvalidInput: request shape or values violate the schema.
	KindInvalidInput

	// KindPayloadTooLarge: a chunk exceeded the configured cap.
	KindPayloadTooLarge

	// KindOutOfOrder: a chunk index gap was detected during assembly.
	KindOutOfOrder

	// KindSizeMismatch: assembled size differs from the declared total.
	KindSizeMismatch

	// KindInvalidArchive: a .zip upload failed the signature check.
	KindInvalidArchive

	// KindChecksumMismatch: local and remote CRC32 disagree after upload.
	KindChecksumMismatch

	// KindInternal: filesystem or store failure.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindOutOfOrder:
		return "out_of_order"
	case KindSizeMismatch:
		return "size_mismatch"
	case KindInvalidArchive:
		return "invalid_archive"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "internal"
	}
}

// Error is the typed error returned by the upload engine.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed upload error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError creates a typed upload error wrapping a cause.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindInternal.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindInternal
}
