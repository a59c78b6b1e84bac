// Package gradient derives per-image presentation metadata (a color palette
// and a blur placeholder) for stored objects, asynchronously, through a
// redis-backed durable job queue.
package gradient

import "strings"

// Gradient is the presentation metadata extracted from one image.
type Gradient struct {
	Palette     []string `json:"palette"`
	Primary     string   `json:"primary"`
	Secondary   string   `json:"secondary"`
	Foreground  string   `json:"foreground"`
	CSS         string   `json:"css"`
	BlurDataURL string   `json:"blurDataUrl"`
}

// RecordStatus is the gradient record state machine.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
)

// Record is the per-object gradient state, keyed by storage key.
type Record struct {
	Status    RecordStatus `json:"status"`
	Gradient  *Gradient    `json:"gradient,omitempty"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"lastError,omitempty"`
	CreatedAt int64        `json:"createdAt"` // epoch ms
	UpdatedAt int64        `json:"updatedAt"` // epoch ms
}

// JobData identifies the object a job must process.
type JobData struct {
	GuildID     string `json:"guildId"`
	GalleryName string `json:"galleryName"`
	StorageKey  string `json:"storageKey"`
	ItemID      string `json:"itemId"`
}

// Valid reports whether the job data identifies a processable object.
func (d JobData) Valid() bool {
	return d.StorageKey != "" && d.GuildID != ""
}

// Job is the durable queued work item.
type Job struct {
	JobID     string  `json:"jobId"`
	Data      JobData `json:"data"`
	Attempts  int     `json:"attempts"`
	CreatedAt int64   `json:"createdAt"` // epoch ms
}

// JobIDFor derives the deterministic job identifier for a storage key, so
// re-enqueueing the same object is idempotent.
func JobIDFor(storageKey string) string {
	return "gradient-" + strings.ReplaceAll(storageKey, "/", "-")
}

// MetaStore key layout.
const (
	queueKey      = "gradient:queue"
	processingKey = "gradient:processing"
	delayedKey    = "gradient:delayed"
	jobKeyPrefix  = "gradient:job:"
	recordPrefix  = "gradient:"
)

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func recordKey(storageKey string) string {
	return recordPrefix + storageKey
}
