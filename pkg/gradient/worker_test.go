package gradient

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictorhq/pictor/pkg/store/meta"
	metamem "github.com/pictorhq/pictor/pkg/store/meta/memory"
	"github.com/pictorhq/pictor/pkg/store/object"
	objmem "github.com/pictorhq/pictor/pkg/store/object/memory"
)

// stubComputer returns a fixed gradient without decoding anything.
type stubComputer struct{}

func (stubComputer) Compute(ctx context.Context, data []byte) (*Gradient, error) {
	return &Gradient{
		Palette:   []string{"#112233", "#445566"},
		Primary:   "#112233",
		Secondary: "#445566",
	}, nil
}

func testWorkerConfig() Config {
	return Config{
		Enabled:         true,
		Concurrency:     2,
		MaxRetries:      3,
		PollInterval:    100 * time.Millisecond,
		PromoteInterval: 20 * time.Millisecond,
		RetryBase:       5 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
}

func putTestObject(t *testing.T, objects *objmem.ObjectStore, key string) {
	t.Helper()
	err := objects.Put(context.Background(), key, bytes.NewReader([]byte("image-bytes")), object.PutOptions{
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
}

func TestJobIDFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"gradient-summer-uploads-2026-08-24-p.jpg",
		JobIDFor("summer/uploads/2026-08-24/p.jpg"))
}

func TestEnqueue_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	w := NewWorker(testWorkerConfig(), store, objmem.New(), stubComputer{}, nil)

	data := JobData{GuildID: "g1", GalleryName: "summer", StorageKey: "summer/uploads/2026-08-24/p.jpg"}

	first, err := w.Enqueue(ctx, data)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// While the job record exists, re-enqueues return the same jobId and
	// push nothing.
	second, err := w.Enqueue(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := store.LLen(ctx, queueKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := w.Records().Get(ctx, data.StorageKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestEnqueue_Disabled(t *testing.T) {
	t.Parallel()

	cfg := testWorkerConfig()
	cfg.Enabled = false
	store := metamem.New()
	w := NewWorker(cfg, store, objmem.New(), stubComputer{}, nil)

	jobID, err := w.Enqueue(context.Background(), JobData{GuildID: "g1", StorageKey: "k"})
	require.NoError(t, err)
	assert.Empty(t, jobID)

	n, err := store.LLen(context.Background(), queueKey)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueue_InvalidData(t *testing.T) {
	t.Parallel()

	store := metamem.New()
	w := NewWorker(testWorkerConfig(), store, objmem.New(), stubComputer{}, nil)

	jobID, err := w.Enqueue(context.Background(), JobData{GuildID: "g1"}) // no storage key
	require.NoError(t, err)
	assert.Empty(t, jobID)
}

// requireQueuesDrained waits until no queue, lease, delay entry, or job
// record remains for the given jobId. The record transition lands before the
// cleanup, so the drain trails the observable status change slightly.
func requireQueuesDrained(t *testing.T, store meta.Store, jobID string) {
	t.Helper()
	ctx := context.Background()

	require.Eventually(t, func() bool {
		qn, err := store.LLen(ctx, queueKey)
		if err != nil || qn != 0 {
			return false
		}
		pn, err := store.LLen(ctx, processingKey)
		if err != nil || pn != 0 {
			return false
		}
		z, err := store.ZCard(ctx, delayedKey)
		if err != nil || z != 0 {
			return false
		}
		exists, err := store.Exists(ctx, jobKey(jobID))
		return err == nil && !exists
	}, 5*time.Second, 10*time.Millisecond, "queue state should drain for %s", jobID)
}

func TestWorker_ProcessesJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/p.jpg"
	putTestObject(t, objects, key)

	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec, err := w.Records().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.Gradient)
	assert.Equal(t, "#112233", rec.Gradient.Primary)

	requireQueuesDrained(t, store, jobID)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.JobsProcessed)
	assert.True(t, stats.IsRunning)
	assert.True(t, stats.IsEnabled)
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/q.jpg"
	putTestObject(t, objects, key)
	objects.FailGets = 2 // first two attempts fail the download

	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	rec, err := w.Records().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts)

	requireQueuesDrained(t, store, jobID)
}

func TestWorker_RetriesExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/r.jpg"
	putTestObject(t, objects, key)
	objects.FailGets = 100 // every attempt fails

	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	rec, err := w.Records().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts, "job dispatched exactly maxRetries times")
	assert.Contains(t, rec.LastError, "S3 download failed")

	requireQueuesDrained(t, store, jobID)

	stats := w.Stats()
	assert.Equal(t, int64(3), stats.JobsFailed)
	assert.Zero(t, stats.JobsProcessed)
}

func TestWorker_PromotesDelayedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/s.jpg"
	putTestObject(t, objects, key)

	// Simulate a job parked in the delayed set with a ready-at in the past.
	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)
	popped, err := store.BLMove(ctx, queueKey, processingKey, time.Second)
	require.NoError(t, err)
	require.Equal(t, jobID, popped)
	require.NoError(t, store.LRem(ctx, processingKey, 0, jobID))
	require.NoError(t, store.ZAdd(ctx, delayedKey, float64(time.Now().Add(-time.Second).UnixMilli()), jobID))

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	requireQueuesDrained(t, store, jobID)
}

func TestWorker_RecoversOrphanedLeases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/t.jpg"
	putTestObject(t, objects, key)

	// A previous process crashed mid-job: the jobId sits in the processing
	// list with its record intact.
	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)
	_, err = store.BLMove(ctx, queueKey, processingKey, time.Second)
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	requireQueuesDrained(t, store, jobID)
}

func TestWorker_DropsUnparseableJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	w := NewWorker(testWorkerConfig(), store, objmem.New(), stubComputer{}, nil)

	require.NoError(t, store.Set(ctx, jobKey("gradient-bad"), "{corrupt", JobTTL))
	require.NoError(t, store.RPush(ctx, queueKey, "gradient-bad"))

	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		exists, err := store.Exists(ctx, jobKey("gradient-bad"))
		n, lerr := store.LLen(ctx, processingKey)
		return err == nil && !exists && lerr == nil && n == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEnqueue_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := metamem.New()
	w := NewWorker(testWorkerConfig(), store, objmem.New(), stubComputer{}, nil)

	data := JobData{GuildID: "g1", GalleryName: "summer", StorageKey: "summer/uploads/2026-08-24/u.jpg"}

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = w.Enqueue(ctx, data)
		}(i)
	}
	wg.Wait()

	want := JobIDFor(data.StorageKey)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want, ids[i])
	}

	qn, err := store.LLen(ctx, queueKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), qn, "concurrent enqueues push exactly one job")
}

// flakyMetaStore fails a bounded number of writes of completed records and
// passes everything else through.
type flakyMetaStore struct {
	*metamem.MetaStore
	remaining atomic.Int32
}

func (s *flakyMetaStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if strings.Contains(value, string(StatusCompleted)) && s.remaining.Add(-1) >= 0 {
		return fmt.Errorf("connection reset by peer")
	}
	return s.MetaStore.Set(ctx, key, value, ttl)
}

func TestWorker_KeepsLeaseWhenCompletionWriteFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &flakyMetaStore{MetaStore: metamem.New()}
	store.remaining.Store(1)
	objects := objmem.New()
	w := NewWorker(testWorkerConfig(), store, objects, stubComputer{}, nil)

	key := "summer/uploads/2026-08-24/v.jpg"
	putTestObject(t, objects, key)

	jobID, err := w.Enqueue(ctx, JobData{GuildID: "g1", GalleryName: "summer", StorageKey: key})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return store.remaining.Load() <= 0
	}, 5*time.Second, 10*time.Millisecond, "the completed write should be attempted and fail")
	require.NoError(t, w.Stop())

	// The failed record write must leave the job fully recoverable: record
	// non-terminal, job key intact, lease still in gradient:processing.
	rec, err := w.Records().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, rec.Status)

	exists, err := store.Exists(ctx, jobKey(jobID))
	require.NoError(t, err)
	assert.True(t, exists, "job record survives the failed completion write")

	n, err := store.LLen(ctx, processingKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "lease stays leased for recovery")

	// The next start recovers the lease and reprocessing lands the record.
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	require.Eventually(t, func() bool {
		rec, err := w.Records().Get(ctx, key)
		return err == nil && rec != nil && rec.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec, err = w.Records().Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)

	requireQueuesDrained(t, store, jobID)
}

func TestWorker_StopBeforeStart(t *testing.T) {
	t.Parallel()

	w := NewWorker(testWorkerConfig(), metamem.New(), objmem.New(), stubComputer{}, nil)
	require.NoError(t, w.Stop())
	assert.False(t, w.Stats().IsRunning)
}

func TestWorker_DisabledStartIsNoop(t *testing.T) {
	t.Parallel()

	cfg := testWorkerConfig()
	cfg.Enabled = false
	w := NewWorker(cfg, metamem.New(), objmem.New(), stubComputer{}, nil)

	require.NoError(t, w.Start(context.Background()))
	stats := w.Stats()
	assert.False(t, stats.IsRunning)
	assert.False(t, stats.IsEnabled)
	require.NoError(t, w.Stop())
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	w := NewWorker(testWorkerConfig(), metamem.New(), objmem.New(), stubComputer{}, nil)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.Stats().IsRunning)
}
