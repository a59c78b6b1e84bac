package gradient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pictorhq/pictor/internal/logger"
	"github.com/pictorhq/pictor/pkg/store/meta"
	"github.com/pictorhq/pictor/pkg/store/object"
)

// JobTTL bounds how long an unprocessed job record survives.
const JobTTL = 24 * time.Hour

// Config controls the gradient worker.
type Config struct {
	// Enabled is the master switch. When false, Enqueue returns an empty
	// jobId and has no side effects, and Start is a no-op.
	Enabled bool

	// Concurrency bounds how many jobs process in parallel.
	Concurrency int

	// MaxRetries bounds dispatch attempts per job before the record goes
	// terminally failed.
	MaxRetries int

	// PollInterval is the blocking-pop timeout on the queue.
	PollInterval time.Duration

	// PromoteInterval is how often delayed jobs are checked for readiness.
	PromoteInterval time.Duration

	// RetryBase is the unit of the exponential backoff: a job that has
	// failed n times is retried after 2^n * RetryBase.
	RetryBase time.Duration

	// ShutdownTimeout is the hard bound on graceful shutdown.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 2
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 3
	}
	if c.PollInterval < 100*time.Millisecond {
		c.PollInterval = time.Second
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Worker consumes gradient jobs from the durable queue and produces gradient
// records.
//
// Delivery is at-least-once: a crash between lease and completion leaves the
// jobId in gradient:processing, and the next Start moves it back onto the
// queue. Reprocessing is safe because record writes are idempotent and a
// completed record never regresses.
type Worker struct {
	cfg      Config
	store    meta.Store
	objects  object.Store
	records  *Meta
	computer Computer
	metrics  *Metrics

	mu      sync.Mutex // serializes Start and Stop
	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	sem     chan struct{}
	jobs    sync.WaitGroup

	now func() time.Time
}

// NewWorker wires a gradient worker. metrics may be nil, in which case an
// unregistered instance is created.
func NewWorker(cfg Config, store meta.Store, objects object.Store, computer Computer, metrics *Metrics) *Worker {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		objects:  objects,
		records:  NewMeta(store),
		computer: computer,
		metrics:  metrics,
		sem:      make(chan struct{}, cfg.Concurrency),
		now:      time.Now,
	}
}

// Records exposes the gradient record accessor backed by the same store.
func (w *Worker) Records() *Meta {
	return w.records
}

// Stats returns a snapshot of worker health.
func (w *Worker) Stats() Stats {
	s := w.metrics.Snapshot()
	s.IsRunning = w.running.Load()
	s.IsEnabled = w.cfg.Enabled
	return s
}

// Enqueue schedules gradient extraction for a stored object.
//
// Returns the jobId, or "" when the worker is disabled or the data is
// invalid. Enqueueing a storage key whose job record still exists returns
// the existing jobId without pushing a duplicate.
func (w *Worker) Enqueue(ctx context.Context, data JobData) (string, error) {
	if !w.cfg.Enabled {
		return "", nil
	}
	if !data.Valid() {
		logger.Warn("rejecting invalid gradient job", logger.Key(data.StorageKey))
		return "", nil
	}

	jobID := JobIDFor(data.StorageKey)

	job := Job{
		JobID:     jobID,
		Data:      data,
		CreatedAt: w.now().UnixMilli(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	// SetNX is the dedup guard: of any concurrent enqueues for the same
	// storage key, exactly one creates the job record and pushes.
	created, err := w.store.SetNX(ctx, jobKey(jobID), string(raw), JobTTL)
	if err != nil {
		return "", err
	}
	if !created {
		return jobID, nil
	}

	if err := w.records.MarkPending(ctx, data.StorageKey); err != nil {
		return "", err
	}
	if err := w.store.RPush(ctx, queueKey, jobID); err != nil {
		return "", err
	}

	logger.Debug("gradient job enqueued", logger.JobID(jobID), logger.Key(data.StorageKey))
	return jobID, nil
}

// EnqueueGradient adapts Enqueue to the upload pipeline's interface.
func (w *Worker) EnqueueGradient(ctx context.Context, guildID, galleryName, storageKey, itemID string) (string, error) {
	return w.Enqueue(ctx, JobData{
		GuildID:     guildID,
		GalleryName: galleryName,
		StorageKey:  storageKey,
		ItemID:      itemID,
	})
}

// Start recovers orphaned leases and launches the dispatch loop and the
// delayed-job promoter. Returns immediately; the loops run until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.cfg.Enabled {
		logger.Info("gradient worker disabled")
		return nil
	}
	if w.running.Load() {
		return fmt.Errorf("gradient worker already running")
	}

	if err := w.recoverOrphans(ctx); err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.group, runCtx = errgroup.WithContext(runCtx)

	loopCtx := runCtx
	w.group.Go(func() error {
		w.dispatch(loopCtx)
		return nil
	})
	w.group.Go(func() error {
		w.promote(loopCtx)
		return nil
	})

	// The running flag flips only after cancel and group are in place, so a
	// concurrent Stop always sees a fully started worker or a stopped one.
	w.running.Store(true)

	logger.Info("gradient worker started",
		"concurrency", w.cfg.Concurrency,
		"max_retries", w.cfg.MaxRetries,
		"poll_interval", w.cfg.PollInterval.String(),
	)
	return nil
}

// Stop shuts the worker down: the running flag drops, the promoter and
// dispatch loops observe cancellation, and in-flight jobs get until
// ShutdownTimeout to finish. Unfinished leases stay in gradient:processing
// and are recovered on the next Start.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running.Load() {
		return nil
	}
	w.running.Store(false)
	w.cancel()

	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		w.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("gradient worker stopped")
		return nil
	case <-time.After(w.cfg.ShutdownTimeout):
		logger.Warn("gradient worker shutdown timed out with jobs in flight")
		return fmt.Errorf("gradient worker shutdown timed out after %s", w.cfg.ShutdownTimeout)
	}
}

// recoverOrphans moves jobIds stranded in gradient:processing by a previous
// crash back onto the queue.
func (w *Worker) recoverOrphans(ctx context.Context) error {
	orphans, err := w.store.LRange(ctx, processingKey, 0, -1)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	logger.Warn("re-queueing orphaned gradient jobs", "count", len(orphans))
	if err := w.store.RPush(ctx, queueKey, orphans...); err != nil {
		return err
	}
	return w.store.Del(ctx, processingKey)
}

// dispatch is the long-lived consume loop: block-pop a jobId into the
// processing list, then hand it to a bounded pool.
func (w *Worker) dispatch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobID, err := w.store.BLMove(ctx, queueKey, processingKey, w.cfg.PollInterval)
		if errors.Is(err, meta.ErrNotFound) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("gradient queue pop failed", logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			// The lease stays in gradient:processing and is recovered
			// on the next start.
			return
		}

		w.jobs.Add(1)
		go func(id string) {
			defer func() {
				<-w.sem
				w.jobs.Done()
			}()
			w.processJob(ctx, id)
		}(jobID)
	}
}

// promote periodically moves delayed jobs whose ready-at time has passed
// back onto the main queue, atomically. Transient store errors are logged
// and retried on the next tick; jobs are never dropped here.
func (w *Worker) promote(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := float64(w.now().UnixMilli())
		ready, err := w.store.ZRangeByScore(ctx, delayedKey, now)
		if err != nil {
			logger.Warn("failed to scan delayed gradient jobs", logger.Err(err))
			continue
		}
		if len(ready) == 0 {
			continue
		}

		if err := w.store.MoveDelayed(ctx, delayedKey, queueKey, ready); err != nil {
			logger.Warn("failed to promote delayed gradient jobs", logger.Err(err))
			continue
		}
		logger.Debug("promoted delayed gradient jobs", "count", len(ready))
	}
}

// processJob runs one leased job to completion, retry scheduling, or
// terminal failure. The lease in gradient:processing drops only once the
// outcome is durably recorded; a failed record write keeps the lease so the
// next Start reprocesses the job.
func (w *Worker) processJob(ctx context.Context, jobID string) {
	start := w.now()

	raw, err := w.store.Get(ctx, jobKey(jobID))
	if errors.Is(err, meta.ErrNotFound) {
		w.dropLease(ctx, jobID)
		return
	}
	if err != nil {
		logger.Warn("failed to load gradient job", logger.JobID(jobID), logger.Err(err))
		w.dropLease(ctx, jobID)
		return
	}

	var job Job
	if jsonErr := json.Unmarshal([]byte(raw), &job); jsonErr != nil || !job.Data.Valid() {
		logger.Warn("deleting unparseable gradient job", logger.JobID(jobID))
		_ = w.store.Del(ctx, jobKey(jobID))
		w.dropLease(ctx, jobID)
		return
	}

	if err := w.records.MarkProcessing(ctx, job.Data.StorageKey); err != nil {
		logger.Warn("failed to mark gradient processing", logger.Key(job.Data.StorageKey), logger.Err(err))
	}

	job.Attempts++
	if rawJob, jsonErr := json.Marshal(job); jsonErr == nil {
		_ = w.store.Set(ctx, jobKey(jobID), string(rawJob), JobTTL)
	}
	_ = w.records.SetAttempts(ctx, job.Data.StorageKey, job.Attempts)

	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	g, runErr := w.runJob(ctx, job)
	if runErr == nil {
		// The record transition lands before any queue state is cleared. A
		// crash or store failure here leaves the lease in place, and the
		// recovered job reprocesses idempotently; the inverse order would
		// strand a non-terminal record with nothing left to retry.
		if err := w.records.MarkCompleted(ctx, job.Data.StorageKey, g); err != nil {
			logger.Warn("failed to mark gradient completed, keeping lease for recovery",
				logger.Key(job.Data.StorageKey), logger.Err(err))
			return
		}
		w.metrics.JobSucceeded(w.now().Sub(start).Milliseconds())
		_ = w.store.Del(ctx, jobKey(jobID))
		w.dropLease(ctx, jobID)
		logger.Info("gradient job completed",
			logger.JobID(jobID),
			logger.Attempt(job.Attempts),
			logger.DurationMs(float64(w.now().Sub(start).Milliseconds())),
		)
		return
	}

	w.metrics.JobFailed()

	if job.Attempts >= w.cfg.MaxRetries {
		logger.Error("gradient job failed permanently",
			logger.JobID(jobID),
			logger.Attempt(job.Attempts),
			logger.Err(runErr),
		)
		if err := w.records.MarkFailed(ctx, job.Data.StorageKey, runErr); err != nil {
			logger.Warn("failed to mark gradient failed, keeping lease for recovery",
				logger.Key(job.Data.StorageKey), logger.Err(err))
			return
		}
		_ = w.store.Del(ctx, jobKey(jobID))
		w.dropLease(ctx, jobID)
		return
	}

	// Exponential backoff: 2^attempts * RetryBase. The delayed entry is
	// written before the lease drops so the job is always in at least one
	// queue.
	delay := time.Duration(1<<uint(job.Attempts)) * w.cfg.RetryBase
	readyAt := float64(w.now().Add(delay).UnixMilli())
	if err := w.store.ZAdd(ctx, delayedKey, readyAt, jobID); err != nil {
		logger.Error("failed to schedule gradient retry, keeping lease for recovery",
			logger.JobID(jobID), logger.Err(err))
		return
	}
	w.dropLease(ctx, jobID)
	logger.Warn("gradient job failed, retry scheduled",
		logger.JobID(jobID),
		logger.Attempt(job.Attempts),
		"delay", delay.String(),
		logger.Err(runErr),
	)
}

// runJob does the actual work: fetch the object bytes and compute the
// gradient.
func (w *Worker) runJob(ctx context.Context, job Job) (*Gradient, error) {
	rc, _, err := w.objects.Get(ctx, job.Data.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("S3 download failed: %w", err)
	}
	data, readErr := io.ReadAll(rc)
	_ = rc.Close()
	if readErr != nil {
		return nil, fmt.Errorf("S3 download failed: %w", readErr)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("S3 download failed: empty object body")
	}

	g, err := w.computer.Compute(ctx, data)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Primary == "" || g.Secondary == "" {
		return nil, fmt.Errorf("gradient computation returned incomplete colors")
	}
	return g, nil
}

func (w *Worker) dropLease(ctx context.Context, jobID string) {
	if err := w.store.LRem(ctx, processingKey, 0, jobID); err != nil {
		logger.Warn("failed to remove gradient lease", logger.JobID(jobID), logger.Err(err))
	}
}

// SetClock replaces the worker clock. Test hook.
func (w *Worker) SetClock(now func() time.Time) { w.now = now }
