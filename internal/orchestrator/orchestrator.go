// Package orchestrator drives bulk download jobs from submission through
// archive delivery: it charges credits, walks the job's URLs through the
// resolver and fetcher, stages files in object storage, and finalizes the
// job with a zip archive and a time-limited download URL.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/archive"
	"github.com/techask2021/fsmvid-sub005/internal/config"
	"github.com/techask2021/fsmvid-sub005/internal/job"
	"github.com/techask2021/fsmvid-sub005/internal/media"
	"github.com/techask2021/fsmvid-sub005/internal/observability"
	"github.com/techask2021/fsmvid-sub005/internal/queue"
	"github.com/techask2021/fsmvid-sub005/internal/resolver"
	"github.com/techask2021/fsmvid-sub005/internal/storage"
	"github.com/techask2021/fsmvid-sub005/internal/store"
)

var (
	// ErrTooManyURLs is returned when a submission exceeds the per-job cap.
	ErrTooManyURLs = errors.New("too many urls in one job")

	// ErrUnsupportedURL is returned when a submitted URL matches no
	// supported platform.
	ErrUnsupportedURL = errors.New("unsupported platform url")

	// ErrJobLost is returned when a progress checkpoint fails because the
	// job is no longer owned by this worker.
	ErrJobLost = errors.New("job no longer in processing state")
)

// MediaResolver resolves a source URL into downloadable options.
type MediaResolver interface {
	Resolve(ctx context.Context, sourceURL string) ([]media.Option, error)
}

// Fetcher downloads a remote file.
type Fetcher interface {
	FetchParallel(ctx context.Context, remoteURL string) ([]byte, error)
}

// JobStore is the persistence surface the orchestrator needs.
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Claim(ctx context.Context, id string) (bool, error)
	NextQueued(ctx context.Context) (*job.Job, error)
	ReclaimStalled(ctx context.Context, stallWindow time.Duration) (*job.Job, error)
	UpdateProgress(ctx context.Context, j *job.Job) error
	Finalize(ctx context.Context, j *job.Job) error
}

// CreditLedger charges and settles user credits.
type CreditLedger interface {
	Debit(ctx context.Context, userID string, amount int) error
	Settle(ctx context.Context, userID, jobID string, delivered, total, charged int) error
}

// Publisher enqueues claimed-by-id job messages for queue-driven workers.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Orchestrator coordinates the bulk download pipeline.
type Orchestrator struct {
	cfg      config.JobsConfig
	jobs     JobStore
	ledger   CreditLedger
	resolver MediaResolver
	fetcher  Fetcher
	storage  storage.ObjectStorage
	queue    Publisher
	logger   observability.Logger
	metrics  observability.Metrics
}

// New creates an orchestrator. queue may be nil for runtimes that only poll
// the database for work.
func New(
	cfg config.JobsConfig,
	jobs JobStore,
	ledger CreditLedger,
	mediaResolver MediaResolver,
	fetcher Fetcher,
	objStorage storage.ObjectStorage,
	publisher Publisher,
	logger observability.Logger,
	metrics observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		jobs:     jobs,
		ledger:   ledger,
		resolver: mediaResolver,
		fetcher:  fetcher,
		storage:  objStorage,
		queue:    publisher,
		logger:   logger.WithFields(map[string]interface{}{"component": "orchestrator"}),
		metrics:  metrics.WithTags(map[string]string{"component": "orchestrator"}),
	}
}

// Submit validates a bulk request, charges credits up front and persists a
// queued job. Credits are refunded if the job cannot be persisted.
func (o *Orchestrator) Submit(ctx context.Context, userID string, urls []string, quality, format string) (*job.Job, error) {
	if len(urls) == 0 {
		return nil, job.ErrNoURLs
	}
	if len(urls) > o.cfg.MaxURLs {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyURLs, len(urls), o.cfg.MaxURLs)
	}

	// URLs are stored as submitted so status responses and failure lists
	// echo what the user sent; the resolver normalizes for its own cache.
	for _, u := range urls {
		if !resolver.Supported(u) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, u)
		}
	}

	cost := len(urls) * o.cfg.CreditsPerFile
	if err := o.ledger.Debit(ctx, userID, cost); err != nil {
		return nil, err
	}

	q := string(media.ParseQuality(quality))
	f := string(media.ParseFormat(format))

	j, err := job.New(userID, urls, q, f, cost)
	if err != nil {
		o.refundAll(ctx, userID, "", cost, len(urls))
		return nil, err
	}

	if err := o.jobs.Create(ctx, j); err != nil {
		o.refundAll(ctx, userID, j.ID, cost, len(urls))
		return nil, fmt.Errorf("persist job: %w", err)
	}

	o.metrics.IncrementCounter("orchestrator.jobs.submitted", nil)
	o.logger.Info("job submitted",
		"job_id", j.ID, "user_id", userID, "urls", len(urls), "credits", cost)

	if o.queue != nil {
		body, err := queue.EncodeJobMessage(j.ID)
		if err == nil {
			err = o.queue.Publish(ctx, body)
		}
		if err != nil {
			// Poll workers pick up queued jobs from the database, so a
			// publish failure delays the job rather than losing it.
			o.logger.Warn("failed to publish job message", "job_id", j.ID, "error", err)
		}
	}

	return j, nil
}

func (o *Orchestrator) refundAll(ctx context.Context, userID, jobID string, charged, total int) {
	if err := o.ledger.Settle(ctx, userID, jobID, 0, total, charged); err != nil {
		o.logger.Error("failed to refund credits", "user_id", userID, "job_id", jobID, "error", err)
	}
}

// ProcessByID claims the job and runs it. Returns nil without work when
// another worker already claimed it.
func (o *Orchestrator) ProcessByID(ctx context.Context, jobID string) error {
	claimed, err := o.jobs.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		o.logger.Debug("job already claimed elsewhere", "job_id", jobID)
		return nil
	}

	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return o.Process(ctx, j)
}

// Process runs a claimed job from its checkpoint to a terminal state. The
// job must already be in processing state; resuming a reclaimed job skips
// the URLs attempted before the previous worker died.
func (o *Orchestrator) Process(ctx context.Context, j *job.Job) error {
	if j.Status != job.StatusProcessing {
		return job.ErrNotProcessing
	}

	start := time.Now()
	o.logger.Info("processing job",
		"job_id", j.ID, "total_files", j.TotalFiles, "current_index", j.CurrentIndex)

	for i := j.CurrentIndex; i < len(j.URLs); i++ {
		if err := ctx.Err(); err != nil {
			// Leave the job in processing state; the stall reclaimer will
			// resume it from the persisted checkpoint.
			return err
		}

		sourceURL := j.URLs[i]
		if err := o.attemptURL(ctx, j, i, sourceURL); err != nil {
			o.metrics.IncrementCounter("orchestrator.files.failed", nil)
			o.logger.Warn("url failed", "job_id", j.ID, "url", sourceURL, "error", err)
			if recErr := j.RecordFailure(sourceURL, err.Error()); recErr != nil {
				return recErr
			}
		} else {
			o.metrics.IncrementCounter("orchestrator.files.completed", nil)
			if recErr := j.RecordSuccess(); recErr != nil {
				return recErr
			}
		}

		if err := o.jobs.UpdateProgress(ctx, j); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				o.logger.Warn("lost job ownership, aborting", "job_id", j.ID)
				return ErrJobLost
			}
			return err
		}
	}

	err := o.finalize(ctx, j)
	o.metrics.RecordHistogram("orchestrator.job.duration_seconds", time.Since(start).Seconds(), nil)
	return err
}

// attemptURL resolves, downloads and stages one source URL.
func (o *Orchestrator) attemptURL(ctx context.Context, j *job.Job, index int, sourceURL string) error {
	options, err := o.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	option, err := media.Select(options, media.ParseQuality(j.Quality), media.ParseFormat(j.Format))
	if err != nil {
		return err
	}

	data, err := o.fetcher.FetchParallel(ctx, option.URL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	key := stagingPrefix(j.ID) + archive.EntryName(index, deriveTitle(sourceURL), option.Format)
	meta := storage.ObjectMetadata{
		ContentType:   contentTypeFor(option.Format),
		ContentLength: int64(len(data)),
	}
	if err := o.storage.Put(ctx, key, bytes.NewReader(data), meta); err != nil {
		return fmt.Errorf("stage file: %w", err)
	}
	return nil
}

// finalize moves the job to its terminal state: failed when nothing was
// delivered, otherwise completed with a zip archive of the staged files.
func (o *Orchestrator) finalize(ctx context.Context, j *job.Job) error {
	if j.CompletedFiles == 0 {
		if err := j.Fail("all downloads failed"); err != nil {
			return err
		}
	} else if err := o.buildArchive(ctx, j); err != nil {
		o.logger.Error("archive build failed", "job_id", j.ID, "error", err)
		if failErr := j.Fail(fmt.Sprintf("archive build failed: %v", err)); failErr != nil {
			return failErr
		}
	}

	if err := o.jobs.Finalize(ctx, j); err != nil {
		return err
	}

	// A failed job delivered nothing the user can download, even when some
	// files were staged before the failure.
	delivered := j.CompletedFiles
	if j.Status == job.StatusFailed {
		delivered = 0
	}
	if err := o.ledger.Settle(ctx, j.UserID, j.ID, delivered, j.TotalFiles, j.CreditsCharged); err != nil {
		o.logger.Error("credit settlement failed", "job_id", j.ID, "error", err)
	}

	o.cleanupStaging(ctx, j.ID)

	o.metrics.IncrementCounter("orchestrator.jobs.finished",
		map[string]string{"status": string(j.Status)})
	o.logger.Info("job finished",
		"job_id", j.ID, "status", j.Status,
		"completed", j.CompletedFiles, "failed", j.FailedFiles)
	return nil
}

func (o *Orchestrator) buildArchive(ctx context.Context, j *job.Job) error {
	prefix := stagingPrefix(j.ID)
	staged, err := o.storage.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list staged files: %w", err)
	}
	if len(staged) == 0 {
		return fmt.Errorf("no staged files under %s", prefix)
	}

	var buf bytes.Buffer
	builder := archive.NewBuilder(&buf)
	for _, obj := range staged {
		rc, err := o.storage.Get(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("read staged file %s: %w", obj.Key, err)
		}
		err = builder.AddFrom(strings.TrimPrefix(obj.Key, prefix), rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("add archive entry: %w", err)
		}
	}
	if err := builder.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	expiresAt := time.Now().UTC().Add(o.cfg.ArchiveTTL)
	key := archiveKey(j.ID)
	meta := storage.ObjectMetadata{
		ContentType:   "application/zip",
		ContentLength: int64(buf.Len()),
		ExpiresAt:     &expiresAt,
	}
	if err := o.storage.Put(ctx, key, bytes.NewReader(buf.Bytes()), meta); err != nil {
		return fmt.Errorf("store archive: %w", err)
	}

	archiveURL, err := o.storage.PresignedURL(ctx, key, o.cfg.ArchiveTTL)
	if err != nil {
		return fmt.Errorf("presign archive url: %w", err)
	}

	return j.Complete(key, archiveURL, int64(buf.Len()), expiresAt)
}

// cleanupStaging removes per-file staged objects once the job is terminal.
// Best effort; leftovers are harmless and only cost storage.
func (o *Orchestrator) cleanupStaging(ctx context.Context, jobID string) {
	prefix := stagingPrefix(jobID)
	staged, err := o.storage.List(ctx, prefix)
	if err != nil {
		o.logger.Warn("failed to list staged files for cleanup", "job_id", jobID, "error", err)
		return
	}
	for _, obj := range staged {
		if err := o.storage.Delete(ctx, obj.Key); err != nil {
			o.logger.Warn("failed to delete staged file", "key", obj.Key, "error", err)
		}
	}
}

func stagingPrefix(jobID string) string {
	return "jobs/" + jobID + "/files/"
}

func archiveKey(jobID string) string {
	return "jobs/" + jobID + "/archive.zip"
}

// deriveTitle builds a human-readable archive entry title from the source
// URL: platform host plus the last path segment.
func deriveTitle(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if dot := strings.IndexByte(host, '.'); dot > 0 {
		host = host[:dot]
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := ""
	if len(segments) > 0 {
		last = segments[len(segments)-1]
	}
	if last == "" {
		return host
	}
	return host + "_" + last
}

func contentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
