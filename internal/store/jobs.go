package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/techask2021/fsmvid-sub005/internal/job"
)

const jobsTable = "bulk_jobs"

// Jobs is the bulk job repository. It is the only writer of a job record
// while the job is processing; claiming is an atomic conditional update so
// two workers never own the same job.
type Jobs struct {
	db *DB
	qb squirrel.StatementBuilderType
}

// NewJobs creates the job repository.
func NewJobs(db *DB) *Jobs {
	return &Jobs{
		db: db,
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new queued job.
func (r *Jobs) Create(ctx context.Context, j *job.Job) error {
	query := r.qb.Insert(jobsTable).
		Columns(
			"id", "user_id", "urls", "quality", "format",
			"total_files", "current_index", "completed_files", "failed_files", "progress",
			"status", "credits_charged", "failed_urls",
			"created_at", "updated_at",
		).
		Values(
			j.ID, j.UserID, j.URLs, j.Quality, j.Format,
			j.TotalFiles, j.CurrentIndex, j.CompletedFiles, j.FailedFiles, j.Progress,
			j.Status, j.CreditsCharged, j.FailedURLs,
			j.CreatedAt, j.UpdatedAt,
		)

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.exec(ctx, "jobs.create", sqlQuery, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	r.db.metrics.IncrementCounter("jobs.created", nil)
	return nil
}

// Get fetches a job by id.
func (r *Jobs) Get(ctx context.Context, id string) (*job.Job, error) {
	query := r.qb.Select("*").From(jobsTable).Where(squirrel.Eq{"id": id})

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var j job.Job
	if err := r.db.get(ctx, "jobs.get", &j, sqlQuery, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// Claim transitions a specific job from queued to processing. Returns false
// without error when another worker already claimed it.
func (r *Jobs) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	query := r.qb.Update(jobsTable).
		Set("status", job.StatusProcessing).
		Set("started_at", now).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id, "status": job.StatusQueued})

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build claim: %w", err)
	}

	affected, err := r.db.exec(ctx, "jobs.claim", sqlQuery, args...)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	if affected == 1 {
		r.db.metrics.IncrementCounter("jobs.claimed", nil)
	}
	return affected == 1, nil
}

// NextQueued atomically claims the oldest queued job. Returns ErrNotFound
// when the queue is empty. SKIP LOCKED keeps concurrent pollers from
// blocking on each other.
func (r *Jobs) NextQueued(ctx context.Context) (*job.Job, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM %s
			WHERE status = $3
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, jobsTable, jobsTable)

	now := time.Now().UTC()
	var j job.Job
	err := r.db.get(ctx, "jobs.next_queued", &j, query, job.StatusProcessing, now, job.StatusQueued)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim next queued job: %w", err)
	}

	r.db.metrics.IncrementCounter("jobs.claimed", nil)
	return &j, nil
}

// ReclaimStalled picks up a processing job whose last progress update is
// older than the stall window. This is the resume path when a worker died
// or a serverless invocation hit its wall-clock limit mid-job.
func (r *Jobs) ReclaimStalled(ctx context.Context, stallWindow time.Duration) (*job.Job, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET updated_at = $1
		WHERE id = (
			SELECT id FROM %s
			WHERE status = $2 AND updated_at < $3
			ORDER BY updated_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, jobsTable, jobsTable)

	now := time.Now().UTC()
	cutoff := now.Add(-stallWindow)

	var j job.Job
	err := r.db.get(ctx, "jobs.reclaim_stalled", &j, query, now, job.StatusProcessing, cutoff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reclaim stalled job: %w", err)
	}

	r.db.logger.Warn("reclaimed stalled job", "job_id", j.ID, "current_index", j.CurrentIndex)
	r.db.metrics.IncrementCounter("jobs.reclaimed", nil)
	return &j, nil
}

// UpdateProgress persists the per-URL checkpoint: counters, failed urls and
// progress. Called after every attempted URL so a concurrent status poll
// observes a prefix of attempts.
func (r *Jobs) UpdateProgress(ctx context.Context, j *job.Job) error {
	query := r.qb.Update(jobsTable).
		Set("current_index", j.CurrentIndex).
		Set("completed_files", j.CompletedFiles).
		Set("failed_files", j.FailedFiles).
		Set("progress", j.Progress).
		Set("failed_urls", j.FailedURLs).
		Set("updated_at", j.UpdatedAt).
		Where(squirrel.Eq{"id": j.ID, "status": job.StatusProcessing})

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build progress update: %w", err)
	}

	affected, err := r.db.exec(ctx, "jobs.update_progress", sqlQuery, args...)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update job progress: %w", ErrNotFound)
	}
	return nil
}

// Finalize persists a terminal state together with the archive fields (on
// completion) or the error message (on failure).
func (r *Jobs) Finalize(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return fmt.Errorf("finalize called with non-terminal status %s", j.Status)
	}

	query := r.qb.Update(jobsTable).
		Set("status", j.Status).
		Set("current_index", j.CurrentIndex).
		Set("completed_files", j.CompletedFiles).
		Set("failed_files", j.FailedFiles).
		Set("progress", j.Progress).
		Set("failed_urls", j.FailedURLs).
		Set("completed_at", j.CompletedAt).
		Set("updated_at", j.UpdatedAt).
		Where(squirrel.Eq{"id": j.ID, "status": job.StatusProcessing})

	if j.ArchivePath != nil {
		query = query.Set("archive_path", *j.ArchivePath)
	}
	if j.ArchiveURL != nil {
		query = query.Set("archive_url", *j.ArchiveURL)
	}
	if j.ArchiveSize != nil {
		query = query.Set("archive_size", *j.ArchiveSize)
	}
	if j.ArchiveExpiresAt != nil {
		query = query.Set("archive_expires_at", *j.ArchiveExpiresAt)
	}
	if j.ErrorMessage != nil {
		query = query.Set("error_message", *j.ErrorMessage)
	}

	sqlQuery, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build finalize: %w", err)
	}

	affected, err := r.db.exec(ctx, "jobs.finalize", sqlQuery, args...)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finalize job: %w", ErrNotFound)
	}

	r.db.metrics.IncrementCounter("jobs.finalized", map[string]string{"status": string(j.Status)})
	return nil
}
