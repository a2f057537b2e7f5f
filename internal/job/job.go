// Package job defines the bulk download job entity and its state machine.
package job

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FailedURL records one source URL that could not be delivered, with a
// human-readable reason.
type FailedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// FailedURLList is stored as a JSONB column.
type FailedURLList []FailedURL

// Value implements driver.Valuer.
func (l FailedURLList) Value() (driver.Value, error) {
	if l == nil {
		l = FailedURLList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *FailedURLList) Scan(src interface{}) error {
	if src == nil {
		*l = FailedURLList{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into FailedURLList", src)
	}
	return json.Unmarshal(data, l)
}

// Job is one bulk download request covering multiple source URLs, tracked as
// a single record through to archive delivery.
type Job struct {
	ID     string         `db:"id"`
	UserID string         `db:"user_id"`
	URLs   pq.StringArray `db:"urls"`

	Quality string `db:"quality"`
	Format  string `db:"format"`

	TotalFiles     int `db:"total_files"`
	CurrentIndex   int `db:"current_index"`
	CompletedFiles int `db:"completed_files"`
	FailedFiles    int `db:"failed_files"`
	Progress       int `db:"progress"`

	Status Status `db:"status"`

	ArchivePath      *string    `db:"archive_path"`
	ArchiveSize      *int64     `db:"archive_size"`
	ArchiveURL       *string    `db:"archive_url"`
	ArchiveExpiresAt *time.Time `db:"archive_expires_at"`

	CreditsCharged int           `db:"credits_charged"`
	FailedURLs     FailedURLList `db:"failed_urls"`
	ErrorMessage   *string       `db:"error_message"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// New creates a queued job for the given URLs. Credits are recorded here but
// debited by the ledger before the job is persisted.
func New(userID string, urls []string, quality, format string, creditsCharged int) (*Job, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	now := time.Now().UTC()
	return &Job{
		ID:             uuid.NewString(),
		UserID:         userID,
		URLs:           append(pq.StringArray{}, urls...),
		Quality:        quality,
		Format:         format,
		TotalFiles:     len(urls),
		Status:         StatusQueued,
		CreditsCharged: creditsCharged,
		FailedURLs:     FailedURLList{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Start transitions the job from queued to processing.
func (j *Job) Start() error {
	if j.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if j.Status == StatusProcessing {
		return ErrAlreadyProcessing
	}

	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// RecordSuccess counts one delivered file and advances the checkpoint.
func (j *Job) RecordSuccess() error {
	if j.Status != StatusProcessing {
		return ErrNotProcessing
	}
	if j.Attempted() >= j.TotalFiles {
		return ErrAttemptsExhausted
	}

	j.CompletedFiles++
	j.advance()
	return nil
}

// RecordFailure counts one per-URL failure and advances the checkpoint. A
// per-URL failure is never fatal to the job.
func (j *Job) RecordFailure(url, reason string) error {
	if j.Status != StatusProcessing {
		return ErrNotProcessing
	}
	if j.Attempted() >= j.TotalFiles {
		return ErrAttemptsExhausted
	}

	j.FailedFiles++
	j.FailedURLs = append(j.FailedURLs, FailedURL{URL: url, Reason: reason})
	j.advance()
	return nil
}

func (j *Job) advance() {
	j.CurrentIndex++
	// Progress is derived from attempts, so it is monotonically
	// non-decreasing as long as counters only ever grow. Rounded to the
	// nearest percent.
	j.Progress = (100*j.Attempted() + j.TotalFiles/2) / j.TotalFiles
	j.UpdatedAt = time.Now().UTC()
}

// Complete finalizes a fully attempted job whose archive was persisted.
func (j *Job) Complete(archivePath, archiveURL string, archiveSize int64, expiresAt time.Time) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot complete job in status %s", ErrInvalidStateTransition, j.Status)
	}
	if !j.AllAttempted() {
		return fmt.Errorf("%w: %d of %d urls attempted", ErrInvalidStateTransition, j.Attempted(), j.TotalFiles)
	}
	if archivePath == "" {
		return ErrEmptyArchivePath
	}
	if archiveURL == "" {
		return ErrEmptyArchiveURL
	}

	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.ArchivePath = &archivePath
	j.ArchiveURL = &archiveURL
	j.ArchiveSize = &archiveSize
	j.ArchiveExpiresAt = &expiresAt
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = nil
	return nil
}

// Fail marks the job failed with a job-level reason.
func (j *Job) Fail(message string) error {
	if j.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if j.Status != StatusProcessing {
		return ErrNotProcessing
	}

	now := time.Now().UTC()
	j.Status = StatusFailed
	j.ErrorMessage = &message
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Attempted is the number of URLs attempted so far.
func (j *Job) Attempted() int {
	return j.CompletedFiles + j.FailedFiles
}

// AllAttempted reports whether every URL has been attempted.
func (j *Job) AllAttempted() bool {
	return j.Attempted() >= j.TotalFiles
}

// Remaining returns the URLs not yet attempted, in input order.
func (j *Job) Remaining() []string {
	if j.CurrentIndex >= len(j.URLs) {
		return nil
	}
	return j.URLs[j.CurrentIndex:]
}

// Validate checks the entity invariants. Intended for store round-trips.
func (j *Job) Validate() error {
	if j.TotalFiles != len(j.URLs) {
		return fmt.Errorf("total_files %d does not match url count %d", j.TotalFiles, len(j.URLs))
	}
	if j.Attempted() > j.TotalFiles {
		return fmt.Errorf("attempted %d exceeds total_files %d", j.Attempted(), j.TotalFiles)
	}
	if j.Status.IsTerminal() && !j.AllAttempted() && j.ErrorMessage == nil {
		return fmt.Errorf("terminal status %s before all urls attempted", j.Status)
	}
	return nil
}
