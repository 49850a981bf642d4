package interfaces

import (
	"context"

	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// CounterKind selects which MAIN counter increment_counter recomputes.
type CounterKind string

const (
	CounterPagesCompleted CounterKind = "pages_completed"
	CounterPagesFailed    CounterKind = "pages_failed"
)

// JobPatch carries a sparse set of field updates for update_job; only
// non-nil fields are applied. Gateways implement this as a single
// statement so concurrent patches never race on a read-modify-write.
type JobPatch struct {
	Status          *models.JobStatus
	ProgressPercent *int
	ErrorMessage    *string
	UploadObjectKey *string
	ResultObjectKey *string
	TotalPages      *int
	CharCount       *int
	HasResultStored *bool
	StartedAtNow    bool // set started_at = now if true and currently unset
	CompletedAtNow  bool // set completed_at = now if true
}

// PagePatch is the Page-row analogue of JobPatch.
type PagePatch struct {
	Status          *models.JobStatus
	ErrorMessage    *string
	RetryCount      *int
	PageJobID       *string
	MarkdownContent *string
	CharCount       *int
	HasResultStored *bool
	CompletedAtNow  bool
}

// StatusFilter narrows find_children to one or more statuses; nil/empty means "any".
type StatusFilter []models.JobStatus

// MetadataStore is the transactional gateway over Job and Page rows (§4.B).
// It is the system of record: when the status cache and the metadata store
// disagree on a persisted fact, the metadata store wins (§3 invariant 7).
type MetadataStore interface {
	// CreateJob is idempotent on job_id: inserting the same id twice
	// returns the existing row rather than erroring.
	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	UpdateJob(ctx context.Context, jobID string, patch JobPatch) error
	FindJob(ctx context.Context, jobID string) (*models.Job, error)
	FindChildren(ctx context.Context, parentID string, filter StatusFilter) ([]*models.Job, error)
	DeleteCascade(ctx context.Context, mainID string) error

	// FindJobByDedupKey looks up an existing MAIN for the dedup gate (§4.L).
	FindJobByDedupKey(ctx context.Context, userID, fileChecksum string) (*models.Job, error)

	CreatePage(ctx context.Context, page *models.Page) (*models.Page, error)
	UpdatePage(ctx context.Context, pageID string, patch PagePatch) error
	FindPage(ctx context.Context, mainID string, pageNumber int) (*models.Page, error)
	FindPages(ctx context.Context, mainID string) ([]*models.Page, error) // ordered by page_number

	// IncrementCounter recomputes the named MAIN counter via COUNT(*) over
	// the Page rows inside the same transaction that flips pageID's status,
	// making the increment race-free under concurrent Page completions (§4.H).
	IncrementCounter(ctx context.Context, mainID, pageID string, newPageStatus models.JobStatus, which CounterKind) (newCount int, err error)

	// StuckJobs returns jobs (any type) in PROCESSING older than the
	// threshold, for the monitor's stuck-job sweep (§4.K).
	StuckJobs(ctx context.Context, olderThan int64, limit int) ([]*models.Job, error)
	// StuckPages mirrors StuckJobs for Page rows, which lack started_at
	// and are instead judged on created_at (§4.K).
	StuckPages(ctx context.Context, olderThan int64, limit int) ([]*models.Page, error)

	// RetryablePages returns FAILED pages with retry_count < maxRetries,
	// scoped to one parent, for bulk_retry_failed_pages (§4.M).
	RetryablePages(ctx context.Context, mainID string, maxRetries, limit int) ([]*models.Page, error)

	// RetryablePagesGlobal mirrors RetryablePages without the mainID scope,
	// for the monitor's system-wide auto-retry sweep (§4.K).
	RetryablePagesGlobal(ctx context.Context, maxRetries, limit int) ([]*models.Page, error)

	// TerminalJobsOlderThan returns jobs in a terminal state whose
	// completed_at predates the horizon, for the cleanup sweep (§4.K).
	TerminalJobsOlderThan(ctx context.Context, horizonUnix int64, limit int) ([]*models.Job, error)

	// SystemStats returns a histogram of job statuses for the admin surface.
	SystemStats(ctx context.Context) (map[models.JobStatus]int, error)
}
