package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// Store implements interfaces.MetadataStore over the jobs/pages tables.
type Store struct {
	db     *DB
	logger arbor.ILogger
}

var _ interfaces.MetadataStore = (*Store)(nil)

func NewStore(db *DB, logger arbor.ILogger) *Store {
	return &Store{db: db, logger: logger}
}

func unixPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// CreateJob is idempotent on job_id: a second insert of the same id
// returns the row already present rather than erroring (§4.B).
func (s *Store) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	err := retryWithBackoff(ctx, s.logger, 3, 50*time.Millisecond, func() error {
		_, execErr := s.db.Conn().ExecContext(ctx, `
			INSERT INTO jobs (
				job_id, user_id, job_type, parent_job_id,
				source_type, source_url, filename, mime_type, file_size_bytes, file_checksum,
				upload_object_key, result_object_key,
				status, progress_percent, error_message,
				total_pages, pages_completed, pages_failed,
				char_count, has_result_stored, page_number,
				created_at, started_at, completed_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(job_id) DO NOTHING`,
			job.JobID, job.UserID, string(job.Type), job.ParentJobID,
			string(job.SourceType), job.SourceURL, job.Filename, job.MimeType, nullInt64(job.FileSizeBytes), job.FileChecksum,
			job.UploadObjectKey, job.ResultObjectKey,
			string(job.Status), job.ProgressPercent, job.ErrorMessage,
			nullInt(job.TotalPages), job.PagesCompleted, job.PagesFailed,
			job.CharCount, boolToInt(job.HasResultStored), nullInt(job.PageNumber),
			job.CreatedAt.Unix(), unixPtr(job.StartedAt), unixPtr(job.CompletedAt), job.UpdatedAt.Unix(),
		)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job %s: %w", job.JobID, err)
	}

	return s.FindJob(ctx, job.JobID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FindJobByDedupKey backs the §4.L dedup gate.
func (s *Store) FindJobByDedupKey(ctx context.Context, userID, fileChecksum string) (*models.Job, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = ? AND file_checksum = ? AND job_type = 'MAIN'`,
		userID, fileChecksum)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

const jobColumns = `
	job_id, user_id, job_type, parent_job_id,
	source_type, source_url, filename, mime_type, file_size_bytes, file_checksum,
	upload_object_key, result_object_key,
	status, progress_percent, error_message,
	total_pages, pages_completed, pages_failed,
	char_count, has_result_stored, page_number,
	created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var jobType, sourceType, status string
	var parentID, sourceURL, filename, mimeType, fileChecksum, uploadKey, resultKey, errMsg sql.NullString
	var fileSize sql.NullInt64
	var totalPages, pageNumber sql.NullInt64
	var createdAt, updatedAt int64
	var startedAt, completedAt sql.NullInt64
	var hasResultStored int

	if err := row.Scan(
		&j.JobID, &j.UserID, &jobType, &parentID,
		&sourceType, &sourceURL, &filename, &mimeType, &fileSize, &fileChecksum,
		&uploadKey, &resultKey,
		&status, &j.ProgressPercent, &errMsg,
		&totalPages, &j.PagesCompleted, &j.PagesFailed,
		&j.CharCount, &hasResultStored, &pageNumber,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.SourceType = models.SourceType(sourceType)
	j.ParentJobID = strPtr(parentID)
	j.SourceURL = strPtr(sourceURL)
	j.Filename = strPtr(filename)
	j.MimeType = strPtr(mimeType)
	j.FileChecksum = strPtr(fileChecksum)
	j.FileSizeBytes = int64Ptr(fileSize)
	j.UploadObjectKey = strPtr(uploadKey)
	j.ResultObjectKey = strPtr(resultKey)
	j.ErrorMessage = strPtr(errMsg)
	j.TotalPages = intPtr(totalPages)
	j.PageNumber = intPtr(pageNumber)
	j.HasResultStored = hasResultStored != 0
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	j.StartedAt = fromUnix(startedAt)
	j.CompletedAt = fromUnix(completedAt)

	return &j, nil
}

func (s *Store) FindJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *Store) FindChildren(ctx context.Context, parentID string, filter interfaces.StatusFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_job_id = ?`
	args := []interface{}{parentID}

	if len(filter) > 0 {
		query += " AND status IN ("
		for i, st := range filter {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, string(st))
		}
		query += ")"
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateJob applies a sparse JobPatch as a single statement so concurrent
// patches from different task instances never clobber each other via a
// stale read-modify-write.
func (s *Store) UpdateJob(ctx context.Context, jobID string, patch interfaces.JobPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC().Unix()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.ProgressPercent != nil {
		sets = append(sets, "progress_percent = ?")
		args = append(args, *patch.ProgressPercent)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.UploadObjectKey != nil {
		sets = append(sets, "upload_object_key = ?")
		args = append(args, *patch.UploadObjectKey)
	}
	if patch.ResultObjectKey != nil {
		sets = append(sets, "result_object_key = ?")
		args = append(args, *patch.ResultObjectKey)
	}
	if patch.TotalPages != nil {
		sets = append(sets, "total_pages = ?")
		args = append(args, *patch.TotalPages)
	}
	if patch.CharCount != nil {
		sets = append(sets, "char_count = ?")
		args = append(args, *patch.CharCount)
	}
	if patch.HasResultStored != nil {
		sets = append(sets, "has_result_stored = ?")
		args = append(args, boolToInt(*patch.HasResultStored))
	}
	if patch.StartedAtNow {
		sets = append(sets, "started_at = COALESCE(started_at, ?)")
		args = append(args, time.Now().UTC().Unix())
	}
	if patch.CompletedAtNow {
		sets = append(sets, "completed_at = ?")
		args = append(args, time.Now().UTC().Unix())
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE job_id = ?", joinComma(sets))
	args = append(args, jobID)

	return retryWithBackoff(ctx, s.logger, 3, 50*time.Millisecond, func() error {
		_, err := s.db.Conn().ExecContext(ctx, query, args...)
		return err
	})
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// DeleteCascade removes a MAIN and all descendant Job/Page rows (§3 Lifecycle).
func (s *Store) DeleteCascade(ctx context.Context, mainID string) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE job_id = ?`, mainID); err != nil {
		return fmt.Errorf("failed to delete pages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE parent_job_id = ?`, mainID); err != nil {
		return fmt.Errorf("failed to delete children: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, mainID); err != nil {
		return fmt.Errorf("failed to delete main job: %w", err)
	}
	return tx.Commit()
}

const pageColumns = `
	page_id, job_id, page_number, page_job_id, minio_page_path,
	status, error_message, retry_count, markdown_content,
	char_count, has_result_stored, created_at, completed_at, updated_at`

func scanPage(row rowScanner) (*models.Page, error) {
	var p models.Page
	var status string
	var errMsg, markdown sql.NullString
	var hasResultStored int
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	if err := row.Scan(
		&p.PageID, &p.JobID, &p.PageNumber, &p.PageJobID, &p.MinioPagePath,
		&status, &errMsg, &p.RetryCount, &markdown,
		&p.CharCount, &hasResultStored, &createdAt, &completedAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	p.Status = models.JobStatus(status)
	p.ErrorMessage = strPtr(errMsg)
	p.MarkdownContent = strPtr(markdown)
	p.HasResultStored = hasResultStored != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	p.CompletedAt = fromUnix(completedAt)

	return &p, nil
}

// CreatePage inserts a Page row; the unique (job_id, page_number) index
// prevents duplicates across SPLIT retries (§4.G Ordering).
func (s *Store) CreatePage(ctx context.Context, page *models.Page) (*models.Page, error) {
	err := retryWithBackoff(ctx, s.logger, 3, 50*time.Millisecond, func() error {
		_, execErr := s.db.Conn().ExecContext(ctx, `
			INSERT INTO pages (
				page_id, job_id, page_number, page_job_id, minio_page_path,
				status, error_message, retry_count, markdown_content,
				char_count, has_result_stored, created_at, completed_at, updated_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(job_id, page_number) DO NOTHING`,
			page.PageID, page.JobID, page.PageNumber, page.PageJobID, page.MinioPagePath,
			string(page.Status), page.ErrorMessage, page.RetryCount, page.MarkdownContent,
			page.CharCount, boolToInt(page.HasResultStored), page.CreatedAt.Unix(), unixPtr(page.CompletedAt), page.UpdatedAt.Unix(),
		)
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page %d for job %s: %w", page.PageNumber, page.JobID, err)
	}
	return s.FindPage(ctx, page.JobID, page.PageNumber)
}

func (s *Store) FindPage(ctx context.Context, mainID string, pageNumber int) (*models.Page, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE job_id = ? AND page_number = ?`, mainID, pageNumber)
	page, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return page, err
}

func (s *Store) FindPages(ctx context.Context, mainID string) ([]*models.Page, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE job_id = ? ORDER BY page_number ASC`, mainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePage(ctx context.Context, pageID string, patch interfaces.PagePatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC().Unix()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.PageJobID != nil {
		sets = append(sets, "page_job_id = ?")
		args = append(args, *patch.PageJobID)
	}
	if patch.MarkdownContent != nil {
		sets = append(sets, "markdown_content = ?")
		args = append(args, *patch.MarkdownContent)
	}
	if patch.CharCount != nil {
		sets = append(sets, "char_count = ?")
		args = append(args, *patch.CharCount)
	}
	if patch.HasResultStored != nil {
		sets = append(sets, "has_result_stored = ?")
		args = append(args, boolToInt(*patch.HasResultStored))
	}
	if patch.CompletedAtNow {
		sets = append(sets, "completed_at = ?")
		args = append(args, time.Now().UTC().Unix())
	}

	query := fmt.Sprintf("UPDATE pages SET %s WHERE page_id = ?", joinComma(sets))
	args = append(args, pageID)

	return retryWithBackoff(ctx, s.logger, 3, 50*time.Millisecond, func() error {
		_, err := s.db.Conn().ExecContext(ctx, query, args...)
		return err
	})
}

// IncrementCounter is the race-free counter primitive from §4.H/§5: inside
// a single transaction it flips the Page row's status and recomputes the
// MAIN's counter via COUNT(*) rather than a read-modify-write increment, so
// concurrent Page completions can never under- or over-count.
func (s *Store) IncrementCounter(ctx context.Context, mainID, pageID string, newPageStatus models.JobStatus, which interfaces.CounterKind) (int, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var targetStatus models.JobStatus
	var column string
	switch which {
	case interfaces.CounterPagesCompleted:
		targetStatus = models.StatusCompleted
		column = "pages_completed"
	case interfaces.CounterPagesFailed:
		targetStatus = models.StatusFailed
		column = "pages_failed"
	default:
		return 0, fmt.Errorf("unknown counter kind: %q", which)
	}
	if newPageStatus != targetStatus {
		return 0, fmt.Errorf("counter kind %q does not match page status %q", which, newPageStatus)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET status = ?, updated_at = ? WHERE page_id = ? AND job_id = ?`,
		string(newPageStatus), time.Now().UTC().Unix(), pageID, mainID,
	); err != nil {
		return 0, fmt.Errorf("failed to update page %s status: %w", pageID, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pages WHERE job_id = ? AND status = ?`, mainID, string(targetStatus),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to recompute %s: %w", column, err)
	}

	query := fmt.Sprintf("UPDATE jobs SET %s = ?, updated_at = ? WHERE job_id = ?", column)
	if _, err := tx.ExecContext(ctx, query, count, time.Now().UTC().Unix(), mainID); err != nil {
		return 0, fmt.Errorf("failed to persist %s: %w", column, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// StuckJobs backs the §4.K stuck-job sweep.
func (s *Store) StuckJobs(ctx context.Context, olderThan int64, limit int) ([]*models.Job, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'PROCESSING' AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at ASC LIMIT ?`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// StuckPages mirrors StuckJobs for Page rows, which lack started_at and are
// instead judged against created_at (§4.K).
func (s *Store) StuckPages(ctx context.Context, olderThan int64, limit int) ([]*models.Page, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE status = 'PROCESSING' AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) RetryablePages(ctx context.Context, mainID string, maxRetries, limit int) ([]*models.Page, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE job_id = ? AND status = 'FAILED' AND retry_count < ?
		ORDER BY page_number ASC LIMIT ?`, mainID, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RetryablePagesGlobal mirrors RetryablePages without the mainID scope, for
// the monitor's system-wide auto-retry sweep (§4.K).
func (s *Store) RetryablePagesGlobal(ctx context.Context, maxRetries, limit int) ([]*models.Page, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+pageColumns+` FROM pages
		WHERE status = 'FAILED' AND retry_count < ?
		ORDER BY created_at ASC LIMIT ?`, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) TerminalJobsOlderThan(ctx context.Context, horizonUnix int64, limit int) ([]*models.Job, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('COMPLETED','FAILED','CANCELLED') AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at ASC LIMIT ?`, horizonUnix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) SystemStats(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[models.JobStatus(status)] = count
	}
	return out, rows.Err()
}
