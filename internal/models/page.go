package models

import (
	"fmt"
	"time"
)

// Page is one row per logical page inside a multi-page MAIN (§3 Data Model).
type Page struct {
	PageID        string     `json:"page_id"`
	JobID         string     `json:"job_id"` // FK -> MAIN
	PageNumber    int        `json:"page_number"`
	PageJobID     string     `json:"page_job_id"` // FK -> PAGE job; changes across retries
	MinioPagePath string     `json:"minio_page_path"`
	Status        JobStatus  `json:"status"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	RetryCount    int        `json:"retry_count"`
	MarkdownContent *string  `json:"markdown_content,omitempty"`
	CharCount       int      `json:"char_count"`
	HasResultStored bool     `json:"has_result_stored"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewPage constructs a Page row in PENDING state, as inserted by the SPLIT task.
func NewPage(pageID, jobID string, pageNumber int, pageJobID, blobPath string, now time.Time) *Page {
	return &Page{
		PageID:        pageID,
		JobID:         jobID,
		PageNumber:    pageNumber,
		PageJobID:     pageJobID,
		MinioPagePath: blobPath,
		Status:        StatusPending,
		RetryCount:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks a Page row's required ids, its 1-indexed page_number,
// its status token and invariant 6 from §3 (retry_count <= maxRetries).
func (p *Page) Validate(maxRetries int) error {
	if p.PageID == "" {
		return fmt.Errorf("page_id is required")
	}
	if p.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if p.PageNumber < 1 {
		return fmt.Errorf("page_number must be 1-indexed, got %d", p.PageNumber)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status: %q", p.Status)
	}
	if p.RetryCount > maxRetries {
		return fmt.Errorf("retry_count %d exceeds maxRetries %d", p.RetryCount, maxRetries)
	}
	return nil
}
