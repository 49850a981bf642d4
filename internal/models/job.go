// Package models defines the Job and Page entities that make up the
// hierarchical job hierarchy (MAIN/SPLIT/PAGE/MERGE) described in the
// orchestration core's data model.
package models

import (
	"fmt"
	"time"
)

// JobType is the role a Job plays in the hierarchy.
type JobType string

const (
	JobTypeMain  JobType = "MAIN"
	JobTypeSplit JobType = "SPLIT"
	JobTypePage  JobType = "PAGE"
	JobTypeMerge JobType = "MERGE"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeMain, JobTypeSplit, JobTypePage, JobTypeMerge:
		return true
	default:
		return false
	}
}

// JobStatus is the single state machine shared by Job and Page rows.
// A status token that isn't one of these is a bug, not a synonym -
// earlier revisions of this system treated "queued" and "pending" as
// interchangeable across stores; this type closes that gap.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is one of the three user-visible terminal states.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SourceType is the input descriptor kind, set only on MAIN jobs.
type SourceType string

const (
	SourceTypeFile    SourceType = "file"
	SourceTypeURL     SourceType = "url"
	SourceTypeGDrive  SourceType = "gdrive"
	SourceTypeDropbox SourceType = "dropbox"
	SourceTypeAudio   SourceType = "audio"
)

// Job is one row per unit of orchestrated work (§3 Data Model).
type Job struct {
	JobID  string  `json:"job_id"`
	UserID string  `json:"user_id"`
	Type   JobType `json:"job_type"`

	ParentJobID *string `json:"parent_job_id,omitempty"`

	SourceType    SourceType `json:"source_type,omitempty"`
	SourceURL     *string    `json:"source_url,omitempty"`
	Filename      *string    `json:"filename,omitempty"`
	MimeType      *string    `json:"mime_type,omitempty"`
	FileSizeBytes *int64     `json:"file_size_bytes,omitempty"`
	FileChecksum  *string    `json:"file_checksum,omitempty"`

	UploadObjectKey *string `json:"upload_object_key,omitempty"`
	ResultObjectKey *string `json:"result_object_key,omitempty"`

	Status          JobStatus `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	ErrorMessage    *string   `json:"error_message,omitempty"`

	TotalPages     *int `json:"total_pages,omitempty"`
	PagesCompleted int  `json:"pages_completed"`
	PagesFailed    int  `json:"pages_failed"`

	CharCount       int  `json:"char_count"`
	HasResultStored bool `json:"has_result_stored"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	PageNumber *int `json:"page_number,omitempty"` // PAGE jobs only
}

// NewMainJob constructs the root job created by a submission (Dispatcher input).
func NewMainJob(jobID, userID string, sourceType SourceType, now time.Time) *Job {
	return &Job{
		JobID:           jobID,
		UserID:          userID,
		Type:            JobTypeMain,
		SourceType:      sourceType,
		Status:          StatusPending,
		ProgressPercent: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewChildJob constructs a SPLIT, PAGE or MERGE job belonging to parentID.
// pageNumber is non-nil only for JobTypePage.
func NewChildJob(jobID, userID string, jobType JobType, parentID string, pageNumber *int, now time.Time) *Job {
	return &Job{
		JobID:           jobID,
		UserID:          userID,
		Type:            jobType,
		ParentJobID:     &parentID,
		Status:          StatusPending,
		ProgressPercent: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
		PageNumber:      pageNumber,
	}
}

// IsMain reports whether this job is the root of its hierarchy.
func (j *Job) IsMain() bool { return j.Type == JobTypeMain }

// Validate checks the invariants from §3 that are local to a single row
// (cross-row invariants - e.g. dedup uniqueness - are enforced by the
// metadata gateway).
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if !j.Type.Valid() {
		return fmt.Errorf("invalid job_type: %q", j.Type)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status: %q", j.Status)
	}
	if j.Type == JobTypePage && j.PageNumber == nil {
		return fmt.Errorf("page jobs require a non-nil page_number")
	}
	if j.Type != JobTypePage && j.PageNumber != nil {
		return fmt.Errorf("only page jobs may set page_number")
	}
	if j.Type != JobTypeMain && j.ParentJobID == nil {
		return fmt.Errorf("non-main jobs require a parent_job_id")
	}
	if j.Type == JobTypeMain && j.ParentJobID != nil {
		return fmt.Errorf("main jobs must not have a parent_job_id")
	}
	if j.ProgressPercent < 0 || j.ProgressPercent > 100 {
		return fmt.Errorf("progress_percent %d out of range [0,100]", j.ProgressPercent)
	}
	if j.Status == StatusCompleted && j.ProgressPercent != 100 {
		return fmt.Errorf("completed job must have progress_percent=100, got %d", j.ProgressPercent)
	}
	if j.StartedAt != nil && j.CompletedAt != nil && j.StartedAt.After(*j.CompletedAt) {
		return fmt.Errorf("started_at must not be after completed_at")
	}
	if j.TotalPages != nil && j.PagesCompleted+j.PagesFailed > *j.TotalPages {
		return fmt.Errorf("pages_completed + pages_failed (%d) exceeds total_pages (%d)",
			j.PagesCompleted+j.PagesFailed, *j.TotalPages)
	}
	return nil
}

// Clone returns a deep copy, used by callers that mutate a row in place
// before persisting (avoids aliasing the caller's copy with the store's).
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ParentJobID != nil {
		v := *j.ParentJobID
		c.ParentJobID = &v
	}
	if j.SourceURL != nil {
		v := *j.SourceURL
		c.SourceURL = &v
	}
	if j.Filename != nil {
		v := *j.Filename
		c.Filename = &v
	}
	if j.MimeType != nil {
		v := *j.MimeType
		c.MimeType = &v
	}
	if j.FileSizeBytes != nil {
		v := *j.FileSizeBytes
		c.FileSizeBytes = &v
	}
	if j.FileChecksum != nil {
		v := *j.FileChecksum
		c.FileChecksum = &v
	}
	if j.UploadObjectKey != nil {
		v := *j.UploadObjectKey
		c.UploadObjectKey = &v
	}
	if j.ResultObjectKey != nil {
		v := *j.ResultObjectKey
		c.ResultObjectKey = &v
	}
	if j.ErrorMessage != nil {
		v := *j.ErrorMessage
		c.ErrorMessage = &v
	}
	if j.TotalPages != nil {
		v := *j.TotalPages
		c.TotalPages = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.PageNumber != nil {
		v := *j.PageNumber
		c.PageNumber = &v
	}
	return &c
}

// ProgressBand computes the §4.F progress banding: 10 (accepted) -> 20
// (downloaded) -> 20+floor(70*completed/total) (aggregator updates) -> 100.
func ProgressBand(completed, total int) int {
	if total <= 0 {
		return 20
	}
	band := 20 + (70*completed)/total
	if band > 90 {
		band = 90
	}
	return band
}
