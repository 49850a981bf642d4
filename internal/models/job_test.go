package models

import (
	"testing"
	"time"
)

func TestNewMainJob(t *testing.T) {
	now := time.Now().UTC()
	job := NewMainJob("main-1", "user-1", SourceTypeFile, now)

	if !job.IsMain() {
		t.Error("expected NewMainJob to produce a MAIN job")
	}
	if job.ParentJobID != nil {
		t.Error("MAIN job must not have a parent_job_id")
	}
	if job.Status != StatusPending {
		t.Errorf("expected initial status PENDING, got %s", job.Status)
	}
	if err := job.Validate(); err != nil {
		t.Errorf("fresh MAIN job should validate, got: %v", err)
	}
}

func TestNewChildJob(t *testing.T) {
	now := time.Now().UTC()
	pageNum := 3
	page := NewChildJob("page-1", "user-1", JobTypePage, "main-1", &pageNum, now)

	if page.ParentJobID == nil || *page.ParentJobID != "main-1" {
		t.Error("expected child job to carry its parent id")
	}
	if err := page.Validate(); err != nil {
		t.Errorf("fresh PAGE job should validate, got: %v", err)
	}

	merge := NewChildJob("merge-1", "user-1", JobTypeMerge, "main-1", nil, now)
	if err := merge.Validate(); err != nil {
		t.Errorf("fresh MERGE job should validate, got: %v", err)
	}
}

func TestJobValidate(t *testing.T) {
	now := time.Now().UTC()
	mainID := "main-1"
	pageNum := 1

	tests := []struct {
		name    string
		mutate  func(*Job)
		wantErr bool
	}{
		{
			name:    "valid main job",
			mutate:  func(j *Job) {},
			wantErr: false,
		},
		{
			name: "invalid job type",
			mutate: func(j *Job) {
				j.Type = JobType("BOGUS")
			},
			wantErr: true,
		},
		{
			name: "invalid status token",
			mutate: func(j *Job) {
				j.Status = JobStatus("queued_legacy")
			},
			wantErr: true,
		},
		{
			name: "page job missing page_number",
			mutate: func(j *Job) {
				j.Type = JobTypePage
				j.ParentJobID = &mainID
			},
			wantErr: true,
		},
		{
			name: "non-page job with page_number set",
			mutate: func(j *Job) {
				j.PageNumber = &pageNum
			},
			wantErr: true,
		},
		{
			name: "non-main job missing parent",
			mutate: func(j *Job) {
				j.Type = JobTypeSplit
			},
			wantErr: true,
		},
		{
			name: "main job with a parent",
			mutate: func(j *Job) {
				j.ParentJobID = &mainID
			},
			wantErr: true,
		},
		{
			name: "progress out of range",
			mutate: func(j *Job) {
				j.ProgressPercent = 101
			},
			wantErr: true,
		},
		{
			name: "completed without full progress",
			mutate: func(j *Job) {
				j.Status = StatusCompleted
				j.ProgressPercent = 90
			},
			wantErr: true,
		},
		{
			name: "started after completed",
			mutate: func(j *Job) {
				started := now.Add(time.Hour)
				completed := now
				j.StartedAt = &started
				j.CompletedAt = &completed
			},
			wantErr: true,
		},
		{
			name: "page counters exceed total",
			mutate: func(j *Job) {
				total := 2
				j.TotalPages = &total
				j.PagesCompleted = 2
				j.PagesFailed = 1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewMainJob("main-1", "user-1", SourceTypeFile, now)
			tt.mutate(job)
			err := job.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestJobClone(t *testing.T) {
	now := time.Now().UTC()
	job := NewMainJob("main-1", "user-1", SourceTypeFile, now)
	checksum := "abc123"
	job.FileChecksum = &checksum

	clone := job.Clone()
	if clone == job {
		t.Fatal("Clone must return a distinct pointer")
	}
	if clone.FileChecksum == job.FileChecksum {
		t.Error("Clone must deep-copy pointer fields")
	}
	*clone.FileChecksum = "mutated"
	if *job.FileChecksum != "abc123" {
		t.Error("mutating the clone must not affect the original")
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []JobStatus{StatusPending, StatusQueued, StatusProcessing}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestProgressBand(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 0, 20},
		{0, 5, 20},
		{2, 5, 20 + (70*2)/5},
		{5, 5, 90},
		{10, 5, 90},
	}
	for _, tt := range tests {
		got := ProgressBand(tt.completed, tt.total)
		if got != tt.want {
			t.Errorf("ProgressBand(%d, %d) = %d, want %d", tt.completed, tt.total, got, tt.want)
		}
		if got > 90 || got < 20 {
			t.Errorf("ProgressBand(%d, %d) = %d out of the [20,90] aggregator band", tt.completed, tt.total, got)
		}
	}
}
