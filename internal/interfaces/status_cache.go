package interfaces

import (
	"context"
	"time"
)

// ChildRole distinguishes the three kinds of child-slot registration a
// MAIN can carry in the status cache (§4.B child lists).
type ChildRole string

const (
	ChildRoleSplit ChildRole = "split"
	ChildRolePage  ChildRole = "page"
	ChildRoleMerge ChildRole = "merge"
)

// StatusRecord is the status-cache projection of a Job, keyed by job_id
// (§4.B status record get/put; §6 key family status:{job_id}).
type StatusRecord struct {
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Name        string     `json:"name,omitempty"`
	PageNumber  *int       `json:"page_number,omitempty"`
	ParentJobID *string    `json:"parent_job_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// ResultBlob is the cached final-output payload for a job (markdown + metadata).
type ResultBlob struct {
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusCache is the low-latency key/value gateway (§4.B). It is authoritative
// for progress and in-flight presence signals; the metadata store remains the
// source of truth for persisted terminal facts (§3 invariant 7).
//
// Implementations must make put-status idempotent: writing the same fields
// twice is a no-op observable to callers as success.
type StatusCache interface {
	PutStatus(ctx context.Context, jobID string, rec StatusRecord) error
	GetStatus(ctx context.Context, jobID string) (*StatusRecord, error)

	SetOwner(ctx context.Context, jobID, userID string) error
	VerifyOwner(ctx context.Context, jobID, userID string) (bool, error)
	ListUserJobs(ctx context.Context, userID string, limit int) ([]string, error)

	UpdateProgress(ctx context.Context, jobID string, value int) error

	AddChild(ctx context.Context, parentID string, role ChildRole, childID string) error
	GetPageChildren(ctx context.Context, parentID string) ([]string, error)
	GetChild(ctx context.Context, parentID string, role ChildRole) (string, bool, error)

	// SetChildIfAbsent is the set-if-absent primitive backing exactly-once
	// MERGE enqueue (§5 Aggregator atomicity). It returns won=true only for
	// the caller that actually wrote the slot; every racing loser observes
	// won=false and must not enqueue.
	SetChildIfAbsent(ctx context.Context, parentID string, role ChildRole, childID string) (won bool, err error)

	SetPagesTotal(ctx context.Context, mainID string, n int) error
	GetPagesTotal(ctx context.Context, mainID string) (int, bool, error)
	GetPageChildByNumber(ctx context.Context, mainID string, pageNumber int) (string, bool, error)
	SetPageChildByNumber(ctx context.Context, mainID string, pageNumber int, childID string) error

	CountCompletedPageChildren(ctx context.Context, mainID string) (int, error)
	CountFailedPageChildren(ctx context.Context, mainID string) (int, error)
	// AllPageChildrenTerminal is the aggregator predicate (§4.J): true iff
	// every registered page child's status record is COMPLETED, FAILED or
	// CANCELLED.
	AllPageChildrenTerminal(ctx context.Context, mainID string) (bool, error)

	SetResult(ctx context.Context, jobID string, blob ResultBlob) error
	GetResult(ctx context.Context, jobID string) (*ResultBlob, error)

	// DeleteJobKeys removes every key family for jobID (status, result,
	// pages, child-jobs, per-page), used by the cleanup sweep (§4.K).
	DeleteJobKeys(ctx context.Context, jobID string) error
}
