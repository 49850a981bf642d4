package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// SweepReport summarizes one sweep pass, returned to both the monitor
// scheduler (for logging) and the admin surface (for introspection).
type SweepReport struct {
	JobsAffected  int
	PagesAffected int
	Errors        []string
}

func (r *SweepReport) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// RunStuckJobSweep implements §4.K step 1: jobs (any type) stuck in
// PROCESSING past thresholdMinutes are flipped FAILED, and likewise for
// Page rows judged against created_at. Also backs trigger_stuck_recovery
// and list_stuck_jobs (§4.M).
func (o *Orchestrator) RunStuckJobSweep(ctx context.Context, thresholdMinutes, batchSize int) (*SweepReport, error) {
	if thresholdMinutes <= 0 {
		thresholdMinutes = o.Config.Monitoring.StuckJobThresholdMinutes
	}
	if batchSize <= 0 {
		batchSize = o.Config.Monitoring.BatchSize
	}
	now := o.Clock.Now()
	horizon := now.Add(-time.Duration(thresholdMinutes) * time.Minute).Unix()
	msg := fmt.Sprintf("stuck in processing for >%dmin", thresholdMinutes)
	report := &SweepReport{}

	stuckJobs, err := o.Metadata.StuckJobs(ctx, horizon, batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query stuck jobs: %w", err)
	}
	for _, job := range stuckJobs {
		failed := models.StatusFailed
		errMsg := msg
		if err := o.Metadata.UpdateJob(ctx, job.JobID, interfaces.JobPatch{
			Status: &failed, ErrorMessage: &errMsg, CompletedAtNow: true,
		}); err != nil {
			report.addError(fmt.Errorf("job %s: %w", job.JobID, err))
			continue
		}
		o.putStatus(ctx, job.JobID, string(job.Type), string(models.StatusFailed), job.ProgressPercent, "", job.ParentJobID)
		report.JobsAffected++
		o.Logger.Warn().Str("job_id", job.JobID).Str("job_type", string(job.Type)).Msg(msg)
	}

	stuckPages, err := o.Metadata.StuckPages(ctx, horizon, batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query stuck pages: %w", err)
	}
	for _, page := range stuckPages {
		failed := models.StatusFailed
		errMsg := msg
		if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{
			Status: &failed, ErrorMessage: &errMsg, CompletedAtNow: true,
		}); err != nil {
			report.addError(fmt.Errorf("page %s: %w", page.PageID, err))
			continue
		}
		if _, err := o.Metadata.IncrementCounter(ctx, page.JobID, page.PageID, models.StatusFailed, interfaces.CounterPagesFailed); err != nil {
			o.Logger.Error().Err(err).Str("parent_id", page.JobID).Msg("failed to recompute pages_failed during stuck sweep")
		}
		parentID := page.JobID
		o.putStatus(ctx, page.PageJobID, string(models.JobTypePage), string(models.StatusFailed), 0, "", &parentID)
		o.refreshMainProgress(ctx, page.JobID)
		if err := o.checkAndTriggerMerge(ctx, page.JobID); err != nil {
			o.Logger.Error().Err(err).Str("parent_id", page.JobID).Msg("aggregator check failed after stuck page sweep")
		}
		report.PagesAffected++
		o.Logger.Warn().Str("page_id", page.PageID).Str("main_id", page.JobID).Msg(msg)
	}

	return report, nil
}

// RunAutoRetrySweep implements §4.K step 2 across every MAIN: re-extract
// and requeue every FAILED page under retry_count, leaving pages whose
// original upload is gone PENDING for manual recovery.
func (o *Orchestrator) RunAutoRetrySweep(ctx context.Context, maxRetries, batchSize int) (*SweepReport, error) {
	if maxRetries <= 0 {
		maxRetries = o.Config.Monitoring.MaxRetryCount
	}
	if batchSize <= 0 {
		batchSize = o.Config.Monitoring.BatchSize
	}
	report := &SweepReport{}

	pages, err := o.Metadata.RetryablePagesGlobal(ctx, maxRetries, batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query retryable pages: %w", err)
	}
	for _, page := range pages {
		if _, err := o.ProcessPage(ctx, page.JobID, page.PageNumber, maxRetries); err != nil {
			report.addError(fmt.Errorf("page %d of %s: %w", page.PageNumber, page.JobID, err))
			o.Logger.Warn().Err(err).Str("main_id", page.JobID).Int("page_number", page.PageNumber).Msg("auto-retry did not requeue page")
			continue
		}
		report.PagesAffected++
	}
	return report, nil
}

// BulkRetryFailedPages implements bulk_retry_failed_pages(main_id) (§4.M):
// RunAutoRetrySweep's logic scoped to one parent.
func (o *Orchestrator) BulkRetryFailedPages(ctx context.Context, mainID string) (*SweepReport, error) {
	maxRetries := o.Config.Monitoring.MaxRetryCount
	report := &SweepReport{}

	pages, err := o.Metadata.RetryablePages(ctx, mainID, maxRetries, o.Config.Monitoring.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query retryable pages for %s: %w", mainID, err)
	}
	for _, page := range pages {
		if _, err := o.ProcessPage(ctx, mainID, page.PageNumber, maxRetries); err != nil {
			report.addError(fmt.Errorf("page %d: %w", page.PageNumber, err))
			o.Logger.Warn().Err(err).Str("main_id", mainID).Int("page_number", page.PageNumber).Msg("bulk retry did not requeue page")
			continue
		}
		report.PagesAffected++
	}
	return report, nil
}

// RunCleanupSweep implements §4.K step 3: prune status-cache keys for
// terminal MAINs older than the cleanup horizon. Metadata rows and blobs
// are preserved (§3), so this never touches o.Metadata or o.Blob.
func (o *Orchestrator) RunCleanupSweep(ctx context.Context, days, batchSize int) (*SweepReport, error) {
	if days <= 0 {
		days = o.Config.Monitoring.CleanupDays
	}
	if batchSize <= 0 {
		batchSize = o.Config.Monitoring.BatchSize
	}
	horizon := o.Clock.Now().AddDate(0, 0, -days).Unix()
	report := &SweepReport{}

	jobs, err := o.Metadata.TerminalJobsOlderThan(ctx, horizon, batchSize)
	if err != nil {
		return report, fmt.Errorf("failed to query terminal jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Type != models.JobTypeMain {
			continue
		}
		if err := o.Cache.DeleteJobKeys(ctx, job.JobID); err != nil {
			report.addError(fmt.Errorf("job %s: %w", job.JobID, err))
			continue
		}
		report.JobsAffected++
	}
	return report, nil
}

// ListStuckJobs backs list_stuck_jobs(threshold?, limit) (§4.M): a
// read-only view of the same query the stuck-job sweep acts on.
func (o *Orchestrator) ListStuckJobs(ctx context.Context, thresholdMinutes, limit int) ([]*models.Job, error) {
	if thresholdMinutes <= 0 {
		thresholdMinutes = o.Config.Monitoring.StuckJobThresholdMinutes
	}
	horizon := o.Clock.Now().Add(-time.Duration(thresholdMinutes) * time.Minute).Unix()
	return o.Metadata.StuckJobs(ctx, horizon, limit)
}

// SystemStats backs system_stats() (§4.M): the aggregate status histogram
// plus the current stuck-job count at the configured threshold.
func (o *Orchestrator) SystemStats(ctx context.Context) (map[models.JobStatus]int, int, error) {
	histogram, err := o.Metadata.SystemStats(ctx)
	if err != nil {
		return nil, 0, err
	}
	stuck, err := o.ListStuckJobs(ctx, o.Config.Monitoring.StuckJobThresholdMinutes, o.Config.Monitoring.BatchSize)
	if err != nil {
		return histogram, 0, err
	}
	return histogram, len(stuck), nil
}
