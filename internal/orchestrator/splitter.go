package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// HandleSplit is the SPLIT task handler (§4.G): decompose the PDF into N
// page artifacts, create Page rows, enqueue PAGE x N.
func (o *Orchestrator) HandleSplit(ctx context.Context, task interfaces.Task) error {
	var p SplitPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("invalid SPLIT payload: %w", err)
	}

	job, err := o.Metadata.FindJob(ctx, p.SplitID)
	if err != nil {
		return fmt.Errorf("failed to load SPLIT %s: %w", p.SplitID, err)
	}
	if job == nil {
		return fmt.Errorf("SPLIT %s not found", p.SplitID)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	processing := models.StatusProcessing
	if err := o.Metadata.UpdateJob(ctx, p.SplitID, interfaces.JobPatch{Status: &processing, StartedAtNow: true}); err != nil {
		return fmt.Errorf("failed to mark SPLIT %s processing: %w", p.SplitID, err)
	}
	o.putStatus(ctx, p.SplitID, string(models.JobTypeSplit), string(models.StatusProcessing), 0, "", &p.ParentID)

	pages, err := o.Extractor.Split(ctx, p.FilePath, p.ParentID)
	if err != nil {
		return o.failSplit(ctx, &p, fmt.Errorf("page extraction failed: %w", err))
	}
	total := len(pages)

	if err := o.Metadata.UpdateJob(ctx, p.ParentID, interfaces.JobPatch{TotalPages: &total}); err != nil {
		o.Logger.Warn().Err(err).Str("parent_id", p.ParentID).Msg("failed to persist total_pages on MAIN")
	}
	if err := o.Cache.SetPagesTotal(ctx, p.ParentID, total); err != nil {
		o.Logger.Warn().Err(err).Str("parent_id", p.ParentID).Msg("failed to cache pages_total")
	}

	now := o.Clock.Now()
	for _, extracted := range pages {
		pageJobID := common.NewID()
		pageID := common.NewID()

		pageRow := models.NewPage(pageID, p.ParentID, extracted.PageNumber, pageJobID, extracted.BlobKey, now)
		if _, err := o.Metadata.CreatePage(ctx, pageRow); err != nil {
			o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Int("page_number", extracted.PageNumber).
				Msg("failed to create Page row, skipping this page")
			continue
		}

		pageJobRow := models.NewChildJob(pageJobID, job.UserID, models.JobTypePage, p.ParentID, &extracted.PageNumber, now)
		pageJobRow.Status = models.StatusQueued
		if _, err := o.Metadata.CreateJob(ctx, pageJobRow); err != nil {
			o.Logger.Error().Err(err).Str("page_job_id", pageJobID).Msg("failed to create PAGE job row")
			continue
		}
		o.putStatus(ctx, pageJobID, string(models.JobTypePage), string(models.StatusQueued), 0, "", &p.ParentID)
		if err := o.Cache.SetPageChildByNumber(ctx, p.ParentID, extracted.PageNumber, pageJobID); err != nil {
			o.Logger.Warn().Err(err).Str("parent_id", p.ParentID).Int("page_number", extracted.PageNumber).
				Msg("failed to register page child")
		}

		payload, merr := json.Marshal(PagePayload{
			PageJobID: pageJobID, ParentID: p.ParentID, PageNumber: extracted.PageNumber,
			PageFilePath: extracted.LocalPath, Options: p.Options,
		})
		if merr != nil {
			o.Logger.Error().Err(merr).Str("page_job_id", pageJobID).Msg("failed to marshal PAGE payload")
			continue
		}
		if err := o.Queue.Enqueue(ctx, interfaces.Task{JobID: pageJobID, Type: string(models.JobTypePage), Payload: payload}); err != nil {
			o.Logger.Error().Err(err).Str("page_job_id", pageJobID).Msg("failed to enqueue PAGE task")
		}
	}

	completed := models.StatusCompleted
	if err := o.Metadata.UpdateJob(ctx, p.SplitID, interfaces.JobPatch{Status: &completed, CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("split_id", p.SplitID).Msg("failed to mark SPLIT completed")
	}
	o.putStatus(ctx, p.SplitID, string(models.JobTypeSplit), string(models.StatusCompleted), 100, "", &p.ParentID)
	return nil
}

// failSplit implements the §4.G failure path: retry 30*2^attempt up to
// maxAttemptsSplit. A scheduled retry resets SPLIT to QUEUED (not FAILED)
// so the redelivered task isn't dropped by HandleSplit's terminal-status
// no-op; final failure leaves the MAIN for the monitor to catch.
func (o *Orchestrator) failSplit(ctx context.Context, p *SplitPayload, cause error) error {
	msg := cause.Error()

	if p.Attempt < maxAttemptsSplit-1 {
		requeued := models.StatusQueued
		if err := o.Metadata.UpdateJob(ctx, p.SplitID, interfaces.JobPatch{Status: &requeued, ErrorMessage: &msg}); err != nil {
			o.Logger.Error().Err(err).Str("split_id", p.SplitID).Msg("failed to persist SPLIT retry state")
		}
		o.putStatus(ctx, p.SplitID, string(models.JobTypeSplit), string(models.StatusFailed), 0, "", &p.ParentID)

		next := *p
		next.Attempt++
		payload, merr := json.Marshal(next)
		if merr == nil {
			o.scheduleRetry(childBackoff(next.Attempt), interfaces.Task{JobID: p.SplitID, Type: string(models.JobTypeSplit), Payload: payload})
		}
		return cause
	}

	failed := models.StatusFailed
	if err := o.Metadata.UpdateJob(ctx, p.SplitID, interfaces.JobPatch{Status: &failed, ErrorMessage: &msg, CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("split_id", p.SplitID).Msg("failed to persist SPLIT failure")
	}
	o.putStatus(ctx, p.SplitID, string(models.JobTypeSplit), string(models.StatusFailed), 0, "", &p.ParentID)

	// Final failure: leave the MAIN in its current state for the monitor's
	// stuck-job sweep to reconcile (§4.G).
	return cause
}
