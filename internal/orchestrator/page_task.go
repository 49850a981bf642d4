package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// HandlePage is the PAGE task handler (§4.H).
func (o *Orchestrator) HandlePage(ctx context.Context, task interfaces.Task) error {
	var p PagePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("invalid PAGE payload: %w", err)
	}

	page, err := o.Metadata.FindPage(ctx, p.ParentID, p.PageNumber)
	if err != nil {
		return fmt.Errorf("failed to load page %d of %s: %w", p.PageNumber, p.ParentID, err)
	}
	if page == nil {
		return fmt.Errorf("page %d of %s not found", p.PageNumber, p.ParentID)
	}
	if page.Status.IsTerminal() {
		return nil // redelivered after a prior terminal outcome
	}

	processing := models.StatusProcessing
	if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{Status: &processing}); err != nil {
		return fmt.Errorf("failed to mark page %s processing: %w", page.PageID, err)
	}
	o.putStatus(ctx, p.PageJobID, string(models.JobTypePage), string(models.StatusProcessing), 0, "", &p.ParentID)

	result, convErr := o.Converter.Convert(ctx, p.PageFilePath, p.Options)
	if convErr != nil {
		return o.failPage(ctx, &p, page, fmt.Errorf("page conversion failed: %w", convErr))
	}

	charCount := len(result.Markdown)
	hasResultStored := true

	if err := o.Cache.SetResult(ctx, p.PageJobID, interfaces.ResultBlob{
		Markdown: result.Markdown,
		Metadata: map[string]interface{}{"words": result.Metadata.Words, "format": result.Metadata.Format},
	}); err != nil {
		return o.failPage(ctx, &p, page, fmt.Errorf("failed to cache page result (required): %w", err))
	}
	if err := o.Index.StorePage(ctx, p.ParentID, p.PageNumber, result.Markdown, map[string]interface{}{"words": result.Metadata.Words}); err != nil {
		o.Logger.Warn().Err(err).Str("parent_id", p.ParentID).Int("page_number", p.PageNumber).
			Msg("result index store failed (best-effort, degrading has_result_stored)")
		hasResultStored = false
	}
	if blobErr := o.Blob.Put(ctx, "results", fmt.Sprintf("%s/page_%04d.md", p.ParentID, p.PageNumber),
		strings.NewReader(result.Markdown), "text/markdown"); blobErr != nil {
		o.Logger.Warn().Err(blobErr).Str("parent_id", p.ParentID).Int("page_number", p.PageNumber).
			Msg("result blob write failed (best-effort)")
	}

	completed := models.StatusCompleted
	if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{
		Status: &completed, MarkdownContent: &result.Markdown, CharCount: &charCount,
		HasResultStored: &hasResultStored, CompletedAtNow: true,
	}); err != nil {
		return fmt.Errorf("failed to persist page %s completion: %w", page.PageID, err)
	}
	if _, err := o.Metadata.IncrementCounter(ctx, p.ParentID, page.PageID, models.StatusCompleted, interfaces.CounterPagesCompleted); err != nil {
		o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Msg("failed to recompute pages_completed")
	}

	o.putStatus(ctx, p.PageJobID, string(models.JobTypePage), string(models.StatusCompleted), 100, "", &p.ParentID)
	o.refreshMainProgress(ctx, p.ParentID)

	if err := o.checkAndTriggerMerge(ctx, p.ParentID); err != nil {
		o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Msg("aggregator check failed")
	}
	return nil
}

func (o *Orchestrator) refreshMainProgress(ctx context.Context, mainID string) {
	total, found, err := o.Cache.GetPagesTotal(ctx, mainID)
	if err != nil || !found || total == 0 {
		return
	}
	completed, err := o.Cache.CountCompletedPageChildren(ctx, mainID)
	if err != nil {
		return
	}
	progress := models.ProgressBand(completed, total)
	if err := o.Metadata.UpdateJob(ctx, mainID, interfaces.JobPatch{ProgressPercent: &progress}); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("failed to persist MAIN progress")
	}
	o.updateProgress(ctx, mainID, progress)
}

// failPage implements §4.H.8: retry 30*2^attempt up to maxAttemptsPage. A
// scheduled retry resets the page to QUEUED (not FAILED) so the
// redelivered task isn't dropped by HandlePage's terminal-status no-op,
// and leaves pages_failed untouched since the page hasn't actually
// reached a terminal state yet. Only the final exhausted attempt marks
// the page FAILED, recomputes pages_failed, and runs the aggregator
// (FAILED is terminal for the fan-in predicate).
func (o *Orchestrator) failPage(ctx context.Context, p *PagePayload, page *models.Page, cause error) error {
	msg := cause.Error()

	if p.Attempt < maxAttemptsPage-1 {
		requeued := models.StatusQueued
		if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{Status: &requeued, ErrorMessage: &msg}); err != nil {
			o.Logger.Error().Err(err).Str("page_id", page.PageID).Msg("failed to persist page retry state")
			return cause
		}
		o.putStatus(ctx, p.PageJobID, string(models.JobTypePage), string(models.StatusFailed), 0, "", &p.ParentID)

		next := *p
		next.Attempt++
		payload, merr := json.Marshal(next)
		if merr == nil {
			o.scheduleRetry(childBackoff(next.Attempt), interfaces.Task{JobID: p.PageJobID, Type: string(models.JobTypePage), Payload: payload})
		}
		return cause
	}

	failed := models.StatusFailed
	if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{Status: &failed, ErrorMessage: &msg, CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("page_id", page.PageID).Msg("failed to persist page failure")
		return cause
	}
	if _, err := o.Metadata.IncrementCounter(ctx, p.ParentID, page.PageID, models.StatusFailed, interfaces.CounterPagesFailed); err != nil {
		o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Msg("failed to recompute pages_failed")
	}
	o.putStatus(ctx, p.PageJobID, string(models.JobTypePage), string(models.StatusFailed), 0, "", &p.ParentID)

	// Final failure: the page stays FAILED; the aggregator must still run
	// since FAILED is a terminal state for the fan-in predicate.
	if err := o.checkAndTriggerMerge(ctx, p.ParentID); err != nil {
		o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Msg("aggregator check failed after final page failure")
	}
	return cause
}

// ProcessPage is the retry entry point (§4.H "separate retry entry
// point"): re-extract the page from the original upload, assign a new
// page_job_id, reset the Page row to PENDING with an incremented
// retry_count, and requeue. Returns the new page_job_id.
func (o *Orchestrator) ProcessPage(ctx context.Context, mainID string, pageNumber, maxRetries int) (string, error) {
	page, err := o.Metadata.FindPage(ctx, mainID, pageNumber)
	if err != nil {
		return "", err
	}
	if page == nil {
		return "", fmt.Errorf("page %d of %s not found", pageNumber, mainID)
	}
	if page.RetryCount >= maxRetries {
		return "", fmt.Errorf("page %d of %s already at retry ceiling (%d)", pageNumber, mainID, maxRetries)
	}

	main, err := o.Metadata.FindJob(ctx, mainID)
	if err != nil {
		return "", err
	}

	// Reset to PENDING and bump retry_count unconditionally (§4.K step 2):
	// the actual requeue below may still fail if the original upload is
	// gone, in which case the page is left PENDING for manual recovery
	// rather than reverted to FAILED.
	pending := models.StatusPending
	newRetryCount := page.RetryCount + 1
	if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{
		Status: &pending, RetryCount: &newRetryCount,
	}); err != nil {
		return "", fmt.Errorf("failed to reset page for retry: %w", err)
	}

	if main == nil || main.UploadObjectKey == nil {
		return "", fmt.Errorf("original upload blob for %s no longer on record; page %d left PENDING for manual recovery", mainID, pageNumber)
	}
	bucket, key, ok := strings.Cut(*main.UploadObjectKey, "/")
	if !ok {
		return "", fmt.Errorf("malformed upload_object_key %q; page %d left PENDING for manual recovery", *main.UploadObjectKey, pageNumber)
	}
	if exists, err := o.Blob.Exists(ctx, bucket, key); err != nil {
		return "", err
	} else if !exists {
		return "", fmt.Errorf("original upload blob %s missing; page %d left PENDING for manual recovery", *main.UploadObjectKey, pageNumber)
	}

	if err := os.MkdirAll(o.scratchDir(mainID), 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare scratch dir: %w", err)
	}
	scratchPDF := fmt.Sprintf("%s/%s_retry.pdf", o.scratchDir(mainID), page.PageID)
	src, err := o.Blob.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("failed to fetch original upload for re-extraction: %w", err)
	}
	dst, err := os.Create(scratchPDF)
	if err != nil {
		src.Close()
		return "", err
	}
	_, copyErr := io.Copy(dst, src)
	src.Close()
	dst.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to stage original upload for re-extraction: %w", copyErr)
	}

	extracted, err := o.Extractor.ExtractOne(ctx, scratchPDF, pageNumber, mainID)
	if err != nil {
		return "", fmt.Errorf("re-extraction failed: %w", err)
	}

	newPageJobID := common.NewID()
	if err := o.Metadata.UpdatePage(ctx, page.PageID, interfaces.PagePatch{PageJobID: &newPageJobID}); err != nil {
		return "", fmt.Errorf("failed to assign new page_job_id for retry: %w", err)
	}
	if err := o.Cache.SetPageChildByNumber(ctx, mainID, pageNumber, newPageJobID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Int("page_number", pageNumber).Msg("failed to re-register page child for retry")
	}
	o.putStatus(ctx, newPageJobID, string(models.JobTypePage), string(models.StatusQueued), 0, "", &mainID)

	payload, err := json.Marshal(PagePayload{
		PageJobID: newPageJobID, ParentID: mainID, PageNumber: pageNumber, PageFilePath: extracted.LocalPath,
	})
	if err != nil {
		return "", err
	}
	if err := o.Queue.Enqueue(ctx, interfaces.Task{JobID: newPageJobID, Type: string(models.JobTypePage), Payload: payload}); err != nil {
		return "", fmt.Errorf("failed to enqueue retried page task: %w", err)
	}
	return newPageJobID, nil
}
