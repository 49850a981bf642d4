package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// HandleMerge is the MERGE task handler (§4.I): concatenate every page
// child's stored result in page_number order and complete the MAIN.
func (o *Orchestrator) HandleMerge(ctx context.Context, task interfaces.Task) error {
	var p MergePayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("invalid MERGE payload: %w", err)
	}

	job, err := o.Metadata.FindJob(ctx, p.MergeID)
	if err != nil {
		return fmt.Errorf("failed to load MERGE %s: %w", p.MergeID, err)
	}
	if job == nil {
		return fmt.Errorf("MERGE %s not found", p.MergeID)
	}
	if job.Status.IsTerminal() {
		return nil
	}

	processing := models.StatusProcessing
	if err := o.Metadata.UpdateJob(ctx, p.MergeID, interfaces.JobPatch{Status: &processing, StartedAtNow: true}); err != nil {
		return fmt.Errorf("failed to mark MERGE %s processing: %w", p.MergeID, err)
	}
	o.putStatus(ctx, p.MergeID, string(models.JobTypeMerge), string(models.StatusProcessing), 0, "", &p.ParentID)

	pages, err := o.Metadata.FindPages(ctx, p.ParentID)
	if err != nil {
		return o.failMerge(ctx, &p, fmt.Errorf("failed to load pages for %s: %w", p.ParentID, err))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })

	var sections []string
	totalWords := 0
	for _, page := range pages {
		if page.Status != models.StatusCompleted {
			// §4.I: a FAILED page contributes no markdown fragment at all.
			continue
		}
		result, err := o.Cache.GetResult(ctx, page.PageJobID)
		if err != nil || result == nil {
			o.Logger.Warn().Str("parent_id", p.ParentID).Int("page_number", page.PageNumber).
				Msg("cached page result missing at merge time, falling back to stored markdown")
			if page.MarkdownContent != nil {
				sections = append(sections, *page.MarkdownContent)
			}
			continue
		}
		sections = append(sections, result.Markdown)
		// Metadata round-trips through JSON in the status cache, so numeric
		// fields decode as float64 rather than int.
		if words, ok := result.Metadata["words"].(float64); ok {
			totalWords += int(words)
		}
	}

	merged := strings.Join(sections, "\n\n---\n\n")
	charCount := len(merged)
	metadata := map[string]interface{}{
		"words": totalWords, "format": "pdf", "pages": len(pages),
	}
	o.storeFinalResult(ctx, p.ParentID, merged, metadata, charCount)

	mergeCompleted := models.StatusCompleted
	if err := o.Metadata.UpdateJob(ctx, p.MergeID, interfaces.JobPatch{Status: &mergeCompleted, ProgressPercent: intPtr(100), CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("merge_id", p.MergeID).Msg("failed to mark MERGE completed")
	}
	o.putStatus(ctx, p.MergeID, string(models.JobTypeMerge), string(models.StatusCompleted), 100, "", &p.ParentID)

	if err := o.completeMain(ctx, p.ParentID, charCount); err != nil {
		return err
	}
	if rmErr := os.RemoveAll(o.scratchDir(p.ParentID)); rmErr != nil {
		o.Logger.Debug().Err(rmErr).Str("parent_id", p.ParentID).Msg("scratch cleanup skipped")
	}
	return nil
}

// failMerge implements §4.I's failure path: retry 30*2^attempt up to
// maxAttemptsMerge. A scheduled retry resets MERGE to QUEUED (not
// FAILED) so the redelivered task isn't dropped by HandleMerge's
// terminal-status no-op; on final failure the error propagates to MAIN
// as "Merge failed: ...".
func (o *Orchestrator) failMerge(ctx context.Context, p *MergePayload, cause error) error {
	msg := cause.Error()

	if p.Attempt < maxAttemptsMerge-1 {
		requeued := models.StatusQueued
		if err := o.Metadata.UpdateJob(ctx, p.MergeID, interfaces.JobPatch{Status: &requeued, ErrorMessage: &msg}); err != nil {
			o.Logger.Error().Err(err).Str("merge_id", p.MergeID).Msg("failed to persist MERGE retry state")
		}
		o.putStatus(ctx, p.MergeID, string(models.JobTypeMerge), string(models.StatusFailed), 0, "", &p.ParentID)

		next := *p
		next.Attempt++
		payload, merr := json.Marshal(next)
		if merr == nil {
			o.scheduleRetry(childBackoff(next.Attempt), interfaces.Task{JobID: p.MergeID, Type: string(models.JobTypeMerge), Payload: payload})
		}
		return cause
	}

	failed := models.StatusFailed
	if err := o.Metadata.UpdateJob(ctx, p.MergeID, interfaces.JobPatch{Status: &failed, ErrorMessage: &msg, CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("merge_id", p.MergeID).Msg("failed to persist MERGE failure")
	}
	o.putStatus(ctx, p.MergeID, string(models.JobTypeMerge), string(models.StatusFailed), 0, "", &p.ParentID)

	mainMsg := fmt.Sprintf("Merge failed: %s", cause.Error())
	mainFailed := models.StatusFailed
	if err := o.Metadata.UpdateJob(ctx, p.ParentID, interfaces.JobPatch{Status: &mainFailed, ErrorMessage: &mainMsg, CompletedAtNow: true}); err != nil {
		o.Logger.Error().Err(err).Str("parent_id", p.ParentID).Msg("failed to propagate merge failure to MAIN")
	}
	o.putStatus(ctx, p.ParentID, string(models.JobTypeMain), string(models.StatusFailed), 0, "", nil)
	return cause
}
