package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// HandleMain is the MAIN task handler (§4.F). The queue guarantees
// at-least-once delivery, so every step here is safe to repeat: writes
// are idempotent on retry (create_job returns the existing row, put-status
// with the same fields is a no-op).
func (o *Orchestrator) HandleMain(ctx context.Context, task interfaces.Task) error {
	var p MainPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return fmt.Errorf("invalid MAIN payload: %w", err)
	}

	job, err := o.Metadata.FindJob(ctx, p.MainID)
	if err != nil {
		return fmt.Errorf("failed to load MAIN %s: %w", p.MainID, err)
	}
	if job == nil {
		return fmt.Errorf("MAIN %s not found", p.MainID)
	}
	if job.Status.IsTerminal() {
		// Redelivered after a prior terminal outcome; nothing left to do.
		return nil
	}

	processing := models.StatusProcessing
	if err := o.Metadata.UpdateJob(ctx, p.MainID, interfaces.JobPatch{Status: &processing, StartedAtNow: true}); err != nil {
		return fmt.Errorf("failed to mark MAIN %s processing: %w", p.MainID, err)
	}
	o.putStatus(ctx, p.MainID, string(models.JobTypeMain), string(models.StatusProcessing), 10, p.Filename, nil)

	localPath, uploadKey, err := o.materialize(ctx, &p)
	if err != nil {
		return o.failMain(ctx, &p, fmt.Errorf("failed to materialize input: %w", err), false)
	}
	if uploadKey != "" {
		if err := o.Metadata.UpdateJob(ctx, p.MainID, interfaces.JobPatch{UploadObjectKey: &uploadKey}); err != nil {
			o.Logger.Warn().Err(err).Str("main_id", p.MainID).Msg("failed to record upload_object_key")
		}
	}

	if err := o.Metadata.UpdateJob(ctx, p.MainID, interfaces.JobPatch{ProgressPercent: intPtr(20)}); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", p.MainID).Msg("failed to update progress to 20")
	}
	o.updateProgress(ctx, p.MainID, 20)

	isAudio := p.Options.IsAudio || audioExtensions()[strings.ToLower(filepath.Ext(localPath))]
	if isAudio {
		return o.runAudioBranch(ctx, &p, localPath)
	}

	shouldSplit, err := o.Extractor.ShouldSplit(ctx, localPath, 2)
	if err != nil {
		return o.failMain(ctx, &p, fmt.Errorf("classification failed: %w", err), false)
	}
	if shouldSplit {
		return o.spawnSplit(ctx, &p, localPath)
	}
	return o.runSingleUnit(ctx, &p, localPath)
}

func intPtr(n int) *int { return &n }

func (o *Orchestrator) putStatus(ctx context.Context, jobID, jobType, status string, progress int, name string, parentID *string) {
	if err := o.Cache.PutStatus(ctx, jobID, interfaces.StatusRecord{
		Type: jobType, Status: status, Progress: progress, Name: name, ParentJobID: parentID,
	}); err != nil {
		o.Logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to write status record")
	}
	if o.Events != nil {
		parent := ""
		if parentID != nil {
			parent = *parentID
		}
		o.Events.Publish(ctx, events.Event{Type: events.JobStatusChanged, Payload: events.StatusChangePayload{
			JobID: jobID, JobType: jobType, Status: status, ParentID: parent,
		}})
	}
}

func (o *Orchestrator) updateProgress(ctx context.Context, jobID string, value int) {
	if err := o.Cache.UpdateProgress(ctx, jobID, value); err != nil {
		o.Logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to update cached progress")
	}
	if o.Events != nil {
		o.Events.Publish(ctx, events.Event{Type: events.JobProgress, Payload: events.ProgressPayload{JobID: jobID, Progress: value}})
	}
}

// materialize implements §4.F.2: the source is already local for file/audio
// submissions (ScratchPath); other source types are out of scope for actual
// fetching (left to a source-handler collaborator this core does not own)
// but the upload-key bookkeeping contract still applies once bytes exist
// locally.
func (o *Orchestrator) materialize(ctx context.Context, p *MainPayload) (localPath, uploadKey string, err error) {
	if p.ScratchPath == "" {
		return "", "", fmt.Errorf("no local path available for source_type=%s; remote fetch is an out-of-scope collaborator", p.SourceType)
	}
	bucket := "uploads"
	if p.SourceType == models.SourceTypeAudio {
		bucket = "audio"
	}
	key := fmt.Sprintf("%s/%s", p.MainID, p.Filename)
	f, err := os.Open(p.ScratchPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	if err := o.Blob.Put(ctx, bucket, key, f, p.MimeType); err != nil {
		return "", "", fmt.Errorf("failed to upload to %s/%s: %w", bucket, key, err)
	}
	return p.ScratchPath, fmt.Sprintf("%s/%s", bucket, key), nil
}

func (o *Orchestrator) runAudioBranch(ctx context.Context, p *MainPayload, localPath string) error {
	result, err := o.Transcriber.Transcribe(ctx, localPath, p.Options)
	if err != nil {
		return o.failMain(ctx, p, fmt.Errorf("transcription failed: %w", err), false)
	}
	markdown := o.Transcriber.FormatAsMarkdown(result, p.Options.IncludeTimestamps)

	metadata := map[string]interface{}{
		"words": result.WordCount, "format": "audio", "language": result.Language,
		"provider": result.Provider, "model": result.Model,
	}
	o.storeFinalResult(ctx, p.MainID, markdown, metadata, result.CharCount)
	return o.completeMain(ctx, p.MainID, result.CharCount)
}

func (o *Orchestrator) runSingleUnit(ctx context.Context, p *MainPayload, localPath string) error {
	result, err := o.Converter.Convert(ctx, localPath, p.Options)
	if err != nil {
		return o.failMain(ctx, p, fmt.Errorf("conversion failed: %w", err), false)
	}
	metadata := map[string]interface{}{
		"words": result.Metadata.Words, "format": result.Metadata.Format,
		"title": result.Metadata.Title, "author": result.Metadata.Author,
	}
	charCount := len(result.Markdown)
	o.storeFinalResult(ctx, p.MainID, result.Markdown, metadata, charCount)
	return o.completeMain(ctx, p.MainID, charCount)
}

func (o *Orchestrator) storeFinalResult(ctx context.Context, mainID, markdown string, metadata map[string]interface{}, charCount int) {
	hasResultStored := true
	if err := o.Cache.SetResult(ctx, mainID, interfaces.ResultBlob{Markdown: markdown, Metadata: metadata}); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("failed to cache final result")
	}
	job, _ := o.Metadata.FindJob(ctx, mainID)
	filename := ""
	if job != nil && job.Filename != nil {
		filename = *job.Filename
	}
	userID := ""
	if job != nil {
		userID = job.UserID
	}
	if err := o.Index.StoreJob(ctx, mainID, markdown, userID, filename, 0, metadata); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("result index store failed (best-effort, degrading has_result_stored)")
		hasResultStored = false
	}
	if err := o.Metadata.UpdateJob(ctx, mainID, interfaces.JobPatch{CharCount: &charCount, HasResultStored: &hasResultStored}); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("failed to persist result metadata")
	}
	if rmErr := os.RemoveAll(o.scratchDir(mainID)); rmErr != nil {
		o.Logger.Debug().Err(rmErr).Str("main_id", mainID).Msg("scratch cleanup skipped")
	}
}

func (o *Orchestrator) completeMain(ctx context.Context, mainID string, charCount int) error {
	completed := models.StatusCompleted
	progress := 100
	if err := o.Metadata.UpdateJob(ctx, mainID, interfaces.JobPatch{
		Status: &completed, ProgressPercent: &progress, CompletedAtNow: true,
	}); err != nil {
		return fmt.Errorf("failed to mark MAIN %s completed: %w", mainID, err)
	}
	o.putStatus(ctx, mainID, string(models.JobTypeMain), string(models.StatusCompleted), 100, "", nil)
	return nil
}

// spawnSplit creates the SPLIT child and enqueues it; the MAIN task returns
// without marking MAIN complete (§4.F.4.b).
func (o *Orchestrator) spawnSplit(ctx context.Context, p *MainPayload, localPath string) error {
	splitID := common.NewID()
	splitJob := models.NewChildJob(splitID, p.UserID, models.JobTypeSplit, p.MainID, nil, o.Clock.Now())
	splitJob.Status = models.StatusQueued
	if _, err := o.Metadata.CreateJob(ctx, splitJob); err != nil {
		return fmt.Errorf("failed to create SPLIT job: %w", err)
	}
	o.putStatus(ctx, splitID, string(models.JobTypeSplit), string(models.StatusQueued), 0, "", &p.MainID)
	if err := o.Cache.AddChild(ctx, p.MainID, interfaces.ChildRoleSplit, splitID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", p.MainID).Msg("failed to register split child")
	}

	payload, err := json.Marshal(SplitPayload{SplitID: splitID, ParentID: p.MainID, FilePath: localPath, Options: p.Options})
	if err != nil {
		return fmt.Errorf("failed to marshal SPLIT payload: %w", err)
	}
	return o.Queue.Enqueue(ctx, interfaces.Task{JobID: splitID, Type: string(models.JobTypeSplit), Payload: payload})
}

// failMain implements §4.F.5: soft-timeout and generic errors both count
// against maxAttemptsMain's 3-attempt budget, backing off 60*2^attempt
// between tries. A scheduled retry resets the row to QUEUED (not FAILED)
// so the redelivered task isn't dropped by the terminal-status no-op at
// the top of HandleMain; only the final exhausted attempt leaves MAIN
// FAILED.
func (o *Orchestrator) failMain(ctx context.Context, p *MainPayload, cause error, softTimeout bool) error {
	msg := cause.Error()
	if softTimeout {
		msg = "exceeded soft time limit"
	}

	if p.Attempt < maxAttemptsMain-1 {
		requeued := models.StatusQueued
		if err := o.Metadata.UpdateJob(ctx, p.MainID, interfaces.JobPatch{Status: &requeued, ErrorMessage: &msg}); err != nil {
			o.Logger.Error().Err(err).Str("main_id", p.MainID).Msg("failed to persist MAIN retry state")
		}
		o.putStatus(ctx, p.MainID, string(models.JobTypeMain), string(models.StatusFailed), 0, "", nil)

		next := p
		next.Attempt++
		payload, merr := json.Marshal(next)
		if merr == nil {
			o.scheduleRetry(mainBackoff(next.Attempt), interfaces.Task{JobID: p.MainID, Type: string(models.JobTypeMain), Payload: payload})
		}
		return cause
	}

	failed := models.StatusFailed
	if err := o.Metadata.UpdateJob(ctx, p.MainID, interfaces.JobPatch{
		Status: &failed, ErrorMessage: &msg, CompletedAtNow: true,
	}); err != nil {
		o.Logger.Error().Err(err).Str("main_id", p.MainID).Msg("failed to persist MAIN failure")
	}
	o.putStatus(ctx, p.MainID, string(models.JobTypeMain), string(models.StatusFailed), 0, "", nil)
	os.RemoveAll(o.scratchDir(p.MainID))
	return cause
}
