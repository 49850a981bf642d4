// Package orchestrator implements the Hierarchical Job Orchestration Core:
// the dispatcher, splitter, page, merger and aggregator task handlers, and
// the query/command surface that fronts the two coupled gateways.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// Orchestrator wires the core's task handlers and query surface to its
// gateways and out-of-scope collaborators (§6). It never imports a
// concrete store or converter package directly.
type Orchestrator struct {
	Metadata interfaces.MetadataStore
	Cache    interfaces.StatusCache
	Queue    interfaces.Queue
	Blob     interfaces.BlobStore
	Index    interfaces.ResultIndex
	Converter interfaces.DocumentConverter
	Transcriber interfaces.AudioTranscriber
	Extractor interfaces.PageExtractor
	Clock    interfaces.Clock

	Events *events.Bus

	Config *common.Config
	Logger arbor.ILogger
}

// New constructs an Orchestrator from its gateways and collaborators.
func New(
	metadata interfaces.MetadataStore,
	cache interfaces.StatusCache,
	queue interfaces.Queue,
	blob interfaces.BlobStore,
	index interfaces.ResultIndex,
	converter interfaces.DocumentConverter,
	transcriber interfaces.AudioTranscriber,
	extractor interfaces.PageExtractor,
	clock interfaces.Clock,
	bus *events.Bus,
	config *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		Metadata:    metadata,
		Cache:       cache,
		Queue:       queue,
		Blob:        blob,
		Index:       index,
		Converter:   converter,
		Transcriber: transcriber,
		Extractor:   extractor,
		Clock:       clock,
		Events:      bus,
		Config:      config,
		Logger:      logger,
	}
}

func (o *Orchestrator) scratchDir(mainID string) string {
	return filepath.Join(o.Config.Storage.Filesystem.ScratchRoot, mainID)
}

func audioExtensions() map[string]bool {
	return map[string]bool{
		".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".ogg": true, ".aac": true,
	}
}

// Submit is the §6 submission entry point: create a MAIN row (honoring the
// dedup gate for file sources), write initial status, enqueue one MAIN
// task. Returns the resolved main_id (which may belong to a pre-existing
// row when the dedup gate short-circuits) and its initial status.
func (o *Orchestrator) Submit(ctx context.Context, userID string, sourceType models.SourceType, sourceDescriptor string, uploadedBytes io.Reader, filename, mimeType string, options interfaces.ConvertOptions) (string, models.JobStatus, error) {
	var fileChecksum string
	var fileSizeBytes int64
	var scratchPath string

	if sourceType == models.SourceTypeFile || sourceType == models.SourceTypeAudio {
		if uploadedBytes == nil {
			return "", "", fmt.Errorf("file/audio submissions require uploaded bytes")
		}
		sum, size, path, err := o.bufferAndHash(sourceDescriptor, uploadedBytes)
		if err != nil {
			return "", "", fmt.Errorf("failed to buffer upload: %w", err)
		}
		limitMB := o.Config.Processing.MaxFileSizeMB
		if sourceType == models.SourceTypeAudio {
			limitMB = o.Config.Processing.MaxAudioFileSizeMB
		}
		if limitMB > 0 && size > int64(limitMB)*1024*1024 {
			os.Remove(path)
			return "", "", fmt.Errorf("upload of %d bytes exceeds the %d MB size limit", size, limitMB)
		}
		fileChecksum, fileSizeBytes, scratchPath = sum, size, path

		existing, err := o.Metadata.FindJobByDedupKey(ctx, userID, fileChecksum)
		if err != nil {
			return "", "", fmt.Errorf("dedup lookup failed: %w", err)
		}
		if existing != nil {
			o.Logger.Info().Str("existing_main_id", existing.JobID).Str("checksum", fileChecksum).
				Msg("dedup gate: reusing existing MAIN for identical file content")
			return existing.JobID, existing.Status, nil
		}
	}

	now := o.Clock.Now()
	mainID := common.NewID()
	job := models.NewMainJob(mainID, userID, sourceType, now)
	job.Status = models.StatusQueued
	if filename != "" {
		job.Filename = &filename
	}
	if mimeType != "" {
		job.MimeType = &mimeType
	}
	if fileChecksum != "" {
		job.FileChecksum = &fileChecksum
		job.FileSizeBytes = &fileSizeBytes
	}
	if sourceType != models.SourceTypeFile && sourceType != models.SourceTypeAudio {
		job.SourceURL = &sourceDescriptor
	}

	created, err := o.Metadata.CreateJob(ctx, job)
	if err != nil {
		return "", "", fmt.Errorf("failed to create MAIN job: %w", err)
	}

	if err := o.Cache.SetOwner(ctx, mainID, userID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("failed to set owner in status cache")
	}
	if err := o.Cache.PutStatus(ctx, mainID, interfaces.StatusRecord{
		Type: string(models.JobTypeMain), Status: string(models.StatusQueued), Progress: 10, Name: filename,
	}); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("failed to write initial status record")
	}

	payload, err := json.Marshal(MainPayload{
		MainID:      mainID,
		UserID:      userID,
		SourceType:  sourceType,
		Source:      sourceDescriptor,
		ScratchPath: scratchPath,
		Filename:    filename,
		MimeType:    mimeType,
		Options:     options,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal MAIN task payload: %w", err)
	}

	if err := o.Queue.Enqueue(ctx, interfaces.Task{JobID: mainID, Type: string(models.JobTypeMain), Payload: payload}); err != nil {
		return "", "", fmt.Errorf("failed to enqueue MAIN task: %w", err)
	}

	return created.JobID, created.Status, nil
}

func (o *Orchestrator) bufferAndHash(suggestedName string, r io.Reader) (checksum string, size int64, scratchPath string, err error) {
	tmpDir := o.Config.Storage.Filesystem.ScratchRoot
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return "", 0, "", err
	}
	tmpFile, err := os.CreateTemp(tmpDir, "submit-*-"+filepath.Base(suggestedName))
	if err != nil {
		return "", 0, "", err
	}
	defer tmpFile.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return "", 0, "", err
	}
	return hex.EncodeToString(h.Sum(nil)), n, tmpFile.Name(), nil
}

// GetJob returns the MAIN row plus its page sub-status list (§6 get_job).
func (o *Orchestrator) GetJob(ctx context.Context, mainID string, offset, limit int) (*models.Job, []*models.Page, error) {
	job, err := o.Metadata.FindJob(ctx, mainID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, nil
	}
	pages, err := o.Metadata.FindPages(ctx, mainID)
	if err != nil {
		return job, nil, err
	}
	if limit > 0 && offset < len(pages) {
		end := offset + limit
		if end > len(pages) {
			end = len(pages)
		}
		pages = pages[offset:end]
	} else if offset >= len(pages) {
		pages = nil
	}
	return job, pages, nil
}

func (o *Orchestrator) GetPage(ctx context.Context, mainID string, pageNumber int) (*models.Page, error) {
	return o.Metadata.FindPage(ctx, mainID, pageNumber)
}

// GetResult returns the final result, only for a COMPLETED MAIN (§6).
func (o *Orchestrator) GetResult(ctx context.Context, jobID string) (*interfaces.ResultBlob, error) {
	job, err := o.Metadata.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.Status != models.StatusCompleted {
		return nil, nil
	}
	return o.Cache.GetResult(ctx, jobID)
}

func (o *Orchestrator) GetPageResult(ctx context.Context, mainID string, pageNumber int) (string, error) {
	page, err := o.Metadata.FindPage(ctx, mainID, pageNumber)
	if err != nil || page == nil || page.MarkdownContent == nil {
		return "", err
	}
	return *page.MarkdownContent, nil
}

func (o *Orchestrator) ListUserJobs(ctx context.Context, userID string, limit int) ([]string, error) {
	return o.Cache.ListUserJobs(ctx, userID, limit)
}

func (o *Orchestrator) Search(ctx context.Context, userID, query string, limit int) ([]interfaces.ResultIndexEntry, error) {
	return o.Index.Search(ctx, userID, query, limit)
}

// Delete cascades a MAIN's metadata rows, best-effort cleans the result
// index and the results/{main_id}/ blob prefix, and removes status cache
// keys (§6 delete). Upload, audio and page blobs are not deleted here.
func (o *Orchestrator) Delete(ctx context.Context, mainID string) error {
	if err := o.Index.DeleteJob(ctx, mainID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("result index delete failed, continuing (best-effort)")
	}
	if err := o.Index.DeleteAllPages(ctx, mainID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("result index page delete failed, continuing (best-effort)")
	}
	if err := o.Blob.DeletePrefix(ctx, "results", mainID+"/"); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("result blob delete failed, continuing")
	}
	if err := o.Cache.DeleteJobKeys(ctx, mainID); err != nil {
		o.Logger.Warn().Err(err).Str("main_id", mainID).Msg("status cache cleanup failed, continuing")
	}
	return o.Metadata.DeleteCascade(ctx, mainID)
}

// Cancel is a status transition only (§5). MAIN, SPLIT and MERGE handlers
// skip a task whose job is already terminal when the task starts; PAGE
// handlers check only their own page's status. No handler re-checks the
// status while it runs, so work already under way is not interrupted and
// its later status writes can replace CANCELLED.
func (o *Orchestrator) Cancel(ctx context.Context, mainID string) error {
	status := models.StatusCancelled
	if err := o.Metadata.UpdateJob(ctx, mainID, interfaces.JobPatch{Status: &status, CompletedAtNow: true}); err != nil {
		return err
	}
	rec, err := o.Cache.GetStatus(ctx, mainID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &interfaces.StatusRecord{Type: string(models.JobTypeMain)}
	}
	rec.Status = string(models.StatusCancelled)
	return o.Cache.PutStatus(ctx, mainID, *rec)
}
