package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/testutil"
)

// newDispatcherTestOrchestrator mirrors newTestOrchestrator but lets the
// caller configure the extractor's split decision, since HandleMain's
// branch (single-unit vs spawn-SPLIT) hinges on it.
func newDispatcherTestOrchestrator(t *testing.T, extractor *testutil.FakeExtractor) (*Orchestrator, *testutil.FakeMetadataStore, *testutil.FakeStatusCache, *testutil.FakeQueue, *testutil.FakeBlobStore) {
	t.Helper()
	metadata := testutil.NewFakeMetadataStore()
	cache := testutil.NewFakeStatusCache()
	queue := testutil.NewFakeQueue()
	blob := testutil.NewFakeBlobStore()
	index := testutil.NewFakeResultIndex()
	clock := testutil.NewFakeClock(time.Now().UTC())
	bus := events.NewBus(arbor.NewLogger())
	config := common.NewDefaultConfig()
	config.Storage.Filesystem.ScratchRoot = t.TempDir()

	o := New(metadata, cache, queue, blob, index, testutil.NewFakeConverter("converted body"), testutil.FakeTranscriber{}, extractor, clock, bus, config, arbor.NewLogger())
	return o, metadata, cache, queue, blob
}

func writeScratchFile(t *testing.T, o *Orchestrator, mainID, name, content string) string {
	t.Helper()
	dir := o.scratchDir(mainID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mainTask(t *testing.T, p MainPayload) interfaces.Task {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return interfaces.Task{JobID: p.MainID, Type: string(models.JobTypeMain), Payload: payload}
}

func TestHandleMainSingleUnitCompletesSynchronously(t *testing.T) {
	o, metadata, _, _, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{ShouldSplitResult: false})
	ctx := context.Background()

	job := models.NewMainJob("main-1", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	scratchPath := writeScratchFile(t, o, "main-1", "doc.pdf", "hello world")

	task := mainTask(t, MainPayload{MainID: "main-1", UserID: "user-1", SourceType: models.SourceTypeFile, ScratchPath: scratchPath, Filename: "doc.pdf", MimeType: "application/pdf"})
	if err := o.HandleMain(ctx, task); err != nil {
		t.Fatalf("HandleMain: %v", err)
	}

	updated, err := metadata.FindJob(ctx, "main-1")
	if err != nil || updated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Errorf("expected MAIN completed for a non-split document, got %s", updated.Status)
	}
}

func TestHandleMainSpawnsSplitWhenShouldSplit(t *testing.T) {
	o, metadata, cache, queue, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{ShouldSplitResult: true})
	ctx := context.Background()

	job := models.NewMainJob("main-2", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	scratchPath := writeScratchFile(t, o, "main-2", "doc.pdf", "multi page content")

	task := mainTask(t, MainPayload{MainID: "main-2", UserID: "user-1", SourceType: models.SourceTypeFile, ScratchPath: scratchPath, Filename: "doc.pdf", MimeType: "application/pdf"})
	if err := o.HandleMain(ctx, task); err != nil {
		t.Fatalf("HandleMain: %v", err)
	}

	updated, err := metadata.FindJob(ctx, "main-2")
	if err != nil || updated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if updated.Status == models.StatusCompleted {
		t.Error("expected MAIN to stay in flight once a SPLIT is spawned, not complete directly")
	}
	if queue.CountByType(string(models.JobTypeSplit)) != 1 {
		t.Errorf("expected exactly one SPLIT task enqueued, got %d", queue.CountByType(string(models.JobTypeSplit)))
	}
	splitID, ok, err := cache.GetChild(ctx, "main-2", interfaces.ChildRoleSplit)
	if err != nil || !ok || splitID == "" {
		t.Fatalf("expected a split child slot registered, ok=%v err=%v", ok, err)
	}
}

func TestHandleMainAudioBranchTranscribes(t *testing.T) {
	o, metadata, _, _, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{})
	ctx := context.Background()

	job := models.NewMainJob("main-3", "user-1", models.SourceTypeAudio, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	scratchPath := writeScratchFile(t, o, "main-3", "audio.mp3", "fake audio bytes")

	task := mainTask(t, MainPayload{MainID: "main-3", UserID: "user-1", SourceType: models.SourceTypeAudio, ScratchPath: scratchPath, Filename: "audio.mp3", MimeType: "audio/mpeg"})
	if err := o.HandleMain(ctx, task); err != nil {
		t.Fatalf("HandleMain: %v", err)
	}

	updated, err := metadata.FindJob(ctx, "main-3")
	if err != nil || updated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if updated.Status != models.StatusCompleted {
		t.Errorf("expected audio MAIN completed via the transcriber branch, got %s", updated.Status)
	}
}

func TestHandleMainTerminalJobIsNoop(t *testing.T) {
	o, metadata, _, queue, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{})
	ctx := context.Background()

	job := models.NewMainJob("main-4", "user-1", models.SourceTypeFile, o.Clock.Now())
	job.Status = models.StatusCompleted
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	task := mainTask(t, MainPayload{MainID: "main-4", UserID: "user-1", SourceType: models.SourceTypeFile, Filename: "doc.pdf"})
	if err := o.HandleMain(ctx, task); err != nil {
		t.Fatalf("HandleMain on a redelivered terminal job should be a no-op, got err: %v", err)
	}
	if queue.CountByType(string(models.JobTypeSplit)) != 0 {
		t.Error("expected no new work spawned for an already-terminal MAIN")
	}
}

func TestHandleMainMaterializeFailureSchedulesRetryWhenAttemptsRemain(t *testing.T) {
	o, metadata, _, _, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{})
	ctx := context.Background()

	job := models.NewMainJob("main-5", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	// No ScratchPath means materialize has nothing local to upload. Attempt
	// defaults to 0, well under maxAttemptsMain, so this must take the
	// scheduled-retry branch rather than the terminal one.
	task := mainTask(t, MainPayload{MainID: "main-5", UserID: "user-1", SourceType: models.SourceTypeFile, Filename: "doc.pdf"})
	if err := o.HandleMain(ctx, task); err == nil {
		t.Fatal("expected HandleMain to fail when no local source is available")
	}

	updated, err := metadata.FindJob(ctx, "main-5")
	if err != nil || updated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	// A scheduled retry must leave the row non-terminal (QUEUED), or the
	// redelivered retry task would be dropped by HandleMain's own
	// terminal-status no-op and the remaining attempts would never run.
	if updated.Status != models.StatusQueued {
		t.Errorf("expected MAIN reset to QUEUED for a scheduled retry, got %s", updated.Status)
	}
}

func TestHandleMainMaterializeFailureAtAttemptCeilingFails(t *testing.T) {
	o, metadata, _, _, _ := newDispatcherTestOrchestrator(t, &testutil.FakeExtractor{})
	ctx := context.Background()

	job := models.NewMainJob("main-6", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	// Attempt is already at the final retry, so this must exhaust the
	// budget and leave MAIN terminally FAILED instead of retrying again.
	task := mainTask(t, MainPayload{MainID: "main-6", UserID: "user-1", SourceType: models.SourceTypeFile, Filename: "doc.pdf", Attempt: maxAttemptsMain - 1})
	if err := o.HandleMain(ctx, task); err == nil {
		t.Fatal("expected HandleMain to fail when no local source is available")
	}

	updated, err := metadata.FindJob(ctx, "main-6")
	if err != nil || updated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if updated.Status != models.StatusFailed {
		t.Errorf("expected MAIN FAILED after exhausting retry attempts, got %s", updated.Status)
	}
}
