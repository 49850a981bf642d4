package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/testutil"
)

func newMergerTestOrchestrator(t *testing.T) (*Orchestrator, *testutil.FakeMetadataStore, *testutil.FakeStatusCache) {
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

	o := New(metadata, cache, queue, blob, index, testutil.NewFakeConverter("unused"), testutil.FakeTranscriber{}, &testutil.FakeExtractor{}, clock, bus, config, arbor.NewLogger())
	return o, metadata, cache
}

func createPageWithResult(t *testing.T, o *Orchestrator, metadata *testutil.FakeMetadataStore, cache *testutil.FakeStatusCache, mainID, pageID, pageJobID string, pageNumber int, markdown string, status models.JobStatus) {
	t.Helper()
	ctx := context.Background()
	page := models.NewPage(pageID, mainID, pageNumber, pageJobID, "pages/"+mainID+"/page.pdf", o.Clock.Now())
	page.Status = status
	if status == models.StatusCompleted {
		page.MarkdownContent = &markdown
	}
	if _, err := metadata.CreatePage(ctx, page); err != nil {
		t.Fatal(err)
	}
	if status == models.StatusCompleted {
		if err := cache.SetResult(ctx, pageJobID, interfaces.ResultBlob{Markdown: markdown, Metadata: map[string]interface{}{"words": 2.0}}); err != nil {
			t.Fatal(err)
		}
	}
}

func mergeTask(t *testing.T, p MergePayload) interfaces.Task {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return interfaces.Task{JobID: p.MergeID, Type: string(models.JobTypeMerge), Payload: payload}
}

func TestHandleMergeConcatenatesPagesInOrder(t *testing.T) {
	o, metadata, cache := newMergerTestOrchestrator(t)
	ctx := context.Background()

	main := models.NewMainJob("main-1", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, main); err != nil {
		t.Fatal(err)
	}
	merge := models.NewChildJob("merge-1", "user-1", models.JobTypeMerge, "main-1", nil, o.Clock.Now())
	merge.Status = models.StatusQueued
	if _, err := metadata.CreateJob(ctx, merge); err != nil {
		t.Fatal(err)
	}

	// Stored out of order to verify the merge sorts by page_number.
	createPageWithResult(t, o, metadata, cache, "main-1", "page-2", "pagejob-2", 2, "second page", models.StatusCompleted)
	createPageWithResult(t, o, metadata, cache, "main-1", "page-1", "pagejob-1", 1, "first page", models.StatusCompleted)

	if err := o.HandleMerge(ctx, mergeTask(t, MergePayload{MergeID: "merge-1", ParentID: "main-1"})); err != nil {
		t.Fatalf("HandleMerge: %v", err)
	}

	mainUpdated, err := metadata.FindJob(ctx, "main-1")
	if err != nil || mainUpdated == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if mainUpdated.Status != models.StatusCompleted {
		t.Errorf("expected MAIN completed after merge, got %s", mainUpdated.Status)
	}

	result, err := cache.GetResult(ctx, "main-1")
	if err != nil || result == nil {
		t.Fatalf("GetResult: %v", err)
	}
	want := "first page\n\n---\n\nsecond page"
	if result.Markdown != want {
		t.Errorf("expected merged markdown %q, got %q", want, result.Markdown)
	}

	mergeUpdated, err := metadata.FindJob(ctx, "merge-1")
	if err != nil || mergeUpdated == nil {
		t.Fatalf("FindJob(merge): %v", err)
	}
	if mergeUpdated.Status != models.StatusCompleted {
		t.Errorf("expected MERGE completed, got %s", mergeUpdated.Status)
	}
}

func TestHandleMergeSkipsFailedPagesEntirely(t *testing.T) {
	o, metadata, cache := newMergerTestOrchestrator(t)
	ctx := context.Background()

	main := models.NewMainJob("main-2", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, main); err != nil {
		t.Fatal(err)
	}
	merge := models.NewChildJob("merge-2", "user-1", models.JobTypeMerge, "main-2", nil, o.Clock.Now())
	merge.Status = models.StatusQueued
	if _, err := metadata.CreateJob(ctx, merge); err != nil {
		t.Fatal(err)
	}

	createPageWithResult(t, o, metadata, cache, "main-2", "page-1", "pagejob-1", 1, "page one", models.StatusCompleted)
	createPageWithResult(t, o, metadata, cache, "main-2", "page-2", "pagejob-2", 2, "", models.StatusFailed)
	createPageWithResult(t, o, metadata, cache, "main-2", "page-3", "pagejob-3", 3, "page three", models.StatusCompleted)

	if err := o.HandleMerge(ctx, mergeTask(t, MergePayload{MergeID: "merge-2", ParentID: "main-2"})); err != nil {
		t.Fatalf("HandleMerge: %v", err)
	}

	result, err := cache.GetResult(ctx, "main-2")
	if err != nil || result == nil {
		t.Fatalf("GetResult: %v", err)
	}
	// §4.I / S3: a FAILED page contributes no markdown fragment and no
	// extra separator — the merge is exactly page-1 + separator + page-3.
	want := "page one\n\n---\n\npage three"
	if result.Markdown != want {
		t.Errorf("expected merged markdown %q, got %q", want, result.Markdown)
	}
	if result.Metadata["format"] != "pdf" {
		t.Errorf("expected format=pdf per §4.I, got %v", result.Metadata["format"])
	}
	if result.Metadata["pages"] != 3 {
		t.Errorf("expected pages=3 (total page count) per §4.I, got %v", result.Metadata["pages"])
	}
}

func TestHandleMergeTerminalJobIsNoop(t *testing.T) {
	o, metadata, _ := newMergerTestOrchestrator(t)
	ctx := context.Background()

	main := models.NewMainJob("main-3", "user-1", models.SourceTypeFile, o.Clock.Now())
	if _, err := metadata.CreateJob(ctx, main); err != nil {
		t.Fatal(err)
	}
	merge := models.NewChildJob("merge-3", "user-1", models.JobTypeMerge, "main-3", nil, o.Clock.Now())
	merge.Status = models.StatusCompleted
	if _, err := metadata.CreateJob(ctx, merge); err != nil {
		t.Fatal(err)
	}

	if err := o.HandleMerge(ctx, mergeTask(t, MergePayload{MergeID: "merge-3", ParentID: "main-3"})); err != nil {
		t.Fatalf("HandleMerge on an already-terminal MERGE should be a no-op, got err: %v", err)
	}
}
