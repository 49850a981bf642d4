package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/testutil"
)

func newPageTestOrchestrator(t *testing.T, converter *testutil.FakeConverter) (*Orchestrator, *testutil.FakeMetadataStore, *testutil.FakeStatusCache, *testutil.FakeQueue) {
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

	o := New(metadata, cache, queue, blob, index, converter, testutil.FakeTranscriber{}, &testutil.FakeExtractor{}, clock, bus, config, arbor.NewLogger())
	return o, metadata, cache, queue
}

func setUpMainWithOnePendingPage(t *testing.T, o *Orchestrator, metadata *testutil.FakeMetadataStore, cache *testutil.FakeStatusCache, mainID string) {
	t.Helper()
	ctx := context.Background()
	main := models.NewMainJob(mainID, "user-1", models.SourceTypeFile, o.Clock.Now())
	one := 1
	main.TotalPages = &one
	if _, err := metadata.CreateJob(ctx, main); err != nil {
		t.Fatal(err)
	}
	if err := cache.SetPagesTotal(ctx, mainID, 1); err != nil {
		t.Fatal(err)
	}
	page := models.NewPage("page-1", mainID, 1, "pagejob-1", "pages/"+mainID+"/page_0001.pdf", o.Clock.Now())
	if _, err := metadata.CreatePage(ctx, page); err != nil {
		t.Fatal(err)
	}
	pageJob := models.NewChildJob("pagejob-1", "user-1", models.JobTypePage, mainID, &page.PageNumber, o.Clock.Now())
	pageJob.Status = models.StatusQueued
	if _, err := metadata.CreateJob(ctx, pageJob); err != nil {
		t.Fatal(err)
	}
	if err := cache.AddChild(ctx, mainID, interfaces.ChildRolePage, "pagejob-1"); err != nil {
		t.Fatal(err)
	}
}

func pageTask(t *testing.T, p PagePayload) interfaces.Task {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return interfaces.Task{JobID: p.PageJobID, Type: string(models.JobTypePage), Payload: payload}
}

func TestHandlePageCompletesAndTriggersMerge(t *testing.T) {
	o, metadata, cache, queue := newPageTestOrchestrator(t, testutil.NewFakeConverter("page body"))
	ctx := context.Background()
	setUpMainWithOnePendingPage(t, o, metadata, cache, "main-1")

	task := pageTask(t, PagePayload{PageJobID: "pagejob-1", ParentID: "main-1", PageNumber: 1, PageFilePath: "/tmp/main-1/page_0001.pdf"})
	if err := o.HandlePage(ctx, task); err != nil {
		t.Fatalf("HandlePage: %v", err)
	}

	page, err := metadata.FindPage(ctx, "main-1", 1)
	if err != nil || page == nil {
		t.Fatalf("FindPage: %v", err)
	}
	if page.Status != models.StatusCompleted {
		t.Errorf("expected page COMPLETED, got %s", page.Status)
	}
	if page.MarkdownContent == nil || *page.MarkdownContent != "page body" {
		t.Errorf("expected stored markdown content, got %v", page.MarkdownContent)
	}

	main, err := metadata.FindJob(ctx, "main-1")
	if err != nil || main == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if main.PagesCompleted != 1 {
		t.Errorf("expected pages_completed=1 via IncrementCounter, got %d", main.PagesCompleted)
	}

	// The sole page child is now terminal, so the aggregator must have
	// enqueued exactly one MERGE task as a side effect.
	if queue.CountByType(string(models.JobTypeMerge)) != 1 {
		t.Errorf("expected one MERGE task enqueued after the last page child completes, got %d", queue.CountByType(string(models.JobTypeMerge)))
	}
}

func TestHandlePageConversionFailureMarksPageFailed(t *testing.T) {
	converter := testutil.NewFakeConverter("")
	converter.Err = errors.New("conversion failed")
	o, metadata, cache, _ := newPageTestOrchestrator(t, converter)
	ctx := context.Background()
	setUpMainWithOnePendingPage(t, o, metadata, cache, "main-2")

	task := pageTask(t, PagePayload{PageJobID: "pagejob-1", ParentID: "main-2", PageNumber: 1, PageFilePath: "/tmp/main-2/page_0001.pdf", Attempt: maxAttemptsPage - 1})
	if err := o.HandlePage(ctx, task); err == nil {
		t.Fatal("expected HandlePage to return the conversion error")
	}

	page, err := metadata.FindPage(ctx, "main-2", 1)
	if err != nil || page == nil {
		t.Fatalf("FindPage: %v", err)
	}
	if page.Status != models.StatusFailed {
		t.Errorf("expected page FAILED at the final attempt, got %s", page.Status)
	}

	main, err := metadata.FindJob(ctx, "main-2")
	if err != nil || main == nil {
		t.Fatalf("FindJob: %v", err)
	}
	if main.PagesFailed != 1 {
		t.Errorf("expected pages_failed=1, got %d", main.PagesFailed)
	}
}

func TestHandlePageTerminalPageIsNoop(t *testing.T) {
	o, metadata, cache, _ := newPageTestOrchestrator(t, testutil.NewFakeConverter("body"))
	ctx := context.Background()
	setUpMainWithOnePendingPage(t, o, metadata, cache, "main-3")

	completed := models.StatusCompleted
	if err := metadata.UpdatePage(ctx, "page-1", interfaces.PagePatch{Status: &completed}); err != nil {
		t.Fatal(err)
	}

	task := pageTask(t, PagePayload{PageJobID: "pagejob-1", ParentID: "main-3", PageNumber: 1, PageFilePath: "/tmp/main-3/page_0001.pdf"})
	if err := o.HandlePage(ctx, task); err != nil {
		t.Fatalf("HandlePage on a redelivered terminal page should be a no-op, got err: %v", err)
	}
}
