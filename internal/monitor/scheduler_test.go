package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/orchestrator"
	"github.com/geda-valentim/ingestify-to-ai/internal/testutil"
)

func newTestScheduler(t *testing.T, config *common.Config) (*Scheduler, *testutil.FakeMetadataStore, *testutil.FakeClock) {
	t.Helper()
	metadata := testutil.NewFakeMetadataStore()
	cache := testutil.NewFakeStatusCache()
	queue := testutil.NewFakeQueue()
	blob := testutil.NewFakeBlobStore()
	index := testutil.NewFakeResultIndex()
	clock := testutil.NewFakeClock(time.Now().UTC())
	bus := events.NewBus(arbor.NewLogger())

	orch := orchestrator.New(metadata, cache, queue, blob, index, testutil.NewFakeConverter("body"), testutil.FakeTranscriber{}, &testutil.FakeExtractor{}, clock, bus, config, arbor.NewLogger())
	return New(orch, config, arbor.NewLogger()), metadata, clock
}

func TestStartSkipsRegistrationWhenMonitoringDisabled(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Monitoring.Enabled = false
	sched, _, _ := newTestScheduler(t, config)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Stop must be safe even though Start returned before creating cron entries.
	sched.Stop()
}

func TestStartRegistersSweepsWhenEnabled(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Monitoring.Enabled = true
	config.Monitoring.CheckIntervalMinutes = 5
	sched, _, _ := newTestScheduler(t, config)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	entries := sched.cron.Entries()
	if len(entries) != 4 {
		t.Errorf("expected 4 cron entries (stuck, auto-retry, cleanup, health beat), got %d", len(entries))
	}
}

func TestStartOmitsAutoRetryWhenDisabled(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Monitoring.Enabled = true
	config.Monitoring.AutoRetryEnabled = false
	sched, _, _ := newTestScheduler(t, config)

	if err := sched.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	entries := sched.cron.Entries()
	if len(entries) != 3 {
		t.Errorf("expected 3 cron entries without auto-retry, got %d", len(entries))
	}
}

func TestRunStuckJobSweepRecoversStalledJobs(t *testing.T) {
	config := common.NewDefaultConfig()
	sched, metadata, clock := newTestScheduler(t, config)
	ctx := context.Background()

	job := models.NewMainJob("main-1", "user-1", models.SourceTypeFile, clock.Now())
	if _, err := metadata.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	processing := models.StatusProcessing
	if err := metadata.UpdateJob(ctx, "main-1", interfaces.JobPatch{Status: &processing, StartedAtNow: true}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Duration(config.Monitoring.StuckJobThresholdMinutes+15) * time.Minute)

	sched.runStuckJobSweep()

	deadline := time.Now().Add(2 * time.Second)
	for {
		updated, err := metadata.FindJob(ctx, "main-1")
		if err != nil {
			t.Fatalf("FindJob: %v", err)
		}
		if updated.Status == models.StatusFailed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the stuck-job sweep to flip main-1 to FAILED, got %s", updated.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
