// Package admin exposes the §4.M admin surface hooks as a thin façade
// over the orchestrator's sweep methods, for a future CLI or management
// endpoint to call without reaching into orchestrator internals directly.
package admin

import (
	"context"

	"github.com/geda-valentim/ingestify-to-ai/internal/models"
	"github.com/geda-valentim/ingestify-to-ai/internal/orchestrator"
)

// Surface is the admin introspection/recovery façade.
type Surface struct {
	orch *orchestrator.Orchestrator
}

func New(orch *orchestrator.Orchestrator) *Surface {
	return &Surface{orch: orch}
}

// ListStuckJobs: list_stuck_jobs(threshold?, limit).
func (a *Surface) ListStuckJobs(ctx context.Context, thresholdMinutes, limit int) ([]*models.Job, error) {
	return a.orch.ListStuckJobs(ctx, thresholdMinutes, limit)
}

// TriggerStuckRecovery: trigger_stuck_recovery(threshold?) - runs the
// stuck-job sweep once, outside its cron cadence.
func (a *Surface) TriggerStuckRecovery(ctx context.Context, thresholdMinutes int) (*orchestrator.SweepReport, error) {
	return a.orch.RunStuckJobSweep(ctx, thresholdMinutes, 0)
}

// BulkRetryFailedPages: bulk_retry_failed_pages(main_id).
func (a *Surface) BulkRetryFailedPages(ctx context.Context, mainID string) (*orchestrator.SweepReport, error) {
	return a.orch.BulkRetryFailedPages(ctx, mainID)
}

// Cleanup: cleanup(days?) - runs the cleanup sweep once.
func (a *Surface) Cleanup(ctx context.Context, days int) (*orchestrator.SweepReport, error) {
	return a.orch.RunCleanupSweep(ctx, days, 0)
}

// SystemStats: system_stats() - aggregate status histogram plus current
// stuck-job count.
func (a *Surface) SystemStats(ctx context.Context) (map[models.JobStatus]int, int, error) {
	return a.orch.SystemStats(ctx)
}
