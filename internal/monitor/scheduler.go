// Package monitor implements the §4.K monitor loop: a robfig/cron
// schedule that drives the orchestrator's stuck-job, auto-retry and
// cleanup sweeps plus a once-a-minute health beat.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/orchestrator"
)

// Scheduler owns the cron instance registering the four sweeps. It holds
// no state of its own beyond the cron entries - every sweep's actual
// logic lives on *orchestrator.Orchestrator so the admin surface can run
// the same code paths on demand.
type Scheduler struct {
	orch   *orchestrator.Orchestrator
	config *common.Config
	logger arbor.ILogger
	cron   *cron.Cron
}

func New(orch *orchestrator.Orchestrator, config *common.Config, logger arbor.ILogger) *Scheduler {
	return &Scheduler{orch: orch, config: config, logger: logger, cron: cron.New()}
}

// Start registers and starts the four sweeps (§4.K). Stuck-job and
// auto-retry sweeps run on check_interval_minutes; cleanup runs daily;
// the health beat runs every minute.
func (s *Scheduler) Start() error {
	if !s.config.Monitoring.Enabled {
		s.logger.Info().Msg("monitor loop disabled by configuration")
		return nil
	}

	interval := s.config.Monitoring.CheckIntervalMinutes
	if interval <= 0 {
		interval = 5
	}
	checkSchedule := fmt.Sprintf("*/%d * * * *", interval)

	if _, err := s.cron.AddFunc(checkSchedule, s.runStuckJobSweep); err != nil {
		return fmt.Errorf("failed to register stuck-job sweep: %w", err)
	}

	if s.config.Monitoring.AutoRetryEnabled {
		if _, err := s.cron.AddFunc(checkSchedule, s.runAutoRetrySweep); err != nil {
			return fmt.Errorf("failed to register auto-retry sweep: %w", err)
		}
	}

	if _, err := s.cron.AddFunc("0 0 * * *", s.runCleanupSweep); err != nil {
		return fmt.Errorf("failed to register cleanup sweep: %w", err)
	}

	if _, err := s.cron.AddFunc("* * * * *", s.runHealthBeat); err != nil {
		return fmt.Errorf("failed to register health beat: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Str("check_schedule", checkSchedule).Msg("monitor loop started")
	return nil
}

// Stop halts the schedule and waits for cron's own job functions to
// return. Each sweep body runs in a goroutine started by common.SafeGo, so
// a sweep that is still running is not waited for.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("monitor loop stopped")
}

func (s *Scheduler) runStuckJobSweep() {
	common.SafeGo(s.logger, "monitor.stuckJobSweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		report, err := s.orch.RunStuckJobSweep(ctx, s.config.Monitoring.StuckJobThresholdMinutes, s.config.Monitoring.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("stuck-job sweep failed")
			return
		}
		if report.JobsAffected > 0 || report.PagesAffected > 0 {
			s.logger.Warn().Int("jobs", report.JobsAffected).Int("pages", report.PagesAffected).Msg("stuck-job sweep recovered stalled work")
		}
	})
}

func (s *Scheduler) runAutoRetrySweep() {
	common.SafeGo(s.logger, "monitor.autoRetrySweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		report, err := s.orch.RunAutoRetrySweep(ctx, s.config.Monitoring.MaxRetryCount, s.config.Monitoring.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("auto-retry sweep failed")
			return
		}
		if report.PagesAffected > 0 {
			s.logger.Info().Int("pages", report.PagesAffected).Msg("auto-retry sweep requeued failed pages")
		}
	})
}

func (s *Scheduler) runCleanupSweep() {
	common.SafeGo(s.logger, "monitor.cleanupSweep", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		report, err := s.orch.RunCleanupSweep(ctx, s.config.Monitoring.CleanupDays, s.config.Monitoring.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("cleanup sweep failed")
			return
		}
		if report.JobsAffected > 0 {
			s.logger.Info().Int("jobs", report.JobsAffected).Msg("cleanup sweep pruned stale status-cache entries")
		}
	})
}

// runHealthBeat exists purely to prove the scheduler itself is alive
// (§4.K step 4); its absence from logs is the out-of-band alert trigger.
func (s *Scheduler) runHealthBeat() {
	s.logger.Debug().Msg("monitor health beat")
}
