package queue

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"

	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// Handler processes one decoded task. Handlers must be idempotent: at
// delivery is at-least-once, and a crash between a successful handler run
// and message deletion redelivers the same task (§4.E, §3 invariant 5).
type Handler func(ctx context.Context, task interfaces.Task) error

// WorkerPool polls the queue with a fixed number of goroutines and
// dispatches each message to the handler registered for its task type.
type WorkerPool struct {
	mgr      *Manager
	handlers map[string]Handler
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(mgr *Manager, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(mgr.ctx)
	return &WorkerPool{
		mgr:      mgr,
		handlers: make(map[string]Handler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler binds a task type (MAIN|SPLIT|PAGE|MERGE) to its handler.
func (wp *WorkerPool) RegisterHandler(taskType string, handler Handler) {
	wp.handlers[taskType] = handler
	wp.logger.Debug().Str("task_type", taskType).Msg("task handler registered")
}

// Start launches config.Concurrency worker goroutines, staggered across
// the poll interval to reduce SQLite lock contention on startup.
func (wp *WorkerPool) Start() {
	concurrency := wp.mgr.config.Concurrency
	pollInterval, err := time.ParseDuration(wp.mgr.config.PollInterval)
	if err != nil {
		pollInterval = time.Second
	}

	wp.logger.Info().Int("concurrency", concurrency).Str("poll_interval", pollInterval.String()).Msg("starting worker pool")

	for i := 0; i < concurrency; i++ {
		go wp.worker(i, pollInterval, concurrency)
	}
}

// Stop cancels every worker's context. Callers that need in-flight jobs to
// resume on restart should reconcile PROCESSING rows via the stuck-job
// sweep rather than rely on graceful in-process drain (§4.K).
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("stopping worker pool")
	wp.cancel()
}

func (wp *WorkerPool) worker(workerID int, pollInterval time.Duration, concurrency int) {
	staggerDelay := (pollInterval / time.Duration(concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
			return
		case <-ticker.C:
			wp.processOne(workerID)
		}
	}
}

func (wp *WorkerPool) processOne(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().Int("worker_id", workerID).Interface("panic", r).Msg("worker panic recovered")
		}
	}()

	received, err := wp.mgr.receive(wp.ctx)
	if err != nil {
		msg := err.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			wp.logger.Warn().Err(err).Int("worker_id", workerID).Msg("error receiving message")
		}
		return
	}
	if received == nil {
		return // queue empty
	}

	task := interfaces.Task{
		JobID:   received.Message.JobID,
		Type:    received.Message.Type,
		Payload: received.Message.Payload,
	}

	handler, ok := wp.handlers[task.Type]
	if !ok {
		wp.logger.Error().Str("type", task.Type).Str("job_id", task.JobID).Msg("no handler registered for task type")
		wp.retryDelete(received.ID, "unknown task type")
		return
	}

	start := time.Now()
	handlerErr := handler(wp.ctx, task)
	duration := time.Since(start)

	if handlerErr != nil {
		wp.logger.Error().Err(handlerErr).Str("job_id", task.JobID).Str("type", task.Type).
			Dur("duration", duration).Int("worker_id", workerID).Msg("task handler failed")
		// Leave the message undeleted so goqite redelivers it after the
		// visibility timeout, up to max_receive (§4.E retry policy); the
		// handler itself is responsible for recording the failed attempt.
		return
	}

	wp.logger.Info().Str("job_id", task.JobID).Str("type", task.Type).
		Dur("duration", duration).Int("worker_id", workerID).Msg("task completed")
	wp.retryDelete(received.ID, "task completed")
}

func (wp *WorkerPool) retryDelete(id goqite.ID, context string) {
	delay := 200 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = wp.mgr.delete(wp.ctx, id)
		if lastErr == nil {
			return
		}
		msg := lastErr.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			wp.logger.Warn().Err(lastErr).Str("message_id", string(id)).Str("context", context).Msg("failed to delete message")
			return
		}
		if attempt < 3 {
			select {
			case <-wp.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	wp.logger.Error().Err(lastErr).Str("message_id", string(id)).Str("context", context).Msg("all retries exhausted deleting message")
}
