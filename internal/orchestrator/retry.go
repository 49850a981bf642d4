package orchestrator

import (
	"context"
	"time"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// mainBackoff implements the §4.F/§7 MAIN retry schedule: 60 * 2^attempt
// seconds, capped at 3 attempts.
func mainBackoff(attempt int) time.Duration {
	return time.Duration(60) * time.Second * (1 << uint(attempt))
}

// childBackoff implements the §4.G/§4.H/§4.I schedule shared by SPLIT,
// PAGE and MERGE: 30 * 2^attempt seconds.
func childBackoff(attempt int) time.Duration {
	return time.Duration(30) * time.Second * (1 << uint(attempt))
}

const (
	maxAttemptsMain  = 3
	maxAttemptsSplit = 2
	maxAttemptsPage  = 3
	maxAttemptsMerge = 2
)

// scheduleRetry re-enqueues task after delay on a background goroutine. The
// queue collaborator has no native delayed-delivery primitive in its
// contract (§6), so the backoff wait happens here rather than inside the
// queue; a crash during the wait simply drops the retry, which is
// acceptable because the stuck-job sweep (§4.K) recovers any row left
// in a non-terminal state.
func (o *Orchestrator) scheduleRetry(delay time.Duration, task interfaces.Task) {
	common.SafeGo(o.Logger, "orchestrator.scheduleRetry", func() {
		time.Sleep(delay)
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.Queue.Enqueue(enqueueCtx, task); err != nil {
			o.Logger.Error().Err(err).Str("job_id", task.JobID).Str("type", task.Type).Msg("failed to enqueue scheduled retry")
		}
	})
}
