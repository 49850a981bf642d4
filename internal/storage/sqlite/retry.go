package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// retryWithBackoff retries operation on transient SQLITE_BUSY errors with
// exponential backoff, respecting ctx cancellation. The single-connection
// pool (see Open) already serializes writers; this remains a defensive
// backstop for busy moments during WAL checkpointing.
func retryWithBackoff(ctx context.Context, logger arbor.ILogger, maxAttempts int, initialDelay time.Duration, operation func() error) error {
	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isBusyError(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if logger != nil {
			logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Err(lastErr).
				Msg("sqlite busy, retrying")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
