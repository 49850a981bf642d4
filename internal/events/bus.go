// Package events implements the internal pub/sub bus the orchestrator uses
// to notify in-process observers (in this repository, the logging
// subscriber registered in cmd/ingestify/main.go) of job lifecycle
// transitions without coupling task handlers to any particular observer.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// Type names the kind of lifecycle event published.
type Type string

const (
	// JobStatusChanged is published whenever a job (MAIN/SPLIT/PAGE/MERGE)
	// transitions status. Payload is StatusChangePayload.
	JobStatusChanged Type = "job_status_changed"

	// JobProgress is published whenever a MAIN's progress_percent changes.
	// Payload is ProgressPayload.
	JobProgress Type = "job_progress"

	// MergeTriggered is published when the aggregator enqueues a MERGE.
	// Payload is MergeTriggeredPayload.
	MergeTriggered Type = "merge_triggered"
)

// StatusChangePayload describes one job's status transition.
type StatusChangePayload struct {
	JobID    string
	JobType  string
	Status   string
	ParentID string // empty for MAIN
}

type ProgressPayload struct {
	JobID    string
	Progress int
}

type MergeTriggeredPayload struct {
	ParentID string
	MergeID  string
}

// Event is one published occurrence.
type Event struct {
	Type    Type
	Payload interface{}
}

// Handler processes one Event.
type Handler func(ctx context.Context, event Event) error

// Bus is an in-process, async pub/sub dispatcher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Handler
	logger      arbor.ILogger
}

func NewBus(logger arbor.ILogger) *Bus {
	return &Bus{subscribers: make(map[Type][]Handler), logger: logger}
}

func (b *Bus) Subscribe(eventType Type, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	return nil
}

// Publish dispatches event to every subscriber asynchronously; a failing
// handler is logged, never propagated, since task handlers must not be
// delayed or failed by an observer's mistake.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.subscribers[event.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(handler Handler) {
			if err := handler(ctx, event); err != nil {
				b.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("event handler failed")
			}
		}(h)
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Type][]Handler)
}
