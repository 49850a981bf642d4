// Package queue implements the at-least-once delivery collaborator
// (§4.E, §6) over goqite, backed by the same SQLite database file as the
// metadata store's connection pool.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
)

// Manager is a thin wrapper around goqite.Queue plus the scheduling state
// a worker pool needs (poll interval, concurrency, lifecycle context).
type Manager struct {
	q      *goqite.Queue
	config common.QueueConfig
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	cron        *cron.Cron
	cronStarted bool
}

var _ interfaces.Queue = (*Manager)(nil)

// NewManager creates the goqite tables (idempotent) and wraps them.
func NewManager(logger arbor.ILogger, db *sql.DB, config common.QueueConfig) (*Manager, error) {
	setupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := goqite.Setup(setupCtx, db); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("failed to set up queue tables: %w", err)
		}
	}

	visibility, err := time.ParseDuration(config.VisibilityTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid visibility_timeout %q: %w", config.VisibilityTimeout, err)
	}

	q := goqite.New(goqite.NewOpts{
		DB:         db,
		Name:       config.QueueName,
		Timeout:    visibility,
		MaxReceive: config.MaxReceive,
	})

	ctx, cancelFn := context.WithCancel(context.Background())

	return &Manager{
		q:      q,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancelFn,
		cron:   cron.New(),
	}, nil
}

// Enqueue adds a task to the queue (§4.E). Callers are responsible for
// making their handlers idempotent since delivery is at-least-once.
func (m *Manager) Enqueue(ctx context.Context, task interfaces.Task) error {
	data, err := json.Marshal(Message{JobID: task.JobID, Type: task.Type, Payload: task.Payload})
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.JobID, err)
	}
	return m.q.Send(ctx, goqite.Message{Body: data})
}

// EnqueuePeriodic registers a cron-scheduled re-enqueue of a zero-payload
// task of the given type. Nothing in this repository calls it; the monitor
// loop runs its sweeps on its own cron scheduler (internal/monitor).
func (m *Manager) EnqueuePeriodic(ctx context.Context, taskName, cronExpression string) error {
	_, err := m.cron.AddFunc(cronExpression, func() {
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Enqueue(enqueueCtx, interfaces.Task{Type: taskName}); err != nil {
			m.logger.Warn().Err(err).Str("task", taskName).Msg("failed to enqueue periodic task")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", cronExpression, taskName, err)
	}
	if !m.cronStarted {
		m.cron.Start()
		m.cronStarted = true
	}
	return nil
}

// receivedMessage pairs a decoded Message with the goqite ID a worker
// needs to Delete or Extend it.
type receivedMessage struct {
	Message Message
	ID      goqite.ID
}

// receive pulls the next message, or returns (nil, nil) when the queue is empty.
func (m *Manager) receive(ctx context.Context) (*receivedMessage, error) {
	gMsg, err := m.q.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if gMsg == nil {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal(gMsg.Body, &msg); err != nil {
		// Malformed body: delete it so it doesn't wedge the queue forever,
		// surfacing the error to the caller for logging.
		_ = m.q.Delete(ctx, gMsg.ID)
		return nil, fmt.Errorf("failed to decode message %s: %w", gMsg.ID, err)
	}
	return &receivedMessage{Message: msg, ID: gMsg.ID}, nil
}

func (m *Manager) delete(ctx context.Context, id goqite.ID) error {
	return m.q.Delete(ctx, id)
}

// Extend extends the visibility timeout of a received message, preventing
// its redelivery for that long. The worker pool does not call it, so a
// handler that runs past the visibility timeout can be delivered again.
func (m *Manager) Extend(ctx context.Context, id goqite.ID, duration time.Duration) error {
	return m.q.Extend(ctx, id, duration)
}

func (m *Manager) Close() error {
	m.cancel()
	if m.cronStarted {
		<-m.cron.Stop().Done()
	}
	return nil
}
