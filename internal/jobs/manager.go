package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/gemini-clone-bot/internal/idempotency"
)

// broadcastDedupWindow keeps the task id reserved after completion so a
// double-tapped confirm button cannot queue the same broadcast twice.
const broadcastDedupWindow = 24 * time.Hour

// Manager describes the queue operations needed by the application.
type Manager interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	EnqueueBroadcast(ctx context.Context, p BroadcastPayload) error
	Close() error
}

type manager struct {
	client *asynq.Client
	log    *slog.Logger
}

// NewManager builds a Manager backed by an asynq client.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		client: asynq.NewClient(redisOpt),
		log:    log.With(slog.String("component", "jobs_manager")),
	}
}

func (m *manager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return m.client.EnqueueContext(ctx, task, opts...)
}

// EnqueueBroadcast queues p once. Enqueuing the same broadcast id again is a no-op.
func (m *manager) EnqueueBroadcast(ctx context.Context, p BroadcastPayload) error {
	task, err := NewBroadcastTask(p)
	if err != nil {
		return err
	}

	taskID := idempotency.GenerateKey(TaskTypeBroadcast, p.BotID, p.ID)
	info, err := m.client.EnqueueContext(ctx, task, asynq.TaskID(taskID), asynq.Retention(broadcastDedupWindow))
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		m.log.InfoContext(ctx, "broadcast already queued", slog.String("broadcast_id", p.ID.String()))
		return nil
	case err != nil:
		return fmt.Errorf("enqueue broadcast: %w", err)
	}

	m.log.InfoContext(ctx, "broadcast queued",
		slog.String("broadcast_id", p.ID.String()),
		slog.Int64("bot_id", p.BotID),
		slog.String("queue", info.Queue),
	)
	return nil
}

func (m *manager) Close() error {
	return m.client.Close()
}
