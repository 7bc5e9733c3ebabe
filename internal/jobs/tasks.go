package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TaskTypeBroadcast       = "bot:broadcast"
	TaskTypePointsReset     = "points:reset"
	TaskTypeCleanupData     = "data:cleanup"
	TaskTypeExpirePending   = "clone:expire_pending"
	broadcastMaxRetry       = 3
	broadcastDefaultTimeout = 6 * time.Hour
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighted queue set served by the worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// BroadcastPayload asks the worker to message every member of one bot.
// OwnerID is zero for the primary bot and the clone owner otherwise.
type BroadcastPayload struct {
	ID          uuid.UUID `json:"id"`
	BotID       int64     `json:"bot_id"`
	OwnerID     int64     `json:"owner_id"`
	RequestedBy int64     `json:"requested_by"`
	Text        string    `json:"text"`
}

type CleanupDataPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

type ExpirePendingPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

func NewBroadcastTask(p BroadcastPayload) (*asynq.Task, error) {
	if p.ID == uuid.Nil {
		return nil, fmt.Errorf("broadcast payload without id")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeBroadcast, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(broadcastMaxRetry),
		asynq.Timeout(broadcastDefaultTimeout),
	), nil
}

func NewPointsResetTask() *asynq.Task {
	return asynq.NewTask(TaskTypePointsReset, nil, asynq.Queue(QueueCritical))
}

func NewCleanupDataTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupDataPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeCleanupData, payload, asynq.Queue(QueueLow)), nil
}

func NewExpirePendingTask(olderThan time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(ExpirePendingPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeExpirePending, payload, asynq.Queue(QueueLow)), nil
}
