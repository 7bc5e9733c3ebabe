package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
)

// PointsResetter refills daily points.
type PointsResetter interface {
	ResetAllDaily(ctx context.Context) (int64, error)
}

// HistoryPruner drops stored conversation history.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// PendingExpirer revokes clone registrations that never became active.
type PendingExpirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration) (int64, error)
}

type PointsResetHandler struct {
	points PointsResetter
	log    *slog.Logger
}

func NewPointsResetHandler(points PointsResetter, log *slog.Logger) *PointsResetHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PointsResetHandler{points: points, log: log.With(slog.String("task", jobs.TaskTypePointsReset))}
}

func (h *PointsResetHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := h.points.ResetAllDaily(ctx)
	if err != nil {
		return fmt.Errorf("reset daily points: %w", err)
	}
	h.log.InfoContext(ctx, "daily points reset", slog.Int64("users", n))
	return nil
}

type CleanupHandler struct {
	history HistoryPruner
	log     *slog.Logger
}

func NewCleanupHandler(history HistoryPruner, log *slog.Logger) *CleanupHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CleanupHandler{history: history, log: log.With(slog.String("task", jobs.TaskTypeCleanupData))}
}

func (h *CleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p jobs.CleanupDataPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.OlderThan <= 0 {
		h.log.InfoContext(ctx, "conversation retention disabled")
		return nil
	}

	n, err := h.history.Prune(ctx, p.OlderThan)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	h.log.InfoContext(ctx, "conversation history pruned",
		slog.Int64("messages", n),
		slog.Duration("older_than", p.OlderThan),
	)
	return nil
}

type ExpirePendingHandler struct {
	clones PendingExpirer
	log    *slog.Logger
}

func NewExpirePendingHandler(clones PendingExpirer, log *slog.Logger) *ExpirePendingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ExpirePendingHandler{clones: clones, log: log.With(slog.String("task", jobs.TaskTypeExpirePending))}
}

func (h *ExpirePendingHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p jobs.ExpirePendingPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode expire payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := h.clones.ExpirePending(ctx, p.OlderThan)
	if err != nil {
		return err
	}
	if n > 0 {
		h.log.InfoContext(ctx, "pending registrations expired", slog.Int64("count", n))
	}
	return nil
}
