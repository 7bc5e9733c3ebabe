// Package handlers processes asynq tasks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const (
	progressTTL     = 48 * time.Hour
	maxFloodRetry   = 3
	deliverySent    = "sent"
	deliveryBlocked = "blocked"
	deliveryFailed  = "failed"
)

// Senders resolves the bot a broadcast is sent through.
type Senders interface {
	Sender(ctx context.Context, botID, ownerID int64) (bot.Sender, error)
}

// Members pages through the users who talked to a bot, ordered by user id.
type Members interface {
	ListMembers(ctx context.Context, botID, afterUserID int64, limit uint64) ([]int64, error)
}

// broadcastProgress is checkpointed after every batch so a retried task
// resumes after the last delivered member.
type broadcastProgress struct {
	Cursor  int64 `json:"cursor"`
	Sent    int   `json:"sent"`
	Blocked int   `json:"blocked"`
	Failed  int   `json:"failed"`
}

func (p *broadcastProgress) add(status string) {
	switch status {
	case deliverySent:
		p.Sent++
	case deliveryBlocked:
		p.Blocked++
	default:
		p.Failed++
	}
}

// BroadcastHandler delivers a broadcast to every member of a bot, paced by a
// token bucket to stay under Telegram's flood limits.
type BroadcastHandler struct {
	senders  Senders
	members  Members
	users    bot.LanguageLookup
	messages *i18n.Manager
	redis    *redis.Client
	rate     rate.Limit
	batch    int
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewBroadcastHandler(senders Senders, members Members, users bot.LanguageLookup, messages *i18n.Manager, rdb *redis.Client, cfg config.JobsConfig, log *slog.Logger) *BroadcastHandler {
	if log == nil {
		log = slog.Default()
	}
	batch := cfg.BroadcastBatch
	if batch <= 0 {
		batch = 100
	}
	limit := rate.Limit(cfg.BroadcastRate)
	if cfg.BroadcastRate <= 0 {
		limit = 25
	}

	return &BroadcastHandler{
		senders:  senders,
		members:  members,
		users:    users,
		messages: messages,
		redis:    rdb,
		rate:     limit,
		batch:    batch,
		log:      log.With(slog.String("task", jobs.TaskTypeBroadcast)),
		sleep:    sleepContext,
	}
}

func (h *BroadcastHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p jobs.BroadcastPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode broadcast payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.With(
		slog.String("broadcast_id", p.ID.String()),
		slog.Int64("bot_id", p.BotID),
	)

	sender, err := h.senders.Sender(ctx, p.BotID, p.OwnerID)
	if errors.Is(err, clone.ErrNotFound) {
		log.WarnContext(ctx, "broadcast dropped: bot is no longer live")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	progress := h.loadProgress(ctx, p)
	limiter := rate.NewLimiter(h.rate, 1)

	for {
		ids, err := h.members.ListMembers(ctx, p.BotID, progress.Cursor, uint64(h.batch))
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}

		for _, id := range ids {
			if err := limiter.Wait(ctx); err != nil {
				h.saveProgress(ctx, p, progress)
				return err
			}
			status := h.deliver(ctx, sender, id, p.Text)
			metrics.RecordBroadcastMessage(status)
			progress.add(status)
			progress.Cursor = id
		}
		h.saveProgress(ctx, p, progress)

		if len(ids) < h.batch {
			break
		}
	}

	log.InfoContext(ctx, "broadcast finished",
		slog.Int("sent", progress.Sent),
		slog.Int("blocked", progress.Blocked),
		slog.Int("failed", progress.Failed),
	)
	h.report(ctx, sender, p, progress)
	return nil
}

func (h *BroadcastHandler) deliver(ctx context.Context, sender bot.Sender, userID int64, text string) string {
	to := &telebot.User{ID: userID}

	for attempt := 0; ; attempt++ {
		_, err := sender.Send(to, text, telebot.NoPreview)
		if err == nil {
			return deliverySent
		}

		var flood telebot.FloodError
		if errors.As(err, &flood) && attempt < maxFloodRetry {
			if h.sleep(ctx, time.Duration(flood.RetryAfter)*time.Second) != nil {
				return deliveryFailed
			}
			continue
		}

		if isUnreachable(err) {
			return deliveryBlocked
		}
		h.log.DebugContext(ctx, "broadcast delivery failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return deliveryFailed
	}
}

func (h *BroadcastHandler) report(ctx context.Context, sender bot.Sender, p jobs.BroadcastPayload, progress *broadcastProgress) {
	if p.RequestedBy == 0 {
		return
	}

	lang := ""
	if h.users != nil {
		if u, err := h.users.Get(ctx, p.RequestedBy); err == nil {
			lang = u.Language
		}
	}
	text := h.messages.Translator(lang).Tf("broadcast.summary", map[string]any{
		"Sent":    progress.Sent,
		"Blocked": progress.Blocked,
		"Failed":  progress.Failed,
	})

	if _, err := sender.Send(&telebot.User{ID: p.RequestedBy}, text); err != nil {
		h.log.WarnContext(ctx, "failed to send broadcast summary", slog.Any("error", err))
	}
}

func (h *BroadcastHandler) loadProgress(ctx context.Context, p jobs.BroadcastPayload) *broadcastProgress {
	progress := &broadcastProgress{}
	if h.redis == nil {
		return progress
	}

	data, err := h.redis.Get(ctx, progressKey(p)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		h.log.WarnContext(ctx, "failed to load broadcast progress", slog.Any("error", err))
	default:
		if err := json.Unmarshal(data, progress); err != nil {
			return &broadcastProgress{}
		}
	}
	return progress
}

func (h *BroadcastHandler) saveProgress(ctx context.Context, p jobs.BroadcastPayload, progress *broadcastProgress) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	if err := h.redis.Set(context.WithoutCancel(ctx), progressKey(p), data, progressTTL).Err(); err != nil {
		h.log.WarnContext(ctx, "failed to save broadcast progress", slog.Any("error", err))
	}
}

func progressKey(p jobs.BroadcastPayload) string {
	return "broadcast:progress:" + strconv.FormatInt(p.BotID, 10) + ":" + p.ID.String()
}

func isUnreachable(err error) bool {
	for _, target := range []error{
		telebot.ErrBlockedByUser,
		telebot.ErrUserIsDeactivated,
		telebot.ErrNotStartedByUser,
		telebot.ErrChatNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
