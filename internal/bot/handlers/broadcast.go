package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

// Broadcast starts a broadcast to every member of this bot. Without text it asks for it.
func (h *Handlers) Broadcast(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	if text := strings.TrimSpace(c.Message().Payload); text != "" {
		return h.confirmBroadcast(c, s, text)
	}

	if err := s.FSM.TransitionTo(s.Ctx, s.User.TelegramID, state.StateAwaitingBroadcastText, nil); err != nil {
		return stateError(err)
	}
	return c.Send(s.T.T("broadcast.prompt"))
}

// BroadcastText receives the text of a broadcast in the awaiting state.
func (h *Handlers) BroadcastText(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(c.Text())
	if text == "" {
		return c.Send(s.T.T("broadcast.prompt"))
	}
	return h.confirmBroadcast(c, s, text)
}

func (h *Handlers) confirmBroadcast(c telebot.Context, s *Session, text string) error {
	err := s.FSM.TransitionTo(s.Ctx, s.User.TelegramID, state.StateConfirmingBroadcast, map[string]string{
		state.KeyBroadcastText: text,
	})
	if err != nil {
		return stateError(err)
	}

	preview := s.T.Tf("broadcast.preview", map[string]any{"Text": text})
	return sendLong(c, preview, h.Keyboard.Confirm(s.T, keyboard.CallbackBroadcast))
}

// BroadcastCallback queues or discards the composed broadcast.
func (h *Handlers) BroadcastCallback(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	_, action, err := keyboard.DecodeCallback(c.Callback().Data)
	if err != nil {
		return err
	}

	uid := s.User.TelegramID
	current, err := s.FSM.Current(s.Ctx, uid)
	if err != nil && !errors.Is(err, state.ErrStateNotFound) {
		return err
	}
	if current == nil || current.State != state.StateConfirmingBroadcast {
		return respond(c, s.T.T("broadcast.expired"), true)
	}

	if err := s.FSM.Reset(s.Ctx, uid); err != nil {
		return stateError(err)
	}

	if action != keyboard.ActionConfirm {
		if err := respond(c, "", false); err != nil {
			h.log.Debug("failed to answer callback", slog.Any("error", err))
		}
		return c.Edit(s.T.T("broadcast.cancelled"))
	}

	payload := jobs.BroadcastPayload{
		ID:          uuid.New(),
		BotID:       s.Instance.BotID,
		RequestedBy: uid,
		Text:        current.Value(state.KeyBroadcastText),
	}
	if s.Instance.Clone != nil {
		payload.OwnerID = s.Instance.Clone.OwnerID
	}

	if err := h.Broadcasts.EnqueueBroadcast(s.Ctx, payload); err != nil {
		return err
	}

	h.log.Info("broadcast queued",
		slog.String("broadcast_id", payload.ID.String()),
		slog.Int64("bot_id", payload.BotID),
		slog.Int64("requested_by", uid),
	)
	if err := respond(c, s.T.T("broadcast.queued_short"), false); err != nil {
		h.log.Debug("failed to answer callback", slog.Any("error", err))
	}
	return c.Edit(s.T.T("broadcast.queued"))
}

func stateError(err error) error {
	switch {
	case errors.Is(err, state.ErrInvalidTransition):
		return apperrors.NewStateError("another flow is active")
	case errors.Is(err, state.ErrStateLocked):
		return apperrors.NewBusyError()
	default:
		return err
	}
}
