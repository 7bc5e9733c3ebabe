package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
)

// MemoryInfo summarizes what the bot remembers of the caller.
func (h *Handlers) MemoryInfo(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	stats, err := h.Memory.Stats(s.Ctx, s.User.TelegramID, s.Instance.BotID)
	if err != nil {
		return err
	}
	if stats.Messages == 0 {
		return c.Send(s.T.T("memory.empty"))
	}

	first, last := "-", "-"
	if stats.First != nil {
		first = formatDate(*stats.First)
	}
	if stats.Last != nil {
		last = formatDate(*stats.Last)
	}

	return c.Send(s.T.Tf("memory.info", map[string]any{
		"Messages": stats.Messages,
		"Images":   stats.Images,
		"First":    first,
		"Last":     last,
		"Limit":    h.Memory.Limit(),
	}), h.Keyboard.Confirm(s.T, keyboard.CallbackClear))
}

// Clear forgets the caller's history on this bot.
func (h *Handlers) Clear(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	removed, err := h.Memory.Clear(s.Ctx, s.User.TelegramID, s.Instance.BotID)
	if err != nil {
		return err
	}
	return c.Send(s.T.Tf("memory.cleared", map[string]any{"Count": removed}))
}

// ClearCallback handles the confirmation under /memory.
func (h *Handlers) ClearCallback(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	_, action, err := keyboard.DecodeCallback(c.Callback().Data)
	if err != nil {
		return err
	}
	if err := respond(c, "", false); err != nil {
		h.log.Debug("failed to answer callback", slog.Any("error", err))
	}

	if action != keyboard.ActionConfirm {
		return c.Edit(s.T.T("memory.kept"))
	}

	removed, err := h.Memory.Clear(s.Ctx, s.User.TelegramID, s.Instance.BotID)
	if err != nil {
		return err
	}
	return c.Edit(s.T.Tf("memory.cleared", map[string]any{"Count": removed}))
}
