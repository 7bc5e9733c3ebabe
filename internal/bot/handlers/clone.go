package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

const maxListedClones = 20

// CreateBot registers and starts a clone: /createbot [token [admin_id]].
// Without a token the next message is read as the token.
func (h *Handlers) CreateBot(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	if args := c.Args(); len(args) > 0 {
		h.deleteTokenMessage(c)
		return h.createClone(c, s, args)
	}

	if reg, err := h.Clones.Get(s.Ctx, s.User.TelegramID); err == nil {
		return c.Send(s.T.Tf("clone.already_have", map[string]any{"Username": reg.BotUsername}))
	} else if !errors.Is(err, clone.ErrNotFound) {
		return err
	}

	if err := s.FSM.TransitionTo(s.Ctx, s.User.TelegramID, state.StateAwaitingCloneToken, nil); err != nil {
		return stateError(err)
	}
	return c.Send(s.T.T("clone.ask_token"), telebot.NoPreview)
}

// CloneToken reads the token typed after /createbot.
func (h *Handlers) CloneToken(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	fields := strings.Fields(c.Text())
	if len(fields) == 0 || !domain.ValidBotTokenFormat(fields[0]) {
		return c.Send(s.T.T("clone.token_format"))
	}

	h.deleteTokenMessage(c)
	if err := s.FSM.Reset(s.Ctx, s.User.TelegramID); err != nil {
		return stateError(err)
	}
	return h.createClone(c, s, fields)
}

func (h *Handlers) createClone(c telebot.Context, s *Session, args []string) error {
	token := args[0]
	var adminID int64
	if len(args) > 1 {
		id, err := parseUserID(args[1])
		if err != nil {
			return err
		}
		adminID = id
	}

	if err := c.Send(s.T.T("clone.creating")); err != nil {
		h.log.Debug("failed to send progress message", slog.Any("error", err))
	}

	reg, err := h.Clones.Create(s.Ctx, s.User.TelegramID, adminID, token)
	if err != nil {
		return err
	}

	return c.Send(s.T.Tf("clone.created", map[string]any{
		"Username": reg.BotUsername,
		"Name":     reg.BotName,
		"AdminID":  reg.AdminID,
	}))
}

// deleteTokenMessage removes the message carrying a token from the chat history.
func (h *Handlers) deleteTokenMessage(c telebot.Context) {
	if err := c.Delete(); err != nil {
		h.log.Debug("failed to delete token message", slog.Any("error", err))
	}
}

// MyBot shows the caller's latest clone, revoked ones included.
func (h *Handlers) MyBot(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	reg, err := h.Clones.Latest(s.Ctx, s.User.TelegramID)
	if errors.Is(err, clone.ErrNotFound) {
		return c.Send(s.T.T("clone.none"))
	}
	if err != nil {
		return err
	}

	reason := "-"
	if reg.RevokeReason != "" {
		reason = s.T.T("clone.reasons." + reg.RevokeReason)
	}

	return c.Send(s.T.Tf("clone.info", map[string]any{
		"Username": reg.BotUsername,
		"Name":     reg.BotName,
		"Status":   s.T.T("clone.status." + string(reg.Status)),
		"Running":  yesNo(s.T, h.Clones.IsRunning(reg.OwnerID)),
		"AdminID":  reg.AdminID,
		"Created":  formatDate(reg.CreatedAt),
		"Reason":   reason,
	}))
}

// DeleteBot asks for confirmation before deleting the caller's clone.
func (h *Handlers) DeleteBot(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	reg, err := h.Clones.Get(s.Ctx, s.User.TelegramID)
	if errors.Is(err, clone.ErrNotFound) {
		return c.Send(s.T.T("clone.none"))
	}
	if err != nil {
		return err
	}

	return c.Send(
		s.T.Tf("clone.delete_confirm", map[string]any{"Username": reg.BotUsername}),
		h.Keyboard.Confirm(s.T, keyboard.CallbackDeleteBot),
	)
}

// DeleteBotCallback stops and revokes the caller's clone once confirmed.
func (h *Handlers) DeleteBotCallback(c telebot.Context) error {
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
		return c.Edit(s.T.T("clone.delete_cancelled"))
	}

	err = h.Clones.Delete(s.Ctx, s.User.TelegramID)
	if errors.Is(err, clone.ErrNotFound) {
		return c.Edit(s.T.T("clone.none"))
	}
	if err != nil {
		return err
	}
	return c.Edit(s.T.T("clone.deleted"))
}

// BotHelp explains how to obtain a token from BotFather.
func (h *Handlers) BotHelp(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}
	return c.Send(s.T.T("clone.help"), telebot.NoPreview)
}

// CloneStats reports registrations per status and the running listeners.
func (h *Handlers) CloneStats(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	stats, err := h.Clones.Stats(s.Ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(s.T.Tf("clone.stats", map[string]any{
		"Pending": stats.Pending,
		"Active":  stats.Active,
		"Revoked": stats.Revoked,
		"Running": stats.Running,
	}))

	running := h.Clones.Running()
	for i, task := range running {
		if i == maxListedClones {
			fmt.Fprintf(&b, "\n… +%d", len(running)-maxListedClones)
			break
		}
		fmt.Fprintf(&b, "\n• @%s owner %d, up %s, restarts %d",
			task.BotUsername,
			task.OwnerID,
			time.Since(task.StartedAt).Round(time.Second),
			task.Restarts,
		)
	}

	return sendLong(c, b.String())
}

// RevokeClone stops and revokes the clone of another owner: /revokeclone <owner_id>.
func (h *Handlers) RevokeClone(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	ownerID, err := targetID(c, s)
	if err != nil {
		return err
	}

	reg, err := h.Clones.Get(s.Ctx, ownerID)
	if errors.Is(err, clone.ErrNotFound) {
		return c.Send(s.T.Tf("clone.none_for", map[string]any{"ID": ownerID}))
	}
	if err != nil {
		return err
	}

	if err := h.Clones.RevokeByAdmin(s.Ctx, ownerID); err != nil {
		if errors.Is(err, clone.ErrNotFound) {
			return c.Send(s.T.Tf("clone.none_for", map[string]any{"ID": ownerID}))
		}
		return err
	}

	if h.Notifier != nil {
		h.Notifier.NotifyRevoked(s.Ctx, reg, domain.RevokeReasonAdminRevoked)
	}

	h.log.Info("clone revoked by owner",
		slog.Int64("owner_id", ownerID),
		slog.String("bot_username", reg.BotUsername),
	)
	return c.Send(s.T.Tf("clone.revoked_by_admin", map[string]any{
		"ID":       strconv.FormatInt(ownerID, 10),
		"Username": reg.BotUsername,
	}))
}
