package handlers

import (
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/referral"
)

// Start greets the user and applies a referral code from the deep link payload.
func (h *Handlers) Start(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	if err := s.FSM.Reset(s.Ctx, s.User.TelegramID); err != nil {
		h.log.Warn("failed to reset state on start", slog.Int64("telegram_id", s.User.TelegramID), slog.Any("error", err))
	}

	if code, ok := referral.CodeFromPayload(c.Message().Payload); ok && s.NewUser {
		h.applyReferral(c, s, code)
	}

	u := h.Deps.Points.Balance(s.User)
	text := s.T.Tf("start.welcome", map[string]any{
		"Name":    u.DisplayName(),
		"BotName": s.BotName(),
		"Points":  u.TotalPoints(),
	})
	return c.Send(text, h.Keyboard.MainMenu(s.T))
}

func (h *Handlers) applyReferral(c telebot.Context, s *Session, code string) {
	referrer, err := h.Deps.Referral.Apply(s.Ctx, s.User, code)
	if err != nil {
		h.log.Error("failed to apply referral", slog.Int64("telegram_id", s.User.TelegramID), slog.Any("error", err))
		return
	}
	if referrer == nil {
		return
	}

	if fresh, err := h.Deps.Users.Fresh(s.Ctx, s.User.TelegramID); err == nil {
		s.User = fresh
	}

	bonus := map[string]any{"Bonus": h.Deps.Referral.Bonus()}
	if err := c.Send(s.T.Tf("referral.applied", bonus)); err != nil {
		h.log.Warn("failed to confirm referral", slog.Any("error", err))
	}

	rt := h.I18n.Translator(referrer.Language)
	msg := rt.Tf("referral.rewarded", map[string]any{
		"Name":  s.User.DisplayName(),
		"Bonus": h.Deps.Referral.Bonus(),
	})
	if _, err := c.Bot().Send(recipient(referrer.TelegramID), msg); err != nil {
		h.log.Warn("failed to notify referrer", slog.Int64("referrer_id", referrer.TelegramID), slog.Any("error", err))
	}
}

// Help lists the commands available to the caller on this instance.
func (h *Handlers) Help(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	text := s.T.Tf("help.user", map[string]any{"BotName": s.BotName()})
	if s.Instance.IsPrimary() {
		text += "\n\n" + s.T.T("help.clone")
	}
	if s.Role.AtLeast(access.RoleAdmin) {
		text += "\n\n" + s.T.T("help.admin")
	}
	if s.Role.AtLeast(access.RoleOwner) {
		text += "\n\n" + s.T.T("help.owner")
	}

	return c.Send(text, keyboard.CommandMenu(s.Instance.IsPrimary()))
}

// Points shows the balance and when the daily allowance refills.
func (h *Handlers) Points(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	u := h.Deps.Points.Balance(s.User)
	next := h.Deps.Points.NextReset()
	return c.Send(s.T.Tf("points.balance", map[string]any{
		"Daily":    u.DailyPoints,
		"Referral": u.ReferralPoints,
		"Total":    u.TotalPoints(),
		"ResetIn":  time.Until(next).Round(time.Minute).String(),
		"Bonus":    h.Deps.Referral.Bonus(),
	}))
}

// Referral shows the caller's invite link.
func (h *Handlers) Referral(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	link := referral.Link(s.BotUsername(), s.User.ReferralCode)
	text := s.T.Tf("referral.info", map[string]any{
		"Link":  link,
		"Count": s.User.ReferralCount,
		"Bonus": h.Deps.Referral.Bonus(),
	})
	return c.Send(text, h.Keyboard.Share(s.T, link), telebot.NoPreview)
}

// Profile shows the caller's account.
func (h *Handlers) Profile(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	u := h.Deps.Points.Balance(s.User)
	return c.Send(s.T.Tf("profile.info", map[string]any{
		"ID":        u.TelegramID,
		"Name":      u.DisplayName(),
		"Username":  formatUsername(u),
		"Language":  u.Language,
		"Points":    u.TotalPoints(),
		"Images":    u.TotalImages,
		"Messages":  u.TotalMessages,
		"Referrals": u.ReferralCount,
		"Role":      s.T.T("roles." + s.Role.String()),
		"Joined":    formatDate(u.CreatedAt),
	}))
}

// Settings shows the language toggle.
func (h *Handlers) Settings(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	return c.Send(
		s.T.Tf("settings.title", map[string]any{"Language": s.T.T("settings.language_" + s.User.Language)}),
		h.Keyboard.Settings(s.T, s.User.Language),
	)
}

// LanguageCallback switches the caller's language and re-renders the settings message.
func (h *Handlers) LanguageCallback(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	_, lang, err := keyboard.DecodeCallback(c.Callback().Data)
	if err != nil {
		return err
	}
	if lang != domain.LanguageEnglish && lang != domain.LanguageIndonesian {
		return apperrors.NewValidationError("unsupported language " + lang)
	}

	if err := h.Deps.Users.SetLanguage(s.Ctx, s.User.TelegramID, lang); err != nil {
		return err
	}

	t := h.I18n.Translator(lang)
	if err := respond(c, t.T("settings.language_changed"), false); err != nil {
		h.log.Debug("failed to answer callback", slog.Any("error", err))
	}
	return c.Edit(
		t.Tf("settings.title", map[string]any{"Language": t.T("settings.language_" + lang)}),
		h.Keyboard.Settings(t, lang),
	)
}

// Cancel aborts any multi-step flow.
func (h *Handlers) Cancel(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	if err := s.FSM.Reset(s.Ctx, s.User.TelegramID); err != nil {
		return err
	}
	return c.Send(s.T.T("cancel.done"))
}

// MenuCallback routes the main menu buttons to their commands.
func (h *Handlers) MenuCallback(c telebot.Context) error {
	_, action, err := keyboard.DecodeCallback(c.Callback().Data)
	if err != nil {
		return err
	}
	if err := respond(c, "", false); err != nil {
		h.log.Debug("failed to answer callback", slog.Any("error", err))
	}

	switch action {
	case "points":
		return h.Points(c)
	case "referral":
		return h.Referral(c)
	case "profile":
		return h.Profile(c)
	default:
		return h.Help(c)
	}
}
