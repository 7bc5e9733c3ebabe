package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/user"
)

const usersPerPage = 10

// AdminPanel lists the admin commands of this instance.
func (h *Handlers) AdminPanel(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	text := s.T.Tf("admin.panel", map[string]any{"BotName": s.BotName(), "Role": s.T.T("roles." + s.Role.String())})
	if s.Role.AtLeast(access.RoleOwner) {
		text += "\n\n" + s.T.T("help.owner")
	}
	return c.Send(text)
}

// Stats reports usage of this bot; the primary also reports global user counters.
func (h *Handlers) Stats(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	since := h.Deps.Points.NextReset().AddDate(0, 0, -1)
	var b strings.Builder

	if s.Instance.IsPrimary() {
		summary, err := h.Deps.Users.Summary(s.Ctx, since)
		if err != nil {
			return err
		}
		b.WriteString(s.T.Tf("admin.stats_global", map[string]any{
			"Total":  summary.Total,
			"Banned": summary.Banned,
			"Active": summary.ActiveToday,
		}))
	}

	if h.Deps.Stats != nil {
		stats, err := h.Deps.Stats.Stats(s.Ctx, s.Instance.BotID, since)
		if err != nil {
			return err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.T.Tf("admin.stats_bot", map[string]any{
			"BotName":  s.BotName(),
			"Users":    stats.Users,
			"Banned":   stats.BannedUsers,
			"Active":   stats.ActiveToday,
			"Messages": stats.Messages,
			"Images":   stats.Images,
		}))
	}

	return c.Send(b.String())
}

// Ban blocks a user from every instance.
func (h *Handlers) Ban(c telebot.Context) error {
	return h.setBanned(c, true)
}

// Unban lifts a ban.
func (h *Handlers) Unban(c telebot.Context) error {
	return h.setBanned(c, false)
}

func (h *Handlers) setBanned(c telebot.Context, banned bool) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	target, err := targetID(c, s)
	if err != nil {
		return err
	}
	if banned && h.Policy.Role(s.Ctx, s.Instance, target).AtLeast(access.RoleAdmin) {
		return c.Send(s.T.T("admin.cannot_ban_admin"))
	}

	if err := h.Deps.Users.SetBanned(s.Ctx, target, banned); err != nil {
		return h.userError(c, s, err)
	}

	key := "admin.unbanned"
	if banned {
		key = "admin.banned"
	}
	h.log.Info("ban flag changed",
		slog.Int64("admin_id", s.User.TelegramID),
		slog.Int64("telegram_id", target),
		slog.Bool("banned", banned),
	)
	return c.Send(s.T.Tf(key, map[string]any{"ID": target}))
}

// UserInfo shows an account to an admin.
func (h *Handlers) UserInfo(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	target, err := targetID(c, s)
	if err != nil {
		return err
	}

	u, err := h.Deps.Users.Fresh(s.Ctx, target)
	if err != nil {
		return h.userError(c, s, err)
	}
	u = h.Deps.Points.Balance(u)

	referredBy := "-"
	if u.ReferredBy != nil {
		referredBy = strconv.FormatInt(*u.ReferredBy, 10)
	}

	return c.Send(s.T.Tf("admin.user_info", map[string]any{
		"ID":         u.TelegramID,
		"Name":       u.DisplayName(),
		"Username":   formatUsername(u),
		"Language":   u.Language,
		"Daily":      u.DailyPoints,
		"Referral":   u.ReferralPoints,
		"Images":     u.TotalImages,
		"Messages":   u.TotalMessages,
		"Referrals":  u.ReferralCount,
		"ReferredBy": referredBy,
		"Banned":     yesNo(s.T, u.IsBanned),
		"Admin":      yesNo(s.T, u.IsAdmin),
		"Joined":     formatDate(u.CreatedAt),
		"LastActive": formatDate(u.LastActiveAt),
	}))
}

// GivePoints credits points: /givepoints <id> <amount> [daily|referral].
func (h *Handlers) GivePoints(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Send(s.T.T("admin.givepoints_usage"))
	}

	target, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	amount, err := strconv.Atoi(args[1])
	if err != nil {
		return apperrors.NewValidationError("amount must be a number")
	}
	source := domain.PointSourceDaily
	if len(args) > 2 {
		source = strings.ToLower(args[2])
	}

	u, err := h.Deps.Points.Grant(s.Ctx, target, amount, source)
	if err != nil {
		return h.userError(c, s, err)
	}

	ut := h.I18n.Translator(u.Language)
	if _, err := c.Bot().Send(recipient(target), ut.Tf("points.granted", map[string]any{"Amount": amount, "Total": u.TotalPoints()})); err != nil {
		h.log.Warn("failed to notify user about points", slog.Int64("telegram_id", target), slog.Any("error", err))
	}

	return c.Send(s.T.Tf("admin.points_given", map[string]any{
		"ID":     target,
		"Amount": amount,
		"Source": source,
		"Total":  u.TotalPoints(),
	}))
}

// ResetPoints restores the default allowance of a user.
func (h *Handlers) ResetPoints(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	target, err := targetID(c, s)
	if err != nil {
		return err
	}

	u, err := h.Deps.Points.Reset(s.Ctx, target)
	if err != nil {
		return h.userError(c, s, err)
	}
	return c.Send(s.T.Tf("admin.points_reset", map[string]any{"ID": target, "Total": u.TotalPoints()}))
}

// Users lists accounts: /users [page] [search].
func (h *Handlers) Users(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	page, search := 1, ""
	args := c.Args()
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			page = n
			args = args[1:]
		}
		search = strings.Join(args, " ")
	}

	text, markup, err := h.renderUsers(s, search, page)
	if err != nil {
		return err
	}
	return c.Send(text, markup)
}

// UsersPageCallback flips pages of the /users listing.
func (h *Handlers) UsersPageCallback(c telebot.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	_, data, err := keyboard.DecodeCallback(c.Callback().Data)
	if err != nil {
		return err
	}
	if err := respond(c, "", false); err != nil {
		h.log.Debug("failed to answer callback", slog.Any("error", err))
	}

	text, markup, err := h.renderUsers(s, "", keyboard.DecodePage(data))
	if err != nil {
		return err
	}
	return c.Edit(text, markup)
}

func (h *Handlers) renderUsers(s *Session, search string, page int) (string, *telebot.ReplyMarkup, error) {
	result, err := h.Deps.Users.List(s.Ctx, search, page, usersPerPage)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString(s.T.Tf("admin.users_title", map[string]any{"Total": result.Total, "Page": result.Page, "Pages": result.Pages}))
	for _, u := range result.Users {
		marker := ""
		if u.IsBanned {
			marker = " 🚫"
		} else if u.IsAdmin {
			marker = " ⭐"
		}
		fmt.Fprintf(&b, "\n• %d %s %s · %d pts%s", u.TelegramID, u.DisplayName(), formatUsername(u), u.TotalPoints(), marker)
	}

	return b.String(), h.Keyboard.Pages(s.T, keyboard.CallbackUsers, result.Page, result.Pages), nil
}

// AddAdmin grants the admin flag on the primary bot.
func (h *Handlers) AddAdmin(c telebot.Context) error {
	return h.setAdmin(c, true)
}

// RemoveAdmin revokes the admin flag.
func (h *Handlers) RemoveAdmin(c telebot.Context) error {
	return h.setAdmin(c, false)
}

func (h *Handlers) setAdmin(c telebot.Context, admin bool) error {
	s, err := session(c)
	if err != nil {
		return err
	}

	target, err := targetID(c, s)
	if err != nil {
		return err
	}
	if target == h.Policy.OwnerID() {
		return c.Send(s.T.T("admin.owner_immutable"))
	}

	if err := h.Deps.Users.SetAdmin(s.Ctx, target, admin); err != nil {
		return h.userError(c, s, err)
	}

	key := "admin.admin_removed"
	if admin {
		key = "admin.admin_added"
	}
	return c.Send(s.T.Tf(key, map[string]any{"ID": target}))
}

func targetID(c telebot.Context, s *Session) (int64, error) {
	args := c.Args()
	if len(args) == 0 {
		return 0, apperrors.NewValidationError(s.T.T("admin.id_required"))
	}
	return parseUserID(args[0])
}

// userError turns a missing account into a reply and passes anything else on.
func (h *Handlers) userError(c telebot.Context, s *Session, err error) error {
	if errors.Is(err, user.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return c.Send(s.T.T("admin.user_not_found"))
	}
	return err
}
