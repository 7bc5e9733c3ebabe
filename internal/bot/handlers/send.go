package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

// MaxMessageLength is the Telegram limit for one text message.
const MaxMessageLength = 4096

// SplitMessage cuts text into chunks of at most limit runes, preferring newline boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n <= limit {
			current.WriteString(line)
			size += n
			continue
		}

		flush()
		for n > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		current.WriteString(line)
		size = n
	}
	flush()

	return chunks
}

// sendLong sends text in as many messages as needed. Options apply to the last one.
func sendLong(c telebot.Context, text string, opts ...any) error {
	chunks := SplitMessage(text, MaxMessageLength)
	for i, chunk := range chunks {
		if i == len(chunks)-1 {
			return c.Send(chunk, opts...)
		}
		if err := c.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

// session returns the update session or a state error when the middleware did not run.
func session(c telebot.Context) (*Session, error) {
	s := SessionFrom(c)
	if s == nil || s.User == nil {
		return nil, apperrors.NewStateError("update has no session")
	}
	if s.Ctx == nil {
		s.Ctx = context.Background()
	}
	return s, nil
}

func translator(c telebot.Context) i18n.Translator {
	if s := SessionFrom(c); s != nil {
		return s.T
	}
	return nil
}

func errForbidden(c telebot.Context) error {
	action := "callback"
	if c.Callback() == nil {
		action = c.Text()
	}
	return apperrors.NewForbiddenError(action)
}

func respond(c telebot.Context, text string, alert bool) error {
	if c.Callback() == nil {
		return nil
	}
	return c.Respond(&telebot.CallbackResponse{Text: text, ShowAlert: alert})
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid user id: " + raw)
	}
	return id, nil
}

func recipient(id int64) telebot.Recipient {
	return &telebot.User{ID: id}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatUsername(u *domain.User) string {
	if u.Username == "" {
		return "-"
	}
	return "@" + u.Username
}

func yesNo(t i18n.Translator, v bool) string {
	if v {
		return t.T("common.yes")
	}
	return t.T("common.no")
}
