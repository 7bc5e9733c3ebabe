package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordCommand(CommandName(c), status, time.Since(start))

		return err
	}
}

// CommandName labels an update with a bounded name: the command, the callback
// identifier, "photo" or "text".
func CommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		unique, _, err := keyboard.DecodeCallback(cb.Data)
		if err != nil {
			return "callback"
		}
		return "callback:" + unique
	}

	if msg := c.Message(); msg != nil && msg.Photo != nil {
		return "photo"
	}

	text := c.Text()
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		cmd, _, _ = strings.Cut(cmd, "@")
		cmd = strings.ToLower(cmd)
		if !handlers.KnownCommand(cmd) {
			return "unknown_command"
		}
		return cmd
	}
	return "text"
}
