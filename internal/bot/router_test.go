package bot

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
)

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"/start":              "/start",
		"/Start ref_42":       "/start",
		"/clone@gemini_bot":   "/clone",
		"/clone@gemini_bot x": "/clone",
		"hello":               "",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, commandName(in), in)
	}
}

func newTestContext(t *testing.T, u telebot.Update) telebot.Context {
	t.Helper()
	b, err := telebot.NewBot(telebot.Settings{Token: "1:test", Offline: true})
	require.NoError(t, err)
	return b.NewContext(u)
}

func TestRouter_Route(t *testing.T) {
	var got []string
	record := func(name string) handlers.Handler {
		return func(telebot.Context) error {
			got = append(got, name)
			return nil
		}
	}

	r := NewRouter(nil, slog.Default())
	r.RegisterCommand("/help", record("help"))
	r.RegisterCallback("menu", record("menu"))
	r.SetDefault(record("default"))
	r.SetPhoto(record("photo"))
	r.Use(func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			got = append(got, "mw")
			return next(c)
		}
	})

	sender := &telebot.User{ID: 10}
	updates := []struct {
		name   string
		update telebot.Update
		want   []string
	}{
		{
			name:   "command",
			update: telebot.Update{Message: &telebot.Message{Text: "/help@bot", Sender: sender}},
			want:   []string{"mw", "help"},
		},
		{
			name:   "unknown command falls back to default",
			update: telebot.Update{Message: &telebot.Message{Text: "/nope", Sender: sender}},
			want:   []string{"mw", "default"},
		},
		{
			name:   "plain text",
			update: telebot.Update{Message: &telebot.Message{Text: "hi", Sender: sender}},
			want:   []string{"mw", "default"},
		},
		{
			name:   "photo",
			update: telebot.Update{Message: &telebot.Message{Photo: &telebot.Photo{}, Sender: sender}},
			want:   []string{"mw", "photo"},
		},
		{
			name:   "callback",
			update: telebot.Update{Callback: &telebot.Callback{Data: "menu", Sender: sender}},
			want:   []string{"mw", "menu"},
		},
	}

	for _, tt := range updates {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			require.NoError(t, r.Route(newTestContext(t, tt.update)))
			assert.Equal(t, tt.want, got)
		})
	}
}
