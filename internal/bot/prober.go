package bot

import (
	"context"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

// TokenProber checks a token with getMe. It implements clone.TokenProber.
type TokenProber struct {
	client *http.Client
}

var _ clone.TokenProber = (*TokenProber)(nil)

// NewTokenProber creates a prober whose requests give up after timeout.
func NewTokenProber(timeout time.Duration) *TokenProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, _ := newHTTPClient(timeout)
	return &TokenProber{client: client}
}

// Probe returns the bot behind token. A rejected token yields a transport auth error,
// anything else a transient transport error.
func (p *TokenProber) Probe(ctx context.Context, token string) (*domain.BotIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, ClassifyError(err)
	}

	type result struct {
		me  *telebot.User
		err error
	}
	done := make(chan result, 1)
	go func() {
		tb, err := telebot.NewBot(telebot.Settings{
			Token:  token,
			Client: p.client,
			Poller: &telebot.LongPoller{},
		})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{me: tb.Me}
	}()

	select {
	case <-ctx.Done():
		return nil, ClassifyError(ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, ClassifyError(r.err)
		}
		return &domain.BotIdentity{ID: r.me.ID, Username: r.me.Username, FirstName: r.me.FirstName}, nil
	}
}
