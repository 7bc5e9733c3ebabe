package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

// IsAuthError reports whether Telegram rejected the bot token itself.
// Telegram answers 401 for revoked tokens and 404 for tokens that never existed.
func IsAuthError(err error) bool {
	if errors.Is(err, telebot.ErrUnauthorized) || errors.Is(err, telebot.ErrNotFound) {
		return true
	}

	var tgErr *telebot.Error
	if errors.As(err, &tgErr) {
		return tgErr.Code == http.StatusUnauthorized || tgErr.Code == http.StatusNotFound
	}
	return false
}

// ClassifyError maps a Telegram failure onto the transport error kinds.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsAuthError(err):
		return apperrors.NewTransportAuthError(err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.NewTransientTransportError(err)
	}
}

// newHTTPClient returns a client with its own connection pool, so stopping one
// bot releases exactly its connections.
func newHTTPClient(timeout time.Duration) (*http.Client, *http.Transport) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport, Timeout: timeout}, transport
}
