package bot

import (
	"errors"
	"log/slog"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

// Dispatcher picks the handler for a plain message from the sender's dialog state.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[state.State]handlers.Handler
	log    *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{routes: make(map[state.State]handlers.Handler), log: log}
}

// RegisterStateHandler routes messages sent while in state s to h.
func (d *Dispatcher) RegisterStateHandler(s state.State, h handlers.Handler) {
	d.mu.Lock()
	d.routes[s] = h
	d.mu.Unlock()
}

// Lookup returns the handler for the sender's dialog, or nil when the sender
// has no dialog or its state takes no text. A dialog stuck in the error state
// is reset so the message falls through to the default handler.
func (d *Dispatcher) Lookup(c telebot.Context) (handlers.Handler, error) {
	sess := handlers.SessionFrom(c)
	if sess == nil || sess.FSM == nil || c.Sender() == nil {
		return nil, nil
	}
	userID := c.Sender().ID

	dialog, err := sess.FSM.Current(sess.Ctx, userID)
	switch {
	case errors.Is(err, state.ErrStateNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case dialog.State == state.StateError:
		d.log.Info("resetting dialog left in error state", slog.Int64("user_id", userID))
		return nil, sess.FSM.Reset(sess.Ctx, userID)
	}

	d.mu.RLock()
	h := d.routes[dialog.State]
	d.mu.RUnlock()

	if h == nil {
		d.log.Debug("state takes no text",
			slog.String("state", string(dialog.State)),
			slog.Int64("user_id", userID),
		)
	}
	return h, nil
}
