package bot

import (
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

// Router dispatches commands, callbacks, state-aware messages and photos.
// Middlewares run before any lookup, so every handler sees a Session.
type Router struct {
	mu          sync.RWMutex
	commands    map[string]handlers.Handler
	callbacks   map[string]handlers.Handler
	fallback    handlers.Handler
	photo       handlers.Handler
	middlewares []handlers.Middleware
	chain       handlers.Handler

	dispatcher *Dispatcher
	log        *slog.Logger
}

var _ handlers.Registrar = (*Router)(nil)

// NewRouter builds a Router with empty registries. A nil dispatcher gets a fresh one.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(log)
	}
	return &Router{
		commands:   make(map[string]handlers.Handler),
		callbacks:  make(map[string]handlers.Handler),
		dispatcher: dispatcher,
		log:        log,
	}
}

// RegisterCommand registers a handler for a bot command such as "/start".
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.mu.Lock()
	r.commands[strings.ToLower(cmd)] = h
	r.mu.Unlock()
}

// RegisterCallback registers a handler for the callback identifier unique.
func (r *Router) RegisterCallback(unique string, h handlers.Handler) {
	r.mu.Lock()
	r.callbacks[unique] = h
	r.mu.Unlock()
}

// RegisterState registers a handler for plain messages sent in state s.
func (r *Router) RegisterState(s state.State, h handlers.Handler) {
	r.dispatcher.RegisterStateHandler(s, h)
}

// Use appends a middleware. The first registered runs outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	r.middlewares = append(r.middlewares, mw)
	r.chain = nil
	r.mu.Unlock()
}

// SetDefault sets the fallback handler for unmatched text.
func (r *Router) SetDefault(h handlers.Handler) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// SetPhoto sets the handler for photo messages.
func (r *Router) SetPhoto(h handlers.Handler) {
	r.mu.Lock()
	r.photo = h
	r.mu.Unlock()
}

// Route runs the middleware chain and then the matching handler.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}
	return r.handler()(c)
}

// handler returns the middleware-wrapped resolver, building it on first use
// after a change to the chain.
func (r *Router) handler() handlers.Handler {
	r.mu.RLock()
	chain := r.chain
	r.mu.RUnlock()
	if chain != nil {
		return chain
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chain == nil {
		h := handlers.Handler(r.resolve)
		for i := len(r.middlewares) - 1; i >= 0; i-- {
			h = r.middlewares[i](h)
		}
		r.chain = h
	}
	return r.chain
}

func (r *Router) resolve(c telebot.Context) error {
	if cb := c.Callback(); cb != nil {
		return r.onCallback(c, cb.Data)
	}
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		return call(r.lookup(func() handlers.Handler { return r.photo }), c)
	}
	return r.onText(c)
}

func (r *Router) onCallback(c telebot.Context, data string) error {
	unique, _, err := keyboard.DecodeCallback(data)
	if err != nil {
		return nil
	}

	h := r.lookup(func() handlers.Handler { return r.callbacks[unique] })
	if h == nil {
		r.log.Info("no callback handler found", slog.String("data", data))
		return c.Respond()
	}
	return h(c)
}

// onText tries an exact command, then the sender's dialog state, then the default.
func (r *Router) onText(c telebot.Context) error {
	if cmd := commandName(c.Text()); cmd != "" {
		if h := r.lookup(func() handlers.Handler { return r.commands[cmd] }); h != nil {
			return h(c)
		}
	}

	h, err := r.dispatcher.Lookup(c)
	if err != nil {
		return err
	}
	if h == nil {
		h = r.lookup(func() handlers.Handler { return r.fallback })
	}
	return call(h, c)
}

func (r *Router) lookup(get func() handlers.Handler) handlers.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return get()
}

func call(h handlers.Handler, c telebot.Context) error {
	if h == nil {
		return nil
	}
	return h(c)
}

// commandName extracts "/cmd" from "/cmd@bot payload".
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}
