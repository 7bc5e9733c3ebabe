package bot

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

// InstanceOptions configures polling and shutdown of one bot.
type InstanceOptions struct {
	PollTimeout time.Duration
	// ErrorThreshold consecutive polling errors within ErrorWindow stop the
	// instance with a transient transport error. Zero polls forever.
	ErrorThreshold int
	ErrorWindow    time.Duration
	DrainTimeout   time.Duration
	// Webhook replaces long polling when set.
	Webhook *telebot.Webhook
}

func (o InstanceOptions) withDefaults() InstanceOptions {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = 5 * time.Minute
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	return o
}

// Instance is one running bot token. It implements clone.Listener.
type Instance struct {
	bot          *telebot.Bot
	info         access.Instance
	fsm          state.StateMachine
	poller       *updatePoller
	gate         *drainGate
	transport    *http.Transport
	drainTimeout time.Duration
	publish      func()
	log          *slog.Logger

	base context.Context
}

var _ clone.Listener = (*Instance)(nil)

// Info identifies the instance.
func (i *Instance) Info() access.Instance {
	return i.info
}

// Bot exposes the underlying telebot.Bot for health checks and notifications.
func (i *Instance) Bot() *telebot.Bot {
	return i.bot
}

// FSM is the conversation state machine of this bot.
func (i *Instance) FSM() state.StateMachine {
	return i.fsm
}

// Run serves updates until ctx is cancelled or polling fails for good. Before
// returning it stops polling, waits for in-flight handlers up to the drain
// timeout and closes the instance's idle connections.
func (i *Instance) Run(ctx context.Context) error {
	i.base = context.WithoutCancel(ctx)
	if i.publish != nil {
		i.publish()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		i.bot.Start()
	}()
	i.log.Info("bot instance started", slog.String("username", i.bot.Me.Username))

	var runErr error
	var fatal <-chan error
	if i.poller != nil {
		fatal = i.poller.Fatal()
	}

	select {
	case <-ctx.Done():
	case runErr = <-fatal:
		i.log.Warn("bot instance polling failed", slog.Any("error", runErr))
	}

	i.bot.Stop()
	<-done

	if !i.gate.close(i.drainTimeout) {
		i.log.Warn("in-flight handlers did not finish before drain timeout", slog.Duration("timeout", i.drainTimeout))
	}
	i.transport.CloseIdleConnections()

	i.log.Info("bot instance stopped")
	return runErr
}

func (i *Instance) baseContext() context.Context {
	return i.base
}

func (i *Instance) onError(err error, c telebot.Context) {
	attrs := []any{slog.Any("error", err)}
	if c != nil {
		attrs = append(attrs, slog.Int("update_id", c.Update().ID))
	}
	i.log.Error("telegram handler error", attrs...)
}
