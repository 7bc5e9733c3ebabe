package bot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

const maxPollBackoff = 30 * time.Second

var allowedUpdates = `["message","callback_query"]`

// updatePoller long-polls getUpdates like telebot.LongPoller, but reports
// failures instead of swallowing them. A rejected token, or threshold errors
// within window, ends polling with an error on Fatal.
type updatePoller struct {
	timeout   time.Duration
	threshold int
	window    time.Duration
	log       *slog.Logger

	offset       int
	failures     int
	firstFailure time.Time
	fatal        chan error

	now func() time.Time
}

func newUpdatePoller(timeout time.Duration, threshold int, window time.Duration, log *slog.Logger) *updatePoller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &updatePoller{
		timeout:   timeout,
		threshold: threshold,
		window:    window,
		log:       log,
		fatal:     make(chan error, 1),
		now:       time.Now,
	}
}

// Fatal delivers the error that stopped polling.
func (p *updatePoller) Fatal() <-chan error {
	return p.fatal
}

// Poll implements telebot.Poller.
func (p *updatePoller) Poll(b *telebot.Bot, dest chan telebot.Update, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		updates, err := fetchUpdates(b, p.offset+1, p.timeout)
		if err != nil {
			if stopped(stop) {
				return
			}

			if fatal := p.observe(err); fatal != nil {
				select {
				case p.fatal <- fatal:
				default:
				}
				<-stop
				return
			}

			if !sleepUnlessStopped(stop, p.backoff()) {
				return
			}
			continue
		}

		p.failures = 0
		for _, update := range updates {
			p.offset = update.ID
			select {
			case dest <- update:
			case <-stop:
				return
			}
		}
	}
}

// observe records a polling error and returns the error that ends polling, if any.
func (p *updatePoller) observe(err error) error {
	if IsAuthError(err) {
		return apperrors.NewTransportAuthError(err)
	}

	now := p.now()
	if p.failures == 0 || now.Sub(p.firstFailure) > p.window {
		p.failures = 0
		p.firstFailure = now
	}
	p.failures++

	p.log.Warn("polling failed", slog.Int("failures", p.failures), slog.Any("error", err))

	if p.threshold > 0 && p.failures >= p.threshold {
		return apperrors.NewTransientTransportError(
			fmt.Errorf("%d polling errors within %s: %w", p.failures, p.window, err),
		)
	}
	return nil
}

func (p *updatePoller) backoff() time.Duration {
	shift := min(max(p.failures-1, 0), 5)
	return min(time.Second<<shift, maxPollBackoff)
}

func fetchUpdates(b *telebot.Bot, offset int, timeout time.Duration) ([]telebot.Update, error) {
	params := map[string]string{
		"offset":          strconv.Itoa(offset),
		"timeout":         strconv.Itoa(int(timeout / time.Second)),
		"allowed_updates": allowedUpdates,
	}

	data, err := b.Raw("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []telebot.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return resp.Result, nil
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func sleepUnlessStopped(stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// acceptUpdate drops updates no handler can serve.
func acceptUpdate(u *telebot.Update) bool {
	switch {
	case u.Message != nil:
		return u.Message.Sender != nil && !u.Message.Sender.IsBot
	case u.Callback != nil:
		return u.Callback.Sender != nil
	default:
		return false
	}
}
