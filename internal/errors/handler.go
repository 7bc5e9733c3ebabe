package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const fallbackUserMessage = "errors.generic"

// Reply is the localized message shown to the user for a failure.
type Reply struct {
	Key    string
	Params map[string]any
}

// Handler is the single place where handler failures are logged, counted and reported.
type Handler struct {
	log           *slog.Logger
	sentryEnabled bool
}

func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, sentryEnabled: sentryEnabled}
}

// Handle records err and returns what to tell the user. A cancelled context
// yields an empty Reply: the update was abandoned on shutdown.
func (h *Handler) Handle(ctx context.Context, err error) Reply {
	if err == nil || errors.Is(err, context.Canceled) {
		return Reply{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		appErr = &AppError{Code: "unknown", Severity: SeverityHigh, cause: err}
	}

	logger.FromContext(ctx, h.log).LogAttrs(ctx, logLevel(appErr.Severity), "handler failed",
		slog.String("code", appErr.Code),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
		slog.Any("error", err),
	)
	metrics.RecordError(appErr.Code, string(appErr.Severity))

	if h.sentryEnabled && (appErr.Severity == SeverityHigh || appErr.Severity == SeverityCritical) {
		h.capture(ctx, appErr, func(hub *sentry.Hub) { hub.CaptureException(err) })
	}

	key := appErr.UserMessage
	if key == "" {
		key = fallbackUserMessage
	}
	return Reply{Key: key, Params: appErr.Params}
}

// HandlePanic records a recovered panic as a critical failure.
func (h *Handler) HandlePanic(ctx context.Context, recovered any) Reply {
	if ctx == nil {
		ctx = context.Background()
	}

	appErr := &AppError{
		Code:     "panic",
		Message:  fmt.Sprintf("panic: %v", recovered),
		Severity: SeverityCritical,
	}
	metrics.RecordError(appErr.Code, string(appErr.Severity))

	if h.sentryEnabled {
		h.capture(ctx, appErr, func(hub *sentry.Hub) { hub.RecoverWithContext(ctx, recovered) })
	}
	return Reply{Key: fallbackUserMessage}
}

func (h *Handler) capture(ctx context.Context, appErr *AppError, send func(*sentry.Hub)) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("code", appErr.Code)
		scope.SetTag("severity", string(appErr.Severity))
		scope.SetLevel(sentryLevel(appErr.Severity))
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			scope.SetTag("correlation_id", id)
		}
		send(hub)
	})
}

func logLevel(s Severity) slog.Level {
	switch s {
	case SeverityHigh, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func sentryLevel(s Severity) sentry.Level {
	switch s {
	case SeverityCritical:
		return sentry.LevelFatal
	case SeverityHigh:
		return sentry.LevelError
	default:
		return sentry.LevelWarning
	}
}
