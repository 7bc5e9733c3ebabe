package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation         = "E100"
	CodeStoreUnavailable   = "E200"
	CodeExternalAPI        = "E300"
	CodeState              = "E400"
	CodeRateLimit          = "E500"
	CodeDuplicateOwner     = "E601"
	CodeDuplicateToken     = "E602"
	CodeInvalidToken       = "E603"
	CodeTransportAuth      = "E604"
	CodeTransientTransport = "E605"
	CodeInsufficientPoints = "E700"
	CodeForbidden          = "E710"
	CodeBanned             = "E711"
	CodeBusy               = "E720"
)

// AppError is a classified failure. UserMessage holds an i18n key rather than display text.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	Params      map[string]any
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// Is matches any AppError carrying the same code, so errors.Is(err, ErrDuplicateOwner)
// holds for every duplicate-owner failure regardless of its message or cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Error kinds surfaced by the clone lifecycle. Compare with errors.Is.
var (
	ErrDuplicateOwner     = NewDuplicateOwnerError(0)
	ErrDuplicateToken     = NewDuplicateTokenError()
	ErrInvalidToken       = NewInvalidTokenError(nil)
	ErrTransportAuth      = NewTransportAuthError(nil)
	ErrTransientTransport = NewTransientTransportError(nil)
	ErrStoreUnavailable   = NewDatabaseError(nil)
	ErrInsufficientPoints = NewInsufficientPointsError()
	ErrForbidden          = NewForbiddenError("")
	ErrBanned             = NewBannedError()
	ErrBusy               = NewBusyError()
	ErrValidation         = NewValidationError("")
)

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: "errors.validation",
		Severity:    SeverityLow,
		Retryable:   false,
		Params:      map[string]any{"Details": msg},
	}
}

// NewDatabaseError reports that the registry or user store could not be reached.
func NewDatabaseError(cause error) *AppError {
	return &AppError{
		Code:        CodeStoreUnavailable,
		Message:     "store unavailable",
		UserMessage: "errors.temporary",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("external API error: %s", apiName),
		UserMessage: "errors.service_unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "errors.invalid_state",
		Severity:    SeverityMedium,
		Retryable:   false,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: "errors.rate_limited",
		Severity:    SeverityLow,
		Retryable:   false,
		Params:      map[string]any{"Seconds": retryAfter},
	}
}

func NewDuplicateOwnerError(ownerID int64) *AppError {
	return &AppError{
		Code:        CodeDuplicateOwner,
		Message:     fmt.Sprintf("owner %d already has a live clone", ownerID),
		UserMessage: "errors.duplicate_owner",
		Severity:    SeverityLow,
	}
}

func NewDuplicateTokenError() *AppError {
	return &AppError{
		Code:        CodeDuplicateToken,
		Message:     "bot token already registered",
		UserMessage: "errors.duplicate_token",
		Severity:    SeverityLow,
	}
}

// NewInvalidTokenError is returned when the messaging platform rejects a token at registration.
func NewInvalidTokenError(cause error) *AppError {
	return &AppError{
		Code:        CodeInvalidToken,
		Message:     "bot token rejected",
		UserMessage: "errors.invalid_token",
		Severity:    SeverityLow,
		cause:       cause,
	}
}

// NewTransportAuthError is returned when a running listener's credentials stop working.
func NewTransportAuthError(cause error) *AppError {
	return &AppError{
		Code:        CodeTransportAuth,
		Message:     "transport authentication failed",
		UserMessage: "errors.invalid_token",
		Severity:    SeverityMedium,
		cause:       cause,
	}
}

func NewTransientTransportError(cause error) *AppError {
	return &AppError{
		Code:        CodeTransientTransport,
		Message:     "transient transport error",
		UserMessage: "errors.service_unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewInsufficientPointsError() *AppError {
	return &AppError{
		Code:        CodeInsufficientPoints,
		Message:     "insufficient points",
		UserMessage: "errors.no_points",
		Severity:    SeverityLow,
	}
}

func NewForbiddenError(action string) *AppError {
	return &AppError{
		Code:        CodeForbidden,
		Message:     fmt.Sprintf("forbidden: %s", action),
		UserMessage: "errors.forbidden",
		Severity:    SeverityLow,
	}
}

func NewBannedError() *AppError {
	return &AppError{
		Code:        CodeBanned,
		Message:     "user is banned",
		UserMessage: "errors.banned",
		Severity:    SeverityLow,
	}
}

// NewBusyError reports that a conflicting operation for the same subject is in progress.
func NewBusyError() *AppError {
	return &AppError{
		Code:        CodeBusy,
		Message:     "operation already in progress",
		UserMessage: "errors.busy",
		Severity:    SeverityLow,
		Retryable:   true,
	}
}
