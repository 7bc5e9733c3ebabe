package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CallbackDataSeparator  = ":"
	CallbackDataLimitBytes = 64
)

// Callback identifiers. The payload after the separator is action specific.
const (
	CallbackMenu      = "menu"
	CallbackLanguage  = "lang"
	CallbackBroadcast = "bc"
	CallbackDeleteBot = "delbot"
	CallbackUsers     = "users"
	CallbackClear     = "clear"
)

// Common payloads of confirmation buttons.
const (
	ActionConfirm = "yes"
	ActionCancel  = "no"
)

// ErrCallbackTooLong is returned for payloads over CallbackDataLimitBytes.
var ErrCallbackTooLong = fmt.Errorf("callback data exceeds %d bytes", CallbackDataLimitBytes)

// EncodeCallback joins unique and data, enforcing Telegram's 64 byte limit.
func EncodeCallback(unique, data string) (string, error) {
	payload := unique
	if data != "" {
		payload += CallbackDataSeparator + data
	}
	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("%w: got %d", ErrCallbackTooLong, len(payload))
	}
	return payload, nil
}

// DecodeCallback splits callback data into its identifier and payload.
func DecodeCallback(callbackData string) (unique, data string, err error) {
	callbackData = strings.TrimPrefix(callbackData, "\f")
	if callbackData == "" {
		return "", "", errors.New("callback data is empty")
	}

	unique, data, _ = strings.Cut(callbackData, CallbackDataSeparator)
	return unique, data, nil
}

// DecodePage parses a pagination payload, defaulting to page 1.
func DecodePage(data string) int {
	page, err := strconv.Atoi(data)
	if err != nil || page < 1 {
		return 1
	}
	return page
}
