package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var botTokenPattern = regexp.MustCompile(`^\d{8,}:[A-Za-z0-9_-]{35}$`)

// ValidBotTokenFormat reports whether token looks like a Telegram bot token.
// It says nothing about whether the token is accepted by Telegram.
func ValidBotTokenFormat(token string) bool {
	return botTokenPattern.MatchString(token)
}

// BotIDFromToken extracts the numeric bot id prefix of a well-formed token.
func BotIDFromToken(token string) (int64, bool) {
	prefix, _, ok := strings.Cut(token, ":")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// MaskToken keeps the bot id and hides the secret part.
func MaskToken(token string) string {
	prefix, _, ok := strings.Cut(token, ":")
	if !ok {
		return "***"
	}
	return prefix + ":***"
}
