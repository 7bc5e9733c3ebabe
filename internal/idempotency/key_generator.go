package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// UpdateKey identifies one Telegram update on one bot. Update ids are only
// unique per bot, so the bot id is part of the key.
func UpdateKey(botID int64, updateID int) string {
	return fmt.Sprintf("upd:%d:%d", botID, updateID)
}

// GenerateKey hashes parts into a fixed-length key, e.g. for task ids.
func GenerateKey(parts ...any) string {
	fields := make([]string, len(parts))
	for i, part := range parts {
		fields[i] = fmt.Sprint(part)
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
